package transform

import (
	"context"
	"strings"
)

// Translator translates product text between languages.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// NoopTranslator returns text unchanged.
type NoopTranslator struct{}

// Translate implements Translator.
func (NoopTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

// needsTranslation reports whether text written in from must be translated to to.
// Unknown source languages are assumed to match the target.
func needsTranslation(from, to string) bool {
	return from != "" && to != "" && !strings.EqualFold(from, to)
}
