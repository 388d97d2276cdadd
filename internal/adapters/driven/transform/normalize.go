package transform

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// ErrInvalidRecord indicates a record that cannot be imported.
var ErrInvalidRecord = errors.New("invalid record")

// Record is a raw record with its fields resolved to known names.
type Record struct {
	SKU         string
	Reference   string
	Name        string
	Description string

	// Language is the language the text fields are written in, if known.
	Language string

	Price      float64
	Currency   string
	Stock      int
	Categories []string
	Images     []string
	Attributes map[string]string
}

// synonyms lists the accepted source names of each field, in priority order.
var synonyms = map[string][]string{
	"sku":         {"sku", "code", "ean", "barcode"},
	"reference":   {"reference", "ref", "model", "article_number"},
	"name":        {"name", "title"},
	"description": {"description", "desc", "body"},
	"language":    {"language", "lang", "locale"},
	"price":       {"price", "unit_price", "retail_price"},
	"currency":    {"currency", "currency_code"},
	"stock":       {"stock", "quantity", "qty"},
	"categories":  {"categories", "category_ids", "category"},
	"images":      {"images", "image_urls", "image"},
	"attributes":  {"attributes", "attrs", "properties"},
}

// Normalize resolves a raw record. Localised text maps are resolved to
// language, falling back to English and then to the first language in
// alphabetical order.
func Normalize(raw domain.RawRecord, language string) (Record, error) {
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		fields[strings.ToLower(strings.TrimSpace(k))] = v
	}
	get := func(name string) (any, bool) {
		for _, key := range synonyms[name] {
			if v, ok := fields[key]; ok && v != nil {
				return v, true
			}
		}
		return nil, false
	}

	var rec Record
	if v, ok := get("sku"); ok {
		rec.SKU = strings.TrimSpace(scalarString(v))
	}
	if v, ok := get("reference"); ok {
		rec.Reference = strings.TrimSpace(scalarString(v))
	}
	if v, ok := get("language"); ok {
		rec.Language = strings.ToLower(scalarString(v))
	}

	if v, ok := get("name"); ok {
		text, lang := localized(v, language)
		rec.Name = strings.TrimSpace(text)
		if lang != "" {
			rec.Language = lang
		}
	}
	if v, ok := get("description"); ok {
		rec.Description, _ = localized(v, language)
	}

	if rec.SKU == "" && rec.Reference == "" {
		return rec, fmt.Errorf("%w: no sku or reference", ErrInvalidRecord)
	}
	if rec.Name == "" {
		return rec, fmt.Errorf("%w: %s has no name", ErrInvalidRecord, rec.key())
	}

	if v, ok := get("price"); ok {
		price, err := number(v)
		if err != nil || price < 0 {
			return rec, fmt.Errorf("%w: %s has invalid price %v", ErrInvalidRecord, rec.key(), v)
		}
		rec.Price = price
	}
	if v, ok := get("currency"); ok {
		rec.Currency = strings.ToUpper(scalarString(v))
	}
	if v, ok := get("stock"); ok {
		stock, err := number(v)
		if err != nil {
			return rec, fmt.Errorf("%w: %s has invalid stock %v", ErrInvalidRecord, rec.key(), v)
		}
		rec.Stock = int(stock)
	}
	if v, ok := get("categories"); ok {
		rec.Categories = stringList(v, "id")
	}
	if v, ok := get("images"); ok {
		rec.Images = stringList(v, "url")
	}
	if v, ok := get("attributes"); ok {
		if m, ok := v.(map[string]any); ok {
			rec.Attributes = make(map[string]string, len(m))
			for k, av := range m {
				rec.Attributes[k] = scalarString(av)
			}
		}
	}
	return rec, nil
}

func (r Record) key() string {
	if r.SKU != "" {
		return r.SKU
	}
	return r.Reference
}

// localized resolves a text field that is either a string or a map of
// language to string. It returns the text and, for maps, the language chosen.
func localized(v any, language string) (string, string) {
	m, ok := v.(map[string]any)
	if !ok {
		return scalarString(v), ""
	}
	texts := make(map[string]string, len(m))
	for k, tv := range m {
		if s := scalarString(tv); s != "" {
			texts[strings.ToLower(k)] = s
		}
	}
	for _, lang := range []string{strings.ToLower(language), "en"} {
		if s, ok := texts[lang]; ok && lang != "" {
			return s, lang
		}
	}
	langs := make([]string, 0, len(texts))
	for k := range texts {
		langs = append(langs, k)
	}
	if len(langs) == 0 {
		return "", ""
	}
	sort.Strings(langs)
	return texts[langs[0]], langs[0]
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func number(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", "."), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// stringList accepts a list of scalars, a list of objects carrying field,
// or a comma-separated string.
func stringList(v any, field string) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				add(scalarString(m[field]))
				continue
			}
			add(scalarString(item))
		}
	case string:
		for _, s := range strings.Split(t, ",") {
			add(s)
		}
	default:
		add(scalarString(t))
	}
	return out
}
