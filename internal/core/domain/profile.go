package domain

import "time"

// Profile is the settings context of a scope: which slice of the catalog to
// import and how to localise it.
type Profile struct {
	// ID is the scope identifier. Empty is the default scope.
	ID string

	// Name is a human-readable name for the profile.
	Name string

	// Filters are passed verbatim to the catalog API on every page fetch.
	Filters map[string]string

	// Language is the target language for product text.
	Language string

	// Currency is the target currency for prices.
	Currency string

	// PriceMultiplier is applied after currency conversion. Zero means 1.
	PriceMultiplier float64

	// Enabled controls whether the recurring scheduler syncs this profile.
	Enabled bool

	// Interval is how often the recurring scheduler starts an incremental sync.
	Interval time.Duration
}

// Multiplier returns the effective price multiplier.
func (p *Profile) Multiplier() float64 {
	if p.PriceMultiplier <= 0 {
		return 1
	}
	return p.PriceMultiplier
}

// DefaultProfile returns the profile used for the default scope when none is configured.
func DefaultProfile() Profile {
	return Profile{
		Name:            "Default",
		Language:        "en",
		Currency:        "EUR",
		PriceMultiplier: 1,
	}
}
