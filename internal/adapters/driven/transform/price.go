package transform

import (
	"fmt"
	"math"
	"strings"
)

// PriceConverter converts amounts between currencies.
type PriceConverter interface {
	Convert(amount float64, from, to string) (float64, error)
}

// RateTable converts with fixed exchange rates. Rates are units of a
// currency per unit of the table's base currency.
type RateTable struct {
	Rates map[string]float64
}

// Convert implements PriceConverter. Conversion within one currency never
// consults the table.
func (t RateTable) Convert(amount float64, from, to string) (float64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == "" || to == "" || from == to {
		return amount, nil
	}
	fromRate, ok := t.Rates[from]
	if !ok || fromRate <= 0 {
		return 0, fmt.Errorf("no exchange rate for %s", from)
	}
	toRate, ok := t.Rates[to]
	if !ok || toRate <= 0 {
		return 0, fmt.Errorf("no exchange rate for %s", to)
	}
	return amount / fromRate * toRate, nil
}

// roundPrice rounds to cents.
func roundPrice(v float64) float64 {
	return math.Round(v*100) / 100
}
