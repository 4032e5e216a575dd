package valuation

import (
	"github.com/shopspring/decimal"
)

// RoundingMode selects how a decimal is cut to a fixed number of places
type RoundingMode int

const (
	// RoundHalfUp rounds halves away from zero
	RoundHalfUp RoundingMode = iota
	// RoundCeil rounds toward positive infinity
	RoundCeil
)

// Distinct modes for money and for displayed quantities
const (
	CurrencyRounding = RoundHalfUp
	QuantityRounding = RoundCeil
)

// DisplayPlaces is the number of decimals values and quantities are shown with
const DisplayPlaces = 2

// Round cuts d to places decimals using mode
func Round(d decimal.Decimal, places int32, mode RoundingMode) decimal.Decimal {
	if mode == RoundCeil {
		return d.RoundCeil(places)
	}
	return d.Round(places)
}

// FormatCurrency renders a money amount with two decimals, half-up
func FormatCurrency(d decimal.Decimal) string {
	return Round(d, DisplayPlaces, CurrencyRounding).StringFixed(DisplayPlaces)
}

// FormatQuantity renders a token quantity with two decimals, rounded up.
// Unparseable input is returned unchanged.
func FormatQuantity(quantity string) string {
	d, err := decimal.NewFromString(quantity)
	if err != nil {
		return quantity
	}
	return Round(d, DisplayPlaces, QuantityRounding).StringFixed(DisplayPlaces)
}
