// Package normalize converts locale-formatted scraped text into canonical
// values. Listing pages in scope use Swedish number formatting: non-breaking
// spaces as thousand separators and a decimal comma.
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vasaquant/securities-ingest/pkg/model"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	fractional = regexp.MustCompile(`^-?\d+\.\d+$`)
)

// Field strips ALL whitespace (thousand groupings included, not just the ends)
// and converts a decimal comma to a decimal point.
func Field(s string) string {
	s = whitespace.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, ",", ".")
}

// Value normalizes s and parses it to a float64 when it matches a
// fractional-number pattern; otherwise the normalized string is returned.
func Value(s string) any {
	norm := Field(s)
	if fractional.MatchString(norm) {
		if f, err := strconv.ParseFloat(norm, 64); err == nil {
			return f
		}
	}
	return norm
}

// Price normalizes s and parses it as an exact decimal.
func Price(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(Field(s))
}

// Symbol canonicalizes a ticker symbol: symbols are lookup keys and must not
// contain spaces.
func Symbol(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
}

// Instrument turns a raw scraped record into a normalized submission record.
// Records missing a symbol or a name fail validation and are classified as
// incorrect data by the caller.
func Instrument(raw model.RawInstrument) (model.InstrumentRecord, error) {
	rec := model.InstrumentRecord{
		Symbol:   Symbol(raw.Symbol),
		Name:     strings.TrimSpace(raw.Name),
		Industry: strings.TrimSpace(raw.Industry),
	}
	if err := rec.Validate(); err != nil {
		return model.InstrumentRecord{}, err
	}
	return rec, nil
}
