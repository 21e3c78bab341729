// Package money parses and formats wallet currency amounts.
//
// Amounts carry at most 2 decimal places and are held as decimal.Decimal,
// never as floats. Storage is NUMERIC(20,2), so at most 18 integer digits fit.
package money

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Decimals is the number of fractional digits an amount may carry.
	Decimals = 2
	// MaxIntegerDigits is the integer width of a NUMERIC(20,2) column.
	MaxIntegerDigits = 18
)

// Max is the largest amount a balance column can hold (999...9.99).
var Max = decimal.New(1, MaxIntegerDigits).Sub(decimal.New(1, -Decimals))

// Parse converts a plain decimal string such as "12.50" to a Decimal.
// Returns (decimal.Zero, false) on invalid input.
//
// Rules:
//   - Empty strings, signs and exponents are rejected
//   - At most one decimal point, with at most 2 fractional digits
//   - At most 18 integer digits, ignoring leading zeros
//   - "12", "12.5" and "12.50" are all accepted
func Parse(s string) (decimal.Decimal, bool) {
	whole, frac, hasPoint := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return decimal.Zero, false
	}
	if hasPoint && frac == "" {
		return decimal.Zero, false
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return decimal.Zero, false
	}
	if len(strings.TrimLeft(whole, "0")) > MaxIntegerDigits {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil || d.Exponent() < -Decimals {
		return decimal.Zero, false
	}
	return d, true
}

// ParsePositive is Parse restricted to amounts greater than zero.
func ParsePositive(s string) (decimal.Decimal, bool) {
	d, ok := Parse(s)
	if !ok || d.Sign() <= 0 {
		return decimal.Zero, false
	}
	return d, true
}

// MustParse panics on invalid input. Intended for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, ok := Parse(s)
	if !ok {
		panic("money: invalid amount " + s)
	}
	return d
}

// Format renders d with exactly 2 decimal places (e.g. "12.50").
func Format(d decimal.Decimal) string {
	return d.StringFixed(Decimals)
}

// Fits reports whether d can be stored in a balance column.
func Fits(d decimal.Decimal) bool {
	return d.Sign() >= 0 && d.LessThanOrEqual(Max)
}

// Normalize parses and re-formats s, so "20" and "20.0" both become "20.00".
func Normalize(s string) (string, bool) {
	d, ok := Parse(s)
	if !ok {
		return "", false
	}
	return Format(d), true
}

// Input is a request amount that accepts either a JSON number or a JSON
// string. The literal text is kept as-is so no precision is lost to float64.
type Input string

// UnmarshalJSON implements json.Unmarshaler.
func (in *Input) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*in = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = Input(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*in = Input(n.String())
	return nil
}

func (in Input) String() string { return string(in) }

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
