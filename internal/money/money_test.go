package money

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"one", "1.00", "1.00"},
		{"fifty cents", "0.50", "0.50"},
		{"whole", "100", "100.00"},
		{"smallest unit", "0.01", "0.01"},
		{"short frac", "12.5", "12.50"},
		{"leading dot", ".75", "0.75"},
		{"leading zeros", "007.50", "7.50"},
		{"zero", "0", "0.00"},
		{"large", "9999999.99", "9999999.99"},
		{"column max", "999999999999999999.99", "999999999999999999.99"},
		{"padded max", "000999999999999999999.99", "999999999999999999.99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tt.input)
			}
			if got.StringFixed(Decimals) != tt.expected {
				t.Errorf("Parse(%q) = %s, want %s", tt.input, got.StringFixed(Decimals), tt.expected)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "-1", "+1", "1.234", "1.2.3", "abc", "1e3", " 1", "1.", ".", "12,50", "0.001"} {
		if _, ok := Parse(in); ok {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestParse_RejectsOversizedAmounts(t *testing.T) {
	for _, in := range []string{
		"1" + strings.Repeat("0", MaxIntegerDigits),
		"9999999999999999999999999",
		strings.Repeat("9", 40) + ".00",
	} {
		if _, ok := Parse(in); ok {
			t.Errorf("Parse(%q) should fail: more than %d integer digits", in, MaxIntegerDigits)
		}
	}
}

func TestParsePositive(t *testing.T) {
	if _, ok := ParsePositive("0.00"); ok {
		t.Error("zero must not be positive")
	}
	v, ok := ParsePositive("0.01")
	if !ok || !v.Equal(decimal.New(1, -2)) {
		t.Errorf("ParsePositive(0.01) = %v, %v", v, ok)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   decimal.Decimal
		want string
	}{
		{decimal.Zero, "0.00"},
		{decimal.New(5, -2), "0.05"},
		{decimal.New(125, -1), "12.50"},
		{decimal.NewFromInt(-3), "-3.00"},
		{MustParse("40").Sub(MustParse("0.01")), "39.99"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFits(t *testing.T) {
	if !Fits(Max) {
		t.Error("Max must fit")
	}
	if Fits(Max.Add(decimal.New(1, -2))) {
		t.Error("Max + 0.01 must not fit")
	}
	if Fits(decimal.NewFromInt(-1)) {
		t.Error("negative balance must not fit")
	}
}

func TestNormalize(t *testing.T) {
	got, ok := Normalize("20")
	if !ok || got != "20.00" {
		t.Errorf("Normalize(20) = %q, %v", got, ok)
	}
}

func TestInput_UnmarshalJSON(t *testing.T) {
	var req struct {
		Amount Input `json:"amount"`
	}

	for raw, want := range map[string]string{
		`{"amount": 20}`:      "20",
		`{"amount": 20.5}`:    "20.5",
		`{"amount": "12.00"}`: "12.00",
		`{"amount": " 7 "}`:   "7",
		`{"amount": null}`:    "",
		`{}`:                  "",
	} {
		req.Amount = ""
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if req.Amount.String() != want {
			t.Errorf("%s -> %q, want %q", raw, req.Amount, want)
		}
	}

	if err := json.Unmarshal([]byte(`{"amount": true}`), &req); err == nil {
		t.Error("expected error for boolean amount")
	}
}
