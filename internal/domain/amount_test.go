package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		name  string
		input any
		want  string
	}{
		{name: "formatted thousands", input: "R$ 1.000", want: "1000"},
		{name: "formatted with cents", input: "R$ 1.234,56", want: "1234.56"},
		{name: "comma decimal only", input: "99,90", want: "99.9"},
		{name: "plain digits", input: "400", want: "400"},
		{name: "dot only treated as thousands", input: "1.500", want: "1500"},
		{name: "negative", input: "-R$ 50,00", want: "-50"},
		{name: "integer", input: 350, want: "350"},
		{name: "float", input: 12.5, want: "12.5"},
		{name: "json number keeps decimals", input: json.Number("1.5"), want: "1.5"},
		{name: "garbage", input: "sob consulta", want: "0"},
		{name: "lone minus", input: "R$ -", want: "0"},
		{name: "empty", input: "", want: "0"},
		{name: "nil", input: nil, want: "0"},
		{name: "unsupported type", input: []string{"1"}, want: "0"},
		{name: "nan", input: math.NaN(), want: "0"},
		{name: "positive infinity", input: math.Inf(1), want: "0"},
		{name: "negative infinity float32", input: float32(math.Inf(-1)), want: "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseAmount(tc.input)
			want := decimal.RequireFromString(tc.want)
			if !got.Equal(want) {
				t.Fatalf("ParseAmount(%v) = %s, want %s", tc.input, got, want)
			}
		})
	}
}

func TestParseAmountRoundTripsFormattedBRL(t *testing.T) {
	for _, n := range []int64{0, 1, 9, 50, 400, 999, 1000, 1500, 12345, 1000000, 7654321} {
		formatted := FormatBRL(decimal.NewFromInt(n))
		got := ParseAmount(formatted)
		if !got.Equal(decimal.NewFromInt(n)) {
			t.Fatalf("round trip of %d via %q produced %s", n, formatted, got)
		}
	}
}

func TestFormatBRL(t *testing.T) {
	if got := FormatBRL(decimal.NewFromInt(1000)); got != "R$ 1.000,00" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := FormatBRLMinor(12345); got != "R$ 123,45" {
		t.Fatalf("unexpected minor format %q", got)
	}
}

func TestParseAmountJSON(t *testing.T) {
	if got := ParseAmountJSON(json.RawMessage(`"R$ 2.500"`)); !got.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("expected 2500 from string, got %s", got)
	}
	if got := ParseAmountJSON(json.RawMessage(`180.5`)); !got.Equal(decimal.RequireFromString("180.5")) {
		t.Fatalf("expected 180.5 from number, got %s", got)
	}
	if got := ParseAmountJSON(json.RawMessage(`null`)); !got.IsZero() {
		t.Fatalf("expected zero for null, got %s", got)
	}
}

func TestMinorConversions(t *testing.T) {
	if got := ToMinor(decimal.RequireFromString("22.505")); got != 2251 {
		t.Fatalf("expected half-up to 2251, got %d", got)
	}
	if got := FromMinor(4500); !got.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("expected 45, got %s", got)
	}
}
