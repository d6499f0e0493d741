package domain

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// CurrencyBRL is the only currency the studio charges in.
const CurrencyBRL = "BRL"

var brlPrinter = message.NewPrinter(language.BrazilianPortuguese)

// ParseAmount normalises a price given as a formatted BRL string ("R$ 1.234,56")
// or a raw number into a decimal amount. Unparseable input yields zero.
func ParseAmount(value any) decimal.Decimal {
	switch v := value.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return v
	case int:
		return decimal.NewFromInt(int64(v))
	case int32:
		return decimal.NewFromInt32(v)
	case int64:
		return decimal.NewFromInt(v)
	case float32:
		if !finite(float64(v)) {
			return decimal.Zero
		}
		return decimal.NewFromFloat32(v)
	case float64:
		if !finite(v) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(v)
	case json.Number:
		amount, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero
		}
		return amount
	case string:
		return parseAmountString(v)
	case *string:
		if v == nil {
			return decimal.Zero
		}
		return parseAmountString(*v)
	default:
		return decimal.Zero
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func parseAmountString(raw string) decimal.Decimal {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero
	}

	hasComma := strings.Contains(cleaned, ",")
	switch {
	case hasComma && strings.Contains(cleaned, "."):
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	case hasComma:
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	default:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// ParseAmountJSON parses a JSON price field that may carry either a string or a number.
func ParseAmountJSON(raw json.RawMessage) decimal.Decimal {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return decimal.Zero
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero
		}
		return parseAmountString(s)
	}
	return ParseAmount(json.Number(trimmed))
}

// FormatBRL renders an amount the way the studio displays prices, e.g. "R$ 1.000,00".
func FormatBRL(amount decimal.Decimal) string {
	f, _ := amount.Round(2).Float64()
	return "R$ " + brlPrinter.Sprint(number.Decimal(f, number.Scale(2)))
}

// FormatBRLMinor renders an amount expressed in centavos.
func FormatBRLMinor(minor int64) string {
	return FormatBRL(FromMinor(minor))
}

// ToMinor converts a decimal amount into centavos, rounding half away from zero.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinor converts centavos back into a decimal amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
