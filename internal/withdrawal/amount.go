package withdrawal

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var currencyMarkers = []string{"TRY", "TL", "₺"}

// either grouped thousands ("1.234.567,89") or a plain integer part ("1234,5")
var amountPattern = regexp.MustCompile(`^\d{1,3}(\.\d{3})+(,\d+)?$|^\d+(,\d+)?$`)

// ParseAmount parses an amount rendered in the panel's locale, where "." groups
// thousands and "," separates decimals, with an optional currency marker.
// The second return value is false for malformed or negative amounts, in
// which case the amount is zero.
func ParseAmount(text string) (decimal.Decimal, bool) {
	text = strings.TrimSpace(text)
	for _, marker := range currencyMarkers {
		text = strings.ReplaceAll(text, marker, "")
	}
	text = strings.Join(strings.Fields(text), "")
	if text == "" || !amountPattern.MatchString(text) {
		return decimal.Zero, false
	}

	text = strings.ReplaceAll(text, ".", "")
	text = strings.Replace(text, ",", ".", 1)
	amount, err := decimal.NewFromString(text)
	if err != nil || amount.IsNegative() {
		return decimal.Zero, false
	}
	return amount, true
}

// SumAmounts sums the raw amount text of every record, amounts that cannot
// be parsed count as zero.
func SumAmounts(records []Record) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range records {
		amount, _ := ParseAmount(r.AmountText)
		sum = sum.Add(amount)
	}
	return sum
}
