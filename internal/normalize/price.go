package normalize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nhle/mensabot/internal/model"
)

// splitPrices splits the source's "€ 1,45/3,10/4,20" text into one field
// per status, in model.Statuses order. Absent parts are Missing.
func splitPrices(f Field) []Field {
	out := make([]Field, len(model.Statuses))
	for i := range out {
		out[i] = Missing()
	}
	if f.State != FieldPresent {
		return out
	}
	parts := strings.Split(f.Text, "/")
	for i := range out {
		if i < len(parts) {
			out[i] = textField(strings.TrimSpace(parts[i]))
		}
	}
	return out
}

// parsePrice parses a German-formatted euro amount such as "€ 1.234,50".
func parsePrice(text string) (decimal.Decimal, error) {
	s := strings.NewReplacer("€", "", "EUR", "", " ", "", "\u00a0", "").Replace(text)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty price")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing price %q: %w", text, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative price %q", text)
	}
	return d, nil
}

// priceField classifies one status's price text.
func priceField(f Field) (model.Price, Field) {
	if f.State != FieldPresent {
		return model.UnavailablePrice(), f
	}
	d, err := parsePrice(f.Text)
	if err != nil {
		return model.UnavailablePrice(), Malformed(f.Text, err.Error())
	}
	return model.NewPrice(d), f
}
