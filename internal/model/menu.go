package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the pricing group a user belongs to.
type Status string

const (
	StatusStudent  Status = "student"
	StatusEmployee Status = "employee"
	StatusGuest    Status = "guest"
)

// Statuses lists every pricing group in the order the source prints prices.
var Statuses = []Status{StatusStudent, StatusEmployee, StatusGuest}

// ParseStatus maps user input (any case) to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusStudent:
		return StatusStudent, nil
	case StatusEmployee:
		return StatusEmployee, nil
	case StatusGuest:
		return StatusGuest, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Tag is a dietary or sustainability classifier attached to a meal.
type Tag string

// Well-known tags. The lookup table may introduce more.
const (
	TagVegan       Tag = "vegan"
	TagVegetarian  Tag = "vegetarian"
	TagLowCO2      Tag = "low_co2"
	TagLowH2O      Tag = "low_h2o"
	TagClimateMeal Tag = "klimaessen"
)

// SortTags returns the set's members in ascending order.
func SortTags(set map[Tag]struct{}) []Tag {
	tags := make([]Tag, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// HasTag reports whether tags contains t.
func HasTag(tags []Tag, t Tag) bool {
	for _, x := range tags {
		if x == t {
			return true
		}
	}
	return false
}

// Price is a non-negative euro amount with cent scale, or unavailable.
type Price struct {
	Amount    decimal.Decimal
	Available bool
}

// NewPrice returns an available price rounded to cents.
func NewPrice(amount decimal.Decimal) Price {
	return Price{Amount: amount.Round(2), Available: true}
}

// UnavailablePrice is the explicit placeholder for a missing or
// unparsable source price.
func UnavailablePrice() Price { return Price{} }

func (p Price) String() string {
	if !p.Available {
		return "n/a"
	}
	return "€ " + p.Amount.StringFixed(2)
}

// MarshalJSON encodes an available price as a fixed-scale string and an
// unavailable one as null.
func (p Price) MarshalJSON() ([]byte, error) {
	if !p.Available {
		return []byte("null"), nil
	}
	return json.Marshal(p.Amount.StringFixed(2))
}

// UnmarshalJSON accepts the MarshalJSON encoding.
func (p *Price) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = UnavailablePrice()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding price: %w", err)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("decoding price %q: %w", s, err)
	}
	*p = NewPrice(d)
	return nil
}

// Allergen is a resolved allergen or additive code on a meal.
type Allergen struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Known       bool   `json:"known"`
}

// Icon is a resolved dietary pictogram on a meal.
type Icon struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Meal is a single dish on a MenuDay.
type Meal struct {
	// ID is stable for identical source content: date plus position.
	ID string `json:"id"`

	Name     string `json:"name"`
	Category string `json:"category"`

	// RawCodes are the allergen/additive codes in source order.
	RawCodes []string `json:"raw_codes"`

	// Allergens are RawCodes resolved through the lookup table.
	Allergens []Allergen `json:"allergens"`

	// Prices always holds an entry for every Status.
	Prices map[Status]Price `json:"prices"`

	Tags  []Tag  `json:"tags"`
	Icons []Icon `json:"icons,omitempty"`

	// Ratings holds sustainability grades such as co2 -> "A".
	Ratings map[string]string `json:"ratings,omitempty"`

	// Sustainability holds the source's free-text metric descriptions.
	Sustainability []string `json:"sustainability,omitempty"`
}

// Price returns the price for the given status, unavailable if absent.
func (m Meal) Price(s Status) Price {
	if p, ok := m.Prices[s]; ok {
		return p
	}
	return UnavailablePrice()
}

// MenuDay is the set of meals offered on one calendar date. A MenuDay is
// replaced wholesale on refresh and never mutated in place.
type MenuDay struct {
	Date      Date      `json:"date"`
	Meals     []Meal    `json:"meals"`
	FetchedAt time.Time `json:"fetched_at"`
	IsStale   bool      `json:"is_stale"`
}

// Categories returns the distinct category names in first-seen order.
func (d MenuDay) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range d.Meals {
		if !seen[m.Category] {
			seen[m.Category] = true
			out = append(out, m.Category)
		}
	}
	return out
}

