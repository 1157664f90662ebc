package menu

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nhle/mensabot/internal/model"
)

// Personalized is a meal as seen by one user.
type Personalized struct {
	Meal  model.Meal  `json:"meal"`
	Price model.Price `json:"price"`

	// Safe is false when the meal carries one of the user's allergy codes.
	Safe              bool     `json:"safe"`
	AllergyViolations []string `json:"allergy_violations,omitempty"`

	PrefMatches    []model.Tag `json:"pref_matches,omitempty"`
	PrefViolations []model.Tag `json:"pref_violations,omitempty"`
}

// MatchesPreferences reports whether at least one dietary preference is met.
func (p Personalized) MatchesPreferences() bool { return len(p.PrefMatches) > 0 }

// Personalize prices meal for the user's status and checks it against
// their allergy codes and dietary preferences. With preferences set and
// none met, every preference is reported as violated.
func Personalize(meal model.Meal, u model.User) Personalized {
	p := Personalized{Meal: meal, Price: meal.Price(u.Status), Safe: true}

	avoid := make(map[string]bool, len(u.AllergyCodes))
	for _, c := range u.AllergyCodes {
		avoid[model.NormalizeCode(c)] = true
	}
	seen := make(map[string]bool)
	for _, a := range meal.Allergens {
		code := model.NormalizeCode(a.Code)
		if !avoid[code] || seen[code] {
			continue
		}
		seen[code] = true
		p.Safe = false
		p.AllergyViolations = append(p.AllergyViolations, fmt.Sprintf("%s: %s", strings.ToUpper(code), a.Description))
	}
	sort.Strings(p.AllergyViolations)

	prefs := make(map[model.Tag]struct{}, len(u.DietaryPreferences))
	for _, t := range u.DietaryPreferences {
		prefs[t] = struct{}{}
	}
	matches := make(map[model.Tag]struct{})
	for _, t := range meal.Tags {
		if _, ok := prefs[t]; ok {
			matches[t] = struct{}{}
		}
	}
	p.PrefMatches = model.SortTags(matches)
	if len(prefs) > 0 && len(matches) == 0 {
		p.PrefViolations = model.SortTags(prefs)
	}
	return p
}

// PersonalizeDay applies Personalize to every meal of day.
func PersonalizeDay(day model.MenuDay, u model.User) []Personalized {
	out := make([]Personalized, 0, len(day.Meals))
	for _, m := range day.Meals {
		out = append(out, Personalize(m, u))
	}
	return out
}
