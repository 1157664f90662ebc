package menu

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/nhle/mensabot/internal/model"
)

func testMeal() model.Meal {
	return model.Meal{
		Name: "Linsencurry",
		Allergens: []model.Allergen{
			{Code: "21a", Description: "Weizen", Known: true},
			{Code: "26", Description: "Sellerie", Known: true},
		},
		Prices: map[model.Status]model.Price{
			model.StatusStudent:  model.NewPrice(decimal.RequireFromString("1.45")),
			model.StatusEmployee: model.NewPrice(decimal.RequireFromString("3.10")),
			model.StatusGuest:    model.UnavailablePrice(),
		},
		Tags: []model.Tag{model.TagLowCO2, model.TagVegan, model.TagVegetarian},
	}
}

func TestPersonalizePriceByStatus(t *testing.T) {
	p := Personalize(testMeal(), model.User{Status: model.StatusEmployee})
	assert.Equal(t, "€ 3.10", p.Price.String())

	p = Personalize(testMeal(), model.User{Status: model.StatusGuest})
	assert.False(t, p.Price.Available)
}

func TestPersonalizeAllergies(t *testing.T) {
	p := Personalize(testMeal(), model.User{AllergyCodes: []string{"26", "21A", "30"}})
	assert.False(t, p.Safe)
	assert.Equal(t, []string{"21A: Weizen", "26: Sellerie"}, p.AllergyViolations)

	p = Personalize(testMeal(), model.User{AllergyCodes: []string{"30"}})
	assert.True(t, p.Safe)
	assert.Empty(t, p.AllergyViolations)
}

func TestPersonalizePreferences(t *testing.T) {
	p := Personalize(testMeal(), model.User{DietaryPreferences: []model.Tag{model.TagVegetarian, model.TagLowH2O}})
	assert.True(t, p.MatchesPreferences())
	assert.Equal(t, []model.Tag{model.TagVegetarian}, p.PrefMatches)
	assert.Empty(t, p.PrefViolations)

	p = Personalize(testMeal(), model.User{DietaryPreferences: []model.Tag{model.TagLowH2O}})
	assert.False(t, p.MatchesPreferences())
	assert.Equal(t, []model.Tag{model.TagLowH2O}, p.PrefViolations)

	p = Personalize(testMeal(), model.User{})
	assert.Empty(t, p.PrefViolations, "no preferences, nothing violated")
}
