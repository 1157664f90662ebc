package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mensabot/internal/lookup"
	"github.com/nhle/mensabot/internal/model"
	"github.com/nhle/mensabot/internal/source"
)

const testLookup = `{
	"allergens_and_additives": {"ve": "vegan", "21a": "Weizen", "22": "Eier"},
	"pictograms": {"vegetarian": "Vegetarisch", "klimaessen": "Klimaessen"},
	"code_tags": {"ve": ["vegan"]},
	"icon_sources": {"/1.png": "vegetarian", "/43.png": "klimaessen"},
	"icon_tags": {"vegetarian": ["vegetarian"], "klimaessen": ["klimaessen", "low_co2"]},
	"text_tags": {"unter dem durchschnitt": ["low_h2o"]},
	"tag_implies": {"vegan": ["vegetarian"]}
}`

const dayFragment = `
<div class="splGroupWrapper">
  <div class="row splGroup">Essen</div>
  <div class="row splMeal">
    <div class="col-xs-6"><span class="bold">Veggie Bowl</span></div>
    <div class="kennz">
      <table class="tooltip_content">
        <tr><td>ve</td><td>vegan</td></tr>
        <tr><td>21a</td><td>Weizen</td></tr>
      </table>
    </div>
    <img src="/vendor/infomax/mensen/icons/1.png">
    <img src="/vendor/infomax/mensen/icons/CO2_bewertung_a.png">
    <div class="shocl_content">Wasserverbrauch unter dem Durchschnitt</div>
    <div class="col-xs-12 text-right">€ 1,45/3,10/4,20</div>
  </div>
  <div class="row splMeal">
    <div><span class="bold">Schnitzel</span></div>
    <div class="kennz">
      <table class="tooltip_content">
        <tr><td>22</td><td>Eier</td></tr>
        <tr><td>99</td><td>Geheimzutat</td></tr>
      </table>
    </div>
    <i class="glyphicons glyphicons-temperature-low"></i>
    <div class="text-right">€ 2,x5/4,50</div>
  </div>
</div>
<div class="splGroupWrapper">
  <div class="row splGroup">Desserts</div>
  <div class="row splMeal">
    <div><span class="bold">Obstsalat</span></div>
    <img src="/vendor/infomax/mensen/icons/43.png">
  </div>
  <div class="row splMeal">
    <div class="text-right">€ 0,90/1,20/1,50</div>
  </div>
</div>
`

var fetchedAt = time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)

func testTable(t *testing.T) *lookup.Table {
	t.Helper()
	tbl, err := lookup.Parse([]byte(testLookup), nil)
	require.NoError(t, err)
	return tbl
}

func rawContent(days ...source.RawDay) *source.RawContent {
	return &source.RawContent{Days: days, FetchedAt: fetchedAt}
}

func TestNormalizeDay(t *testing.T) {
	res, err := New(nil).Normalize(rawContent(source.RawDay{Date: "2024-03-04", Body: []byte(dayFragment)}), testTable(t))
	require.NoError(t, err)
	require.Len(t, res.Days, 1)

	day := res.Days[0]
	assert.Equal(t, model.Date("2024-03-04"), day.Date)
	assert.Equal(t, fetchedAt, day.FetchedAt)
	assert.False(t, day.IsStale)
	require.Len(t, day.Meals, 3, "meal without a name is skipped")
	assert.Equal(t, []string{"Essen", "Desserts"}, day.Categories())

	bowl := day.Meals[0]
	assert.Equal(t, "2024-03-04-01", bowl.ID)
	assert.Equal(t, "Veggie Bowl", bowl.Name)
	assert.Equal(t, "Essen", bowl.Category)
	assert.Equal(t, []string{"ve", "21a"}, bowl.RawCodes)
	assert.Equal(t, []model.Tag{model.TagLowH2O, model.TagVegan, model.TagVegetarian}, bowl.Tags)
	assert.Equal(t, "A", bowl.Ratings["co2"])
	assert.Equal(t, []model.Icon{{ID: "vegetarian", Description: "Vegetarisch"}}, bowl.Icons)
	assert.True(t, bowl.Price(model.StatusStudent).Amount.Equal(decimal.RequireFromString("1.45")))
	assert.True(t, bowl.Price(model.StatusEmployee).Amount.Equal(decimal.RequireFromString("3.10")))
	assert.True(t, bowl.Price(model.StatusGuest).Amount.Equal(decimal.RequireFromString("4.20")))

	dessert := day.Meals[2]
	assert.Equal(t, "2024-03-04-03", dessert.ID)
	assert.Equal(t, []model.Tag{model.TagClimateMeal, model.TagLowCO2}, dessert.Tags)
	for _, s := range model.Statuses {
		assert.False(t, dessert.Price(s).Available, "missing price text must be explicit unavailable")
	}
}

func TestNormalizePriceDegradesPerField(t *testing.T) {
	res, err := New(nil).Normalize(rawContent(source.RawDay{Date: "2024-03-04", Body: []byte(dayFragment)}), testTable(t))
	require.NoError(t, err)

	schnitzel := res.Days[0].Meals[1]
	assert.Equal(t, "Schnitzel", schnitzel.Name)
	require.Len(t, schnitzel.Prices, 3)
	assert.False(t, schnitzel.Price(model.StatusStudent).Available)
	assert.True(t, schnitzel.Price(model.StatusEmployee).Available)
	assert.Equal(t, "€ 4.50", schnitzel.Price(model.StatusEmployee).String())
	assert.False(t, schnitzel.Price(model.StatusGuest).Available)

	var priceIssues []Issue
	for _, i := range res.Issues {
		if i.Field == "price.student" {
			priceIssues = append(priceIssues, i)
		}
	}
	require.Len(t, priceIssues, 1)
	assert.Equal(t, MalformedSection, priceIssues[0].Kind)
}

func TestNormalizeUnknownCodeTolerated(t *testing.T) {
	res, err := New(nil).Normalize(rawContent(source.RawDay{Date: "2024-03-04", Body: []byte(dayFragment)}), testTable(t))
	require.NoError(t, err)

	schnitzel := res.Days[0].Meals[1]
	assert.Equal(t, []string{"22", "99"}, schnitzel.RawCodes)
	assert.Equal(t, model.Allergen{Code: "22", Description: "Eier", Known: true}, schnitzel.Allergens[0])
	assert.Equal(t, model.Allergen{Code: "99", Description: "Geheimzutat"}, schnitzel.Allergens[1])
	assert.Equal(t, []model.Icon{{ID: "cooled_meal", Description: "Cooled Meal"}}, schnitzel.Icons)

	var unresolved []Issue
	for _, i := range res.Issues {
		if i.Kind == UnresolvedButTolerated {
			unresolved = append(unresolved, i)
		}
	}
	require.Len(t, unresolved, 1)
	assert.Equal(t, "99", unresolved[0].Reason)
}

func TestNormalizeMissingDayYieldsNoMenuDay(t *testing.T) {
	res, err := New(nil).Normalize(rawContent(
		source.RawDay{Date: "2024-03-04", Body: []byte(dayFragment)},
		source.RawDay{Date: "2024-03-05", Body: []byte("   ")},
		source.RawDay{Date: "2024-03-06", Body: []byte(`<p>Heute geschlossen</p>`)},
		source.RawDay{Date: "2024-03-07", Body: []byte(`<div class="splGroup">Essen</div><div class="splMeal"></div>`)},
	), testTable(t))
	require.NoError(t, err)

	require.Len(t, res.Days, 1)
	assert.Equal(t, model.Date("2024-03-04"), res.Days[0].Date)

	var malformedDay bool
	for _, i := range res.Issues {
		if i.Date == "2024-03-07" && i.Field == "" {
			malformedDay = true
		}
	}
	assert.True(t, malformedDay)
}

func TestNormalizeMealsBeforeCategoryIgnored(t *testing.T) {
	body := `<div class="splMeal"><span class="bold">Orphan</span></div>
<div class="splGroup">Suppen</div>
<div class="splMeal"><span class="bold">Linsensuppe</span><div class="text-right">€ 1,00/2,00/3,00</div></div>`

	res, err := New(nil).Normalize(rawContent(source.RawDay{Date: "2024-03-04", Body: []byte(body)}), testTable(t))
	require.NoError(t, err)
	require.Len(t, res.Days, 1)
	require.Len(t, res.Days[0].Meals, 1)
	assert.Equal(t, "Linsensuppe", res.Days[0].Meals[0].Name)
	assert.Equal(t, "Suppen", res.Days[0].Meals[0].Category)
}

func TestNormalizeNamelessCategoryKeepsMeals(t *testing.T) {
	body := `<div class="row splGroup"></div>
<div class="row splMeal"><span class="bold">Veggie Bowl</span><div class="text-right">€ 1,45/3,10/4,20</div></div>`

	res, err := New(nil).Normalize(rawContent(source.RawDay{Date: "2024-03-04", Body: []byte(body)}), testTable(t))
	require.NoError(t, err)
	require.Len(t, res.Days, 1)
	require.Len(t, res.Days[0].Meals, 1)
	assert.Equal(t, "Veggie Bowl", res.Days[0].Meals[0].Name)
	assert.Empty(t, res.Days[0].Meals[0].Category)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, MalformedSection, res.Issues[0].Kind)
	assert.Equal(t, "category", res.Issues[0].Field)
}

func TestNormalizeIsDeterministic(t *testing.T) {
	raw := rawContent(
		source.RawDay{Date: "2024-03-04", Body: []byte(dayFragment)},
		source.RawDay{Date: "2024-03-05", Body: []byte(dayFragment)},
	)
	tbl := testTable(t)

	first, err := New(nil).Normalize(raw, tbl)
	require.NoError(t, err)
	second, err := New(nil).Normalize(raw, tbl)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalizeScenarioVeggieBowl(t *testing.T) {
	tbl, err := lookup.Parse([]byte(`{"allergens_and_additives": {"ve": "vegan"}, "code_tags": {"ve": ["vegan"]}}`), nil)
	require.NoError(t, err)

	body := `<div class="splGroup">Essen</div><div class="splMeal"><span class="bold">Veggie Bowl</span>
<div class="kennz"><table class="tooltip_content"><tr><td>ve</td><td>vegan</td></tr></table></div></div>`
	res, err := New(nil).Normalize(rawContent(source.RawDay{Date: "2024-03-04", Body: []byte(body)}), tbl)
	require.NoError(t, err)
	require.Len(t, res.Days, 1)
	assert.Equal(t, []model.Tag{model.TagVegan}, res.Days[0].Meals[0].Tags)
}

func TestNormalizeRejectsMissingInput(t *testing.T) {
	_, err := New(nil).Normalize(nil, testTable(t))
	assert.True(t, IsNormalizationError(err))

	_, err = New(nil).Normalize(rawContent(), nil)
	assert.True(t, IsNormalizationError(err))
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "€ 1,45", want: "1.45"},
		{in: "3,10", want: "3.1"},
		{in: "€ 1.234,50", want: "1234.5"},
		{in: "2,x5", wantErr: true},
		{in: "€", wantErr: true},
		{in: "-1,00", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePrice(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}
