package lookup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mensabot/internal/model"
)

const testTable = `{
	"allergens_and_additives": {"ve": "vegan", "22a": "Weizen", "2": "Konservierungsstoff", "10": "Phenylalanin", "22b": "Roggen", "Z": "Zusatz"},
	"pictograms": {"vegan": "Vegan"},
	"code_tags": {"ve": ["vegan"]},
	"icon_tags": {"vegan": ["vegan"]},
	"icon_sources": {"/1.png": "vegetarian", "/15.png": "vegan"},
	"text_tags": {"Unter dem Durchschnitt": ["low_h2o"], "wesentlich": ["low_co2"]},
	"tag_implies": {"vegan": ["vegetarian"]}
}`

func mustParse(t *testing.T) *Table {
	t.Helper()
	tbl, err := Parse([]byte(testTable), nil)
	require.NoError(t, err)
	return tbl
}

func TestResolveKnownCode(t *testing.T) {
	tbl := mustParse(t)

	entry := tbl.Resolve(" VE ")
	assert.True(t, entry.Known)
	assert.Equal(t, "ve", entry.Code)
	assert.Equal(t, "vegan", entry.Description)
	assert.Equal(t, []model.Tag{model.TagVegan}, entry.Tags)
}

func TestResolveUnknownCodeDegrades(t *testing.T) {
	tbl := mustParse(t)

	entry := tbl.Resolve("99x")
	assert.False(t, entry.Known)
	assert.Equal(t, "99x", entry.Description)
	assert.Empty(t, entry.Tags)
}

func TestEntriesSortNumerically(t *testing.T) {
	tbl := mustParse(t)

	var codes []string
	for _, e := range tbl.Entries() {
		codes = append(codes, e.Code)
	}
	assert.Equal(t, []string{"2", "10", "22a", "22b", "ve", "z"}, codes)
}

func TestIconForSourcePrefersLongestPattern(t *testing.T) {
	tbl := mustParse(t)

	id, ok := tbl.IconForSource("https://example.org/icons/15.png")
	require.True(t, ok)
	assert.Equal(t, "vegan", id)

	id, ok = tbl.IconForSource("https://example.org/icons/1.png")
	require.True(t, ok)
	assert.Equal(t, "vegetarian", id)

	_, ok = tbl.IconForSource("https://example.org/icons/99.png")
	assert.False(t, ok)
}

func TestIconDescribesUnknownIDs(t *testing.T) {
	tbl := mustParse(t)

	icon, tags := tbl.Icon("sustainable_fish")
	assert.Equal(t, "Sustainable Fish", icon.Description)
	assert.Nil(t, tags)
}

func TestTextTagsCaseInsensitive(t *testing.T) {
	tbl := mustParse(t)

	tags := tbl.TextTags("Pasta", "Wasserverbrauch UNTER DEM DURCHSCHNITT", "CO2 wesentlich geringer")
	assert.Equal(t, []model.Tag{model.TagLowCO2, model.TagLowH2O}, tags)
	assert.Empty(t, tbl.TextTags("nothing here"))
}

func TestExpandAppliesImplications(t *testing.T) {
	tbl := mustParse(t)

	set := map[model.Tag]struct{}{model.TagVegan: {}}
	tbl.Expand(set)
	assert.Equal(t, []model.Tag{model.TagVegan, model.TagVegetarian}, model.SortTags(set))
}

func TestRegistryReloadSwapsAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lookup.json")
	require.NoError(t, os.WriteFile(path, []byte(testTable), 0o600))

	reg, err := NewRegistry(path, nil)
	require.NoError(t, err)
	before := reg.Current()
	assert.Equal(t, 6, before.Len())

	require.NoError(t, os.WriteFile(path, []byte(`{"allergens_and_additives": {"1": "Farbstoff"}}`), 0o600))
	require.NoError(t, reg.Reload())
	assert.Equal(t, 1, reg.Current().Len())
	assert.Equal(t, 6, before.Len(), "previously handed out table must not change")

	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o600))
	err = reg.Reload()
	require.Error(t, err)
	assert.True(t, model.IsConfigError(err))
	assert.Equal(t, 1, reg.Current().Len(), "failed reload keeps the active table")
}

func TestNewRegistryMissingFileIsConfigError(t *testing.T) {
	_, err := NewRegistry(filepath.Join(t.TempDir(), "absent.json"), nil)
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, model.ConfigMissing, cfgErr.Kind)
	assert.Equal(t, "lookup.path", cfgErr.Key)
}

func TestStaticRegistryCannotReload(t *testing.T) {
	reg := NewStaticRegistry(Empty(nil))
	assert.Error(t, reg.Reload())
	assert.Equal(t, 0, reg.Current().Len())
}
