// Package lookup holds the static allergen/additive and pictogram tables
// that menu normalization resolves codes and icons against.
package lookup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nhle/mensabot/internal/model"
)

// file is the on-disk JSON layout of lookup_tables.json.
type file struct {
	Allergens   map[string]string   `json:"allergens_and_additives"`
	Pictograms  map[string]string   `json:"pictograms"`
	CodeTags    map[string][]string `json:"code_tags"`
	IconTags    map[string][]string `json:"icon_tags"`
	IconSources map[string]string   `json:"icon_sources"`
	TextTags    map[string][]string `json:"text_tags"`
	TagImplies  map[string][]string `json:"tag_implies"`
}

type sourceRule struct {
	pattern string
	iconID  string
}

type textRule struct {
	indicator string
	tags      []model.Tag
}

// Table is an immutable lookup table. All methods are safe for concurrent
// use because nothing mutates a Table after Parse returns.
type Table struct {
	allergens   map[string]string
	pictograms  map[string]string
	codeTags    map[string][]model.Tag
	iconTags    map[string][]model.Tag
	iconSources []sourceRule
	textRules   []textRule
	implies     map[model.Tag][]model.Tag
	logger      *slog.Logger
}

// Empty returns a table that resolves nothing.
func Empty(logger *slog.Logger) *Table {
	t, _ := Parse([]byte("{}"), logger)
	return t
}

// Load reads and parses the table at path. Failures are reported as a
// model.ConfigError on lookup.path.
func Load(path string, logger *slog.Logger) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		kind := model.ConfigInvalid
		if errors.Is(err, fs.ErrNotExist) {
			kind = model.ConfigMissing
		}
		return nil, &model.ConfigError{Kind: kind, Key: "lookup.path", Reason: fmt.Sprintf("reading %s: %v", path, err)}
	}
	t, err := Parse(data, logger)
	if err != nil {
		return nil, &model.ConfigError{Kind: model.ConfigInvalid, Key: "lookup.path", Reason: fmt.Sprintf("parsing %s: %v", path, err)}
	}
	return t, nil
}

// Parse builds a Table from its JSON form.
func Parse(data []byte, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding lookup json: %w", err)
	}

	fold := cases.Fold()
	t := &Table{
		allergens:  make(map[string]string, len(f.Allergens)),
		pictograms: make(map[string]string, len(f.Pictograms)),
		codeTags:   make(map[string][]model.Tag, len(f.CodeTags)),
		iconTags:   make(map[string][]model.Tag, len(f.IconTags)),
		implies:    make(map[model.Tag][]model.Tag, len(f.TagImplies)),
		logger:     logger,
	}

	for code, desc := range f.Allergens {
		t.allergens[model.NormalizeCode(code)] = desc
	}
	for id, desc := range f.Pictograms {
		t.pictograms[id] = desc
	}
	for code, tags := range f.CodeTags {
		t.codeTags[model.NormalizeCode(code)] = toTags(tags)
	}
	for id, tags := range f.IconTags {
		t.iconTags[id] = toTags(tags)
	}
	for tag, implied := range f.TagImplies {
		t.implies[model.Tag(tag)] = toTags(implied)
	}
	for pattern, id := range f.IconSources {
		t.iconSources = append(t.iconSources, sourceRule{pattern: pattern, iconID: id})
	}
	for indicator, tags := range f.TextTags {
		t.textRules = append(t.textRules, textRule{indicator: fold.String(indicator), tags: toTags(tags)})
	}

	// Longest pattern first, then lexical, so matching is deterministic.
	sort.Slice(t.iconSources, func(i, j int) bool {
		a, b := t.iconSources[i].pattern, t.iconSources[j].pattern
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	sort.Slice(t.textRules, func(i, j int) bool {
		return t.textRules[i].indicator < t.textRules[j].indicator
	})

	return t, nil
}

func toTags(raw []string) []model.Tag {
	set := make(map[model.Tag]struct{}, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r != "" {
			set[model.Tag(r)] = struct{}{}
		}
	}
	return model.SortTags(set)
}

// Resolve returns the entry for code. Unknown codes resolve to an entry
// whose description is the code itself; they are logged, never raised.
func (t *Table) Resolve(code string) model.LookupEntry {
	key := model.NormalizeCode(code)
	desc, ok := t.allergens[key]
	if !ok {
		t.logger.Debug("unresolved lookup code", "code", code)
		return model.LookupEntry{Code: code, Description: code, Tags: []model.Tag{}}
	}
	tags := t.codeTags[key]
	if tags == nil {
		tags = []model.Tag{}
	}
	return model.LookupEntry{Code: key, Description: desc, Tags: tags, Known: true}
}

// Describe returns the description of code, or "" when unknown.
func (t *Table) Describe(code string) string {
	return t.allergens[model.NormalizeCode(code)]
}

// CodeTags returns the tags attached to a code, nil when none.
func (t *Table) CodeTags(code string) []model.Tag {
	return t.codeTags[model.NormalizeCode(code)]
}

// IconForSource maps an image src to a pictogram id.
func (t *Table) IconForSource(src string) (string, bool) {
	for _, r := range t.iconSources {
		if strings.Contains(src, r.pattern) {
			return r.iconID, true
		}
	}
	return "", false
}

// Icon resolves a pictogram id to its description and tags. Unknown ids
// are described by a title-cased form of the id.
func (t *Table) Icon(id string) (model.Icon, []model.Tag) {
	desc, ok := t.pictograms[id]
	if !ok {
		desc = cases.Title(language.Und).String(strings.ReplaceAll(id, "_", " "))
	}
	return model.Icon{ID: id, Description: desc}, t.iconTags[id]
}

// TextTags returns the tags whose indicator strings occur in any of the
// given texts, compared case-insensitively.
func (t *Table) TextTags(texts ...string) []model.Tag {
	if len(t.textRules) == 0 {
		return nil
	}
	fold := cases.Fold()
	folded := make([]string, len(texts))
	for i, s := range texts {
		folded[i] = fold.String(s)
	}

	set := make(map[model.Tag]struct{})
	for _, r := range t.textRules {
		for _, s := range folded {
			if strings.Contains(s, r.indicator) {
				for _, tag := range r.tags {
					set[tag] = struct{}{}
				}
				break
			}
		}
	}
	return model.SortTags(set)
}

// Expand adds implied tags (e.g. vegan implies vegetarian) to set in place.
func (t *Table) Expand(set map[model.Tag]struct{}) {
	for changed := true; changed; {
		changed = false
		for tag := range set {
			for _, implied := range t.implies[tag] {
				if _, ok := set[implied]; !ok {
					set[implied] = struct{}{}
					changed = true
				}
			}
		}
	}
}

// Len returns the number of allergen/additive codes.
func (t *Table) Len() int { return len(t.allergens) }

var codePattern = regexp.MustCompile(`^(\d+)([a-zA-Z]*)$`)

// Entries returns every known code ordered by numeric prefix, then
// letter suffix (1, 2, 10, 22a, 22b). Non-numeric codes sort last.
func (t *Table) Entries() []model.LookupEntry {
	codes := make([]string, 0, len(t.allergens))
	for code := range t.allergens {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		ni, si := codeSortKey(codes[i])
		nj, sj := codeSortKey(codes[j])
		if ni != nj {
			return ni < nj
		}
		return si < sj
	})

	entries := make([]model.LookupEntry, 0, len(codes))
	for _, code := range codes {
		entries = append(entries, t.Resolve(code))
	}
	return entries
}

func codeSortKey(code string) (int, string) {
	m := codePattern.FindStringSubmatch(code)
	if m == nil {
		return 999, code
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 999, code
	}
	return n, strings.ToLower(m[2])
}
