// Package normalize turns raw menu markup into the canonical MenuDay model.
package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nhle/mensabot/internal/lookup"
	"github.com/nhle/mensabot/internal/model"
	"github.com/nhle/mensabot/internal/source"
)

// IssueKind classifies a tolerated normalization problem.
type IssueKind int

const (
	// MalformedSection means a day, meal or field could not be used and
	// was skipped or degraded.
	MalformedSection IssueKind = iota

	// UnresolvedButTolerated means a code was missing from the lookup
	// table and kept with its raw or source-supplied description.
	UnresolvedButTolerated
)

func (k IssueKind) String() string {
	if k == UnresolvedButTolerated {
		return "unresolved"
	}
	return "malformed"
}

// Issue is one locally degraded piece of input. Issues never abort a pass.
type Issue struct {
	Kind   IssueKind
	Date   model.Date
	Meal   string
	Field  string
	Reason string
}

func (i Issue) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", i.Kind, i.Date)
	if i.Meal != "" {
		fmt.Fprintf(&b, " meal %q", i.Meal)
	}
	if i.Field != "" {
		fmt.Fprintf(&b, " field %s", i.Field)
	}
	if i.Reason != "" {
		b.WriteString(": " + i.Reason)
	}
	return b.String()
}

// Error is returned when the input as a whole cannot be normalized.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "normalizing menu: " + e.Reason }

// IsNormalizationError reports whether err (or any error in its chain) is
// a whole-input normalization Error.
func IsNormalizationError(err error) bool {
	var nErr *Error
	return errors.As(err, &nErr)
}

// Result holds the normalized days in input order and every tolerated issue.
type Result struct {
	Days   []model.MenuDay
	Issues []Issue
}

// Normalizer converts fetched content. It keeps no state between calls:
// the same content and table always produce the same Result.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer.
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger.With("component", "normalize")}
}

// Normalize parses every raw day. A day whose section is absent or
// unusable yields no MenuDay.
func (n *Normalizer) Normalize(raw *source.RawContent, table *lookup.Table) (*Result, error) {
	if raw == nil {
		return nil, &Error{Reason: "no content"}
	}
	if table == nil {
		return nil, &Error{Reason: "no lookup table"}
	}

	res := &Result{Days: make([]model.MenuDay, 0, len(raw.Days))}
	seen := make(map[model.Date]bool, len(raw.Days))
	for _, rd := range raw.Days {
		if seen[rd.Date] {
			res.issue(n.logger, Issue{Kind: MalformedSection, Date: rd.Date, Reason: "duplicate day in content"})
			continue
		}
		seen[rd.Date] = true

		day, ok := n.normalizeDay(rd, raw, table, res)
		if ok {
			res.Days = append(res.Days, day)
		}
	}
	return res, nil
}

func (n *Normalizer) normalizeDay(rd source.RawDay, raw *source.RawContent, table *lookup.Table, res *Result) (model.MenuDay, bool) {
	if strings.TrimSpace(string(rd.Body)) == "" {
		n.logger.Info("no menu published", "date", rd.Date)
		return model.MenuDay{}, false
	}

	categories, err := extract(rd.Body)
	if err != nil {
		res.issue(n.logger, Issue{Kind: MalformedSection, Date: rd.Date, Reason: err.Error()})
		return model.MenuDay{}, false
	}
	if len(categories) == 0 {
		n.logger.Info("no menu published", "date", rd.Date)
		return model.MenuDay{}, false
	}

	day := model.MenuDay{Date: rd.Date, FetchedAt: raw.FetchedAt, Meals: []model.Meal{}}
	for _, cat := range categories {
		// A nameless header still groups its meals; they keep an empty category.
		var catName string
		switch cat.Name.State {
		case FieldPresent:
			catName = cat.Name.Text
		case FieldMissing:
			res.issue(n.logger, Issue{Kind: MalformedSection, Date: rd.Date, Field: "category", Reason: "category without name"})
		default:
			res.issue(n.logger, Issue{Kind: MalformedSection, Date: rd.Date, Field: "category", Reason: cat.Name.Reason})
		}

		for _, rm := range cat.Meals {
			if rm.Name.State != FieldPresent {
				res.issue(n.logger, Issue{Kind: MalformedSection, Date: rd.Date, Field: "name", Reason: "meal without name"})
				continue
			}
			id := fmt.Sprintf("%s-%02d", rd.Date, len(day.Meals)+1)
			day.Meals = append(day.Meals, n.normalizeMeal(id, rd.Date, catName, rm, table, res))
		}
	}

	if len(day.Meals) == 0 {
		res.issue(n.logger, Issue{Kind: MalformedSection, Date: rd.Date, Reason: "day section has no usable meals"})
		return model.MenuDay{}, false
	}
	return day, true
}

func (n *Normalizer) normalizeMeal(id string, date model.Date, category string, rm rawMeal, table *lookup.Table, res *Result) model.Meal {
	meal := model.Meal{
		ID:        id,
		Name:      rm.Name.Text,
		Category:  category,
		RawCodes:  make([]string, 0, len(rm.Codes)),
		Allergens: make([]model.Allergen, 0, len(rm.Codes)),
		Prices:    make(map[model.Status]model.Price, len(model.Statuses)),
	}
	tags := make(map[model.Tag]struct{})

	for i, f := range splitPrices(rm.Prices) {
		status := model.Statuses[i]
		price, field := priceField(f)
		meal.Prices[status] = price
		if field.State == FieldMalformed {
			res.issue(n.logger, Issue{
				Kind: MalformedSection, Date: date, Meal: meal.Name,
				Field: "price." + string(status), Reason: field.Reason,
			})
		}
	}

	for _, rc := range rm.Codes {
		meal.RawCodes = append(meal.RawCodes, rc.Code)
		entry := table.Resolve(rc.Code)
		if !entry.Known {
			desc := rc.Description
			if desc == "" {
				desc = rc.Code
			}
			meal.Allergens = append(meal.Allergens, model.Allergen{Code: model.NormalizeCode(rc.Code), Description: desc})
			res.Issues = append(res.Issues, Issue{Kind: UnresolvedButTolerated, Date: date, Meal: meal.Name, Field: "code", Reason: rc.Code})
			continue
		}
		meal.Allergens = append(meal.Allergens, model.Allergen{Code: entry.Code, Description: entry.Description, Known: true})
		for _, t := range entry.Tags {
			tags[t] = struct{}{}
		}
	}

	seenIcons := make(map[string]bool)
	addIcon := func(id string) {
		if seenIcons[id] {
			return
		}
		seenIcons[id] = true
		icon, iconTags := table.Icon(id)
		meal.Icons = append(meal.Icons, icon)
		for _, t := range iconTags {
			tags[t] = struct{}{}
		}
	}
	for _, src := range rm.IconSources {
		if kind, grade, ok := rating(src); ok {
			if meal.Ratings == nil {
				meal.Ratings = make(map[string]string)
			}
			meal.Ratings[kind] = grade
			continue
		}
		if id, ok := table.IconForSource(src); ok {
			addIcon(id)
		}
	}
	if rm.Cooled {
		addIcon("cooled_meal")
	}

	meal.Sustainability = rm.Sustainability
	texts := append([]string{meal.Name, category}, rm.Sustainability...)
	for _, t := range table.TextTags(texts...) {
		tags[t] = struct{}{}
	}

	table.Expand(tags)
	meal.Tags = model.SortTags(tags)
	return meal
}

// rating recognizes the CO2_bewertung_X / H2O_bewertung_X rating images.
func rating(src string) (kind, grade string, ok bool) {
	var prefix string
	switch {
	case strings.Contains(src, "CO2_bewertung_"):
		kind, prefix = "co2", "CO2_bewertung_"
	case strings.Contains(src, "H2O_bewertung_"):
		kind, prefix = "h2o", "H2O_bewertung_"
	default:
		return "", "", false
	}
	rest := src[strings.LastIndex(src, prefix)+len(prefix):]
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		rest = rest[:dot]
	}
	if rest == "" {
		return "", "", false
	}
	return kind, strings.ToUpper(rest), true
}

func (r *Result) issue(logger *slog.Logger, i Issue) {
	r.Issues = append(r.Issues, i)
	logger.Warn("menu content degraded", "issue", i.String())
}
