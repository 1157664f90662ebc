package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/nhle/mensabot/internal/menu"
	"github.com/nhle/mensabot/internal/model"
)

// FormatAlert renders a matched alert for the user, with the price for
// their status and any allergy or preference flags.
func FormatAlert(req model.DeliveryRequest, u model.User) Message {
	p := menu.Personalize(req.Meal, u)

	when := req.Date.String()
	if t := req.Date.Time(time.UTC); !t.IsZero() {
		when = t.Format("Monday, Jan 02")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your keyword %q was found in the menu.\n", req.Keyword)
	fmt.Fprintf(&b, "Date: %s\n\n", when)
	fmt.Fprintf(&b, "%s (%s)\n", req.Meal.Name, req.Meal.Category)
	fmt.Fprintf(&b, "Price (%s): %s\n", u.Status, p.Price)
	if !p.Safe {
		fmt.Fprintf(&b, "Contains your allergens: %s\n", strings.Join(p.AllergyViolations, ", "))
	}
	if len(p.PrefMatches) > 0 {
		fmt.Fprintf(&b, "Matches: %s\n", joinTags(p.PrefMatches))
	}
	if len(p.PrefViolations) > 0 {
		fmt.Fprintf(&b, "Does not match: %s\n", joinTags(p.PrefViolations))
	}

	return Message{
		UserID:  u.ID,
		Subject: fmt.Sprintf("Meal alert: %s on %s", req.Keyword, req.Date),
		Body:    b.String(),
	}
}

func joinTags(tags []model.Tag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
