package model

import "time"

// MenuSnapshot is the read view behind the menu display commands. Stale is
// set when any contained day is stale, so callers can warn instead of
// showing nothing.
type MenuSnapshot struct {
	Days        []MenuDay `json:"days"`
	Stale       bool      `json:"stale"`
	GeneratedAt time.Time `json:"generated_at"`
}

// LookupEntry is the read view of one allergen/additive code.
type LookupEntry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Tags        []Tag  `json:"tags"`
	Known       bool   `json:"known"`
}

// MenuStats summarizes the current menu store for the admin.
type MenuStats struct {
	DayCount   int         `json:"day_count"`
	MealCount  int         `json:"meal_count"`
	StaleCount int         `json:"stale_count"`
	From       Date        `json:"from,omitempty"`
	To         Date        `json:"to,omitempty"`
	TagCounts  map[Tag]int `json:"tag_counts"`
}
