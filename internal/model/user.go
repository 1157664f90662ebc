package model

import (
	"strings"
	"time"
)

// User is a registered chat user.
type User struct {
	// ID is the chat (Telegram) user id.
	ID int64 `json:"id"`

	Name   string `json:"name"`
	Status Status `json:"status"`

	// DietaryPreferences are the tags the user wants meals to carry.
	DietaryPreferences []Tag `json:"dietary_preferences"`

	// AllergyCodes are lower-case allergen/additive codes to avoid.
	AllergyCodes []string `json:"allergy_codes"`

	// Muted suppresses every alert of this user.
	Muted bool `json:"muted"`

	// Alerts is populated by directory reads.
	Alerts []Alert `json:"alerts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Alert is a user-owned keyword rule evaluated against upcoming menus.
type Alert struct {
	ID        string    `json:"id" db:"id"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	Keyword   string    `json:"keyword" db:"keyword"`
	Muted     bool      `json:"muted" db:"muted"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NormalizeCode canonicalizes an allergen/additive code for lookups.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
