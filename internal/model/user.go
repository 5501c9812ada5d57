package model

import "github.com/google/uuid"

// DefaultLanguage is used when a user has no language preference.
const DefaultLanguage = "en"

// User is the subset of the users table read by the notifier.
type User struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	MobileNumber       string    `json:"mobile_number"`
	LanguagePreference string    `json:"language_preference"`
}
