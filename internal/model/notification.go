package model

import (
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of a notification.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// DeliveryMethod selects the channel a notification is sent through.
type DeliveryMethod string

const (
	DeliveryWhatsApp DeliveryMethod = "whatsapp"
	DeliverySMS      DeliveryMethod = "sms"
	DeliveryEmail    DeliveryMethod = "email"
)

// DeliveryMethods lists every method accepted at creation time.
var DeliveryMethods = []DeliveryMethod{DeliveryWhatsApp, DeliverySMS, DeliveryEmail}

// Valid reports whether m is one of DeliveryMethods.
func (m DeliveryMethod) Valid() bool {
	for _, known := range DeliveryMethods {
		if m == known {
			return true
		}
	}
	return false
}

// Type is an informational category, it does not change dispatch.
type Type string

const (
	TypeHealthTip           Type = "health_tip"
	TypeVaccinationReminder Type = "vaccination_reminder"
	TypeEmergencyAlert      Type = "emergency_alert"
	TypeAppointmentReminder Type = "appointment_reminder"
)

// Recipient is the user data joined onto a notification at read time.
type Recipient struct {
	Name               string `json:"name"`
	MobileNumber       string `json:"mobile_number"`
	LanguagePreference string `json:"language_preference"`
}

// Notification represents a queued message for a single user.
type Notification struct {
	ID                 uuid.UUID      `json:"id"`                             // unique identifier
	UserID             uuid.UUID      `json:"user_id"`                        // target recipient
	AdminID            *uuid.UUID     `json:"admin_id,omitempty"`             // admin who queued it, if known
	Type               Type           `json:"type"`                           // informational category
	Title              string         `json:"title"`                          // headline shown above the body
	Message            string         `json:"message"`                        // body text
	DeliveryMethod     DeliveryMethod `json:"delivery_method"`                // channel selector
	Status             Status         `json:"status"`                         // pending, sent or failed
	ScheduledAt        time.Time      `json:"scheduled_at"`                   // not eligible before this instant
	CreatedAt          time.Time      `json:"created_at"`                     // creation timestamp
	UpdatedAt          time.Time      `json:"updated_at"`                     // refreshed on every status change
	SentAt             *time.Time     `json:"sent_at,omitempty"`              // set on successful delivery
	ErrorMessage       *string        `json:"error_message,omitempty"`        // diagnostic for failed deliveries
	PhoneNumber        *string        `json:"phone_number,omitempty"`         // canonical address used for delivery
	DeliveryMethodUsed *string        `json:"delivery_method_used,omitempty"` // channel that performed the delivery
	Recipient          *Recipient     `json:"users,omitempty"`                // joined user data, read-only
}

// StatusUpdate describes a single status transition write.
//
// Empty optional fields are left untouched in storage.
type StatusUpdate struct {
	Status             Status
	ErrorMessage       string
	SentAt             *time.Time
	DeliveryMethodUsed DeliveryMethod
	PhoneNumber        string
}

// Stats holds notification counters for a reporting period.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	WhatsApp int `json:"whatsapp"`
	SMS      int `json:"sms"`
	Email    int `json:"email"`
}

// Add counts n notifications with the given status and delivery method.
func (s *Stats) Add(status Status, method DeliveryMethod, n int) {
	s.Total += n

	switch status {
	case StatusPending:
		s.Pending += n
	case StatusSent:
		s.Sent += n
	case StatusFailed:
		s.Failed += n
	}

	switch method {
	case DeliveryWhatsApp:
		s.WhatsApp += n
	case DeliverySMS:
		s.SMS += n
	case DeliveryEmail:
		s.Email += n
	}
}
