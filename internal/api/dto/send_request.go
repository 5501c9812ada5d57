package dto

import "time"

// SendRequest is the body of an admin enqueue request.
type SendRequest struct {
	UserIDs        []string   `json:"user_ids" validate:"required,min=1,dive,uuid"`
	Type           string     `json:"type" validate:"required"`
	Title          string     `json:"title" validate:"required"`
	Message        string     `json:"message" validate:"required"`
	DeliveryMethod string     `json:"delivery_method"`
	ScheduledAt    *time.Time `json:"scheduled_at"`
}

// InvalidUser identifies a user rejected by enqueue validation.
type InvalidUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
