package models

import (
	"encoding/json"
	"time"
)

// EventSubscription is a standing registration that events of a given type,
// matching a filter, should produce a notification. CRUD-managed; read-only
// during event processing.
type EventSubscription struct {
	ID          int64           `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description,omitempty" db:"description"`
	EventType   EventType       `json:"event_type" db:"event_type"`
	Filter      json.RawMessage `json:"filter,omitempty" db:"filter"`       // field->expected-value JSON object
	Notify      json.RawMessage `json:"notify" db:"notify"`                 // serialized NotificationTemplate
	Active      bool            `json:"active" db:"active"`
	OwnerID     string          `json:"owner_id" db:"owner_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// NotificationTemplate is the deserialized form of EventSubscription.Notify.
type NotificationTemplate struct {
	Recipient string           `json:"recipient"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Channel   NotificationType `json:"channel"`
	Priority  string           `json:"priority,omitempty"`
}

// SubscriptionUpdate carries a partial update; nil fields leave the stored
// value untouched.
type SubscriptionUpdate struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	EventType   *EventType       `json:"event_type,omitempty"`
	Filter      *json.RawMessage `json:"filter,omitempty"`
	Notify      *json.RawMessage `json:"notify,omitempty"`
	Active      *bool            `json:"active,omitempty"`
}
