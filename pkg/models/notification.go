package models

import (
	"encoding/json"
	"time"
)

type NotificationType string

const (
	EmailNotification NotificationType = "EMAIL"
	SMSNotification   NotificationType = "SMS"
	InAppNotification NotificationType = "IN_APP"
	PushNotification  NotificationType = "PUSH"
)

type NotificationStatus string

const (
	CreatedNotificationStatus   NotificationStatus = "CREATED"
	DeliveredNotificationStatus NotificationStatus = "DELIVERED"
	FailedNotificationStatus    NotificationStatus = "FAILED"
)

// Notification is one delivery attempt. Status transitions are monotonic:
// CREATED -> DELIVERED or CREATED -> FAILED, never back.
type Notification struct {
	ID            int64              `json:"id" db:"id"`
	Recipient     string             `json:"recipient" db:"recipient"` // user id
	Title         string             `json:"title" db:"title"`
	Message       string             `json:"message" db:"message"`
	Type          NotificationType   `json:"type" db:"type"`
	Priority      string             `json:"priority" db:"priority"`
	Status        NotificationStatus `json:"status" db:"status"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
	SentAt        *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt   *time.Time         `json:"delivered_at,omitempty" db:"delivered_at"`
	ReadAt        *time.Time         `json:"read_at,omitempty" db:"read_at"`
	RelatedEntity string             `json:"related_entity,omitempty" db:"related_entity"` // e.g. "workflow:<id>"
	Metadata      json.RawMessage    `json:"metadata,omitempty" db:"metadata"`
}
