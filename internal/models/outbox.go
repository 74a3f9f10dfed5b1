package models

import (
	"time"
)

// Outbox row kinds.
const (
	OutboxKindAlert  = "ALERT"
	OutboxKindReport = "REPORT"
)

// Delivery channels.
const (
	ChannelWhatsApp = "WHATSAPP"
	ChannelEmail    = "EMAIL"
	ChannelCall     = "CALL"
)

// Outbox row statuses.
const (
	OutboxStatusPending  = "PENDING"
	OutboxStatusRetrying = "RETRYING"
	OutboxStatusSent     = "SENT"
	OutboxStatusFailed   = "FAILED"
)

// NotificationOutbox is a delivery task (notification_outbox table).
// Uniqueness invariant: at most one row per (alert_id|report_id, channel,
// target). Rows are never deleted; the table doubles as the delivery audit.
type NotificationOutbox struct {
	OutboxID string  `json:"outbox_id" db:"outbox_id"`
	Kind     string  `json:"kind" db:"kind"`
	AlertID  *string `json:"alert_id,omitempty" db:"alert_id"`
	ReportID *string `json:"report_id,omitempty" db:"report_id"`

	Channel  string  `json:"channel" db:"channel"`
	Target   string  `json:"target" db:"target"`
	Subject  *string `json:"subject,omitempty" db:"subject"`
	Message  string  `json:"message" db:"message"`
	MediaURL *string `json:"media_url,omitempty" db:"media_url"`

	Status            string     `json:"status" db:"status"`
	Attempts          int        `json:"attempts" db:"attempts"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty" db:"next_retry_at"`
	LastError         *string    `json:"last_error,omitempty" db:"last_error"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty" db:"provider_message_id"`
	SentAt            *time.Time `json:"sent_at,omitempty" db:"sent_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RefID returns the alert or report id the row belongs to.
func (o *NotificationOutbox) RefID() string {
	if o.Kind == OutboxKindReport && o.ReportID != nil {
		return *o.ReportID
	}
	if o.AlertID != nil {
		return *o.AlertID
	}
	return ""
}
