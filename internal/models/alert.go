package models

import (
	"encoding/json"
	"time"
)

// Alert types produced by the correlation engine.
const (
	AlertFire               = "FIRE"
	AlertAnimalIntrusion    = "ANIMAL_INTRUSION"
	AlertAfterHoursPresence = "AFTER_HOURS_PRESENCE"
	AlertCameraHealthIssue  = "CAMERA_HEALTH_ISSUE"
	AlertBlacklistFaceMatch = "BLACKLIST_FACE_MATCH"
	AlertDispatchDelay      = "DISPATCH_MOVEMENT_DELAY"
	AlertDispatchNotStarted = "DISPATCH_NOT_STARTED_24H"
	AlertAfterHoursMovement = "AFTER_HOURS_OPERATION"
	AlertUnplannedMovement  = "UNPLANNED_OPERATION"
)

// Alert statuses.
const (
	AlertStatusOpen   = "OPEN"
	AlertStatusAck    = "ACK"
	AlertStatusClosed = "CLOSED"
)

// Severity levels, ordered info < warning < critical.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SeverityRank maps a severity to its escalation rank. Unknown severities
// rank lowest so a malformed node payload can never escalate an alert.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// Alert is an aggregated incident (alerts table).
type Alert struct {
	AlertID   string  `json:"alert_id" db:"alert_id"`
	PublicID  string  `json:"public_id" db:"public_id"`
	GodownID  string  `json:"godown_id" db:"godown_id"`
	CameraID  string  `json:"camera_id" db:"camera_id"`
	AlertType string  `json:"alert_type" db:"alert_type"`
	Severity  string  `json:"severity" db:"severity"`
	Status    string  `json:"status" db:"status"`
	ZoneID    *string `json:"zone_id,omitempty" db:"zone_id"`
	Summary   string  `json:"summary" db:"summary"`

	StartTime time.Time  `json:"start_time" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`

	// Details holds the typed-per-alert-type payload, serialized as a flat
	// JSON object (extra column).
	Details json.RawMessage `json:"extra" db:"extra"`

	AckTokenHash *string    `json:"-" db:"ack_token_hash"`
	AckExpiresAt *time.Time `json:"ack_expires_at,omitempty" db:"ack_expires_at"`
	AckUsedAt    *time.Time `json:"ack_used_at,omitempty" db:"ack_used_at"`

	FirstDetectedAt time.Time  `json:"first_detected_at" db:"first_detected_at"`
	LastDetectionAt time.Time  `json:"last_detection_at" db:"last_detection_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty" db:"closed_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AlertEventLink joins a detection event to the alert it was folded into
// (alert_events table, append-only).
type AlertEventLink struct {
	AlertID  string    `json:"alert_id" db:"alert_id"`
	EventID  string    `json:"event_id" db:"event_id"`
	LinkedAt time.Time `json:"linked_at" db:"linked_at"`
}
