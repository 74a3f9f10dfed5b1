package models

import (
	"time"
)

// Gate session statuses.
const (
	SessionStatusOpen   = "OPEN"
	SessionStatusClosed = "CLOSED"
)

// VehicleGateSession is the per-(godown, plate) dwell tracker
// (vehicle_gate_sessions table). At most one OPEN session exists per key.
type VehicleGateSession struct {
	SessionID string `json:"session_id" db:"session_id"`
	GodownID  string `json:"godown_id" db:"godown_id"`
	PlateNorm string `json:"plate_norm" db:"plate_norm"`
	PlateText string `json:"plate_text" db:"plate_text"`
	Status    string `json:"status" db:"status"`

	EntryAt    time.Time  `json:"entry_at" db:"entry_at"`
	ExitAt     *time.Time `json:"exit_at,omitempty" db:"exit_at"`
	LastSeenAt time.Time  `json:"last_seen_at" db:"last_seen_at"`

	// Idempotency keys: re-ingesting the same gate event is a no-op.
	EntryEventID string  `json:"entry_event_id" db:"entry_event_id"`
	ExitEventID  *string `json:"exit_event_id,omitempty" db:"exit_event_id"`

	EntryCameraID string  `json:"entry_camera_id" db:"entry_camera_id"`
	LastCameraID  string  `json:"last_camera_id" db:"last_camera_id"`
	SnapshotURL   *string `json:"snapshot_url,omitempty" db:"snapshot_url"`

	// RemindersSent maps a fired threshold (hours, as a string key) to the
	// time it was notified. The watchdog's idempotency rests entirely on
	// this map.
	RemindersSent map[string]time.Time `json:"reminders_sent" db:"reminders_sent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AgeHours returns the dwell age at the given instant.
func (s *VehicleGateSession) AgeHours(now time.Time) float64 {
	return now.Sub(s.EntryAt).Hours()
}

// Dispatch issue statuses.
const (
	IssueStatusOpen    = "OPEN"
	IssueStatusStarted = "STARTED"
	IssueStatusAlerted = "ALERTED"
)

// DispatchIssue is an SLA ticket: bag movement must be observed in the zone
// within 24h of IssueTime or an alert is raised (dispatch_issues table).
type DispatchIssue struct {
	IssueID   string    `json:"issue_id" db:"issue_id"`
	GodownID  string    `json:"godown_id" db:"godown_id"`
	ZoneID    *string   `json:"zone_id,omitempty" db:"zone_id"`
	PlateNorm *string   `json:"plate_norm,omitempty" db:"plate_norm"`
	IssueTime time.Time `json:"issue_time_utc" db:"issue_time"`
	Status    string    `json:"status" db:"status"`

	StartedEventID *string    `json:"started_event_id,omitempty" db:"started_event_id"`
	AlertedAt      *time.Time `json:"alerted_at,omitempty" db:"alerted_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
