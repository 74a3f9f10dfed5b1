package models

import (
	"time"
)

// Detection event types reported by sensing nodes.
const (
	EventFireDetected    = "FIRE_DETECTED"
	EventAnimalIntrusion = "ANIMAL_INTRUSION"
	EventAnimalDetected  = "ANIMAL_DETECTED"
	EventPersonDetected  = "PERSON_DETECTED"
	EventVehicleDetected = "VEHICLE_DETECTED"
	EventANPRHit         = "ANPR_HIT"
	EventCameraTampered  = "CAMERA_TAMPERED"
	EventCameraOffline   = "CAMERA_OFFLINE"
	EventLowLight        = "LOW_LIGHT"
	EventBagMovement     = "BAG_MOVEMENT"
	EventFaceMatch       = "FACE_MATCH"
)

// Movement types carried in Event.Meta for BAG_MOVEMENT events.
const (
	MovementAfterHours = "AFTER_HOURS"
	MovementUnplanned  = "UNPLANNED"
	MovementPlanned    = "PLANNED"
)

// Vehicle gate directions carried in Event.Meta for ANPR_HIT events.
const (
	DirectionEntry   = "ENTRY"
	DirectionExit    = "EXIT"
	DirectionUnknown = "UNKNOWN"
)

// BBox is a detection bounding box in absolute pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// EventMeta carries per-type detection fields (JSONB column).
// ZoneID and AfterHours are the only fields the correlation engine may
// back-fill after the event row is created.
type EventMeta struct {
	ZoneID         *string  `json:"zone_id,omitempty"`
	RuleID         *string  `json:"rule_id,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	MovementType   *string  `json:"movement_type,omitempty"`
	PlateText      *string  `json:"plate_text,omitempty"`
	PlateNorm      *string  `json:"plate_norm,omitempty"`
	Direction      *string  `json:"direction,omitempty"`
	MatchStatus    *string  `json:"match_status,omitempty"`
	PersonID       *string  `json:"person_id,omitempty"`
	AnimalSpecies  *string  `json:"animal_species,omitempty"`
	AnimalCount    *int     `json:"animal_count,omitempty"`
	FireClasses    []string `json:"fire_classes,omitempty"`
	FireConfidence *float64 `json:"fire_confidence,omitempty"`
	AfterHours     *bool    `json:"after_hours,omitempty"`

	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Event is an immutable detection record (events table).
type Event struct {
	EventID    string    `json:"event_id" db:"event_id"`
	GodownID   string    `json:"godown_id" db:"godown_id"`
	CameraID   string    `json:"camera_id" db:"camera_id"`
	EventType  string    `json:"event_type" db:"event_type"`
	Severity   string    `json:"severity" db:"severity"` // raw severity from the node
	OccurredAt time.Time `json:"timestamp_utc" db:"occurred_at"`
	BBox       *BBox     `json:"bbox,omitempty" db:"bbox"`
	TrackID    *string   `json:"track_id,omitempty" db:"track_id"`
	ImageURL   *string   `json:"image_url,omitempty" db:"image_url"`
	ClipURL    *string   `json:"clip_url,omitempty" db:"clip_url"`
	Meta       EventMeta `json:"meta" db:"meta"` // JSONB
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
