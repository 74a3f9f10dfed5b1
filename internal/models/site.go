package models

// AfterHoursPolicy is the per-godown day/night window configuration
// (godown_policies table). DayStart/DayEnd are "HH:MM" in the site's local
// timezone; presence outside [DayStart, DayEnd) is after-hours.
type AfterHoursPolicy struct {
	GodownID        string `json:"godown_id" db:"godown_id"`
	Timezone        string `json:"timezone" db:"timezone"`
	DayStart        string `json:"day_start" db:"day_start"`
	DayEnd          string `json:"day_end" db:"day_end"`
	PresenceAllowed bool   `json:"presence_allowed" db:"presence_allowed"`
	CooldownSeconds int    `json:"cooldown_seconds" db:"cooldown_seconds"`
	DaySeverity     string `json:"day_severity" db:"day_severity"`
}

// Point is a polygon vertex in pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CameraZone is a named polygon configured on a camera view
// (camera_zones table). Zone inference tests detections against these.
type CameraZone struct {
	ZoneID   string  `json:"zone_id" db:"zone_id"`
	CameraID string  `json:"camera_id" db:"camera_id"`
	GodownID string  `json:"godown_id" db:"godown_id"`
	Name     string  `json:"name" db:"name"`
	Polygon  []Point `json:"polygon" db:"polygon"` // JSONB
}

// Notification endpoint scopes.
const (
	ScopeHQ   = "HQ"
	ScopeSite = "SITE"
)

// NotifyEndpoint is a configured (channel, target) delivery destination
// (notify_endpoints table). HQ endpoints receive every alert; SITE endpoints
// receive alerts for their godown only.
type NotifyEndpoint struct {
	EndpointID string  `json:"endpoint_id" db:"endpoint_id"`
	Scope      string  `json:"scope" db:"scope"`
	GodownID   *string `json:"godown_id,omitempty" db:"godown_id"`
	Channel    string  `json:"channel" db:"channel"`
	Target     string  `json:"target" db:"target"`
	Enabled    bool    `json:"enabled" db:"enabled"`
}
