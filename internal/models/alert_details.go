package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AlertDetails is the typed payload stored in the alert's extra column.
// Each alert type has exactly one variant; the wire shape stays the flat
// JSON object the sensing-node consumers already expect.
type AlertDetails interface {
	DetailsType() string
}

// FireDetails is the extra payload for AlertFire.
type FireDetails struct {
	Classes    []string `json:"fire_classes,omitempty"`
	Confidence float64  `json:"fire_confidence,omitempty"`
}

func (FireDetails) DetailsType() string { return AlertFire }

// AnimalDetails is the extra payload for AlertAnimalIntrusion. Species is part of the correlation
// key: a different species opens a separate concurrent alert.
type AnimalDetails struct {
	Species string `json:"animal_species"`
	Count   int    `json:"animal_count,omitempty"`
	Night   bool   `json:"night"`
}

func (AnimalDetails) DetailsType() string { return AlertAnimalIntrusion }

// AfterHoursDetails is the extra payload for AlertAfterHoursPresence.
type AfterHoursDetails struct {
	EventType   string `json:"event_type"`
	PersonCount int    `json:"count,omitempty"`
	WindowStart string `json:"day_start"`
	WindowEnd   string `json:"day_end"`
}

func (AfterHoursDetails) DetailsType() string { return AlertAfterHoursPresence }

// CameraHealthDetails is the extra payload for AlertCameraHealthIssue.
type CameraHealthDetails struct {
	Issue string `json:"issue"`
}

func (CameraHealthDetails) DetailsType() string { return AlertCameraHealthIssue }

// BlacklistDetails is the extra payload for AlertBlacklistFaceMatch. PersonID is the correlation key.
type BlacklistDetails struct {
	PersonID    string `json:"person_id"`
	MatchStatus string `json:"match_status,omitempty"`
}

func (BlacklistDetails) DetailsType() string { return AlertBlacklistFaceMatch }

// DispatchDelayDetails is the extra payload for AlertDispatchDelay. PlateNorm is the correlation
// key; ThresholdHours distinguishes the independent per-threshold alerts.
type DispatchDelayDetails struct {
	PlateNorm      string    `json:"plate_norm"`
	ThresholdHours int       `json:"threshold_hours"`
	EntryAt        time.Time `json:"entry_at"`
	AgeHours       float64   `json:"age_hours,omitempty"`
}

func (DispatchDelayDetails) DetailsType() string { return AlertDispatchDelay }

// DispatchNotStartedDetails is the extra payload for AlertDispatchNotStarted.
type DispatchNotStartedDetails struct {
	IssueID   string    `json:"issue_id"`
	IssueTime time.Time `json:"issue_time_utc"`
	ZoneID    string    `json:"zone_id,omitempty"`
}

func (DispatchNotStartedDetails) DetailsType() string { return AlertDispatchNotStarted }

// MovementDetails is the extra payload for AlertAfterHoursMovement and AlertUnplannedMovement.
type MovementDetails struct {
	MovementType string `json:"movement_type"`
	RuleID       string `json:"rule_id,omitempty"`
}

func (d MovementDetails) DetailsType() string {
	if d.MovementType == MovementAfterHours {
		return AlertAfterHoursMovement
	}
	return AlertUnplannedMovement
}

// EncodeDetails serializes a details variant for the extra column.
func EncodeDetails(d AlertDetails) (json.RawMessage, error) {
	if d == nil {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert details: %w", err)
	}
	return data, nil
}

// DecodeDetails parses the extra column back into the variant for alertType.
func DecodeDetails(alertType string, raw json.RawMessage) (AlertDetails, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var (
		d   AlertDetails
		err error
	)
	switch alertType {
	case AlertFire:
		var v FireDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case AlertAnimalIntrusion:
		var v AnimalDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case AlertAfterHoursPresence:
		var v AfterHoursDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case AlertCameraHealthIssue:
		var v CameraHealthDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case AlertBlacklistFaceMatch:
		var v BlacklistDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case AlertDispatchDelay:
		var v DispatchDelayDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case AlertDispatchNotStarted:
		var v DispatchNotStartedDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case AlertAfterHoursMovement, AlertUnplannedMovement:
		var v MovementDetails
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("unknown alert type: %s", alertType)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s details: %w", alertType, err)
	}
	return d, nil
}
