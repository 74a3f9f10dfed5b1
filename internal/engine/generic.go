package engine

import (
	"context"
	"fmt"

	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

// genericHandler covers the lookup-table event types: camera health,
// blacklist face matches and non-planned bag movements. Event types with no
// mapping raise nothing.
type genericHandler struct {
	engine *Engine
}

func newGenericHandler(e *Engine) *genericHandler {
	return &genericHandler{engine: e}
}

func (h *genericHandler) evaluate(ctx context.Context, q repository.Querier, event *models.Event) (*Outcome, error) {
	switch event.EventType {
	case models.EventCameraTampered, models.EventCameraOffline, models.EventLowLight:
		return h.cameraHealth(ctx, q, event)
	case models.EventFaceMatch:
		return h.blacklistMatch(ctx, q, event)
	case models.EventBagMovement:
		return h.movement(ctx, q, event)
	}
	return nil, nil
}

// cameraHealth folds tamper/offline/low-light reports into one alert per
// camera until it is closed, like fire. The latest issue wins the extra
// payload.
func (h *genericHandler) cameraHealth(ctx context.Context, q repository.Querier, event *models.Event) (*Outcome, error) {
	e := h.engine

	severity := models.SeverityWarning
	if event.EventType == models.EventLowLight {
		severity = models.SeverityInfo
	}
	details := models.CameraHealthDetails{Issue: event.EventType}

	existing, err := e.alertsRepo.FindOpenOrAckAlertForCamera(ctx, q, event.CameraID, models.AlertCameraHealthIssue)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.merge(ctx, q, existing, event, severity, details)
	}

	summary := fmt.Sprintf("Camera health issue (%s) on %s", event.EventType, event.CameraID)
	alert, err := e.newAlert(event, models.AlertCameraHealthIssue, severity, summary, details)
	if err != nil {
		return nil, err
	}
	if err := e.alertsRepo.CreateAlert(ctx, q, alert); err != nil {
		return nil, err
	}

	return &Outcome{Alert: alert, Created: true}, nil
}

// blacklistMatch raises a critical alert per matched person. Non-blacklist
// match statuses are informational and raise nothing.
func (h *genericHandler) blacklistMatch(ctx context.Context, q repository.Querier, event *models.Event) (*Outcome, error) {
	e := h.engine

	if event.Meta.MatchStatus == nil || *event.Meta.MatchStatus != "BLACKLIST" {
		return nil, nil
	}
	if event.Meta.PersonID == nil || *event.Meta.PersonID == "" {
		return nil, fmt.Errorf("blacklist match without person_id: event_id=%s", event.EventID)
	}
	personID := *event.Meta.PersonID

	details := models.BlacklistDetails{
		PersonID:    personID,
		MatchStatus: *event.Meta.MatchStatus,
	}

	since := event.OccurredAt.Add(-e.correlationWindow())
	existing, err := e.alertsRepo.FindOpenAlertByDetail(ctx, q,
		event.GodownID, models.AlertBlacklistFaceMatch, "person_id", personID, &since)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.merge(ctx, q, existing, event, models.SeverityCritical, details)
	}

	summary := fmt.Sprintf("Blacklisted person %s sighted at %s", personID, event.GodownID)
	alert, err := e.newAlert(event, models.AlertBlacklistFaceMatch, models.SeverityCritical, summary, details)
	if err != nil {
		return nil, err
	}
	if err := e.alertsRepo.CreateAlert(ctx, q, alert); err != nil {
		return nil, err
	}

	return &Outcome{Alert: alert, Created: true}, nil
}

// movement maps bag movement by its movement_type: after-hours and unplanned
// operations alert, planned ones do not.
func (h *genericHandler) movement(ctx context.Context, q repository.Querier, event *models.Event) (*Outcome, error) {
	e := h.engine

	if event.Meta.MovementType == nil {
		return nil, nil
	}
	movementType := *event.Meta.MovementType

	var alertType string
	switch movementType {
	case models.MovementAfterHours:
		alertType = models.AlertAfterHoursMovement
	case models.MovementUnplanned:
		alertType = models.AlertUnplannedMovement
	default:
		return nil, nil
	}

	severity := models.SeverityWarning
	if models.SeverityRank(event.Severity) > models.SeverityRank(severity) {
		severity = event.Severity
	}

	details := models.MovementDetails{MovementType: movementType}
	if event.Meta.RuleID != nil {
		details.RuleID = *event.Meta.RuleID
	}

	since := event.OccurredAt.Add(-e.correlationWindow())
	existing, err := e.alertsRepo.FindOpenAlert(ctx, q, event.GodownID, alertType, event.Meta.ZoneID, since)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.merge(ctx, q, existing, event, severity, details)
	}

	summary := fmt.Sprintf("%s bag movement at %s", movementType, event.GodownID)
	alert, err := e.newAlert(event, alertType, severity, summary, details)
	if err != nil {
		return nil, err
	}
	if err := e.alertsRepo.CreateAlert(ctx, q, alert); err != nil {
		return nil, err
	}

	return &Outcome{Alert: alert, Created: true}, nil
}
