package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/config"
	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

// Actions a gate event resolved to, for logging and tests.
const (
	ActionEntry     = "ENTRY"
	ActionExit      = "EXIT"
	ActionRefresh   = "REFRESH"
	ActionDuplicate = "DUPLICATE"
	ActionIgnored   = "IGNORED"
)

// Tracker maintains vehicle dwell sessions from ANPR gate reads. It runs on
// the ingestion transaction so a session transition and its triggering event
// commit together.
type Tracker struct {
	config       *config.Config
	sessionsRepo *repository.GateSessionsRepository
	alertsRepo   *repository.AlertsRepository
	logger       *zap.Logger
}

// NewTracker creates the gate tracker.
func NewTracker(
	cfg *config.Config,
	sessionsRepo *repository.GateSessionsRepository,
	alertsRepo *repository.AlertsRepository,
	logger *zap.Logger,
) *Tracker {
	return &Tracker{
		config:       cfg,
		sessionsRepo: sessionsRepo,
		alertsRepo:   alertsRepo,
		logger:       logger,
	}
}

// HandleGateEvent applies an ANPR read to the plate's session state machine
// and returns the action taken. Events without a normalized plate are
// rejected before any state change.
func (t *Tracker) HandleGateEvent(ctx context.Context, q repository.Querier, event *models.Event) (string, error) {
	if event == nil {
		return "", fmt.Errorf("event is required")
	}
	if event.Meta.PlateNorm == nil || *event.Meta.PlateNorm == "" {
		return "", fmt.Errorf("plate_norm is required: event_id=%s", event.EventID)
	}
	plateNorm := *event.Meta.PlateNorm

	session, err := t.sessionsRepo.GetOpenSession(ctx, q, event.GodownID, plateNorm)
	if err != nil {
		return "", err
	}

	direction := models.DirectionUnknown
	if event.Meta.Direction != nil && *event.Meta.Direction != "" {
		direction = *event.Meta.Direction
	}
	if direction == models.DirectionUnknown {
		direction = t.inferDirection(session, event.OccurredAt)
	}

	var action string
	switch direction {
	case models.DirectionEntry:
		action, err = t.handleEntry(ctx, q, session, event, plateNorm)
	case models.DirectionExit:
		action, err = t.handleExit(ctx, q, session, event, plateNorm)
	default:
		action = ActionIgnored
	}
	if err != nil {
		return "", err
	}

	t.logger.Info("Gate event handled",
		zap.String("event_id", event.EventID),
		zap.String("godown_id", event.GodownID),
		zap.String("plate_norm", plateNorm),
		zap.String("action", action),
	)

	return action, nil
}

// inferDirection decides what an undirected read means: no open session is
// an entry; an open session quiescent for at least the quiet gap is an exit;
// anything else is the same vehicle lingering at the gate.
func (t *Tracker) inferDirection(session *models.VehicleGateSession, at time.Time) string {
	if session == nil {
		return models.DirectionEntry
	}
	quietGap := time.Duration(t.config.Gate.QuietGapMinutes) * time.Minute
	if at.Sub(session.LastSeenAt) >= quietGap {
		return models.DirectionExit
	}
	return models.DirectionUnknown
}

func (t *Tracker) handleEntry(ctx context.Context, q repository.Querier, session *models.VehicleGateSession, event *models.Event, plateNorm string) (string, error) {
	if session != nil {
		// Same read re-delivered is a no-op; a different read while inside
		// refreshes the dwell.
		if session.EntryEventID == event.EventID {
			return ActionDuplicate, nil
		}
		err := t.sessionsRepo.RefreshSession(ctx, q, session.SessionID, event.CameraID, event.OccurredAt, event.ImageURL)
		if err != nil {
			return "", err
		}
		return ActionRefresh, nil
	}

	plateText := plateNorm
	if event.Meta.PlateText != nil && *event.Meta.PlateText != "" {
		plateText = *event.Meta.PlateText
	}

	now := time.Now().UTC()
	newSession := &models.VehicleGateSession{
		SessionID:     uuid.New().String(),
		GodownID:      event.GodownID,
		PlateNorm:     plateNorm,
		PlateText:     plateText,
		Status:        models.SessionStatusOpen,
		EntryAt:       event.OccurredAt,
		LastSeenAt:    event.OccurredAt,
		EntryEventID:  event.EventID,
		EntryCameraID: event.CameraID,
		LastCameraID:  event.CameraID,
		SnapshotURL:   event.ImageURL,
		RemindersSent: map[string]time.Time{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := t.sessionsRepo.CreateSession(ctx, q, newSession); err != nil {
		return "", err
	}
	return ActionEntry, nil
}

func (t *Tracker) handleExit(ctx context.Context, q repository.Querier, session *models.VehicleGateSession, event *models.Event, plateNorm string) (string, error) {
	if session == nil {
		// Exit without an open session: already closed (duplicate exit) or
		// the entry was never observed. Either way nothing to do.
		return ActionIgnored, nil
	}

	if err := t.sessionsRepo.CloseSession(ctx, q, session.SessionID, event.EventID, event.OccurredAt); err != nil {
		return "", err
	}

	closed, err := t.alertsRepo.CloseDispatchDelayAlertsForPlate(ctx, q, event.GodownID, plateNorm, event.OccurredAt)
	if err != nil {
		return "", err
	}
	if closed > 0 {
		t.logger.Info("Closed dispatch delay alerts on exit",
			zap.String("plate_norm", plateNorm),
			zap.Int("count", closed))
	}

	return ActionExit, nil
}
