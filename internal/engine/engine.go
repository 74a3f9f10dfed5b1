package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/config"
	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/policy"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

// Outcome describes what Apply did with an event.
type Outcome struct {
	Alert     *models.Alert
	Created   bool
	Escalated bool
}

// Engine folds raw detection events into deduplicated alerts. Apply must run
// on the same transaction that persisted the event so merge decisions read
// the current row state under lock.
type Engine struct {
	config     *config.Config
	alertsRepo *repository.AlertsRepository
	sitesRepo  *repository.SitesRepository
	policies   *policy.Resolver
	logger     *zap.Logger

	fire       *fireHandler
	animal     *animalHandler
	afterHours *afterHoursHandler
	generic    *genericHandler
}

// New creates the correlation engine.
func New(
	cfg *config.Config,
	alertsRepo *repository.AlertsRepository,
	sitesRepo *repository.SitesRepository,
	policies *policy.Resolver,
	logger *zap.Logger,
) *Engine {
	e := &Engine{
		config:     cfg,
		alertsRepo: alertsRepo,
		sitesRepo:  sitesRepo,
		policies:   policies,
		logger:     logger,
	}

	e.fire = newFireHandler(e)
	e.animal = newAnimalHandler(e)
	e.afterHours = newAfterHoursHandler(e)
	e.generic = newGenericHandler(e)

	return e
}

// InferEventZone back-fills meta.zone_id from the camera's configured
// polygons when the node did not supply one. Returns the zone id applied,
// or nil when inference found nothing.
func (e *Engine) InferEventZone(ctx context.Context, event *models.Event) (*string, error) {
	if event.Meta.ZoneID != nil && *event.Meta.ZoneID != "" {
		return event.Meta.ZoneID, nil
	}
	if event.BBox == nil {
		return nil, nil
	}

	zones, err := e.sitesRepo.ListCameraZones(ctx, event.CameraID)
	if err != nil {
		return nil, fmt.Errorf("failed to load camera zones: %w", err)
	}

	zoneID := InferZone(zones, event.BBox)
	if zoneID != nil {
		event.Meta.ZoneID = zoneID
	}
	return zoneID, nil
}

// Apply routes an event to its handler and links it to the resulting alert.
// A nil outcome means the event type raises no alert. The caller owns the
// transaction.
func (e *Engine) Apply(ctx context.Context, q repository.Querier, event *models.Event) (*Outcome, error) {
	if event == nil {
		return nil, fmt.Errorf("event is required")
	}

	var (
		outcome *Outcome
		err     error
	)

	switch event.EventType {
	case models.EventFireDetected:
		outcome, err = e.fire.evaluate(ctx, q, event)
	case models.EventAnimalIntrusion, models.EventAnimalDetected:
		outcome, err = e.animal.evaluate(ctx, q, event)
	case models.EventPersonDetected, models.EventVehicleDetected, models.EventANPRHit:
		outcome, err = e.afterHours.evaluate(ctx, q, event)
	default:
		outcome, err = e.generic.evaluate(ctx, q, event)
	}
	if err != nil {
		return nil, err
	}
	if outcome == nil || outcome.Alert == nil {
		return nil, nil
	}

	if err := e.alertsRepo.LinkEvent(ctx, q, outcome.Alert.AlertID, event.EventID); err != nil {
		return nil, err
	}

	e.logger.Info("Event correlated",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("alert_id", outcome.Alert.AlertID),
		zap.String("alert_type", outcome.Alert.AlertType),
		zap.Bool("created", outcome.Created),
		zap.Bool("escalated", outcome.Escalated),
	)

	return outcome, nil
}

// newAlert fills the common alert fields for a handler about to create one.
func (e *Engine) newAlert(event *models.Event, alertType, severity, summary string, details models.AlertDetails) (*models.Alert, error) {
	extra, err := models.EncodeDetails(details)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &models.Alert{
		AlertID:         uuid.New().String(),
		PublicID:        uuid.New().String(),
		GodownID:        event.GodownID,
		CameraID:        event.CameraID,
		AlertType:       alertType,
		Severity:        severity,
		Status:          models.AlertStatusOpen,
		ZoneID:          event.Meta.ZoneID,
		Summary:         summary,
		StartTime:       event.OccurredAt,
		Details:         extra,
		FirstDetectedAt: event.OccurredAt,
		LastDetectionAt: event.OccurredAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// merge folds the event into an existing alert. Severity is raised only when
// the incoming rank is strictly higher than the persisted one.
func (e *Engine) merge(ctx context.Context, q repository.Querier, alert *models.Alert, event *models.Event, incomingSeverity string, details models.AlertDetails) (*Outcome, error) {
	severity := alert.Severity
	escalated := false
	if models.SeverityRank(incomingSeverity) > models.SeverityRank(alert.Severity) {
		severity = incomingSeverity
		escalated = true
	}

	extra, err := models.EncodeDetails(details)
	if err != nil {
		return nil, err
	}

	if err := e.alertsRepo.MergeDetection(ctx, q, alert.AlertID, event.OccurredAt, severity, extra); err != nil {
		return nil, err
	}

	alert.Severity = severity
	alert.EndTime = &event.OccurredAt
	alert.LastDetectionAt = event.OccurredAt
	alert.Details = extra

	return &Outcome{Alert: alert, Escalated: escalated}, nil
}

func (e *Engine) correlationWindow() time.Duration {
	return time.Duration(e.config.Rules.CorrelationWindowSec) * time.Second
}
