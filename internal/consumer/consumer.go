package consumer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/config"
	"github.com/krishvatech/pds-netra-sub000/internal/engine"
	"github.com/krishvatech/pds-netra-sub000/internal/gate"
	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/mqtt"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

var supportedEventTypes = map[string]bool{
	models.EventFireDetected:    true,
	models.EventAnimalIntrusion: true,
	models.EventAnimalDetected:  true,
	models.EventPersonDetected:  true,
	models.EventVehicleDetected: true,
	models.EventANPRHit:         true,
	models.EventCameraTampered:  true,
	models.EventCameraOffline:   true,
	models.EventLowLight:        true,
	models.EventBagMovement:     true,
	models.EventFaceMatch:       true,
}

const ingestTimeout = 30 * time.Second

// Consumer ingests detection events from the node topic. Each event runs the
// full pipeline in one transaction: persist, zone back-fill, gate tracking
// for ANPR, correlation, commit, then notification fan-out.
type Consumer struct {
	config     *config.Config
	db         *sql.DB
	eventsRepo *repository.EventsRepository
	engine     *engine.Engine
	tracker    *gate.Tracker
	notifier   gate.AlertNotifier
	logger     *zap.Logger
}

// NewConsumer creates the event ingestion pipeline.
func NewConsumer(
	cfg *config.Config,
	db *sql.DB,
	eventsRepo *repository.EventsRepository,
	eng *engine.Engine,
	tracker *gate.Tracker,
	notifier gate.AlertNotifier,
	logger *zap.Logger,
) *Consumer {
	return &Consumer{
		config:     cfg,
		db:         db,
		eventsRepo: eventsRepo,
		engine:     eng,
		tracker:    tracker,
		notifier:   notifier,
		logger:     logger,
	}
}

// Start subscribes the consumer on the configured event topic.
func (c *Consumer) Start(client *mqtt.Client) error {
	return client.Subscribe(c.config.MQTT.Topic, c.config.MQTT.QoS, c.HandleMessage)
}

// HandleMessage is the broker callback: parse, validate, ingest. A bad
// payload is rejected before anything is persisted.
func (c *Consumer) HandleMessage(topic string, payload []byte) error {
	event, err := ParseEvent(payload)
	if err != nil {
		c.logger.Warn("Rejected event payload",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	return c.Ingest(ctx, event)
}

// ParseEvent validates a raw node payload into an Event.
func ParseEvent(payload []byte) (*models.Event, error) {
	var event models.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}

	if event.EventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}
	if event.GodownID == "" {
		return nil, fmt.Errorf("godown_id is required")
	}
	if event.CameraID == "" {
		return nil, fmt.Errorf("camera_id is required")
	}
	if event.EventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}
	if !supportedEventTypes[event.EventType] {
		return nil, fmt.Errorf("unsupported event_type: %s", event.EventType)
	}
	if event.OccurredAt.IsZero() {
		return nil, fmt.Errorf("timestamp_utc is required")
	}

	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	return &event, nil
}

// Ingest runs the pipeline for one validated event. The transaction covers
// the event row, zone back-fill, and all correlation writes; fan-out happens
// only after commit.
func (c *Consumer) Ingest(ctx context.Context, event *models.Event) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted, err := c.eventsRepo.InsertEvent(ctx, tx, event)
	if err != nil {
		return err
	}
	if !inserted {
		c.logger.Debug("Duplicate event ignored",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
		)
		return nil
	}

	if zoneID, err := c.engine.InferEventZone(ctx, event); err != nil {
		c.logger.Warn("Zone inference failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	} else if zoneID != nil {
		if err := c.eventsRepo.UpdateEventZone(ctx, tx, event.EventID, *zoneID); err != nil {
			return err
		}
	}

	// ANPR hits feed the gate tracker AND the after-hours presence rule:
	// a vehicle at the gate past closing is still disallowed presence.
	if event.EventType == models.EventANPRHit {
		if _, err := c.tracker.HandleGateEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	outcome, err := c.engine.Apply(ctx, tx, event)
	if err != nil {
		return err
	}

	if event.Meta.AfterHours != nil {
		if err := c.eventsRepo.UpdateEventAfterHours(ctx, tx, event.EventID, *event.Meta.AfterHours); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if outcome != nil && (outcome.Created || outcome.Escalated) {
		if err := c.notifier.NotifyAlert(ctx, outcome.Alert); err != nil {
			c.logger.Error("Alert fan-out failed",
				zap.String("alert_id", outcome.Alert.AlertID),
				zap.Error(err),
			)
		}
	}

	return nil
}
