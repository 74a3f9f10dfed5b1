package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/krishvatech/pds-netra-sub000/internal/models"

	"go.uber.org/zap"
)

// EventsRepository persists raw detection events (events table).
// Events are append-mostly: only meta.zone_id and meta.after_hours may be
// back-filled.
type EventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEventsRepository creates the events repository.
func NewEventsRepository(db *sql.DB, logger *zap.Logger) *EventsRepository {
	return &EventsRepository{
		db:     db,
		logger: logger,
	}
}

// InsertEvent appends a detection event. event_id is the idempotency key:
// the insert is ON CONFLICT DO NOTHING, and the returned bool reports whether
// a new row was written (false = duplicate, accepted as a no-op).
func (r *EventsRepository) InsertEvent(ctx context.Context, q Querier, event *models.Event) (bool, error) {
	if event == nil {
		return false, fmt.Errorf("event is required")
	}
	if event.EventID == "" {
		return false, fmt.Errorf("event_id is required")
	}
	if event.GodownID == "" {
		return false, fmt.Errorf("godown_id is required")
	}
	if event.CameraID == "" {
		return false, fmt.Errorf("camera_id is required")
	}

	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event meta: %w", err)
	}

	var bboxJSON []byte
	if event.BBox != nil {
		bboxJSON, err = json.Marshal(event.BBox)
		if err != nil {
			return false, fmt.Errorf("failed to marshal bbox: %w", err)
		}
	}

	query := `
		INSERT INTO events (
			event_id,
			godown_id,
			camera_id,
			event_type,
			severity,
			occurred_at,
			bbox,
			track_id,
			image_url,
			clip_url,
			meta,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (event_id) DO NOTHING
	`

	result, err := q.ExecContext(ctx, query,
		event.EventID,
		event.GodownID,
		event.CameraID,
		event.EventType,
		event.Severity,
		event.OccurredAt,
		bboxJSON,
		event.TrackID,
		event.ImageURL,
		event.ClipURL,
		metaJSON,
		event.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// UpdateEventZone back-fills meta.zone_id after geometric inference.
func (r *EventsRepository) UpdateEventZone(ctx context.Context, q Querier, eventID, zoneID string) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if zoneID == "" {
		return fmt.Errorf("zone_id is required")
	}

	query := `
		UPDATE events
		SET meta = jsonb_set(meta, '{zone_id}', to_jsonb($1::text))
		WHERE event_id = $2
	`

	result, err := q.ExecContext(ctx, query, zoneID, eventID)
	if err != nil {
		return fmt.Errorf("failed to update event zone: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("event not found: event_id=%s", eventID)
	}

	return nil
}

// UpdateEventAfterHours records the presence rule's day/night determination
// on the event after evaluation.
func (r *EventsRepository) UpdateEventAfterHours(ctx context.Context, q Querier, eventID string, afterHours bool) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}

	query := `
		UPDATE events
		SET meta = jsonb_set(meta, '{after_hours}', to_jsonb($1::boolean))
		WHERE event_id = $2
	`

	result, err := q.ExecContext(ctx, query, afterHours, eventID)
	if err != nil {
		return fmt.Errorf("failed to update event after-hours flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("event not found: event_id=%s", eventID)
	}

	return nil
}

// GetEvent fetches a single event by id. Returns (nil, nil) when missing.
func (r *EventsRepository) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := `
		SELECT
			event_id,
			godown_id,
			camera_id,
			event_type,
			severity,
			occurred_at,
			bbox,
			track_id,
			image_url,
			clip_url,
			meta,
			created_at
		FROM events
		WHERE event_id = $1
	`

	event, err := scanEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

// FindMovementEvent looks for a qualifying BAG_MOVEMENT event for a dispatch
// issue: same godown (and zone, when the issue has one) observed inside
// [issueTime, deadline]. Returns (nil, nil) when none exists.
func (r *EventsRepository) FindMovementEvent(ctx context.Context, godownID string, zoneID *string, issueTime, deadline time.Time) (*models.Event, error) {
	if godownID == "" {
		return nil, fmt.Errorf("godown_id is required")
	}

	query := `
		SELECT
			event_id,
			godown_id,
			camera_id,
			event_type,
			severity,
			occurred_at,
			bbox,
			track_id,
			image_url,
			clip_url,
			meta,
			created_at
		FROM events
		WHERE godown_id = $1
		  AND event_type = $2
		  AND occurred_at >= $3
		  AND occurred_at <= $4
		  AND ($5::text IS NULL OR meta->>'zone_id' = $5)
		ORDER BY occurred_at ASC
		LIMIT 1
	`

	event, err := scanEvent(r.db.QueryRowContext(ctx, query,
		godownID, models.EventBagMovement, issueTime, deadline, zoneID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find movement event: %w", err)
	}

	return event, nil
}

// rowScanner lets scanEvent work with both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var event models.Event
	var bboxJSON, metaJSON []byte
	var trackID, imageURL, clipURL sql.NullString

	err := row.Scan(
		&event.EventID,
		&event.GodownID,
		&event.CameraID,
		&event.EventType,
		&event.Severity,
		&event.OccurredAt,
		&bboxJSON,
		&trackID,
		&imageURL,
		&clipURL,
		&metaJSON,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if trackID.Valid {
		event.TrackID = &trackID.String
	}
	if imageURL.Valid {
		event.ImageURL = &imageURL.String
	}
	if clipURL.Valid {
		event.ClipURL = &clipURL.String
	}

	if len(bboxJSON) > 0 {
		var bbox models.BBox
		if err := json.Unmarshal(bboxJSON, &bbox); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bbox: %w", err)
		}
		event.BBox = &bbox
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &event.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event meta: %w", err)
		}
	}

	return &event, nil
}
