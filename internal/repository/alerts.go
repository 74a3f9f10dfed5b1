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

const alertColumns = `
	alert_id,
	public_id,
	godown_id,
	camera_id,
	alert_type,
	severity,
	status,
	zone_id,
	summary,
	start_time,
	end_time,
	extra,
	ack_token_hash,
	ack_expires_at,
	ack_used_at,
	first_detected_at,
	last_detection_at,
	closed_at,
	created_at,
	updated_at`

// AlertsRepository owns aggregated incidents (alerts table) and the
// append-only alert_events link table.
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository creates the alerts repository.
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the pool for callers that open their own transactions.
func (r *AlertsRepository) DB() *sql.DB {
	return r.db
}

// CreateAlert inserts a new alert row.
func (r *AlertsRepository) CreateAlert(ctx context.Context, q Querier, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.AlertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if alert.GodownID == "" {
		return fmt.Errorf("godown_id is required")
	}
	if alert.AlertType == "" {
		return fmt.Errorf("alert_type is required")
	}

	extra := alert.Details
	if len(extra) == 0 {
		extra = json.RawMessage("{}")
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
	`

	_, err := q.ExecContext(ctx, query,
		alert.AlertID,
		alert.PublicID,
		alert.GodownID,
		alert.CameraID,
		alert.AlertType,
		alert.Severity,
		alert.Status,
		alert.ZoneID,
		alert.Summary,
		alert.StartTime,
		alert.EndTime,
		[]byte(extra),
		alert.AckTokenHash,
		alert.AckExpiresAt,
		alert.AckUsedAt,
		alert.FirstDetectedAt,
		alert.LastDetectionAt,
		alert.ClosedAt,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	return nil
}

// FindOpenAlert locates the OPEN alert for (godown, type[, zone]) whose
// start_time falls inside the correlation window, locking the row so a
// concurrent merge cannot lose the severity escalation. Returns (nil, nil)
// when no match exists.
func (r *AlertsRepository) FindOpenAlert(ctx context.Context, q Querier, godownID, alertType string, zoneID *string, since time.Time) (*models.Alert, error) {
	if godownID == "" {
		return nil, fmt.Errorf("godown_id is required")
	}
	if alertType == "" {
		return nil, fmt.Errorf("alert_type is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE godown_id = $1
		  AND alert_type = $2
		  AND status = $3
		  AND start_time >= $4
		  AND ($5::text IS NULL OR zone_id = $5)
		ORDER BY start_time DESC
		LIMIT 1
		FOR UPDATE
	`

	alert, err := scanAlert(q.QueryRowContext(ctx, query,
		godownID, alertType, models.AlertStatusOpen, since, zoneID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find open alert: %w", err)
	}

	return alert, nil
}

// FindOpenAlertByDetail locates an OPEN alert keyed by a field inside the
// extra payload (animal_species, person_id, plate_norm, threshold_hours).
// A nil since means no window: any OPEN alert matches. The row is locked.
func (r *AlertsRepository) FindOpenAlertByDetail(ctx context.Context, q Querier, godownID, alertType, detailKey, detailValue string, since *time.Time) (*models.Alert, error) {
	if godownID == "" {
		return nil, fmt.Errorf("godown_id is required")
	}
	if alertType == "" {
		return nil, fmt.Errorf("alert_type is required")
	}
	if detailKey == "" {
		return nil, fmt.Errorf("detail key is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE godown_id = $1
		  AND alert_type = $2
		  AND status = $3
		  AND extra->>$4 = $5
		  AND ($6::timestamptz IS NULL OR start_time >= $6)
		ORDER BY start_time DESC
		LIMIT 1
		FOR UPDATE
	`

	alert, err := scanAlert(q.QueryRowContext(ctx, query,
		godownID, alertType, models.AlertStatusOpen, detailKey, detailValue, since))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find open alert by detail: %w", err)
	}

	return alert, nil
}

// FindLiveAlert locates the newest OPEN or ACK alert of (godown, type[, zone])
// with no time window. After-hours presence folds into a live alert for as
// long as it stays unclosed. The row is locked.
func (r *AlertsRepository) FindLiveAlert(ctx context.Context, q Querier, godownID, alertType string, zoneID *string) (*models.Alert, error) {
	if godownID == "" {
		return nil, fmt.Errorf("godown_id is required")
	}
	if alertType == "" {
		return nil, fmt.Errorf("alert_type is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE godown_id = $1
		  AND alert_type = $2
		  AND status IN ($3, $4)
		  AND ($5::text IS NULL OR zone_id = $5)
		ORDER BY start_time DESC
		LIMIT 1
		FOR UPDATE
	`

	alert, err := scanAlert(q.QueryRowContext(ctx, query,
		godownID, alertType, models.AlertStatusOpen, models.AlertStatusAck, zoneID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find live alert: %w", err)
	}

	return alert, nil
}

// FindOpenOrAckAlertForCamera locates the newest OPEN or ACK alert of a type
// on a camera regardless of elapsed time. Fire merges into any live alert on
// the same camera until it is closed.
func (r *AlertsRepository) FindOpenOrAckAlertForCamera(ctx context.Context, q Querier, cameraID, alertType string) (*models.Alert, error) {
	if cameraID == "" {
		return nil, fmt.Errorf("camera_id is required")
	}
	if alertType == "" {
		return nil, fmt.Errorf("alert_type is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE camera_id = $1
		  AND alert_type = $2
		  AND status IN ($3, $4)
		ORDER BY start_time DESC
		LIMIT 1
		FOR UPDATE
	`

	alert, err := scanAlert(q.QueryRowContext(ctx, query,
		cameraID, alertType, models.AlertStatusOpen, models.AlertStatusAck))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find camera alert: %w", err)
	}

	return alert, nil
}

// AlertCreatedSince reports whether any alert of (godown, type) was created
// inside the cooldown window, regardless of its current status. Used to
// suppress re-creation right after an alert was closed or acknowledged.
func (r *AlertsRepository) AlertCreatedSince(ctx context.Context, q Querier, godownID, alertType string, since time.Time) (bool, error) {
	if godownID == "" {
		return false, fmt.Errorf("godown_id is required")
	}
	if alertType == "" {
		return false, fmt.Errorf("alert_type is required")
	}

	query := `
		SELECT COUNT(1)
		FROM alerts
		WHERE godown_id = $1
		  AND alert_type = $2
		  AND created_at >= $3
	`

	var count int
	if err := q.QueryRowContext(ctx, query, godownID, alertType, since).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check alert cooldown: %w", err)
	}

	return count > 0, nil
}

// MergeDetection folds a new detection into an existing alert: extends
// end_time/last_detection_at and applies the caller-computed severity and
// extra payload. The caller must hold the row lock from a Find method and
// raise severity only when the new rank is strictly higher.
func (r *AlertsRepository) MergeDetection(ctx context.Context, q Querier, alertID string, detectedAt time.Time, severity string, extra json.RawMessage) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if severity == "" {
		return fmt.Errorf("severity is required")
	}

	query := `
		UPDATE alerts
		SET end_time = $1,
		    last_detection_at = $1,
		    severity = $2,
		    extra = COALESCE($3, extra),
		    updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $4
	`

	var extraArg []byte
	if len(extra) > 0 {
		extraArg = []byte(extra)
	}

	result, err := q.ExecContext(ctx, query, detectedAt, severity, extraArg, alertID)
	if err != nil {
		return fmt.Errorf("failed to merge detection: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found: alert_id=%s", alertID)
	}

	return nil
}

// LinkEvent appends an event→alert link.
func (r *AlertsRepository) LinkEvent(ctx context.Context, q Querier, alertID, eventID string) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}

	query := `
		INSERT INTO alert_events (alert_id, event_id, linked_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT DO NOTHING
	`

	if _, err := q.ExecContext(ctx, query, alertID, eventID); err != nil {
		return fmt.Errorf("failed to link event to alert: %w", err)
	}

	return nil
}

// CloseAlert closes an alert explicitly.
func (r *AlertsRepository) CloseAlert(ctx context.Context, q Querier, alertID string, closedAt time.Time) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	query := `
		UPDATE alerts
		SET status = $1,
		    closed_at = $2,
		    end_time = COALESCE(end_time, $2),
		    updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $3
		  AND status <> $1
	`

	result, err := q.ExecContext(ctx, query, models.AlertStatusClosed, closedAt, alertID)
	if err != nil {
		return fmt.Errorf("failed to close alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found or already closed: alert_id=%s", alertID)
	}

	return nil
}

// CloseDispatchDelayAlertsForPlate closes every OPEN dispatch-delay alert
// referencing the plate. Called by the gate tracker when the vehicle exits.
func (r *AlertsRepository) CloseDispatchDelayAlertsForPlate(ctx context.Context, q Querier, godownID, plateNorm string, closedAt time.Time) (int, error) {
	if godownID == "" {
		return 0, fmt.Errorf("godown_id is required")
	}
	if plateNorm == "" {
		return 0, fmt.Errorf("plate_norm is required")
	}

	query := `
		UPDATE alerts
		SET status = $1,
		    closed_at = $2,
		    end_time = COALESCE(end_time, $2),
		    updated_at = CURRENT_TIMESTAMP
		WHERE godown_id = $3
		  AND alert_type = $4
		  AND status = $5
		  AND extra->>'plate_norm' = $6
	`

	result, err := q.ExecContext(ctx, query,
		models.AlertStatusClosed, closedAt, godownID,
		models.AlertDispatchDelay, models.AlertStatusOpen, plateNorm)
	if err != nil {
		return 0, fmt.Errorf("failed to close dispatch delay alerts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// GetAlertByPublicID fetches an alert by its external id. Returns (nil, nil)
// when missing.
func (r *AlertsRepository) GetAlertByPublicID(ctx context.Context, publicID string) (*models.Alert, error) {
	if publicID == "" {
		return nil, fmt.Errorf("public_id is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE public_id = $1
	`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, publicID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

// SetAckToken stores a fresh acknowledgment token hash and expiry.
func (r *AlertsRepository) SetAckToken(ctx context.Context, q Querier, alertID, tokenHash string, expiresAt time.Time) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if tokenHash == "" {
		return fmt.Errorf("token hash is required")
	}

	query := `
		UPDATE alerts
		SET ack_token_hash = $1,
		    ack_expires_at = $2,
		    ack_used_at = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $3
	`

	result, err := q.ExecContext(ctx, query, tokenHash, expiresAt, alertID)
	if err != nil {
		return fmt.Errorf("failed to set ack token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found: alert_id=%s", alertID)
	}

	return nil
}

// Acknowledge marks an alert ACK and burns the token.
func (r *AlertsRepository) Acknowledge(ctx context.Context, alertID string, usedAt time.Time) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	query := `
		UPDATE alerts
		SET status = $1,
		    ack_used_at = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $3
		  AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		models.AlertStatusAck, usedAt, alertID, models.AlertStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not open: alert_id=%s", alertID)
	}

	return nil
}

// ListAlertsForRange returns a godown's alerts with start_time inside
// [from, to), oldest first. Used by the daily summary report.
func (r *AlertsRepository) ListAlertsForRange(ctx context.Context, godownID string, from, to time.Time) ([]*models.Alert, error) {
	if godownID == "" {
		return nil, fmt.Errorf("godown_id is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE godown_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time ASC
	`

	rows, err := r.db.QueryContext(ctx, query, godownID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var zoneID, ackTokenHash sql.NullString
	var endTime, ackExpiresAt, ackUsedAt, closedAt sql.NullTime
	var extra []byte

	err := row.Scan(
		&alert.AlertID,
		&alert.PublicID,
		&alert.GodownID,
		&alert.CameraID,
		&alert.AlertType,
		&alert.Severity,
		&alert.Status,
		&zoneID,
		&alert.Summary,
		&alert.StartTime,
		&endTime,
		&extra,
		&ackTokenHash,
		&ackExpiresAt,
		&ackUsedAt,
		&alert.FirstDetectedAt,
		&alert.LastDetectionAt,
		&closedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if zoneID.Valid {
		alert.ZoneID = &zoneID.String
	}
	if ackTokenHash.Valid {
		alert.AckTokenHash = &ackTokenHash.String
	}
	if endTime.Valid {
		alert.EndTime = &endTime.Time
	}
	if ackExpiresAt.Valid {
		alert.AckExpiresAt = &ackExpiresAt.Time
	}
	if ackUsedAt.Valid {
		alert.AckUsedAt = &ackUsedAt.Time
	}
	if closedAt.Valid {
		alert.ClosedAt = &closedAt.Time
	}

	if len(extra) > 0 {
		alert.Details = extra
	} else {
		alert.Details = json.RawMessage("{}")
	}

	return &alert, nil
}
