package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/krishvatech/pds-netra-sub000/internal/models"

	"go.uber.org/zap"
)

const outboxColumns = `
	outbox_id,
	kind,
	alert_id,
	report_id,
	channel,
	target,
	subject,
	message,
	media_url,
	status,
	attempts,
	next_retry_at,
	last_error,
	provider_message_id,
	sent_at,
	created_at,
	updated_at`

// OutboxRepository owns delivery tasks (notification_outbox table). Rows are
// inserted by enqueue logic and mutated only by the delivery worker and by
// inbound provider callbacks; they are never deleted.
type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOutboxRepository creates the outbox repository.
func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue inserts a PENDING delivery task. The unique index on
// (kind, alert_id/report_id, channel, target) makes enqueue idempotent; the
// returned bool reports whether a new row was written.
func (r *OutboxRepository) Enqueue(ctx context.Context, q Querier, row *models.NotificationOutbox) (bool, error) {
	if row == nil {
		return false, fmt.Errorf("outbox row is required")
	}
	if row.OutboxID == "" {
		return false, fmt.Errorf("outbox_id is required")
	}
	if row.Channel == "" {
		return false, fmt.Errorf("channel is required")
	}
	if row.Target == "" {
		return false, fmt.Errorf("target is required")
	}
	if row.RefID() == "" {
		return false, fmt.Errorf("alert_id or report_id is required")
	}

	query := `
		INSERT INTO notification_outbox (` + outboxColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT DO NOTHING
	`

	result, err := q.ExecContext(ctx, query,
		row.OutboxID,
		row.Kind,
		row.AlertID,
		row.ReportID,
		row.Channel,
		row.Target,
		row.Subject,
		row.Message,
		row.MediaURL,
		row.Status,
		row.Attempts,
		row.NextRetryAt,
		row.LastError,
		row.ProviderMessageID,
		row.SentAt,
		row.CreatedAt,
		row.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue notification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ClaimDueBatch atomically claims up to batchSize due rows for delivery:
// marks them RETRYING, increments attempts, and sets a short provisional
// next_retry_at (leaseUntil) so a crashed worker's rows become re-claimable.
// SKIP LOCKED keeps concurrent workers off each other's rows.
func (r *OutboxRepository) ClaimDueBatch(ctx context.Context, batchSize int, now, leaseUntil time.Time) ([]*models.NotificationOutbox, error) {
	if batchSize <= 0 {
		batchSize = 20
	}

	query := `
		UPDATE notification_outbox
		SET status = $1,
		    attempts = attempts + 1,
		    next_retry_at = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE outbox_id IN (
			SELECT outbox_id
			FROM notification_outbox
			WHERE status IN ($3, $1)
			  AND (next_retry_at IS NULL OR next_retry_at <= $4)
			ORDER BY created_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	rows, err := r.db.QueryContext(ctx, query,
		models.OutboxStatusRetrying, leaseUntil, models.OutboxStatusPending, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox batch: %w", err)
	}
	defer rows.Close()

	claimed := []*models.NotificationOutbox{}
	for rows.Next() {
		row, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		claimed = append(claimed, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox rows: %w", err)
	}

	return claimed, nil
}

// MarkSent records a successful delivery.
func (r *OutboxRepository) MarkSent(ctx context.Context, outboxID, providerMessageID string, sentAt time.Time) error {
	if outboxID == "" {
		return fmt.Errorf("outbox_id is required")
	}

	query := `
		UPDATE notification_outbox
		SET status = $1,
		    sent_at = $2,
		    provider_message_id = NULLIF($3, ''),
		    next_retry_at = NULL,
		    last_error = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE outbox_id = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		models.OutboxStatusSent, sentAt, providerMessageID, outboxID)
	if err != nil {
		return fmt.Errorf("failed to mark outbox row sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("outbox row not found: outbox_id=%s", outboxID)
	}

	return nil
}

// MarkRetry records a failed attempt pending another try.
func (r *OutboxRepository) MarkRetry(ctx context.Context, outboxID, lastError string, nextRetryAt time.Time) error {
	if outboxID == "" {
		return fmt.Errorf("outbox_id is required")
	}

	query := `
		UPDATE notification_outbox
		SET status = $1,
		    next_retry_at = $2,
		    last_error = $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE outbox_id = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		models.OutboxStatusRetrying, nextRetryAt, lastError, outboxID)
	if err != nil {
		return fmt.Errorf("failed to mark outbox row for retry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("outbox row not found: outbox_id=%s", outboxID)
	}

	return nil
}

// MarkFailed records a terminal failure; the row leaves the retry cycle.
func (r *OutboxRepository) MarkFailed(ctx context.Context, outboxID, lastError string) error {
	if outboxID == "" {
		return fmt.Errorf("outbox_id is required")
	}

	query := `
		UPDATE notification_outbox
		SET status = $1,
		    next_retry_at = NULL,
		    last_error = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE outbox_id = $3
	`

	result, err := r.db.ExecContext(ctx, query,
		models.OutboxStatusFailed, lastError, outboxID)
	if err != nil {
		return fmt.Errorf("failed to mark outbox row failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("outbox row not found: outbox_id=%s", outboxID)
	}

	return nil
}

// FindByProviderMessageID locates a row for an inbound delivery-status
// callback. Returns (nil, nil) when unknown.
func (r *OutboxRepository) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*models.NotificationOutbox, error) {
	if providerMessageID == "" {
		return nil, fmt.Errorf("provider_message_id is required")
	}

	query := `
		SELECT ` + outboxColumns + `
		FROM notification_outbox
		WHERE provider_message_id = $1
	`

	row, err := scanOutbox(r.db.QueryRowContext(ctx, query, providerMessageID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find outbox row: %w", err)
	}

	return row, nil
}

// UpdateDeliveryStatus applies a provider callback verdict. This is the only
// path by which a SENT row records a downstream failure without re-entering
// the retry cycle.
func (r *OutboxRepository) UpdateDeliveryStatus(ctx context.Context, outboxID, status string, lastError *string) error {
	if outboxID == "" {
		return fmt.Errorf("outbox_id is required")
	}
	if status != models.OutboxStatusSent && status != models.OutboxStatusFailed {
		return fmt.Errorf("invalid callback status: %s", status)
	}

	query := `
		UPDATE notification_outbox
		SET status = $1,
		    last_error = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE outbox_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, status, lastError, outboxID)
	if err != nil {
		return fmt.Errorf("failed to update delivery status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("outbox row not found: outbox_id=%s", outboxID)
	}

	return nil
}

// ListForAlert returns the delivery audit trail for an alert, oldest first.
func (r *OutboxRepository) ListForAlert(ctx context.Context, alertID string) ([]*models.NotificationOutbox, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := `
		SELECT ` + outboxColumns + `
		FROM notification_outbox
		WHERE alert_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox rows: %w", err)
	}
	defer rows.Close()

	out := []*models.NotificationOutbox{}
	for rows.Next() {
		row, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox rows: %w", err)
	}

	return out, nil
}

func scanOutbox(row rowScanner) (*models.NotificationOutbox, error) {
	var o models.NotificationOutbox
	var alertID, reportID, subject, mediaURL, lastError, providerMessageID sql.NullString
	var nextRetryAt, sentAt sql.NullTime

	err := row.Scan(
		&o.OutboxID,
		&o.Kind,
		&alertID,
		&reportID,
		&o.Channel,
		&o.Target,
		&subject,
		&o.Message,
		&mediaURL,
		&o.Status,
		&o.Attempts,
		&nextRetryAt,
		&lastError,
		&providerMessageID,
		&sentAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if alertID.Valid {
		o.AlertID = &alertID.String
	}
	if reportID.Valid {
		o.ReportID = &reportID.String
	}
	if subject.Valid {
		o.Subject = &subject.String
	}
	if mediaURL.Valid {
		o.MediaURL = &mediaURL.String
	}
	if lastError.Valid {
		o.LastError = &lastError.String
	}
	if providerMessageID.Valid {
		o.ProviderMessageID = &providerMessageID.String
	}
	if nextRetryAt.Valid {
		o.NextRetryAt = &nextRetryAt.Time
	}
	if sentAt.Valid {
		o.SentAt = &sentAt.Time
	}

	return &o, nil
}
