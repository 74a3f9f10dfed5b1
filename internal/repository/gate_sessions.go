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

const sessionColumns = `
	session_id,
	godown_id,
	plate_norm,
	plate_text,
	status,
	entry_at,
	exit_at,
	last_seen_at,
	entry_event_id,
	exit_event_id,
	entry_camera_id,
	last_camera_id,
	snapshot_url,
	reminders_sent,
	created_at,
	updated_at`

// GateSessionsRepository owns vehicle dwell sessions
// (vehicle_gate_sessions table).
type GateSessionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewGateSessionsRepository creates the gate sessions repository.
func NewGateSessionsRepository(db *sql.DB, logger *zap.Logger) *GateSessionsRepository {
	return &GateSessionsRepository{
		db:     db,
		logger: logger,
	}
}

// GetOpenSession locks and returns the OPEN session for (godown, plate).
// Returns (nil, nil) when the vehicle is not inside.
func (r *GateSessionsRepository) GetOpenSession(ctx context.Context, q Querier, godownID, plateNorm string) (*models.VehicleGateSession, error) {
	if godownID == "" {
		return nil, fmt.Errorf("godown_id is required")
	}
	if plateNorm == "" {
		return nil, fmt.Errorf("plate_norm is required")
	}

	query := `
		SELECT ` + sessionColumns + `
		FROM vehicle_gate_sessions
		WHERE godown_id = $1
		  AND plate_norm = $2
		  AND status = $3
		ORDER BY entry_at DESC
		LIMIT 1
		FOR UPDATE
	`

	session, err := scanSession(q.QueryRowContext(ctx, query,
		godownID, plateNorm, models.SessionStatusOpen))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open session: %w", err)
	}

	return session, nil
}

// CreateSession opens a new dwell session on an ENTRY detection.
func (r *GateSessionsRepository) CreateSession(ctx context.Context, q Querier, session *models.VehicleGateSession) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	if session.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if session.GodownID == "" {
		return fmt.Errorf("godown_id is required")
	}
	if session.PlateNorm == "" {
		return fmt.Errorf("plate_norm is required")
	}

	reminders := session.RemindersSent
	if reminders == nil {
		reminders = map[string]time.Time{}
	}
	remindersJSON, err := json.Marshal(reminders)
	if err != nil {
		return fmt.Errorf("failed to marshal reminders: %w", err)
	}

	query := `
		INSERT INTO vehicle_gate_sessions (` + sessionColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
	`

	_, err = q.ExecContext(ctx, query,
		session.SessionID,
		session.GodownID,
		session.PlateNorm,
		session.PlateText,
		session.Status,
		session.EntryAt,
		session.ExitAt,
		session.LastSeenAt,
		session.EntryEventID,
		session.ExitEventID,
		session.EntryCameraID,
		session.LastCameraID,
		session.SnapshotURL,
		remindersJSON,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create gate session: %w", err)
	}

	return nil
}

// RefreshSession updates last-seen fields on a repeated ENTRY sighting of a
// vehicle already inside (same dwell, not a new entry).
func (r *GateSessionsRepository) RefreshSession(ctx context.Context, q Querier, sessionID, cameraID string, seenAt time.Time, snapshotURL *string) error {
	if sessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	query := `
		UPDATE vehicle_gate_sessions
		SET last_seen_at = $1,
		    last_camera_id = $2,
		    snapshot_url = COALESCE($3, snapshot_url),
		    updated_at = CURRENT_TIMESTAMP
		WHERE session_id = $4
		  AND status = $5
	`

	result, err := q.ExecContext(ctx, query, seenAt, cameraID, snapshotURL, sessionID, models.SessionStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to refresh gate session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("open session not found: session_id=%s", sessionID)
	}

	return nil
}

// CloseSession transitions an OPEN session to CLOSED on the matching EXIT.
func (r *GateSessionsRepository) CloseSession(ctx context.Context, q Querier, sessionID, exitEventID string, exitAt time.Time) error {
	if sessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if exitEventID == "" {
		return fmt.Errorf("exit_event_id is required")
	}

	query := `
		UPDATE vehicle_gate_sessions
		SET status = $1,
		    exit_at = $2,
		    exit_event_id = $3,
		    last_seen_at = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE session_id = $4
		  AND status = $5
	`

	result, err := q.ExecContext(ctx, query,
		models.SessionStatusClosed, exitAt, exitEventID, sessionID, models.SessionStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to close gate session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("open session not found: session_id=%s", sessionID)
	}

	return nil
}

// ListOpenSessions returns every OPEN session, oldest entry first. The
// watchdog walks this list computing dwell ages.
func (r *GateSessionsRepository) ListOpenSessions(ctx context.Context) ([]*models.VehicleGateSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM vehicle_gate_sessions
		WHERE status = $1
		ORDER BY entry_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, models.SessionStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*models.VehicleGateSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

// RecordReminder marks a dwell threshold as notified in reminders_sent.
// Re-running the watchdog is a no-op for recorded thresholds.
func (r *GateSessionsRepository) RecordReminder(ctx context.Context, q Querier, sessionID string, thresholdHours int, firedAt time.Time) error {
	if sessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	query := `
		UPDATE vehicle_gate_sessions
		SET reminders_sent = jsonb_set(
		        COALESCE(reminders_sent, '{}'::jsonb),
		        ARRAY[$1::text],
		        to_jsonb($2::timestamptz)
		    ),
		    updated_at = CURRENT_TIMESTAMP
		WHERE session_id = $3
	`

	result, err := q.ExecContext(ctx, query,
		fmt.Sprintf("%d", thresholdHours), firedAt, sessionID)
	if err != nil {
		return fmt.Errorf("failed to record reminder: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session not found: session_id=%s", sessionID)
	}

	return nil
}

func scanSession(row rowScanner) (*models.VehicleGateSession, error) {
	var session models.VehicleGateSession
	var exitAt sql.NullTime
	var exitEventID, snapshotURL sql.NullString
	var remindersJSON []byte

	err := row.Scan(
		&session.SessionID,
		&session.GodownID,
		&session.PlateNorm,
		&session.PlateText,
		&session.Status,
		&session.EntryAt,
		&exitAt,
		&session.LastSeenAt,
		&session.EntryEventID,
		&exitEventID,
		&session.EntryCameraID,
		&session.LastCameraID,
		&snapshotURL,
		&remindersJSON,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if exitAt.Valid {
		session.ExitAt = &exitAt.Time
	}
	if exitEventID.Valid {
		session.ExitEventID = &exitEventID.String
	}
	if snapshotURL.Valid {
		session.SnapshotURL = &snapshotURL.String
	}

	session.RemindersSent = map[string]time.Time{}
	if len(remindersJSON) > 0 {
		if err := json.Unmarshal(remindersJSON, &session.RemindersSent); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reminders: %w", err)
		}
	}

	return &session, nil
}
