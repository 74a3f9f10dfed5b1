package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/krishvatech/pds-netra-sub000/internal/models"

	"go.uber.org/zap"
)

const issueColumns = `
	issue_id,
	godown_id,
	zone_id,
	plate_norm,
	issue_time,
	status,
	started_event_id,
	alerted_at,
	created_at,
	updated_at`

// DispatchIssuesRepository tracks dispatch SLA tickets (dispatch_issues
// table). Rows are seeded from the dispatch roster; the watchdog moves them
// to STARTED or ALERTED and never back.
type DispatchIssuesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDispatchIssuesRepository creates the dispatch issues repository.
func NewDispatchIssuesRepository(db *sql.DB, logger *zap.Logger) *DispatchIssuesRepository {
	return &DispatchIssuesRepository{
		db:     db,
		logger: logger,
	}
}

// CreateIssue inserts a new OPEN ticket. Duplicate issue_id is a no-op.
func (r *DispatchIssuesRepository) CreateIssue(ctx context.Context, issue *models.DispatchIssue) error {
	if issue == nil {
		return fmt.Errorf("issue is required")
	}
	if issue.IssueID == "" {
		return fmt.Errorf("issue_id is required")
	}
	if issue.GodownID == "" {
		return fmt.Errorf("godown_id is required")
	}

	query := `
		INSERT INTO dispatch_issues (` + issueColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (issue_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		issue.IssueID,
		issue.GodownID,
		issue.ZoneID,
		issue.PlateNorm,
		issue.IssueTime,
		issue.Status,
		issue.StartedEventID,
		issue.AlertedAt,
		issue.CreatedAt,
		issue.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatch issue: %w", err)
	}

	return nil
}

// ListOpenIssues returns all OPEN tickets, oldest issue_time first.
func (r *DispatchIssuesRepository) ListOpenIssues(ctx context.Context) ([]*models.DispatchIssue, error) {
	query := `
		SELECT ` + issueColumns + `
		FROM dispatch_issues
		WHERE status = $1
		ORDER BY issue_time ASC
	`

	rows, err := r.db.QueryContext(ctx, query, models.IssueStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list open dispatch issues: %w", err)
	}
	defer rows.Close()

	issues := []*models.DispatchIssue{}
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch issue: %w", err)
		}
		issues = append(issues, issue)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dispatch issues: %w", err)
	}

	return issues, nil
}

// MarkStarted records the movement event that satisfied the ticket. Only an
// OPEN ticket transitions.
func (r *DispatchIssuesRepository) MarkStarted(ctx context.Context, q Querier, issueID, startedEventID string) error {
	if issueID == "" {
		return fmt.Errorf("issue_id is required")
	}
	if startedEventID == "" {
		return fmt.Errorf("started_event_id is required")
	}

	query := `
		UPDATE dispatch_issues
		SET status = $1,
		    started_event_id = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE issue_id = $3 AND status = $4
	`

	result, err := q.ExecContext(ctx, query,
		models.IssueStatusStarted, startedEventID, issueID, models.IssueStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to mark dispatch issue started: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("dispatch issue not open: issue_id=%s", issueID)
	}

	return nil
}

// MarkAlerted records that the deadline passed and an alert was raised.
func (r *DispatchIssuesRepository) MarkAlerted(ctx context.Context, q Querier, issueID string, alertedAt time.Time) error {
	if issueID == "" {
		return fmt.Errorf("issue_id is required")
	}

	query := `
		UPDATE dispatch_issues
		SET status = $1,
		    alerted_at = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE issue_id = $3 AND status = $4
	`

	result, err := q.ExecContext(ctx, query,
		models.IssueStatusAlerted, alertedAt, issueID, models.IssueStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to mark dispatch issue alerted: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("dispatch issue not open: issue_id=%s", issueID)
	}

	return nil
}

func scanIssue(row rowScanner) (*models.DispatchIssue, error) {
	var issue models.DispatchIssue
	var zoneID, plateNorm, startedEventID sql.NullString
	var alertedAt sql.NullTime

	err := row.Scan(
		&issue.IssueID,
		&issue.GodownID,
		&zoneID,
		&plateNorm,
		&issue.IssueTime,
		&issue.Status,
		&startedEventID,
		&alertedAt,
		&issue.CreatedAt,
		&issue.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if zoneID.Valid {
		issue.ZoneID = &zoneID.String
	}
	if plateNorm.Valid {
		issue.PlateNorm = &plateNorm.String
	}
	if startedEventID.Valid {
		issue.StartedEventID = &startedEventID.String
	}
	if alertedAt.Valid {
		issue.AlertedAt = &alertedAt.Time
	}

	return &issue, nil
}
