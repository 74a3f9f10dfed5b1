package gate

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

type stubNotifier struct {
	alerts []*models.Alert
}

func (s *stubNotifier) NotifyAlert(_ context.Context, alert *models.Alert) error {
	s.alerts = append(s.alerts, alert)
	return nil
}

func setupWatchdog(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Watchdog, *stubNotifier) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	notifier := &stubNotifier{}
	watchdog := NewWatchdog(
		gateConfig(),
		db,
		repository.NewGateSessionsRepository(db, logger),
		repository.NewAlertsRepository(db, logger),
		repository.NewEventsRepository(db, logger),
		repository.NewDispatchIssuesRepository(db, logger),
		notifier,
		logger,
	)

	return db, mock, watchdog, notifier
}

var issueColumnNames = []string{
	"issue_id", "godown_id", "zone_id", "plate_norm", "issue_time",
	"status", "started_event_id", "alerted_at", "created_at", "updated_at",
}

func sessionRowWithReminders(sessionID string, entryAt time.Time, reminders string) []driver.Value {
	return []driver.Value{
		sessionID, "GDN-042", "KA01AB1234", "KA 01 AB 1234", models.SessionStatusOpen,
		entryAt, nil, entryAt, uuid.New().String(), nil,
		"CAM-GATE-1", "CAM-GATE-1", nil, []byte(reminders),
		entryAt, entryAt,
	}
}

func expectNoOpenIssues(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT`).
		WithArgs(models.IssueStatusOpen).
		WillReturnRows(sqlmock.NewRows(issueColumnNames))
}

func TestScanOnce_FiresUnrecordedThresholds(t *testing.T) {
	db, mock, watchdog, notifier := setupWatchdog(t)
	defer db.Close()

	now := time.Now().UTC()
	sessionID := uuid.New().String()
	entryAt := now.Add(-7 * time.Hour)

	// Age 7h with thresholds [3, 6, ...]: 3h already recorded, 6h fires.
	mock.ExpectQuery(`SELECT`).
		WithArgs(models.SessionStatusOpen).
		WillReturnRows(sqlmock.NewRows(sessionColumnNames).
			AddRow(sessionRowWithReminders(sessionID, entryAt, `{"3":"2025-01-01T03:00:00Z"}`)...))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT`).
		WithArgs("GDN-042", models.AlertDispatchDelay, models.AlertStatusOpen,
			"plate_norm", "KA01AB1234", nil).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO alerts`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE vehicle_gate_sessions`).
		WithArgs("6", now, sessionID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	expectNoOpenIssues(mock)

	err := watchdog.ScanOnce(context.Background(), now)

	require.NoError(t, err)
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, models.AlertDispatchDelay, notifier.alerts[0].AlertType)
	assert.Equal(t, models.SeverityWarning, notifier.alerts[0].Severity)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanOnce_CriticalAtDeadlineThreshold(t *testing.T) {
	db, mock, watchdog, notifier := setupWatchdog(t)
	defer db.Close()

	now := time.Now().UTC()
	sessionID := uuid.New().String()
	entryAt := now.Add(-25 * time.Hour)

	// All earlier thresholds recorded; only the 24h reminder fires.
	mock.ExpectQuery(`SELECT`).
		WithArgs(models.SessionStatusOpen).
		WillReturnRows(sqlmock.NewRows(sessionColumnNames).
			AddRow(sessionRowWithReminders(sessionID, entryAt,
				`{"3":"2025-01-01T03:00:00Z","6":"2025-01-01T06:00:00Z","9":"2025-01-01T09:00:00Z","12":"2025-01-01T12:00:00Z"}`)...))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT`).
		WithArgs("GDN-042", models.AlertDispatchDelay, models.AlertStatusOpen,
			"plate_norm", "KA01AB1234", nil).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO alerts`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE vehicle_gate_sessions`).
		WithArgs("24", now, sessionID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	expectNoOpenIssues(mock)

	err := watchdog.ScanOnce(context.Background(), now)

	require.NoError(t, err)
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, models.SeverityCritical, notifier.alerts[0].Severity)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanOnce_AllThresholdsRecordedIsNoOp(t *testing.T) {
	db, mock, watchdog, notifier := setupWatchdog(t)
	defer db.Close()

	now := time.Now().UTC()
	entryAt := now.Add(-7 * time.Hour)

	mock.ExpectQuery(`SELECT`).
		WithArgs(models.SessionStatusOpen).
		WillReturnRows(sqlmock.NewRows(sessionColumnNames).
			AddRow(sessionRowWithReminders(uuid.New().String(), entryAt,
				`{"3":"2025-01-01T03:00:00Z","6":"2025-01-01T06:00:00Z"}`)...))

	expectNoOpenIssues(mock)

	err := watchdog.ScanOnce(context.Background(), now)

	require.NoError(t, err)
	assert.Empty(t, notifier.alerts)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanOnce_DispatchIssueStarted(t *testing.T) {
	db, mock, watchdog, notifier := setupWatchdog(t)
	defer db.Close()

	now := time.Now().UTC()
	issueID := uuid.New().String()
	movementEventID := uuid.New().String()
	issueTime := now.Add(-5 * time.Hour)

	mock.ExpectQuery(`SELECT`).
		WithArgs(models.SessionStatusOpen).
		WillReturnRows(sqlmock.NewRows(sessionColumnNames))

	mock.ExpectQuery(`SELECT`).
		WithArgs(models.IssueStatusOpen).
		WillReturnRows(sqlmock.NewRows(issueColumnNames).
			AddRow(issueID, "GDN-042", "Z-03", "KA01AB1234", issueTime,
				models.IssueStatusOpen, nil, nil, issueTime, issueTime))

	mock.ExpectQuery(`SELECT`).
		WithArgs("GDN-042", models.EventBagMovement, issueTime, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{
			"event_id", "godown_id", "camera_id", "event_type", "severity",
			"occurred_at", "bbox", "track_id", "image_url", "clip_url",
			"meta", "created_at",
		}).AddRow(
			movementEventID, "GDN-042", "CAM-02", models.EventBagMovement, "info",
			issueTime.Add(time.Hour), nil, nil, nil, nil,
			[]byte(`{"zone_id":"Z-03"}`), issueTime.Add(time.Hour)))

	mock.ExpectExec(`UPDATE dispatch_issues`).
		WithArgs(models.IssueStatusStarted, movementEventID, issueID, models.IssueStatusOpen).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := watchdog.ScanOnce(context.Background(), now)

	require.NoError(t, err)
	assert.Empty(t, notifier.alerts)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanOnce_DispatchDeadlineMissed(t *testing.T) {
	db, mock, watchdog, notifier := setupWatchdog(t)
	defer db.Close()

	now := time.Now().UTC()
	issueID := uuid.New().String()
	issueTime := now.Add(-26 * time.Hour)

	mock.ExpectQuery(`SELECT`).
		WithArgs(models.SessionStatusOpen).
		WillReturnRows(sqlmock.NewRows(sessionColumnNames))

	mock.ExpectQuery(`SELECT`).
		WithArgs(models.IssueStatusOpen).
		WillReturnRows(sqlmock.NewRows(issueColumnNames).
			AddRow(issueID, "GDN-042", nil, nil, issueTime,
				models.IssueStatusOpen, nil, nil, issueTime, issueTime))

	mock.ExpectQuery(`SELECT`).
		WithArgs("GDN-042", models.EventBagMovement, issueTime, sqlmock.AnyArg(), nil).
		WillReturnError(sql.ErrNoRows)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO alerts`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE dispatch_issues`).
		WithArgs(models.IssueStatusAlerted, now, issueID, models.IssueStatusOpen).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := watchdog.ScanOnce(context.Background(), now)

	require.NoError(t, err)
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, models.AlertDispatchNotStarted, notifier.alerts[0].AlertType)
	assert.Equal(t, models.SeverityCritical, notifier.alerts[0].Severity)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanOnce_DeadlineNotYetDueIsNoOp(t *testing.T) {
	db, mock, watchdog, notifier := setupWatchdog(t)
	defer db.Close()

	now := time.Now().UTC()
	issueID := uuid.New().String()
	issueTime := now.Add(-5 * time.Hour)

	mock.ExpectQuery(`SELECT`).
		WithArgs(models.SessionStatusOpen).
		WillReturnRows(sqlmock.NewRows(sessionColumnNames))

	mock.ExpectQuery(`SELECT`).
		WithArgs(models.IssueStatusOpen).
		WillReturnRows(sqlmock.NewRows(issueColumnNames).
			AddRow(issueID, "GDN-042", nil, nil, issueTime,
				models.IssueStatusOpen, nil, nil, issueTime, issueTime))

	mock.ExpectQuery(`SELECT`).
		WithArgs("GDN-042", models.EventBagMovement, issueTime, sqlmock.AnyArg(), nil).
		WillReturnError(sql.ErrNoRows)

	err := watchdog.ScanOnce(context.Background(), now)

	require.NoError(t, err)
	assert.Empty(t, notifier.alerts)

	require.NoError(t, mock.ExpectationsWereMet())
}
