package report

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/config"
	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

func setupGenerator(t *testing.T) (*Generator, sqlmock.Sqlmock, string) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	spool := t.TempDir()
	cfg := &config.Config{}
	cfg.Report.Enabled = true
	cfg.Report.SpoolDir = spool

	logger := zap.NewNop()
	gen := NewGenerator(cfg, db,
		repository.NewAlertsRepository(db, logger),
		repository.NewSitesRepository(db, logger),
		repository.NewOutboxRepository(db, logger),
		logger)
	return gen, mock, spool
}

var alertColumnNames = []string{
	"alert_id", "public_id", "godown_id", "camera_id", "alert_type",
	"severity", "status", "zone_id", "summary", "start_time",
	"end_time", "extra", "ack_token_hash", "ack_expires_at", "ack_used_at",
	"first_detected_at", "last_detection_at", "closed_at", "created_at", "updated_at",
}

func reportAlertRow(publicID, alertType string, startTime time.Time) []driver.Value {
	return []driver.Value{
		"alert-" + publicID, publicID, "GDN-PUNE-012", "CAM-03", alertType,
		models.SeverityCritical, models.AlertStatusOpen, nil, "Fire detected", startTime,
		nil, []byte(`{}`), nil, nil, nil,
		startTime, startTime, nil, startTime, startTime,
	}
}

func TestGenerateDaily_WritesWorkbookAndEnqueues(t *testing.T) {
	gen, mock, spool := setupGenerator(t)

	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WithArgs("GDN-PUNE-012", day, day.Add(24*time.Hour)).
		WillReturnRows(sqlmock.NewRows(alertColumnNames).
			AddRow(reportAlertRow("PDSN-2025-000123", models.AlertFire, day.Add(2*time.Hour))...).
			AddRow(reportAlertRow("PDSN-2025-000124", models.AlertAnimalIntrusion, day.Add(5*time.Hour))...))

	mock.ExpectQuery(regexp.QuoteMeta("FROM notify_endpoints")).
		WithArgs(models.ScopeHQ, models.ScopeSite, "GDN-PUNE-012").
		WillReturnRows(sqlmock.NewRows([]string{"endpoint_id", "scope", "godown_id", "channel", "target", "enabled"}).
			AddRow("ep-1", models.ScopeHQ, nil, models.ChannelEmail, "hq@example.com", true).
			AddRow("ep-2", models.ScopeHQ, nil, models.ChannelWhatsApp, "+911111111111", true))

	// One outbox row: the WhatsApp endpoint is skipped for reports.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_outbox")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	path, err := gen.GenerateDaily(context.Background(), "GDN-PUNE-012", day)
	assert.NoError(t, err)
	assert.Equal(t, spool+"/alerts-GDN-PUNE-012-2025-03-14.xlsx", path)
	assert.NoError(t, mock.ExpectationsWereMet())

	f, err := excelize.OpenFile(path)
	assert.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue(sheetName, "A1")
	assert.NoError(t, err)
	assert.Equal(t, "Public ID", header)

	firstID, err := f.GetCellValue(sheetName, "A2")
	assert.NoError(t, err)
	assert.Equal(t, "PDSN-2025-000123", firstID)

	secondType, err := f.GetCellValue(sheetName, "B3")
	assert.NoError(t, err)
	assert.Equal(t, models.AlertAnimalIntrusion, secondType)
}

func TestGenerateDaily_EmptyDayStillWritesWorkbook(t *testing.T) {
	gen, mock, _ := setupGenerator(t)

	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WithArgs("GDN-PUNE-012", day, day.Add(24*time.Hour)).
		WillReturnRows(sqlmock.NewRows(alertColumnNames))

	mock.ExpectQuery(regexp.QuoteMeta("FROM notify_endpoints")).
		WillReturnRows(sqlmock.NewRows([]string{"endpoint_id", "scope", "godown_id", "channel", "target", "enabled"}))

	path, err := gen.GenerateDaily(context.Background(), "GDN-PUNE-012", day)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestGenerateDaily_MissingGodownID(t *testing.T) {
	gen, _, _ := setupGenerator(t)

	_, err := gen.GenerateDaily(context.Background(), "", time.Now().UTC())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "godown_id is required")
}

func TestGenerateAll_ContinuesPastFailures(t *testing.T) {
	gen, mock, _ := setupGenerator(t)

	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM godowns")).
		WillReturnRows(sqlmock.NewRows([]string{"godown_id"}).
			AddRow("GDN-PUNE-012").
			AddRow("GDN-PUNE-013"))

	// First godown fails at the alerts query; the second still runs.
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WithArgs("GDN-PUNE-012", day, day.Add(24*time.Hour)).
		WillReturnError(sql.ErrConnDone)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WithArgs("GDN-PUNE-013", day, day.Add(24*time.Hour)).
		WillReturnRows(sqlmock.NewRows(alertColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("FROM notify_endpoints")).
		WillReturnRows(sqlmock.NewRows([]string{"endpoint_id", "scope", "godown_id", "channel", "target", "enabled"}))

	err := gen.GenerateAll(context.Background(), day)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
