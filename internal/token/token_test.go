package token

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

func setupTokenService(t *testing.T) (*Service, *sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	alertsRepo := repository.NewAlertsRepository(db, logger)
	return NewService(alertsRepo, 30*time.Minute, logger), db, mock
}

var tokenAlertColumns = []string{
	"alert_id", "public_id", "godown_id", "camera_id", "alert_type",
	"severity", "status", "zone_id", "summary", "start_time",
	"end_time", "extra", "ack_token_hash", "ack_expires_at", "ack_used_at",
	"first_detected_at", "last_detection_at", "closed_at", "created_at", "updated_at",
}

func tokenAlertRow(status, tokenHash string, expiresAt, usedAt interface{}) []driver.Value {
	now := time.Now().UTC()
	return []driver.Value{
		"alert-1", "PDSN-2025-000123", "GDN-PUNE-012", "CAM-03", models.AlertFire,
		models.SeverityCritical, status, nil, "Fire detected", now,
		nil, []byte(`{}`), tokenHash, expiresAt, usedAt,
		now, now, nil, now, now,
	}
}

func TestIssue_Success(t *testing.T) {
	svc, db, mock := setupTokenService(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "alert-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	plaintext, err := svc.Issue(context.Background(), db, "alert-1")
	assert.NoError(t, err)
	assert.Regexp(t, "^[0-9a-f]{64}$", plaintext)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssue_MissingAlertID(t *testing.T) {
	svc, _, _ := setupTokenService(t)

	_, err := svc.Issue(context.Background(), nil, "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "alert_id is required")
}

func TestAcknowledge_Success(t *testing.T) {
	svc, _, mock := setupTokenService(t)

	plaintext := "a1b2c3"
	expires := time.Now().UTC().Add(time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("PDSN-2025-000123").
		WillReturnRows(sqlmock.NewRows(tokenAlertColumns).
			AddRow(tokenAlertRow(models.AlertStatusOpen, Hash(plaintext), expires, nil)...))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts")).
		WithArgs(models.AlertStatusAck, sqlmock.AnyArg(), "alert-1", models.AlertStatusOpen).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.Acknowledge(context.Background(), "PDSN-2025-000123", plaintext, time.Now().UTC())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge_AlreadyAckedIsNoOp(t *testing.T) {
	svc, _, mock := setupTokenService(t)

	used := time.Now().UTC().Add(-time.Minute)
	expires := time.Now().UTC().Add(time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("PDSN-2025-000123").
		WillReturnRows(sqlmock.NewRows(tokenAlertColumns).
			AddRow(tokenAlertRow(models.AlertStatusAck, Hash("a1b2c3"), expires, used)...))

	err := svc.Acknowledge(context.Background(), "PDSN-2025-000123", "a1b2c3", time.Now().UTC())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge_WrongToken(t *testing.T) {
	svc, _, mock := setupTokenService(t)

	expires := time.Now().UTC().Add(time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("PDSN-2025-000123").
		WillReturnRows(sqlmock.NewRows(tokenAlertColumns).
			AddRow(tokenAlertRow(models.AlertStatusOpen, Hash("the-real-token"), expires, nil)...))

	err := svc.Acknowledge(context.Background(), "PDSN-2025-000123", "guess", time.Now().UTC())
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge_Expired(t *testing.T) {
	svc, _, mock := setupTokenService(t)

	expires := time.Now().UTC().Add(-time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("PDSN-2025-000123").
		WillReturnRows(sqlmock.NewRows(tokenAlertColumns).
			AddRow(tokenAlertRow(models.AlertStatusOpen, Hash("a1b2c3"), expires, nil)...))

	err := svc.Acknowledge(context.Background(), "PDSN-2025-000123", "a1b2c3", time.Now().UTC())
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge_UsedOnOpenAlert(t *testing.T) {
	svc, _, mock := setupTokenService(t)

	expires := time.Now().UTC().Add(time.Hour)
	used := time.Now().UTC().Add(-time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("PDSN-2025-000123").
		WillReturnRows(sqlmock.NewRows(tokenAlertColumns).
			AddRow(tokenAlertRow(models.AlertStatusOpen, Hash("a1b2c3"), expires, used)...))

	err := svc.Acknowledge(context.Background(), "PDSN-2025-000123", "a1b2c3", time.Now().UTC())
	assert.ErrorIs(t, err, ErrTokenUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge_ClosedAlert(t *testing.T) {
	svc, _, mock := setupTokenService(t)

	expires := time.Now().UTC().Add(time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("PDSN-2025-000123").
		WillReturnRows(sqlmock.NewRows(tokenAlertColumns).
			AddRow(tokenAlertRow(models.AlertStatusClosed, Hash("a1b2c3"), expires, nil)...))

	err := svc.Acknowledge(context.Background(), "PDSN-2025-000123", "a1b2c3", time.Now().UTC())
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge_UnknownAlert(t *testing.T) {
	svc, _, mock := setupTokenService(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("no-such-id").
		WillReturnRows(sqlmock.NewRows(tokenAlertColumns))

	err := svc.Acknowledge(context.Background(), "no-such-id", "a1b2c3", time.Now().UTC())
	assert.ErrorIs(t, err, ErrAlertNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAckLink(t *testing.T) {
	link := AckLink("https://netra.pds.example", "PDSN-2025-000123", "tok en")
	assert.Equal(t, "https://netra.pds.example/alerts/PDSN-2025-000123/ack-link?token=tok+en", link)
}
