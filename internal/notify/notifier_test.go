package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/cache"
	"github.com/krishvatech/pds-netra-sub000/internal/config"
	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
	"github.com/krishvatech/pds-netra-sub000/internal/token"
)

func notifyConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Notify.WorkerIntervalSec = 10
	cfg.Notify.BatchSize = 20
	cfg.Notify.MaxAttempts = 6
	cfg.Notify.BackoffSec = []int{60, 300, 900}
	cfg.Notify.ClaimLeaseSec = 120
	cfg.Notify.ChannelCooldownSec = 300
	cfg.Notify.AckBaseURL = "https://netra.example.com"
	cfg.Notify.AckTTLMinutes = 1440
	cfg.Notify.Provider = "console"
	return cfg
}

func setupNotifier(t *testing.T) (*Notifier, *sql.DB, sqlmock.Sqlmock, *miniredis.Miniredis) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	logger := zap.NewNop()
	cfg := notifyConfig()
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	sitesRepo := repository.NewSitesRepository(db, logger)
	outboxRepo := repository.NewOutboxRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)
	tokens := token.NewService(alertsRepo, time.Duration(cfg.Notify.AckTTLMinutes)*time.Minute, logger)
	guard := cache.NewCooldownGuard(redisClient, logger)

	return NewNotifier(cfg, db, sitesRepo, outboxRepo, tokens, guard, logger), db, mock, mr
}

var endpointColumns = []string{"endpoint_id", "scope", "godown_id", "channel", "target", "enabled"}

func sampleAlert() *models.Alert {
	now := time.Now().UTC()
	return &models.Alert{
		AlertID:         "alert-1",
		PublicID:        "PDSN-2025-000123",
		GodownID:        "GDN-PUNE-012",
		CameraID:        "CAM-03",
		AlertType:       models.AlertFire,
		Severity:        models.SeverityCritical,
		Status:          models.AlertStatusOpen,
		Summary:         "Fire detected",
		StartTime:       now,
		Details:         json.RawMessage(`{}`),
		FirstDetectedAt: now,
		LastDetectionAt: now,
	}
}

func expectEndpointList(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM notify_endpoints")).
		WithArgs(models.ScopeHQ, models.ScopeSite, "GDN-PUNE-012").
		WillReturnRows(rows)
}

func TestNotifyAlert_EnqueuesPerEndpoint(t *testing.T) {
	notifier, _, mock, _ := setupNotifier(t)

	expectEndpointList(mock, sqlmock.NewRows(endpointColumns).
		AddRow("ep-1", models.ScopeHQ, nil, models.ChannelWhatsApp, "+911111111111", true).
		AddRow("ep-2", models.ScopeSite, "GDN-PUNE-012", models.ChannelEmail, "manager@example.com", true))

	// Ack token issue.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "alert-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_outbox")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_outbox")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := notifier.NotifyAlert(context.Background(), sampleAlert())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyAlert_DeduplicatesTargets(t *testing.T) {
	notifier, _, mock, _ := setupNotifier(t)

	expectEndpointList(mock, sqlmock.NewRows(endpointColumns).
		AddRow("ep-1", models.ScopeHQ, nil, models.ChannelWhatsApp, "+911111111111", true).
		AddRow("ep-2", models.ScopeSite, "GDN-PUNE-012", models.ChannelWhatsApp, "+911111111111", true))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_outbox")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := notifier.NotifyAlert(context.Background(), sampleAlert())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyAlert_CooldownSuppressesChannel(t *testing.T) {
	notifier, _, mock, mr := setupNotifier(t)

	// A prior fan-out already started the WhatsApp window for this alert.
	mr.Set("netra:notify:cooldown:alert-1:WHATSAPP", "1")

	expectEndpointList(mock, sqlmock.NewRows(endpointColumns).
		AddRow("ep-1", models.ScopeHQ, nil, models.ChannelWhatsApp, "+911111111111", true).
		AddRow("ep-2", models.ScopeSite, "GDN-PUNE-012", models.ChannelEmail, "manager@example.com", true))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Only the email row gets enqueued.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_outbox")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := notifier.NotifyAlert(context.Background(), sampleAlert())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyAlert_NoEndpointsIsNoOp(t *testing.T) {
	notifier, _, mock, _ := setupNotifier(t)

	expectEndpointList(mock, sqlmock.NewRows(endpointColumns))

	err := notifier.NotifyAlert(context.Background(), sampleAlert())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyAlert_ExistingTokenIsKept(t *testing.T) {
	notifier, _, mock, _ := setupNotifier(t)

	expectEndpointList(mock, sqlmock.NewRows(endpointColumns).
		AddRow("ep-1", models.ScopeHQ, nil, models.ChannelWhatsApp, "+911111111111", true))

	// No UPDATE alerts expected: the alert already carries a token hash.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_outbox")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	alert := sampleAlert()
	hash := token.Hash("previously-issued")
	alert.AckTokenHash = &hash

	err := notifier.NotifyAlert(context.Background(), alert)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenderMessage_IncludesAckLink(t *testing.T) {
	alert := sampleAlert()
	msg := renderMessage(alert, "https://netra.example.com/alerts/PDSN-2025-000123/ack-link?token=abc")

	assert.Contains(t, msg, "[CRITICAL] Fire detected")
	assert.Contains(t, msg, "GDN-PUNE-012")
	assert.Contains(t, msg, "Acknowledge: https://netra.example.com/alerts/PDSN-2025-000123/ack-link?token=abc")
}

func TestHandleDeliveryCallback_MarksSent(t *testing.T) {
	notifier, _, mock, _ := setupNotifier(t)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM notification_outbox")).
		WithArgs("wamid.123").
		WillReturnRows(sqlmock.NewRows([]string{
			"outbox_id", "kind", "alert_id", "report_id", "channel", "target",
			"subject", "message", "media_url", "status", "attempts", "next_retry_at",
			"last_error", "provider_message_id", "sent_at", "created_at", "updated_at",
		}).AddRow(
			"outbox-1", models.OutboxKindAlert, "alert-1", nil, models.ChannelWhatsApp, "+911111111111",
			nil, "msg", nil, models.OutboxStatusRetrying, 1, nil,
			nil, "wamid.123", nil, now, now,
		))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notification_outbox")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := notifier.HandleDeliveryCallback(context.Background(), "wamid.123", "delivered", nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDeliveryCallback_UnknownMessageID(t *testing.T) {
	notifier, _, mock, _ := setupNotifier(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM notification_outbox")).
		WithArgs("wamid.missing").
		WillReturnRows(sqlmock.NewRows([]string{"outbox_id"}))

	err := notifier.HandleDeliveryCallback(context.Background(), "wamid.missing", "delivered", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider message id")
}
