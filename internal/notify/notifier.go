package notify

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/cache"
	"github.com/krishvatech/pds-netra-sub000/internal/config"
	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
	"github.com/krishvatech/pds-netra-sub000/internal/token"
)

// Notifier fans an alert out to its configured endpoints as outbox rows.
// Enqueue is idempotent per (alert, channel, target); the cooldown guard in
// front of it only limits how often we retry the fan-out for a noisy alert.
type Notifier struct {
	config     *config.Config
	db         *sql.DB
	sitesRepo  *repository.SitesRepository
	outboxRepo *repository.OutboxRepository
	tokens     *token.Service
	cooldown   *cache.CooldownGuard
	logger     *zap.Logger
}

// NewNotifier creates the alert fan-out service.
func NewNotifier(
	cfg *config.Config,
	db *sql.DB,
	sitesRepo *repository.SitesRepository,
	outboxRepo *repository.OutboxRepository,
	tokens *token.Service,
	cooldown *cache.CooldownGuard,
	logger *zap.Logger,
) *Notifier {
	return &Notifier{
		config:     cfg,
		db:         db,
		sitesRepo:  sitesRepo,
		outboxRepo: outboxRepo,
		tokens:     tokens,
		cooldown:   cooldown,
		logger:     logger,
	}
}

// NotifyAlert enqueues one outbox row per configured (channel, target) pair
// for the alert's site and HQ. Safe to call again for the same alert: existing
// rows are left untouched.
func (n *Notifier) NotifyAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}

	endpoints, err := n.sitesRepo.ListNotifyEndpoints(ctx, alert.GodownID)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		n.logger.Warn("No notify endpoints configured",
			zap.String("alert_id", alert.AlertID),
			zap.String("godown_id", alert.GodownID),
		)
		return nil
	}

	// A token is minted once per alert. Re-issuing would invalidate the link
	// already delivered on the first fan-out.
	ackLink := ""
	if alert.AckTokenHash == nil || *alert.AckTokenHash == "" {
		plaintext, err := n.tokens.Issue(ctx, n.db, alert.AlertID)
		if err != nil {
			return fmt.Errorf("failed to issue ack token: %w", err)
		}
		ackLink = token.AckLink(n.config.Notify.AckBaseURL, alert.PublicID, plaintext)
	}

	cooldown := time.Duration(n.config.Notify.ChannelCooldownSec) * time.Second
	allowed := make(map[string]bool)

	enqueued := 0
	seen := make(map[string]bool)
	for _, ep := range endpoints {
		key := ep.Channel + "|" + ep.Target
		if seen[key] {
			continue
		}
		seen[key] = true

		if _, checked := allowed[ep.Channel]; !checked {
			allowed[ep.Channel] = n.cooldown.Acquire(ctx, alert.AlertID, ep.Channel, cooldown)
		}
		if !allowed[ep.Channel] {
			continue
		}

		row := n.buildRow(alert, ep, ackLink)
		inserted, err := n.outboxRepo.Enqueue(ctx, n.db, row)
		if err != nil {
			n.logger.Error("Failed to enqueue notification",
				zap.String("alert_id", alert.AlertID),
				zap.String("channel", ep.Channel),
				zap.String("target", ep.Target),
				zap.Error(err),
			)
			continue
		}
		if inserted {
			enqueued++
		}
	}

	if enqueued > 0 {
		n.logger.Info("Alert fan-out enqueued",
			zap.String("alert_id", alert.AlertID),
			zap.String("alert_type", alert.AlertType),
			zap.Int("rows", enqueued),
		)
	}

	return nil
}

func (n *Notifier) buildRow(alert *models.Alert, ep *models.NotifyEndpoint, ackLink string) *models.NotificationOutbox {
	alertID := alert.AlertID
	row := &models.NotificationOutbox{
		OutboxID: uuid.New().String(),
		Kind:     models.OutboxKindAlert,
		AlertID:  &alertID,
		Channel:  ep.Channel,
		Target:   ep.Target,
		Status:   models.OutboxStatusPending,
	}

	switch ep.Channel {
	case models.ChannelEmail:
		subject := fmt.Sprintf("[%s] %s at %s", strings.ToUpper(alert.Severity), alert.AlertType, alert.GodownID)
		row.Subject = &subject
		row.Message = renderMessage(alert, ackLink)
	case models.ChannelCall:
		row.Message = renderCallScript(alert)
	default:
		row.Message = renderMessage(alert, ackLink)
	}

	return row
}

func renderMessage(alert *models.Alert, ackLink string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(alert.Severity), alert.Summary)
	fmt.Fprintf(&b, "Godown: %s, camera: %s\n", alert.GodownID, alert.CameraID)
	if alert.ZoneID != nil {
		fmt.Fprintf(&b, "Zone: %s\n", *alert.ZoneID)
	}
	fmt.Fprintf(&b, "First detected: %s\n", alert.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "Ref: %s", alert.PublicID)
	if ackLink != "" {
		fmt.Fprintf(&b, "\nAcknowledge: %s", ackLink)
	}
	return b.String()
}

func renderCallScript(alert *models.Alert) string {
	return fmt.Sprintf("%s severity alert at godown %s. %s. Reference %s.",
		alert.Severity, alert.GodownID, alert.Summary, alert.PublicID)
}

// HandleDeliveryCallback reconciles an inbound provider status report against
// its outbox row.
func (n *Notifier) HandleDeliveryCallback(ctx context.Context, providerMessageID, status string, lastError *string) error {
	if providerMessageID == "" {
		return fmt.Errorf("provider_message_id is required")
	}

	row, err := n.outboxRepo.FindByProviderMessageID(ctx, providerMessageID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("unknown provider message id: %s", providerMessageID)
	}

	mapped, err := mapCallbackStatus(status)
	if err != nil {
		return err
	}

	if err := n.outboxRepo.UpdateDeliveryStatus(ctx, row.OutboxID, mapped, lastError); err != nil {
		return err
	}

	n.logger.Info("Delivery status reconciled",
		zap.String("outbox_id", row.OutboxID),
		zap.String("provider_message_id", providerMessageID),
		zap.String("status", mapped),
	)

	return nil
}

func mapCallbackStatus(status string) (string, error) {
	switch strings.ToUpper(status) {
	case "SENT", "DELIVERED", "READ":
		return models.OutboxStatusSent, nil
	case "FAILED", "UNDELIVERED":
		return models.OutboxStatusFailed, nil
	}
	return "", fmt.Errorf("unsupported callback status: %s", status)
}
