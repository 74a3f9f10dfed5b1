package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/config"
	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

// Worker drains the notification outbox on a fixed interval. Rows are
// claimed with a lease so concurrent workers never double-deliver; a worker
// that dies mid-flight leaves its rows to be reclaimed after the lease.
type Worker struct {
	config     *config.Config
	outboxRepo *repository.OutboxRepository
	provider   Provider
	logger     *zap.Logger
}

// NewWorker creates the delivery worker.
func NewWorker(cfg *config.Config, outboxRepo *repository.OutboxRepository, provider Provider, logger *zap.Logger) *Worker {
	return &Worker{
		config:     cfg,
		outboxRepo: outboxRepo,
		provider:   provider,
		logger:     logger,
	}
}

// Run polls the outbox until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	interval := time.Duration(w.config.Notify.WorkerIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("Delivery worker started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Delivery worker stopped")
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx, time.Now().UTC()); err != nil {
				w.logger.Error("Outbox batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessBatch claims one batch of due rows and attempts delivery for each.
// Returns the number of rows processed. Per-row failures are recorded on the
// row, not returned.
func (w *Worker) ProcessBatch(ctx context.Context, now time.Time) (int, error) {
	lease := time.Duration(w.config.Notify.ClaimLeaseSec) * time.Second
	batch, err := w.outboxRepo.ClaimDueBatch(ctx, w.config.Notify.BatchSize, now, now.Add(lease))
	if err != nil {
		return 0, err
	}

	for _, row := range batch {
		w.deliver(ctx, row, now)
	}

	return len(batch), nil
}

func (w *Worker) deliver(ctx context.Context, row *models.NotificationOutbox, now time.Time) {
	providerMessageID, err := w.send(ctx, row)
	if err == nil {
		if err := w.outboxRepo.MarkSent(ctx, row.OutboxID, providerMessageID, time.Now().UTC()); err != nil {
			w.logger.Error("Failed to mark outbox row sent",
				zap.String("outbox_id", row.OutboxID),
				zap.Error(err),
			)
		}
		return
	}

	// Attempts was already incremented by the claim.
	var unsupported *UnsupportedChannelError
	if errors.As(err, &unsupported) || row.Attempts >= w.config.Notify.MaxAttempts {
		w.logger.Error("Delivery exhausted",
			zap.String("outbox_id", row.OutboxID),
			zap.String("channel", row.Channel),
			zap.String("target", row.Target),
			zap.Int("attempts", row.Attempts),
			zap.Error(err),
		)
		if markErr := w.outboxRepo.MarkFailed(ctx, row.OutboxID, err.Error()); markErr != nil {
			w.logger.Error("Failed to mark outbox row failed",
				zap.String("outbox_id", row.OutboxID),
				zap.Error(markErr),
			)
		}
		return
	}

	nextRetryAt := now.Add(w.backoff(row.Attempts))
	w.logger.Warn("Delivery attempt failed",
		zap.String("outbox_id", row.OutboxID),
		zap.String("channel", row.Channel),
		zap.Int("attempts", row.Attempts),
		zap.Time("next_retry_at", nextRetryAt),
		zap.Error(err),
	)
	if markErr := w.outboxRepo.MarkRetry(ctx, row.OutboxID, err.Error(), nextRetryAt); markErr != nil {
		w.logger.Error("Failed to schedule retry",
			zap.String("outbox_id", row.OutboxID),
			zap.Error(markErr),
		)
	}
}

func (w *Worker) send(ctx context.Context, row *models.NotificationOutbox) (string, error) {
	switch row.Channel {
	case models.ChannelWhatsApp:
		return w.provider.SendWhatsApp(ctx, row.Target, row.Message, row.MediaURL)
	case models.ChannelEmail:
		subject := ""
		if row.Subject != nil {
			subject = *row.Subject
		}
		return w.provider.SendEmail(ctx, row.Target, subject, row.Message, row.MediaURL)
	case models.ChannelCall:
		return w.provider.SendCall(ctx, row.Target, row.Message)
	}
	return "", &UnsupportedChannelError{Channel: row.Channel}
}

// backoff maps the attempt count to a delay from the configured schedule,
// clamped to the schedule's last entry.
func (w *Worker) backoff(attempts int) time.Duration {
	schedule := w.config.Notify.BackoffSec
	if len(schedule) == 0 {
		return time.Minute
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return time.Duration(schedule[idx]) * time.Second
}

// UnsupportedChannelError marks a row whose channel no provider handles.
// It is terminal: retrying cannot fix it.
type UnsupportedChannelError struct {
	Channel string
}

func (e *UnsupportedChannelError) Error() string {
	return "unsupported channel: " + e.Channel
}
