package gate

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/config"
	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

// AlertNotifier fans a newly created alert out to the notification outbox.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert *models.Alert) error
}

// Watchdog is the periodic dwell scanner: it fires escalating reminders for
// vehicles parked past the configured thresholds and enforces the dispatch
// start deadline. Each threshold produces an independent alert row; the
// session's reminders_sent map is the sole idempotency record.
type Watchdog struct {
	config       *config.Config
	db           *sql.DB
	sessionsRepo *repository.GateSessionsRepository
	alertsRepo   *repository.AlertsRepository
	eventsRepo   *repository.EventsRepository
	issuesRepo   *repository.DispatchIssuesRepository
	notifier     AlertNotifier
	logger       *zap.Logger
}

// NewWatchdog creates the dwell watchdog.
func NewWatchdog(
	cfg *config.Config,
	db *sql.DB,
	sessionsRepo *repository.GateSessionsRepository,
	alertsRepo *repository.AlertsRepository,
	eventsRepo *repository.EventsRepository,
	issuesRepo *repository.DispatchIssuesRepository,
	notifier AlertNotifier,
	logger *zap.Logger,
) *Watchdog {
	return &Watchdog{
		config:       cfg,
		db:           db,
		sessionsRepo: sessionsRepo,
		alertsRepo:   alertsRepo,
		eventsRepo:   eventsRepo,
		issuesRepo:   issuesRepo,
		notifier:     notifier,
		logger:       logger,
	}
}

// Run ticks until the context is cancelled. Scan errors are logged, never
// fatal; the next tick retries.
func (w *Watchdog) Run(ctx context.Context) {
	interval := time.Duration(w.config.Gate.WatchdogIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("Gate watchdog started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Gate watchdog stopped")
			return
		case <-ticker.C:
			if err := w.ScanOnce(ctx, time.Now().UTC()); err != nil {
				w.logger.Error("Watchdog scan failed", zap.Error(err))
			}
		}
	}
}

// ScanOnce runs one full pass: dwell reminders, then dispatch deadlines.
func (w *Watchdog) ScanOnce(ctx context.Context, now time.Time) error {
	if err := w.scanSessions(ctx, now); err != nil {
		return err
	}
	return w.scanDispatchIssues(ctx, now)
}

func (w *Watchdog) scanSessions(ctx context.Context, now time.Time) error {
	sessions, err := w.sessionsRepo.ListOpenSessions(ctx)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		age := session.AgeHours(now)
		for _, threshold := range w.config.Gate.ReminderThresholds {
			if float64(threshold) > age {
				break
			}
			if _, fired := session.RemindersSent[strconv.Itoa(threshold)]; fired {
				continue
			}
			if err := w.fireReminder(ctx, session, threshold, age, now); err != nil {
				w.logger.Error("Failed to fire dwell reminder",
					zap.String("session_id", session.SessionID),
					zap.Int("threshold_hours", threshold),
					zap.Error(err))
			}
		}
	}

	return nil
}

// fireReminder creates (or refreshes) the threshold's dispatch-delay alert
// and records the threshold in reminders_sent, in one transaction.
func (w *Watchdog) fireReminder(ctx context.Context, session *models.VehicleGateSession, threshold int, age float64, now time.Time) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	severity := models.SeverityWarning
	if threshold >= 24 {
		severity = models.SeverityCritical
	}

	details := models.DispatchDelayDetails{
		PlateNorm:      session.PlateNorm,
		ThresholdHours: threshold,
		EntryAt:        session.EntryAt,
		AgeHours:       age,
	}
	extra, err := models.EncodeDetails(details)
	if err != nil {
		return err
	}

	var alert *models.Alert
	created := false

	// The newest open alert for this plate holds the highest fired
	// threshold. Matching it means a previous pass created the alert but
	// crashed before recording the reminder; refresh instead of duplicating.
	existing, err := w.alertsRepo.FindOpenAlertByDetail(ctx, tx,
		session.GodownID, models.AlertDispatchDelay, "plate_norm", session.PlateNorm, nil)
	if err != nil {
		return err
	}
	if existing != nil {
		prev, decodeErr := models.DecodeDetails(models.AlertDispatchDelay, existing.Details)
		if decodeErr == nil {
			if d, ok := prev.(models.DispatchDelayDetails); ok && d.ThresholdHours == threshold {
				alert = existing
			}
		}
	}

	if alert != nil {
		if err := w.alertsRepo.MergeDetection(ctx, tx, alert.AlertID, now, severity, extra); err != nil {
			return err
		}
	} else {
		alert = &models.Alert{
			AlertID:         uuid.New().String(),
			PublicID:        uuid.New().String(),
			GodownID:        session.GodownID,
			CameraID:        session.EntryCameraID,
			AlertType:       models.AlertDispatchDelay,
			Severity:        severity,
			Status:          models.AlertStatusOpen,
			Summary:         fmt.Sprintf("Vehicle %s parked %dh+ at %s", session.PlateText, threshold, session.GodownID),
			StartTime:       now,
			Details:         extra,
			FirstDetectedAt: now,
			LastDetectionAt: now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := w.alertsRepo.CreateAlert(ctx, tx, alert); err != nil {
			return err
		}
		created = true
	}

	if err := w.sessionsRepo.RecordReminder(ctx, tx, session.SessionID, threshold, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reminder: %w", err)
	}
	committed = true
	session.RemindersSent[strconv.Itoa(threshold)] = now

	w.logger.Info("Dwell reminder fired",
		zap.String("session_id", session.SessionID),
		zap.String("plate_norm", session.PlateNorm),
		zap.Int("threshold_hours", threshold),
		zap.String("severity", severity),
		zap.Bool("created", created),
	)

	if created && w.notifier != nil {
		if err := w.notifier.NotifyAlert(ctx, alert); err != nil {
			w.logger.Error("Failed to enqueue reminder notifications",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err))
		}
	}

	return nil
}

func (w *Watchdog) scanDispatchIssues(ctx context.Context, now time.Time) error {
	issues, err := w.issuesRepo.ListOpenIssues(ctx)
	if err != nil {
		return err
	}

	deadline := time.Duration(w.config.Gate.DispatchDeadlineHr) * time.Hour

	for _, issue := range issues {
		due := issue.IssueTime.Add(deadline)

		movement, err := w.eventsRepo.FindMovementEvent(ctx, issue.GodownID, issue.ZoneID, issue.IssueTime, due)
		if err != nil {
			w.logger.Error("Failed to check dispatch issue",
				zap.String("issue_id", issue.IssueID),
				zap.Error(err))
			continue
		}

		if movement != nil {
			if err := w.issuesRepo.MarkStarted(ctx, w.db, issue.IssueID, movement.EventID); err != nil {
				w.logger.Error("Failed to mark dispatch issue started",
					zap.String("issue_id", issue.IssueID),
					zap.Error(err))
			}
			continue
		}

		if now.Before(due) {
			continue
		}

		if err := w.raiseNotStarted(ctx, issue, now); err != nil {
			w.logger.Error("Failed to raise dispatch deadline alert",
				zap.String("issue_id", issue.IssueID),
				zap.Error(err))
		}
	}

	return nil
}

func (w *Watchdog) raiseNotStarted(ctx context.Context, issue *models.DispatchIssue, now time.Time) error {
	details := models.DispatchNotStartedDetails{
		IssueID:   issue.IssueID,
		IssueTime: issue.IssueTime,
	}
	if issue.ZoneID != nil {
		details.ZoneID = *issue.ZoneID
	}
	extra, err := models.EncodeDetails(details)
	if err != nil {
		return err
	}

	alert := &models.Alert{
		AlertID:         uuid.New().String(),
		PublicID:        uuid.New().String(),
		GodownID:        issue.GodownID,
		AlertType:       models.AlertDispatchNotStarted,
		Severity:        models.SeverityCritical,
		Status:          models.AlertStatusOpen,
		ZoneID:          issue.ZoneID,
		Summary:         fmt.Sprintf("Dispatch %s not started within %dh", issue.IssueID, w.config.Gate.DispatchDeadlineHr),
		StartTime:       now,
		Details:         extra,
		FirstDetectedAt: now,
		LastDetectionAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := w.alertsRepo.CreateAlert(ctx, tx, alert); err != nil {
		return err
	}
	if err := w.issuesRepo.MarkAlerted(ctx, tx, issue.IssueID, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deadline alert: %w", err)
	}
	committed = true

	w.logger.Warn("Dispatch deadline missed",
		zap.String("issue_id", issue.IssueID),
		zap.String("godown_id", issue.GodownID),
		zap.String("alert_id", alert.AlertID),
	)

	if w.notifier != nil {
		if err := w.notifier.NotifyAlert(ctx, alert); err != nil {
			w.logger.Error("Failed to enqueue deadline notifications",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err))
		}
	}

	return nil
}
