package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/config"
	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

// Generator produces the per-godown daily alert workbook and queues it for
// email delivery through the outbox.
type Generator struct {
	config     *config.Config
	db         *sql.DB
	alertsRepo *repository.AlertsRepository
	sitesRepo  *repository.SitesRepository
	outboxRepo *repository.OutboxRepository
	logger     *zap.Logger
}

// NewGenerator creates the daily report generator.
func NewGenerator(
	cfg *config.Config,
	db *sql.DB,
	alertsRepo *repository.AlertsRepository,
	sitesRepo *repository.SitesRepository,
	outboxRepo *repository.OutboxRepository,
	logger *zap.Logger,
) *Generator {
	return &Generator{
		config:     cfg,
		db:         db,
		alertsRepo: alertsRepo,
		sitesRepo:  sitesRepo,
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

// Run generates reports shortly after each UTC midnight for the day that just
// ended, until the context is cancelled.
func (g *Generator) Run(ctx context.Context) {
	g.logger.Info("Report scheduler started", zap.String("spool_dir", g.config.Report.SpoolDir))

	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24*time.Hour + 5*time.Minute)

		select {
		case <-ctx.Done():
			g.logger.Info("Report scheduler stopped")
			return
		case <-time.After(next.Sub(now)):
			day := next.Truncate(24 * time.Hour).Add(-24 * time.Hour)
			if err := g.GenerateAll(ctx, day); err != nil {
				g.logger.Error("Daily report run failed", zap.Error(err))
			}
		}
	}
}

// GenerateAll builds one workbook per godown for the given day. Per-godown
// failures are logged and do not stop the run.
func (g *Generator) GenerateAll(ctx context.Context, day time.Time) error {
	godowns, err := g.sitesRepo.ListGodownIDs(ctx)
	if err != nil {
		return err
	}

	for _, godownID := range godowns {
		if _, err := g.GenerateDaily(ctx, godownID, day); err != nil {
			g.logger.Error("Failed to generate daily report",
				zap.String("godown_id", godownID),
				zap.Time("day", day),
				zap.Error(err),
			)
		}
	}

	return nil
}

// GenerateDaily builds the workbook for one godown and day, writes it to the
// spool directory, and enqueues an email per configured endpoint. The report
// id is derived from (godown, day) so re-running a day never double-sends.
func (g *Generator) GenerateDaily(ctx context.Context, godownID string, day time.Time) (string, error) {
	if godownID == "" {
		return "", fmt.Errorf("godown_id is required")
	}

	from := day.Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)

	alerts, err := g.alertsRepo.ListAlertsForRange(ctx, godownID, from, to)
	if err != nil {
		return "", err
	}

	path, err := g.writeWorkbook(godownID, from, alerts)
	if err != nil {
		return "", err
	}

	g.logger.Info("Daily report written",
		zap.String("godown_id", godownID),
		zap.String("path", path),
		zap.Int("alerts", len(alerts)),
	)

	reportID := fmt.Sprintf("daily-%s-%s", godownID, from.Format("2006-01-02"))
	if err := g.enqueueEmails(ctx, godownID, reportID, from, path, len(alerts)); err != nil {
		return "", err
	}

	return path, nil
}

const sheetName = "Alerts"

var reportHeaders = []string{
	"Public ID", "Type", "Severity", "Status", "Camera", "Zone",
	"Summary", "Start Time", "End Time", "Acknowledged",
}

func (g *Generator) writeWorkbook(godownID string, day time.Time, alerts []*models.Alert) (string, error) {
	if err := os.MkdirAll(g.config.Report.SpoolDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create spool dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", sheetName)

	for col, header := range reportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return "", err
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return "", err
		}
	}

	for i, alert := range alerts {
		rowIdx := i + 2
		zone := ""
		if alert.ZoneID != nil {
			zone = *alert.ZoneID
		}
		endTime := ""
		if alert.EndTime != nil {
			endTime = alert.EndTime.Format(time.RFC3339)
		}
		acked := ""
		if alert.AckUsedAt != nil {
			acked = alert.AckUsedAt.Format(time.RFC3339)
		}

		values := []interface{}{
			alert.PublicID, alert.AlertType, alert.Severity, alert.Status,
			alert.CameraID, zone, alert.Summary,
			alert.StartTime.Format(time.RFC3339), endTime, acked,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx)
			if err != nil {
				return "", err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return "", err
			}
		}
	}

	path := filepath.Join(g.config.Report.SpoolDir,
		fmt.Sprintf("alerts-%s-%s.xlsx", godownID, day.Format("2006-01-02")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}

	return path, nil
}

func (g *Generator) enqueueEmails(ctx context.Context, godownID, reportID string, day time.Time, path string, alertCount int) error {
	endpoints, err := g.sitesRepo.ListNotifyEndpoints(ctx, godownID)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Daily alert report %s %s", godownID, day.Format("2006-01-02"))
	message := fmt.Sprintf("Daily alert report for godown %s, %s: %d alert(s). Workbook attached.",
		godownID, day.Format("2006-01-02"), alertCount)

	seen := make(map[string]bool)
	for _, ep := range endpoints {
		if ep.Channel != models.ChannelEmail || seen[ep.Target] {
			continue
		}
		seen[ep.Target] = true

		rid := reportID
		attachment := path
		row := &models.NotificationOutbox{
			OutboxID: uuid.New().String(),
			Kind:     models.OutboxKindReport,
			ReportID: &rid,
			Channel:  models.ChannelEmail,
			Target:   ep.Target,
			Subject:  &subject,
			Message:  message,
			MediaURL: &attachment,
			Status:   models.OutboxStatusPending,
		}

		if _, err := g.outboxRepo.Enqueue(ctx, g.db, row); err != nil {
			g.logger.Error("Failed to enqueue report email",
				zap.String("report_id", reportID),
				zap.String("target", ep.Target),
				zap.Error(err),
			)
		}
	}

	return nil
}
