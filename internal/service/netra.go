package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/cache"
	"github.com/krishvatech/pds-netra-sub000/internal/config"
	"github.com/krishvatech/pds-netra-sub000/internal/consumer"
	"github.com/krishvatech/pds-netra-sub000/internal/database"
	"github.com/krishvatech/pds-netra-sub000/internal/engine"
	"github.com/krishvatech/pds-netra-sub000/internal/gate"
	"github.com/krishvatech/pds-netra-sub000/internal/mqtt"
	"github.com/krishvatech/pds-netra-sub000/internal/notify"
	"github.com/krishvatech/pds-netra-sub000/internal/policy"
	"github.com/krishvatech/pds-netra-sub000/internal/report"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
	"github.com/krishvatech/pds-netra-sub000/internal/token"
)

// NetraService wires the full surveillance core: ingestion, correlation,
// gate tracking, delivery, and reporting.
type NetraService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger

	eventsRepo   *repository.EventsRepository
	alertsRepo   *repository.AlertsRepository
	sessionsRepo *repository.GateSessionsRepository
	issuesRepo   *repository.DispatchIssuesRepository
	sitesRepo    *repository.SitesRepository
	outboxRepo   *repository.OutboxRepository

	policies *policy.Resolver
	engine   *engine.Engine
	tracker  *gate.Tracker
	watchdog *gate.Watchdog
	tokens   *token.Service
	notifier *notify.Notifier
	worker   *notify.Worker
	consumer *consumer.Consumer
	reports  *report.Generator
}

// NewNetraService connects the backing stores and assembles every component.
func NewNetraService(cfg *config.Config, logger *zap.Logger) (*NetraService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, err
	}

	redisClient := cache.NewRedisClient(&cfg.Redis)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	eventsRepo := repository.NewEventsRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)
	sessionsRepo := repository.NewGateSessionsRepository(db, logger)
	issuesRepo := repository.NewDispatchIssuesRepository(db, logger)
	sitesRepo := repository.NewSitesRepository(db, logger)
	outboxRepo := repository.NewOutboxRepository(db, logger)

	policies := policy.NewResolver(sitesRepo,
		time.Duration(cfg.Rules.PolicyCacheTTLSec)*time.Second, logger)
	eng := engine.New(cfg, alertsRepo, sitesRepo, policies, logger)
	tracker := gate.NewTracker(cfg, sessionsRepo, alertsRepo, logger)

	tokens := token.NewService(alertsRepo,
		time.Duration(cfg.Notify.AckTTLMinutes)*time.Minute, logger)
	guard := cache.NewCooldownGuard(redisClient, logger)
	notifier := notify.NewNotifier(cfg, db, sitesRepo, outboxRepo, tokens, guard, logger)

	provider, err := notify.NewProvider(cfg, logger)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}
	worker := notify.NewWorker(cfg, outboxRepo, provider, logger)

	watchdog := gate.NewWatchdog(cfg, db, sessionsRepo, alertsRepo, eventsRepo, issuesRepo, notifier, logger)
	eventConsumer := consumer.NewConsumer(cfg, db, eventsRepo, eng, tracker, notifier, logger)
	reports := report.NewGenerator(cfg, db, alertsRepo, sitesRepo, outboxRepo, logger)

	return &NetraService{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		logger:       logger,
		eventsRepo:   eventsRepo,
		alertsRepo:   alertsRepo,
		sessionsRepo: sessionsRepo,
		issuesRepo:   issuesRepo,
		sitesRepo:    sitesRepo,
		outboxRepo:   outboxRepo,
		policies:     policies,
		engine:       eng,
		tracker:      tracker,
		watchdog:     watchdog,
		tokens:       tokens,
		notifier:     notifier,
		worker:       worker,
		consumer:     eventConsumer,
		reports:      reports,
	}, nil
}

// Start connects to the broker and launches the background loops. Blocks
// until the context is cancelled.
func (s *NetraService) Start(ctx context.Context) error {
	s.logger.Info("Starting PDS Netra core")

	mqttClient, err := mqtt.NewClient(&s.config.MQTT, s.logger)
	if err != nil {
		return err
	}
	s.mqttClient = mqttClient

	if err := s.consumer.Start(mqttClient); err != nil {
		return err
	}
	s.logger.Info("Event consumer subscribed", zap.String("topic", s.config.MQTT.Topic))

	go s.watchdog.Run(ctx)
	go s.worker.Run(ctx)
	if s.config.Report.Enabled {
		go s.reports.Run(ctx)
	}

	<-ctx.Done()
	return nil
}

// Stop releases broker and store connections.
func (s *NetraService) Stop() {
	s.logger.Info("Stopping PDS Netra core")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis client", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
}

// Notifier exposes the delivery-callback entry point for an embedding server.
func (s *NetraService) Notifier() *notify.Notifier {
	return s.notifier
}

// Tokens exposes the acknowledgment service for an embedding server.
func (s *NetraService) Tokens() *token.Service {
	return s.tokens
}
