package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/krishvatech/pds-netra-sub000/internal/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// NewRedisClient creates a Redis client from config.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// CooldownGuard suppresses notification storms: at most one outbox enqueue
// per (alert, channel) inside the cooldown window. The guard is advisory;
// the outbox uniqueness constraint remains the hard idempotency barrier.
type CooldownGuard struct {
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCooldownGuard creates a cooldown guard.
func NewCooldownGuard(redisClient *redis.Client, logger *zap.Logger) *CooldownGuard {
	return &CooldownGuard{
		redisClient: redisClient,
		logger:      logger,
	}
}

func (g *CooldownGuard) key(alertID, channel string) string {
	return fmt.Sprintf("netra:notify:cooldown:%s:%s", alertID, channel)
}

// Acquire returns true if the (alert, channel) pair is outside its cooldown
// window, and starts a new window. A Redis outage fails open: delivery is
// more important than storm suppression.
func (g *CooldownGuard) Acquire(ctx context.Context, alertID, channel string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}

	ok, err := g.redisClient.SetNX(ctx, g.key(alertID, channel), time.Now().Unix(), cooldown).Result()
	if err != nil {
		g.logger.Warn("Cooldown guard unavailable, allowing enqueue",
			zap.String("alert_id", alertID),
			zap.String("channel", channel),
			zap.Error(err),
		)
		return true
	}

	return ok
}
