package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"

	"go.uber.org/zap"
)

// Defaults applied when a godown has no policy row.
const (
	DefaultTimezone = "Asia/Kolkata"
	DefaultDayStart = "06:00"
	DefaultDayEnd   = "19:00"
)

type cacheEntry struct {
	policy   *models.AfterHoursPolicy
	cachedAt time.Time
}

// Resolver answers "is this instant after-hours for this godown" from the
// per-godown policy table, with a small TTL cache in front so the engine does
// not hit the table on every event.
type Resolver struct {
	sitesRepo *repository.SitesRepository
	ttl       time.Duration
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewResolver creates the policy resolver.
func NewResolver(sitesRepo *repository.SitesRepository, ttl time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		sitesRepo: sitesRepo,
		ttl:       ttl,
		logger:    logger,
		cache:     map[string]cacheEntry{},
	}
}

// Get returns the godown's policy, falling back to defaults when none is
// configured. The fallback is cached like a real policy.
func (r *Resolver) Get(ctx context.Context, godownID string) (*models.AfterHoursPolicy, error) {
	if godownID == "" {
		return nil, fmt.Errorf("godown_id is required")
	}

	r.mu.Lock()
	entry, ok := r.cache[godownID]
	r.mu.Unlock()
	if ok && time.Since(entry.cachedAt) < r.ttl {
		return entry.policy, nil
	}

	policy, err := r.sitesRepo.GetAfterHoursPolicy(ctx, godownID)
	if err != nil {
		// Serve a stale entry over failing the event.
		if ok {
			r.logger.Warn("Policy lookup failed, serving stale entry",
				zap.String("godown_id", godownID),
				zap.Error(err))
			return entry.policy, nil
		}
		return nil, err
	}

	if policy == nil {
		policy = &models.AfterHoursPolicy{
			GodownID:        godownID,
			Timezone:        DefaultTimezone,
			DayStart:        DefaultDayStart,
			DayEnd:          DefaultDayEnd,
			PresenceAllowed: false,
			DaySeverity:     models.SeverityWarning,
		}
	}

	r.mu.Lock()
	r.cache[godownID] = cacheEntry{policy: policy, cachedAt: time.Now()}
	r.mu.Unlock()

	return policy, nil
}

// IsAfterHours reports whether the instant falls outside the godown's
// working window [day_start, day_end) in its local timezone. An unparseable
// timezone or window errs on the side of after-hours.
func (r *Resolver) IsAfterHours(ctx context.Context, godownID string, at time.Time) (bool, *models.AfterHoursPolicy, error) {
	policy, err := r.Get(ctx, godownID)
	if err != nil {
		return false, nil, err
	}

	after := isOutsideWindow(policy, at, r.logger)
	return after, policy, nil
}

func isOutsideWindow(policy *models.AfterHoursPolicy, at time.Time, logger *zap.Logger) bool {
	loc, err := time.LoadLocation(policy.Timezone)
	if err != nil {
		logger.Warn("Invalid policy timezone, assuming after-hours",
			zap.String("godown_id", policy.GodownID),
			zap.String("timezone", policy.Timezone))
		return true
	}

	local := at.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	start, err := parseClock(policy.DayStart)
	if err != nil {
		logger.Warn("Invalid day_start, assuming after-hours",
			zap.String("godown_id", policy.GodownID),
			zap.String("day_start", policy.DayStart))
		return true
	}
	end, err := parseClock(policy.DayEnd)
	if err != nil {
		logger.Warn("Invalid day_end, assuming after-hours",
			zap.String("godown_id", policy.GodownID),
			zap.String("day_end", policy.DayEnd))
		return true
	}

	if start <= end {
		return minutes < start || minutes >= end
	}
	// Working window wraps midnight.
	return minutes < start && minutes >= end
}

func parseClock(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Invalidate drops a godown's cache entry. Used after provisioning updates.
func (r *Resolver) Invalidate(godownID string) {
	r.mu.Lock()
	delete(r.cache, godownID)
	r.mu.Unlock()
}
