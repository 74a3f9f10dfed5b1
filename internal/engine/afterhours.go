package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

// afterHoursHandler: presence (person, vehicle or ANPR sighting) raises an
// alert only outside the site's working window and only when the policy
// disallows it. A live (OPEN or ACK) alert absorbs further sightings until it
// is closed; otherwise the policy cooldown gates creation.
type afterHoursHandler struct {
	engine *Engine
}

func newAfterHoursHandler(e *Engine) *afterHoursHandler {
	return &afterHoursHandler{engine: e}
}

func (h *afterHoursHandler) evaluate(ctx context.Context, q repository.Querier, event *models.Event) (*Outcome, error) {
	e := h.engine

	after, sitePolicy, err := e.policies.IsAfterHours(ctx, event.GodownID, event.OccurredAt)
	if err != nil {
		return nil, err
	}
	event.Meta.AfterHours = &after
	if !after {
		return nil, nil
	}
	if sitePolicy.PresenceAllowed {
		return nil, nil
	}

	count := presenceCount(event)
	if count <= 0 {
		return nil, nil
	}

	details := models.AfterHoursDetails{
		EventType:   event.EventType,
		PersonCount: count,
		WindowStart: sitePolicy.DayStart,
		WindowEnd:   sitePolicy.DayEnd,
	}

	existing, err := e.alertsRepo.FindLiveAlert(ctx, q,
		event.GodownID, models.AlertAfterHoursPresence, event.Meta.ZoneID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.merge(ctx, q, existing, event, models.SeverityCritical, details)
	}

	cooldown := time.Duration(sitePolicy.CooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = e.correlationWindow()
	}
	recent, err := e.alertsRepo.AlertCreatedSince(ctx, q,
		event.GodownID, models.AlertAfterHoursPresence, time.Now().UTC().Add(-cooldown))
	if err != nil {
		return nil, err
	}
	if recent {
		e.logger.Info("After-hours alert suppressed by cooldown",
			zap.String("event_id", event.EventID),
			zap.String("godown_id", event.GodownID))
		return nil, nil
	}

	summary := fmt.Sprintf("After-hours presence at %s (window %s-%s)",
		event.GodownID, sitePolicy.DayStart, sitePolicy.DayEnd)
	alert, err := e.newAlert(event, models.AlertAfterHoursPresence, models.SeverityCritical, summary, details)
	if err != nil {
		return nil, err
	}
	if err := e.alertsRepo.CreateAlert(ctx, q, alert); err != nil {
		return nil, err
	}

	return &Outcome{Alert: alert, Created: true}, nil
}

// presenceCount reads the detection count from meta.extra, defaulting to 1
// when the node reported a presence without a count.
func presenceCount(event *models.Event) int {
	raw, ok := event.Meta.Extra["count"]
	if !ok {
		return 1
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 1
}
