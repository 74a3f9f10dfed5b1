package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

// fireHandler: always critical. A fire detection merges into any OPEN or ACK
// fire alert on the same camera no matter how old; acknowledging a fire does
// not stop it from accumulating evidence. A fresh alert is gated by a
// standalone cooldown so a flapping detector cannot create a storm.
type fireHandler struct {
	engine *Engine
}

func newFireHandler(e *Engine) *fireHandler {
	return &fireHandler{engine: e}
}

func (h *fireHandler) evaluate(ctx context.Context, q repository.Querier, event *models.Event) (*Outcome, error) {
	e := h.engine

	details := models.FireDetails{}
	if event.Meta.FireClasses != nil {
		details.Classes = event.Meta.FireClasses
	}
	if event.Meta.FireConfidence != nil {
		details.Confidence = *event.Meta.FireConfidence
	}

	existing, err := e.alertsRepo.FindOpenOrAckAlertForCamera(ctx, q, event.CameraID, models.AlertFire)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.merge(ctx, q, existing, event, models.SeverityCritical, details)
	}

	cooldown := time.Duration(e.config.Rules.FireCooldownSec) * time.Second
	recent, err := e.alertsRepo.AlertCreatedSince(ctx, q, event.GodownID, models.AlertFire, time.Now().UTC().Add(-cooldown))
	if err != nil {
		return nil, err
	}
	if recent {
		e.logger.Info("Fire alert suppressed by cooldown",
			zap.String("event_id", event.EventID),
			zap.String("godown_id", event.GodownID))
		return nil, nil
	}

	summary := fmt.Sprintf("Fire detected on camera %s", event.CameraID)
	alert, err := e.newAlert(event, models.AlertFire, models.SeverityCritical, summary, details)
	if err != nil {
		return nil, err
	}
	if err := e.alertsRepo.CreateAlert(ctx, q, alert); err != nil {
		return nil, err
	}

	return &Outcome{Alert: alert, Created: true}, nil
}
