package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

// animalHandler: severity depends on the site's night window (night is
// always critical, day is policy-configured). The correlation key includes
// the inferred species, so a dog alert and a cow alert run concurrently
// while two dog detections inside the cooldown window merge.
type animalHandler struct {
	engine *Engine
}

func newAnimalHandler(e *Engine) *animalHandler {
	return &animalHandler{engine: e}
}

func (h *animalHandler) evaluate(ctx context.Context, q repository.Querier, event *models.Event) (*Outcome, error) {
	e := h.engine

	species := "unknown"
	if event.Meta.AnimalSpecies != nil && *event.Meta.AnimalSpecies != "" {
		species = *event.Meta.AnimalSpecies
	}
	count := 1
	if event.Meta.AnimalCount != nil && *event.Meta.AnimalCount > 0 {
		count = *event.Meta.AnimalCount
	}

	night, sitePolicy, err := e.policies.IsAfterHours(ctx, event.GodownID, event.OccurredAt)
	if err != nil {
		return nil, err
	}

	severity := models.SeverityCritical
	if !night {
		severity = e.config.Rules.AnimalDaySeverity
		if sitePolicy != nil && models.SeverityRank(sitePolicy.DaySeverity) > 0 {
			severity = sitePolicy.DaySeverity
		}
	}

	details := models.AnimalDetails{
		Species: species,
		Count:   count,
		Night:   night,
	}

	cooldown := time.Duration(e.config.Rules.AnimalCooldownSec) * time.Second
	since := time.Now().UTC().Add(-cooldown)
	existing, err := e.alertsRepo.FindOpenAlertByDetail(ctx, q,
		event.GodownID, models.AlertAnimalIntrusion, "animal_species", species, &since)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.merge(ctx, q, existing, event, severity, details)
	}

	summary := fmt.Sprintf("Animal intrusion (%s) at %s", species, event.GodownID)
	alert, err := e.newAlert(event, models.AlertAnimalIntrusion, severity, summary, details)
	if err != nil {
		return nil, err
	}
	if err := e.alertsRepo.CreateAlert(ctx, q, alert); err != nil {
		return nil, err
	}

	return &Outcome{Alert: alert, Created: true}, nil
}
