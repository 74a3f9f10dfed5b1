package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/krishvatech/pds-netra-sub000/internal/models"

	"go.uber.org/zap"
)

// SitesRepository reads per-site configuration: after-hours policies, camera
// zone polygons and notification endpoints. All three tables are written by
// the provisioning tooling; this service only reads them.
type SitesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSitesRepository creates the sites repository.
func NewSitesRepository(db *sql.DB, logger *zap.Logger) *SitesRepository {
	return &SitesRepository{
		db:     db,
		logger: logger,
	}
}

// GetAfterHoursPolicy returns the godown's day/night policy, or (nil, nil)
// when the godown has none configured.
func (r *SitesRepository) GetAfterHoursPolicy(ctx context.Context, godownID string) (*models.AfterHoursPolicy, error) {
	if godownID == "" {
		return nil, fmt.Errorf("godown_id is required")
	}

	query := `
		SELECT godown_id, timezone, day_start, day_end,
		       presence_allowed, cooldown_seconds, day_severity
		FROM godown_policies
		WHERE godown_id = $1
	`

	var p models.AfterHoursPolicy
	err := r.db.QueryRowContext(ctx, query, godownID).Scan(
		&p.GodownID,
		&p.Timezone,
		&p.DayStart,
		&p.DayEnd,
		&p.PresenceAllowed,
		&p.CooldownSeconds,
		&p.DaySeverity,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get after-hours policy: %w", err)
	}

	return &p, nil
}

// ListCameraZones returns the polygons configured on a camera view.
func (r *SitesRepository) ListCameraZones(ctx context.Context, cameraID string) ([]*models.CameraZone, error) {
	if cameraID == "" {
		return nil, fmt.Errorf("camera_id is required")
	}

	query := `
		SELECT zone_id, camera_id, godown_id, name, polygon
		FROM camera_zones
		WHERE camera_id = $1
		ORDER BY zone_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, cameraID)
	if err != nil {
		return nil, fmt.Errorf("failed to list camera zones: %w", err)
	}
	defer rows.Close()

	zones := []*models.CameraZone{}
	for rows.Next() {
		var z models.CameraZone
		var polygonJSON []byte

		err := rows.Scan(&z.ZoneID, &z.CameraID, &z.GodownID, &z.Name, &polygonJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera zone: %w", err)
		}

		if len(polygonJSON) > 0 {
			if err := json.Unmarshal(polygonJSON, &z.Polygon); err != nil {
				r.logger.Warn("Invalid zone polygon, skipping zone",
					zap.String("zone_id", z.ZoneID),
					zap.Error(err))
				continue
			}
		}

		zones = append(zones, &z)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate camera zones: %w", err)
	}

	return zones, nil
}

// ListGodownIDs returns every registered godown id.
func (r *SitesRepository) ListGodownIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT godown_id
		FROM godowns
		ORDER BY godown_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list godowns: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan godown id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate godowns: %w", err)
	}

	return ids, nil
}

// ListNotifyEndpoints returns the enabled delivery destinations for a godown:
// every HQ endpoint plus the godown's own SITE endpoints.
func (r *SitesRepository) ListNotifyEndpoints(ctx context.Context, godownID string) ([]*models.NotifyEndpoint, error) {
	if godownID == "" {
		return nil, fmt.Errorf("godown_id is required")
	}

	query := `
		SELECT endpoint_id, scope, godown_id, channel, target, enabled
		FROM notify_endpoints
		WHERE enabled = TRUE
		  AND (scope = $1 OR (scope = $2 AND godown_id = $3))
		ORDER BY endpoint_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, models.ScopeHQ, models.ScopeSite, godownID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notify endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := []*models.NotifyEndpoint{}
	for rows.Next() {
		var e models.NotifyEndpoint
		var epGodownID sql.NullString

		err := rows.Scan(&e.EndpointID, &e.Scope, &epGodownID, &e.Channel, &e.Target, &e.Enabled)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notify endpoint: %w", err)
		}

		if epGodownID.Valid {
			e.GodownID = &epGodownID.String
		}

		endpoints = append(endpoints, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notify endpoints: %w", err)
	}

	return endpoints, nil
}
