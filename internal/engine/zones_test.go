package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishvatech/pds-netra-sub000/internal/models"
)

func squareZone(zoneID string, x, y, size float64) *models.CameraZone {
	return &models.CameraZone{
		ZoneID:   zoneID,
		CameraID: "CAM-01",
		GodownID: "GDN-042",
		Name:     zoneID,
		Polygon: []models.Point{
			{X: x, Y: y},
			{X: x + size, Y: y},
			{X: x + size, Y: y + size},
			{X: x, Y: y + size},
		},
	}
}

func TestInferZone_Centroid(t *testing.T) {
	zones := []*models.CameraZone{
		squareZone("Z-A", 0, 0, 100),
		squareZone("Z-B", 200, 0, 100),
	}

	bbox := &models.BBox{X1: 210, Y1: 10, X2: 290, Y2: 90}
	zoneID := InferZone(zones, bbox)

	require.NotNil(t, zoneID)
	assert.Equal(t, "Z-B", *zoneID)
}

func TestInferZone_CornerFallback(t *testing.T) {
	zones := []*models.CameraZone{squareZone("Z-A", 0, 0, 100)}

	// Centroid at (140, 50) is outside, but the left corners are inside.
	bbox := &models.BBox{X1: 80, Y1: 40, X2: 200, Y2: 60}
	zoneID := InferZone(zones, bbox)

	require.NotNil(t, zoneID)
	assert.Equal(t, "Z-A", *zoneID)
}

func TestInferZone_BoundsOverlapFallback(t *testing.T) {
	zones := []*models.CameraZone{squareZone("Z-A", 50, 50, 100)}

	// Wide box crossing the square's top edge: centroid sits on the
	// boundary (counts as outside for ray casting) and every corner is
	// outside, leaving only the bounds-overlap fallback.
	bbox := &models.BBox{X1: -100, Y1: 140, X2: 300, Y2: 160}
	zoneID := InferZone(zones, bbox)

	require.NotNil(t, zoneID)
	assert.Equal(t, "Z-A", *zoneID)
}

func TestInferZone_NoMatch(t *testing.T) {
	zones := []*models.CameraZone{squareZone("Z-A", 0, 0, 100)}

	bbox := &models.BBox{X1: 500, Y1: 500, X2: 600, Y2: 600}
	zoneID := InferZone(zones, bbox)

	assert.Nil(t, zoneID)
}

func TestInferZone_NilBBox(t *testing.T) {
	zones := []*models.CameraZone{squareZone("Z-A", 0, 0, 100)}

	assert.Nil(t, InferZone(zones, nil))
	assert.Nil(t, InferZone(nil, &models.BBox{X1: 1, Y1: 1, X2: 2, Y2: 2}))
}

func TestPointInPolygon_Triangle(t *testing.T) {
	triangle := []models.Point{
		{X: 0, Y: 0},
		{X: 10, Y: 0},
		{X: 5, Y: 10},
	}

	assert.True(t, pointInPolygon(models.Point{X: 5, Y: 3}, triangle))
	assert.False(t, pointInPolygon(models.Point{X: 0, Y: 10}, triangle))
}

func TestPointInPolygon_DegeneratePolygon(t *testing.T) {
	line := []models.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}
	assert.False(t, pointInPolygon(models.Point{X: 5, Y: 5}, line))
}
