package engine

import (
	"github.com/krishvatech/pds-netra-sub000/internal/models"
)

// InferZone resolves which configured zone a detection box falls in, tried
// in order of decreasing confidence: box centroid inside the polygon, any
// box corner inside, then polygon bounding-box overlap. Returns nil when no
// zone matches.
func InferZone(zones []*models.CameraZone, bbox *models.BBox) *string {
	if bbox == nil || len(zones) == 0 {
		return nil
	}

	centroid := models.Point{
		X: (bbox.X1 + bbox.X2) / 2,
		Y: (bbox.Y1 + bbox.Y2) / 2,
	}
	for _, zone := range zones {
		if pointInPolygon(centroid, zone.Polygon) {
			return &zone.ZoneID
		}
	}

	corners := []models.Point{
		{X: bbox.X1, Y: bbox.Y1},
		{X: bbox.X2, Y: bbox.Y1},
		{X: bbox.X2, Y: bbox.Y2},
		{X: bbox.X1, Y: bbox.Y2},
	}
	for _, zone := range zones {
		for _, corner := range corners {
			if pointInPolygon(corner, zone.Polygon) {
				return &zone.ZoneID
			}
		}
	}

	for _, zone := range zones {
		if boxOverlapsPolygonBounds(bbox, zone.Polygon) {
			return &zone.ZoneID
		}
	}

	return nil
}

// pointInPolygon is the standard ray-casting test. Polygons with fewer than
// 3 vertices match nothing.
func pointInPolygon(p models.Point, polygon []models.Point) bool {
	if len(polygon) < 3 {
		return false
	}

	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		pi, pj := polygon[i], polygon[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) &&
			p.X < (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
		j = i
	}
	return inside
}

func boxOverlapsPolygonBounds(bbox *models.BBox, polygon []models.Point) bool {
	if len(polygon) < 3 {
		return false
	}

	minX, minY := polygon[0].X, polygon[0].Y
	maxX, maxY := minX, minY
	for _, p := range polygon[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}

	return bbox.X1 <= maxX && bbox.X2 >= minX && bbox.Y1 <= maxY && bbox.Y2 >= minY
}
