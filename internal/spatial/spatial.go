// Package spatial holds the geometry primitives behind zone containment.
package spatial

import (
	"math"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/paulmach/orb"
)

// EarthRadiusMeters mean earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// Distance great-circle distance in meters (haversine).
func Distance(a, b models.GeoPoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// InCircle reports whether p lies within the circle, boundary included.
func InCircle(p models.GeoPoint, c models.Circle) bool {
	return Distance(p, c.Center) <= c.RadiusMeters
}

// InPolygon even-odd ray casting on raw lat/lon. Points exactly on an edge
// may land on either side depending on edge orientation.
func InPolygon(p models.GeoPoint, poly models.Polygon) bool {
	ring := toRing(poly)
	if len(ring) < 3 {
		return false
	}
	pt := toPoint(p)
	if !ring.Bound().Contains(pt) {
		return false
	}

	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > pt[1]) != (yj > pt[1]) &&
			pt[0] < (xj-xi)*(pt[1]-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// Centroid arithmetic mean of the vertices. Not the area centroid.
func Centroid(poly models.Polygon) models.GeoPoint {
	if len(poly.Vertices) == 0 {
		return models.GeoPoint{}
	}
	var sumLat, sumLon float64
	for _, v := range poly.Vertices {
		sumLat += v.Lat
		sumLon += v.Lon
	}
	n := float64(len(poly.Vertices))
	return models.GeoPoint{Lat: sumLat / n, Lon: sumLon / n}
}

// Contains dispatches on the geometry kind. Malformed geometry contains nothing.
func Contains(p models.GeoPoint, g models.Geometry) bool {
	switch g.Kind {
	case models.GeometryCircle:
		return g.Circle != nil && InCircle(p, *g.Circle)
	case models.GeometryPolygon:
		return g.Polygon != nil && InPolygon(p, *g.Polygon)
	}
	return false
}

// Center the circle center or polygon centroid.
func Center(g models.Geometry) models.GeoPoint {
	switch {
	case g.Kind == models.GeometryCircle && g.Circle != nil:
		return g.Circle.Center
	case g.Kind == models.GeometryPolygon && g.Polygon != nil:
		return Centroid(*g.Polygon)
	}
	return models.GeoPoint{}
}

func toPoint(p models.GeoPoint) orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

func toRing(poly models.Polygon) orb.Ring {
	ring := make(orb.Ring, 0, len(poly.Vertices))
	for _, v := range poly.Vertices {
		ring = append(ring, toPoint(v))
	}
	return ring
}
