package models

import (
	"encoding/json"
	"fmt"
)

// GeoPoint WGS84 coordinates in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// GeometryKind discriminates zone shapes.
type GeometryKind string

const (
	GeometryCircle  GeometryKind = "circle"
	GeometryPolygon GeometryKind = "polygon"
)

// Circle a center point plus radius in meters.
type Circle struct {
	Center       GeoPoint `json:"center"`
	RadiusMeters float64  `json:"radius"`
}

// Polygon an ordered vertex list; the ring is closed implicitly.
type Polygon struct {
	Vertices []GeoPoint `json:"vertices"`
}

// Geometry exactly one of Circle or Polygon is set, matching Kind.
type Geometry struct {
	Kind    GeometryKind `json:"type"`
	Circle  *Circle      `json:"circle,omitempty"`
	Polygon *Polygon     `json:"polygon,omitempty"`
}

// NewCircleGeometry builds a circular geometry.
func NewCircleGeometry(center GeoPoint, radiusMeters float64) Geometry {
	return Geometry{Kind: GeometryCircle, Circle: &Circle{Center: center, RadiusMeters: radiusMeters}}
}

// NewPolygonGeometry builds a polygon geometry.
func NewPolygonGeometry(vertices ...GeoPoint) Geometry {
	return Geometry{Kind: GeometryPolygon, Polygon: &Polygon{Vertices: vertices}}
}

// Validate checks the geometry is well formed.
func (g Geometry) Validate() error {
	switch g.Kind {
	case GeometryCircle:
		if g.Circle == nil {
			return fmt.Errorf("circle geometry requires center and radius")
		}
		if g.Circle.RadiusMeters <= 0 {
			return fmt.Errorf("circle radius must be positive, got %v", g.Circle.RadiusMeters)
		}
		return validatePoint(g.Circle.Center)
	case GeometryPolygon:
		if g.Polygon == nil || len(g.Polygon.Vertices) < 3 {
			return fmt.Errorf("polygon geometry requires at least 3 vertices")
		}
		for i, v := range g.Polygon.Vertices {
			if err := validatePoint(v); err != nil {
				return fmt.Errorf("vertex %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown geometry type %q", g.Kind)
	}
}

func validatePoint(p GeoPoint) error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %v out of range", p.Lon)
	}
	return nil
}

// ParseGeometry decodes the JSONB column form of a geometry.
func ParseGeometry(raw []byte) (Geometry, error) {
	var g Geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return Geometry{}, fmt.Errorf("failed to unmarshal geometry: %w", err)
	}
	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}
