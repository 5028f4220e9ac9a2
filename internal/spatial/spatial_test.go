package spatial

import (
	"testing"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
)

var (
	sf = models.GeoPoint{Lat: 37.7749, Lon: -122.4194}
	la = models.GeoPoint{Lat: 34.0522, Lon: -118.2437}
)

func TestDistance(t *testing.T) {
	assert.Equal(t, 0.0, Distance(sf, sf))
	assert.InDelta(t, Distance(sf, la), Distance(la, sf), 1e-6)
	// SF to LA is roughly 559 km
	assert.InDelta(t, 559_000, Distance(sf, la), 2_000)
}

func TestInCircle(t *testing.T) {
	c := models.Circle{Center: sf, RadiusMeters: 100}
	assert.True(t, InCircle(sf, c))
	assert.True(t, InCircle(models.GeoPoint{Lat: 37.7753, Lon: -122.4194}, c))
	assert.False(t, InCircle(models.GeoPoint{Lat: 37.7760, Lon: -122.4194}, c))
	assert.False(t, InCircle(la, c))
}

func TestInPolygon(t *testing.T) {
	square := models.Polygon{Vertices: []models.GeoPoint{
		{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0},
	}}
	assert.True(t, InPolygon(models.GeoPoint{Lat: 0.5, Lon: 0.5}, square))
	assert.False(t, InPolygon(models.GeoPoint{Lat: 1.5, Lon: 0.5}, square))
	assert.False(t, InPolygon(models.GeoPoint{Lat: 0.5, Lon: -0.1}, square))

	// concave "L": the notch at the top right is outside
	l := models.Polygon{Vertices: []models.GeoPoint{
		{Lat: 0, Lon: 0}, {Lat: 0, Lon: 2}, {Lat: 1, Lon: 2}, {Lat: 1, Lon: 1}, {Lat: 2, Lon: 1}, {Lat: 2, Lon: 0},
	}}
	assert.True(t, InPolygon(models.GeoPoint{Lat: 0.5, Lon: 1.5}, l))
	assert.True(t, InPolygon(models.GeoPoint{Lat: 1.5, Lon: 0.5}, l))
	assert.False(t, InPolygon(models.GeoPoint{Lat: 1.5, Lon: 1.5}, l))

	assert.False(t, InPolygon(models.GeoPoint{}, models.Polygon{Vertices: square.Vertices[:2]}))
}

func TestCentroid(t *testing.T) {
	tri := models.Polygon{Vertices: []models.GeoPoint{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 3}, {Lat: 3, Lon: 0}}}
	got := Centroid(tri)
	want := models.GeoPoint{Lat: 1, Lon: 1}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Centroid mismatch (-want +got):\n%s", diff)
	}
}

func TestContains(t *testing.T) {
	circle := models.NewCircleGeometry(sf, 50)
	assert.True(t, Contains(sf, circle))
	assert.False(t, Contains(la, circle))

	poly := models.NewPolygonGeometry(
		models.GeoPoint{Lat: 37.77, Lon: -122.42},
		models.GeoPoint{Lat: 37.77, Lon: -122.41},
		models.GeoPoint{Lat: 37.78, Lon: -122.41},
		models.GeoPoint{Lat: 37.78, Lon: -122.42},
	)
	assert.True(t, Contains(sf, poly))
	assert.False(t, Contains(la, poly))

	assert.False(t, Contains(sf, models.Geometry{Kind: "hexagon"}))
	assert.Equal(t, sf, Center(circle))
}
