package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	t.Run("identical points are zero", func(t *testing.T) {
		points := []Point{{0, 0}, {12.9716, 77.5946}, {-33.8688, 151.2093}, {90, 0}}
		for _, p := range points {
			assert.Equal(t, 0.0, Between(p, p))
		}
	})

	t.Run("symmetric", func(t *testing.T) {
		a := Point{Latitude: 28.6139, Longitude: 77.2090}
		b := Point{Latitude: 19.0760, Longitude: 72.8777}
		assert.InDelta(t, Between(a, b), Between(b, a), 1e-9)
	})

	t.Run("0.001 degree of latitude near equator", func(t *testing.T) {
		d := Distance(0, 0, 0.001, 0)
		assert.InEpsilon(t, 111.0, d, 0.05)
	})

	t.Run("antipodal points do not produce NaN", func(t *testing.T) {
		d := Distance(0, 0, 0, 180)
		assert.False(t, math.IsNaN(d))
		assert.InDelta(t, math.Pi*EarthRadiusMeters, d, 1)

		d = Distance(90, 0, -90, 0)
		assert.False(t, math.IsNaN(d))
		assert.InDelta(t, math.Pi*EarthRadiusMeters, d, 1)
	})
}

func TestWithin(t *testing.T) {
	center := Point{Latitude: 0, Longitude: 0}
	// 1 degree of latitude is ~111195 m on this sphere
	metersPerDegree := math.Pi * EarthRadiusMeters / 180

	d, ok := Within(center, Point{Latitude: 40 / metersPerDegree}, 50)
	assert.True(t, ok)
	assert.InDelta(t, 40, d, 0.01)

	d, ok = Within(center, Point{Latitude: 60 / metersPerDegree}, 50)
	assert.False(t, ok)
	assert.InDelta(t, 60, d, 0.01)
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Latitude: 45, Longitude: -120}.Valid())
	assert.False(t, Point{Latitude: 91, Longitude: 0}.Valid())
	assert.False(t, Point{Latitude: 0, Longitude: 181}.Valid())
	assert.False(t, Point{Latitude: math.NaN(), Longitude: 0}.Valid())
}
