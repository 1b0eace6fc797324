// README: Straight-line route estimate used when the Directions API is unavailable.
package maps

import (
	"context"
	"math"

	"toda/internal/types"
)

const (
	earthRadiusKm = 6371.0

	// roadFactor stretches great-circle distance to typical barangay road length.
	roadFactor = 1.3
	// tricycleKmh is the average tricycle speed in town traffic.
	tricycleKmh = 20.0
)

// haversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func haversineKm(from, to types.Point) float64 {
	dLat := degreesToRadians(to.Lat - from.Lat)
	dLng := degreesToRadians(to.Lng - from.Lng)

	rLat1 := degreesToRadians(from.Lat)
	rLat2 := degreesToRadians(to.Lat)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// StraightLine estimates a route from coordinates alone.
type StraightLine struct{}

func (StraightLine) EstimateRoute(_ context.Context, from, to types.Point) (float64, int64, error) {
	if from.IsZero() || to.IsZero() {
		return 0, 0, ErrNoRoute
	}
	km := math.Round(haversineKm(from, to)*roadFactor*100) / 100
	minutes := int64(math.Ceil(km / tricycleKmh * 60))
	return km, minutes, nil
}

// RouteEstimator is satisfied by RouteService and StraightLine.
type RouteEstimator interface {
	EstimateRoute(ctx context.Context, from, to types.Point) (float64, int64, error)
}

// Fallback tries Primary and falls back to Secondary on any error.
type Fallback struct {
	Primary   RouteEstimator
	Secondary RouteEstimator
}

func (f Fallback) EstimateRoute(ctx context.Context, from, to types.Point) (float64, int64, error) {
	km, minutes, err := f.Primary.EstimateRoute(ctx, from, to)
	if err == nil {
		return km, minutes, nil
	}
	return f.Secondary.EstimateRoute(ctx, from, to)
}
