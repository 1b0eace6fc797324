// README: Google Maps route distance and duration used to fill new bookings.
package maps

import (
	"context"
	"errors"
	"fmt"
	"math"

	"googlemaps.github.io/maps"

	"toda/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// RouteService handles interactions with the Directions API.
type RouteService struct {
	client *maps.Client
}

func NewRouteService(client *maps.Client) *RouteService {
	return &RouteService{client: client}
}

// EstimateRoute returns the driving distance in kilometres and the duration in
// whole minutes between two points.
func (s *RouteService) EstimateRoute(ctx context.Context, from, to types.Point) (float64, int64, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
		Region:      "PH",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, 0, ErrNoRoute
	}

	leg := routes[0].Legs[0]
	km := math.Round(float64(leg.Distance.Meters)/10) / 100
	minutes := int64(math.Ceil(leg.Duration.Minutes()))
	return km, minutes, nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
