// README: Road distance via Google Maps Distance Matrix with haversine fallback.
package maps

import (
	"context"
	"fmt"
	"log/slog"

	"googlemaps.github.io/maps"

	"platter/internal/types"
)

type matrixClient interface {
	DistanceMatrix(ctx context.Context, r *maps.DistanceMatrixRequest) (*maps.DistanceMatrixResponse, error)
}

// DistanceService resolves delivery distances. A nil client means haversine only.
type DistanceService struct {
	client matrixClient
	log    *slog.Logger
}

// NewDistanceService creates a DistanceService. An empty apiKey disables the Maps lookup.
func NewDistanceService(apiKey string, log *slog.Logger) (*DistanceService, error) {
	if log == nil {
		log = slog.Default()
	}
	if apiKey == "" {
		return &DistanceService{log: log}, nil
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &DistanceService{client: client, log: log}, nil
}

// DistanceKm returns the driving distance from origin to destination.
// Any Maps failure degrades to the straight-line distance.
func (s *DistanceService) DistanceKm(ctx context.Context, origin, destination types.Point) float64 {
	if s == nil || s.client == nil {
		return HaversineKm(origin, destination)
	}
	km, err := s.roadDistanceKm(ctx, origin, destination)
	if err != nil {
		s.log.Warn("maps distance lookup failed, using haversine", "err", err)
		return HaversineKm(origin, destination)
	}
	return km
}

func (s *DistanceService) roadDistanceKm(ctx context.Context, origin, destination types.Point) (float64, error) {
	r := &maps.DistanceMatrixRequest{
		Origins:      []string{latLng(origin)},
		Destinations: []string{latLng(destination)},
		Mode:         maps.TravelModeDriving,
	}
	resp, err := s.client.DistanceMatrix(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("no route found")
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("route element status %s", el.Status)
	}
	return float64(el.Distance.Meters) / 1000.0, nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
