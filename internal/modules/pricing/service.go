// README: Pricing service combines weather, peak and demand signals into a delivery-fee quote.
package pricing

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"platter/internal/modules/catalog"
	"platter/internal/modules/sysconfig"
	"platter/internal/types"
)

type WeatherProvider interface {
	Current(ctx context.Context, p types.Point) (Weather, error)
}

type DriverCounter interface {
	CountDriversByStatus(ctx context.Context, statuses ...catalog.DriverStatus) (int, error)
}

type OrderCounter interface {
	PendingOrders(ctx context.Context) (int, error)
}

type DistanceResolver interface {
	DistanceKm(ctx context.Context, origin, destination types.Point) float64
}

type ConfigReader interface {
	Float(ctx context.Context, key string, def float64) float64
}

type Service struct {
	drivers  DriverCounter
	orders   OrderCounter
	weather  WeatherProvider
	distance DistanceResolver
	config   ConfigReader
	fees     FeeSchedule
	now      func() time.Time
	log      *slog.Logger
}

type Deps struct {
	Drivers  DriverCounter
	Orders   OrderCounter
	Weather  WeatherProvider
	Distance DistanceResolver
	Config   ConfigReader
	Log      *slog.Logger
}

func NewService(deps Deps, fees FeeSchedule) *Service {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if fees.Location == nil {
		fees.Location = time.UTC
	}
	return &Service{
		drivers:  deps.Drivers,
		orders:   deps.Orders,
		weather:  deps.Weather,
		distance: deps.Distance,
		config:   deps.Config,
		fees:     fees,
		now:      time.Now,
		log:      deps.Log,
	}
}

// Quote prices delivery from restaurant to destination at the current moment.
// Signal lookups that fail degrade to a neutral multiplier and never fail the quote.
func (s *Service) Quote(ctx context.Context, restaurant, destination types.Point) (Quote, error) {
	now := s.now()
	b := Breakdown{
		Weather:      s.weatherMultiplier(ctx, restaurant),
		Peak:         PeakMultiplier(now.In(s.fees.Location)),
		SupplyDemand: s.supplyDemandMultiplier(ctx),
	}
	surge := CombineSurge(b.Weather, b.Peak, b.SupplyDemand, s.maxSurge(ctx))

	km := 0.0
	if s.distance != nil {
		km = s.distance.DistanceKm(ctx, restaurant, destination)
	}
	return Quote{
		DistanceKm: km,
		Surge:      surge,
		Fee:        DeliveryFee(s.fees, km, surge),
		Breakdown:  b,
		QuotedAt:   now,
	}, nil
}

func (s *Service) weatherMultiplier(ctx context.Context, p types.Point) decimal.Decimal {
	if s.weather == nil {
		return one
	}
	w, err := s.weather.Current(ctx, p)
	if err != nil {
		s.log.Warn("weather lookup failed, multiplier 1.0", "err", err)
		return one
	}
	return WeatherMultiplier(w)
}

func (s *Service) supplyDemandMultiplier(ctx context.Context) decimal.Decimal {
	if s.drivers == nil || s.orders == nil {
		return one
	}
	available, err := s.drivers.CountDriversByStatus(ctx, catalog.DriverOnline, catalog.DriverAvailable)
	if err != nil {
		s.log.Warn("driver count failed, multiplier 1.0", "err", err)
		return one
	}
	pending, err := s.orders.PendingOrders(ctx)
	if err != nil {
		s.log.Warn("pending order count failed, multiplier 1.0", "err", err)
		return one
	}
	return SupplyDemandMultiplier(pending, available)
}

func (s *Service) maxSurge(ctx context.Context) decimal.Decimal {
	v := DefaultMaxSurge
	if s.config != nil {
		v = s.config.Float(ctx, sysconfig.KeyMaxSurgeMultiplier, DefaultMaxSurge)
	}
	return decimal.NewFromFloat(v)
}
