// README: Service graph shared by the API and janitor binaries; owns infra clients and their shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"platter/internal/config"
	"platter/internal/events"
	"platter/internal/infra"
	"platter/internal/maps"
	"platter/internal/modules/catalog"
	"platter/internal/modules/janitor"
	"platter/internal/modules/matching"
	"platter/internal/modules/order"
	"platter/internal/modules/pricing"
	"platter/internal/modules/settlement"
	"platter/internal/modules/sysconfig"
	"platter/internal/modules/wallet"
)

type App struct {
	Config     config.Config
	Log        *slog.Logger
	Settings   *sysconfig.Provider
	Catalog    *catalog.Store
	Pricing    *pricing.Service
	Wallet     *wallet.Service
	Order      *order.Service
	Settlement *settlement.Service
	Matching   *matching.Service
	Janitor    *janitor.Service

	db      *pgxpool.Pool
	redis   *redis.Client
	closers []func()
}

// NewLogger installs a JSON slog handler at the configured level as the default logger.
func NewLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", cfg.ServiceName)
	slog.SetDefault(log)
	return log
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	db, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns, cfg.DB.MinConns)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	a.redis = infra.NewRedis(cfg.Redis.Addr)
	a.closers = append(a.closers, func() { _ = a.redis.Close() })

	publisher, err := a.newPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Settings = sysconfig.NewProvider(sysconfig.NewStore(db), cfg.ConfigTTL, log.With("module", "sysconfig"))
	a.Catalog = catalog.NewStore(db)

	distance, err := maps.NewDistanceService(cfg.Maps.APIKey, log.With("module", "maps"))
	if err != nil {
		a.Close()
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Pricing.Timezone)
	if err != nil {
		log.Warn("unknown timezone, pricing uses UTC", "tz", cfg.Pricing.Timezone, "err", err)
		loc = time.UTC
	}
	var weather pricing.WeatherProvider
	if cfg.Weather.APIKey != "" {
		weather = pricing.NewWeatherClient(cfg.Weather.BaseURL, cfg.Weather.APIKey, cfg.Weather.Timeout, cfg.Weather.CacheTTL, a.redis)
	}
	a.Pricing = pricing.NewService(pricing.Deps{
		Drivers:  a.Catalog,
		Orders:   pricing.NewStore(db),
		Weather:  weather,
		Distance: distance,
		Config:   a.Settings,
		Log:      log.With("module", "pricing"),
	}, pricing.FeeSchedule{
		BaseFee:        decimal.NewFromFloat(cfg.Pricing.BaseFee),
		PerKmFee:       decimal.NewFromFloat(cfg.Pricing.PerKmFee),
		BaseDistanceKm: cfg.Pricing.BaseDistanceKm,
		Location:       loc,
	})

	a.Wallet = wallet.NewService(wallet.NewStore(db), log.With("module", "wallet"))

	a.Order = order.NewService(order.NewStore(db), a.Catalog, a.Pricing)
	a.Order.SetPublisher(publisher)
	a.Order.SetLogger(log.With("module", "order"))

	var gateway *settlement.Gateway
	if cfg.Gateway.HashSecret != "" {
		gateway = settlement.NewGateway(settlement.GatewayConfig{
			MerchantCode: cfg.Gateway.MerchantCode,
			HashSecret:   cfg.Gateway.HashSecret,
			PayURL:       cfg.Gateway.PayURL,
			ReturnURL:    cfg.Gateway.ReturnURL,
			Location:     loc,
		})
	}
	a.Settlement = settlement.NewService(settlement.Deps{
		Store:   settlement.NewStore(db),
		Orders:  a.Order,
		Catalog: a.Catalog,
		Ledger:  a.Wallet,
		Config:  a.Settings,
		Gateway: gateway,
		Log:     log.With("module", "settlement"),
	})
	a.Order.SetSettlement(a.Settlement)
	a.Order.SetRefunder(a.Settlement)
	a.Order.SetCODValidator(a.Settlement)

	a.Matching = matching.NewService(matching.NewStore(a.redis), log.With("module", "matching"))

	a.Janitor = janitor.NewService(janitor.Deps{
		Orders:     a.Order,
		Settings:   a.Settings,
		Locker:     janitor.NewRedisLocker(a.redis),
		Rejections: a.Matching,
		Log:        log.With("module", "janitor"),
	}, janitor.Config{
		Interval:      cfg.Janitor.Interval,
		AbandonWindow: cfg.Janitor.AbandonWindow,
		LockTTL:       cfg.Janitor.LockTTL,
	})
	return a, nil
}

func (a *App) newPublisher(ctx context.Context) (events.Publisher, error) {
	log := a.Log.With("module", "events")
	cfg := a.Config.Events
	switch cfg.Backend {
	case "kafka":
		p := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, 0, log)
		p.Start(ctx)
		a.closers = append(a.closers, func() { p.Close(); p.WaitClosed() })
		return p, nil
	case "amqp":
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			return nil, fmt.Errorf("amqp: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	case "fcm":
		client, err := infra.NewFirebaseMessaging(ctx, a.Config.Firebase.ProjectID, a.Config.Firebase.CredentialsFile)
		if err != nil {
			return nil, err
		}
		// status changes still reach the log when push delivery fails
		return events.Fanout{events.NewFCMPublisher(client, log), events.NewLogPublisher(log)}, nil
	case "", "log":
		return events.NewLogPublisher(log), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

// Close releases infra clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
