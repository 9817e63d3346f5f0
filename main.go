package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	apihttp "factory-telemetry/internal/api/http"
	"factory-telemetry/internal/auth"
	"factory-telemetry/internal/cache"
	"factory-telemetry/internal/config"
	"factory-telemetry/internal/eventbus"
	"factory-telemetry/internal/ingest"
	"factory-telemetry/internal/ingest/natsbridge"
	kpiapp "factory-telemetry/internal/kpi/application"
	kpi "factory-telemetry/internal/kpi/domain"
	kpimemory "factory-telemetry/internal/kpi/infrastructure/memory"
	kpipostgres "factory-telemetry/internal/kpi/infrastructure/postgres"
	"factory-telemetry/internal/migrations"
	"factory-telemetry/internal/observability/metrics"
	stationapp "factory-telemetry/internal/station/application"
	station "factory-telemetry/internal/station/domain"
	stationmemory "factory-telemetry/internal/station/infrastructure/memory"
	stationpostgres "factory-telemetry/internal/station/infrastructure/postgres"
	"factory-telemetry/internal/stream"
	telemetryapp "factory-telemetry/internal/telemetry/application"
	telemetry "factory-telemetry/internal/telemetry/domain"
	"factory-telemetry/internal/telemetry/infrastructure/influx"
	telemetrymemory "factory-telemetry/internal/telemetry/infrastructure/memory"
	telemetrypostgres "factory-telemetry/internal/telemetry/infrastructure/postgres"
	vehicleapp "factory-telemetry/internal/vehicles/application"
)

func main() {
	cfg, err := config.Load()
	logger := newLogger(cfg)
	if err != nil {
		logger.WithError(err).Fatal("config error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("service stopped")
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if strings.EqualFold(cfg.LogFormat, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

type stores struct {
	raw      telemetry.RecordRepository
	stations station.Repository
	kpi      kpi.Repository
	db       *sql.DB
}

func openStores(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		return stores{
			raw:      telemetrymemory.NewRepository(telemetrymemory.WithRetention(cfg.Defaults.RawRetention)),
			stations: stationmemory.NewRepository(),
			kpi:      kpimemory.NewRepository(),
		}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return stores{}, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	if cfg.AutoMigrate {
		runner, err := migrations.New(db, logger)
		if err != nil {
			_ = db.Close()
			return stores{}, err
		}
		if err := runner.Up(ctx); err != nil {
			_ = db.Close()
			return stores{}, err
		}
	}
	return stores{
		raw:      telemetrypostgres.NewRepository(db),
		stations: stationpostgres.NewRepository(db),
		kpi:      kpipostgres.NewRepository(db),
		db:       db,
	}, nil
}

func openCache(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (cache.Cache, func()) {
	if cfg.Redis.Addr == "" {
		return cache.NewMemoryCache(), func() {}
	}
	redisCache, err := cache.NewRedisCache(ctx, cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, using in-process cache")
		return cache.NewMemoryCache(), func() {}
	}
	return redisCache, func() { _ = redisCache.Close() }
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}
	metrics.Init(st.db, logger)

	readCache, closeCache := openCache(ctx, cfg, logger)
	defer closeCache()

	bus := eventbus.New(logger)
	broker := stream.NewBroker()
	broker.Attach(bus)

	projector, err := stationapp.NewProjector(st.stations,
		stationapp.WithStrictOrdering(cfg.Station.StrictOrdering),
		stationapp.WithEfficientThreshold(cfg.Station.EfficientThreshold),
		stationapp.WithActiveWindow(cfg.Station.ActiveWindow),
		stationapp.WithPublisher(bus),
		stationapp.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ingestOpts := []telemetryapp.IngestOption{
		telemetryapp.WithIngestPublisher(bus),
		telemetryapp.WithIngestLogger(logger),
	}
	var (
		tsdb     *influx.Client
		buffered *influx.BufferedWriter
	)
	if cfg.TSDB.BaseURL != "" {
		tsdb, err = influx.NewClient(influx.Config{
			BaseURL:       cfg.TSDB.BaseURL,
			Token:         cfg.TSDB.Token,
			Database:      cfg.TSDB.Database,
			WriteTimeout:  cfg.TSDB.WriteTimeout,
			QueryTimeout:  cfg.TSDB.QueryTimeout,
			HealthTimeout: cfg.TSDB.HealthTimeout,
		}, logger)
		if err != nil {
			return err
		}
		if cfg.TSDB.Buffered {
			buffered, err = influx.NewBufferedWriter(tsdb,
				influx.WithBatchSize(cfg.TSDB.BatchSize),
				influx.WithFlushInterval(cfg.TSDB.FlushInterval),
				influx.WithBufferLogger(logger),
			)
			if err != nil {
				return err
			}
			ingestOpts = append(ingestOpts, telemetryapp.WithPointWriter(buffered))
		} else {
			ingestOpts = append(ingestOpts, telemetryapp.WithPointWriter(tsdb))
		}
	} else {
		logger.Warn("INFLUX_URL not set, time-series writes disabled")
	}

	ingestService, err := telemetryapp.NewIngestService(st.raw, projector, ingestOpts...)
	if err != nil {
		return err
	}
	dashboardService, err := telemetryapp.NewDashboardService(st.raw, projector,
		telemetryapp.WithDashboardDefaults(dashboardDefaults(cfg.Defaults)),
		telemetryapp.WithDashboardCache(readCache, cfg.Redis.CacheTTL),
		telemetryapp.WithDashboardLogger(logger),
	)
	if err != nil {
		return err
	}
	kpiService, err := kpiapp.NewService(st.kpi,
		kpiapp.WithDefaults(kpi.Defaults{
			CycleTimeSeconds: cfg.Defaults.KPICycleTimeSeconds,
			DailyTarget:      cfg.Defaults.DailyTarget,
			QualityScore:     cfg.Defaults.QualityScore,
		}),
		kpiapp.WithCache(readCache, cfg.Redis.CacheTTL),
		kpiapp.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	tracker := vehicleapp.NewTracker(
		vehicleapp.WithMinutesPerStation(cfg.Defaults.MinutesPerStation),
		vehicleapp.WithPublisher(bus),
		vehicleapp.WithLogger(logger),
	)

	dispatcher := ingest.NewDispatcher(
		ingest.WithTelemetry(ingestService),
		ingest.WithKPI(kpiService),
		ingest.WithStatus(projector),
		ingest.WithFleet(tracker),
		ingest.WithLogger(logger),
	)

	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = natsbridge.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer natsConn.Close()
		bridge, err := natsbridge.New(natsConn, dispatcher,
			natsbridge.WithPrefix(cfg.NATS.SubjectPrefix),
			natsbridge.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = bridge.Close() }()
	}

	handlers, err := buildHandlers(dispatcher, projector, tracker, dashboardService, kpiService, tsdb)
	if err != nil {
		return err
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	policy.ExemptIngest = cfg.Auth.IngestSecret != ""
	authMiddleware := auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy)
	ingestGuard := auth.NewIngestGuard([]byte(cfg.Auth.IngestSecret), time.Duration(cfg.Auth.IngestSkewSeconds)*time.Second)
	if authMiddleware == nil {
		logger.Warn("AUTH_JWT_SECRET not set, API is unauthenticated")
	}

	router := apihttp.NewRouter(apihttp.RouterConfig{
		Handlers:     handlers,
		Stream:       stream.NewHandler(broker, logger),
		Middleware:   []mux.MiddlewareFunc{authMiddleware.Wrap, ingestGuard.Wrap},
		HealthChecks: healthChecks(st.db, tsdb, natsConn),
		Logger:       logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	if buffered != nil {
		if err := buffered.Close(shutdownCtx); err != nil {
			logger.WithError(err).Warn("time-series buffer drain")
		}
	}
	return nil
}

func buildHandlers(
	dispatcher *ingest.Dispatcher,
	projector *stationapp.Projector,
	tracker *vehicleapp.Tracker,
	dashboard *telemetryapp.DashboardService,
	kpiService *kpiapp.Service,
	tsdb *influx.Client,
) ([]apihttp.Registrar, error) {
	ingestHandler, err := apihttp.NewIngestHandler(dispatcher)
	if err != nil {
		return nil, err
	}
	stationHandler, err := apihttp.NewStationHandler(projector, tracker)
	if err != nil {
		return nil, err
	}
	dashboardHandler, err := apihttp.NewDashboardHandler(dashboard)
	if err != nil {
		return nil, err
	}
	kpiHandler, err := apihttp.NewKPIHandler(kpiService)
	if err != nil {
		return nil, err
	}
	vehicleHandler, err := apihttp.NewVehicleHandler(tracker)
	if err != nil {
		return nil, err
	}
	handlers := []apihttp.Registrar{ingestHandler, stationHandler, dashboardHandler, kpiHandler, vehicleHandler}
	if tsdb != nil {
		tsHandler, err := apihttp.NewTimeSeriesHandler(tsdb)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, tsHandler)
	}
	return handlers, nil
}

func healthChecks(db *sql.DB, tsdb *influx.Client, conn *nats.Conn) map[string]apihttp.HealthCheck {
	checks := map[string]apihttp.HealthCheck{}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if tsdb != nil {
		checks["tsdb"] = func(ctx context.Context) error {
			if !tsdb.CheckHealth(ctx) {
				return errors.New("time-series store unhealthy")
			}
			return nil
		}
	}
	if conn != nil {
		checks["nats"] = func(context.Context) error {
			if !conn.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		}
	}
	return checks
}

func dashboardDefaults(d config.DefaultsConfig) telemetryapp.DashboardDefaults {
	out := telemetryapp.DefaultDashboardDefaults()
	out.DailyTarget = d.DashboardTarget
	out.Availability = d.Availability
	out.PerformanceBaseline = d.PerformanceBaseline
	out.CycleTimeSeconds = d.CycleTimeSeconds
	out.Efficiency = d.Efficiency
	out.Quality = d.QualityScore
	out.EnergyConsumption = d.EnergyConsumption
	if len(d.StationCycleTimes) > 0 {
		out.StationCycleTimes = d.StationCycleTimes
	}
	return out
}
