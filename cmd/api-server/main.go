package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/api"
	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
	"github.com/hackgods/frontdesk-scheduling/internal/availability"
	"github.com/hackgods/frontdesk-scheduling/internal/config"
	"github.com/hackgods/frontdesk-scheduling/internal/db"
	"github.com/hackgods/frontdesk-scheduling/internal/logging"
	"github.com/hackgods/frontdesk-scheduling/internal/notify"
	"github.com/hackgods/frontdesk-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/frontdesk-scheduling/internal/redis"
	"github.com/hackgods/frontdesk-scheduling/internal/reservation"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api-server exited with error", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("reservation_backend", cfg.ReservationBackend),
		zap.String("event_relay", cfg.EventRelay),
		zap.Duration("reservation_ttl", cfg.ReservationTTL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := migrateUp(cfg.PostgresDSN, log); err != nil {
			return err
		}
	}

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConn}, log)
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()

	// Connect Redis only when something needs it
	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	reg := metrics.NewRegistry()
	busMetrics := metrics.NewBusMetrics(reg)
	bus := notify.NewBus(log, busMetrics)

	var store reservation.Store = reservation.NewMemoryStore()
	if cfg.ReservationBackend == config.BackendRedis {
		store = reservation.NewRedisStore(rdb)
	}
	reservations := reservation.NewManager(store,
		reservation.WithTTL(cfg.ReservationTTL),
		reservation.WithLogger(log),
		reservation.WithMetrics(metrics.NewReservationMetrics(reg)),
	)

	repo := appointment.NewPgRepository(pgPool)
	appointments := appointment.NewService(repo, reservations, bus, log)
	engine := availability.NewEngine(repo, reservations,
		availability.WithGridCache(availability.NewGridCache(cfg.GridCacheSize)),
		availability.WithNextAvailableLimit(cfg.NextAvailableLimit),
		availability.WithLogger(log),
	)

	// A shared redis store is compacted by cmd/reservation-sweeper; a
	// process-local one has to be swept here.
	if cfg.ReservationBackend == config.BackendMemory {
		sweeper := reservation.NewSweeper(reservations, cfg.SweepInterval, log)
		if err := sweeper.Start(rootCtx); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	relay, err := newRelay(cfg, rdb, bus, log, busMetrics)
	if err != nil {
		return err
	}
	if relay != nil {
		if err := relay.Start(rootCtx); err != nil {
			return err
		}
		defer func() {
			if err := relay.Close(); err != nil {
				log.Warn("error closing event relay", zap.Error(err))
			}
		}()
	}

	checks := []api.Check{{
		Name:     "postgres",
		Critical: true,
		Ping:     pgPool.Ping,
	}}
	if rdb != nil {
		checks = append(checks, api.Check{
			Name:     "redis",
			Critical: cfg.ReservationBackend == config.BackendRedis,
			Ping:     func(ctx context.Context) error { return redisclient.Ping(ctx, rdb) },
		})
	}

	router := api.NewRouter(api.RouterConfig{
		Reservations:         reservations,
		Appointments:         appointments,
		Availability:         engine,
		Events:               bus,
		Health:               api.NewHealthHandler(cfg.Env, version, checks...),
		Metrics:              metrics.Handler(reg),
		Logger:               log,
		CORSOrigins:          cfg.CORSOrigins,
		ReservationRateLimit: cfg.ReservationRateLimit,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("api-server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-rootCtx.Done():
	}

	log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("api-server forced to shutdown", zap.Error(err))
	}

	log.Info("api-server stopped")
	return nil
}

func newRelay(cfg config.Config, rdb *redis.Client, bus *notify.Bus, log *zap.Logger, m *metrics.BusMetrics) (notify.Relay, error) {
	switch cfg.EventRelay {
	case config.RelayRedis:
		return notify.NewRedisRelay(rdb, bus, log, m), nil
	case config.RelayAMQP:
		return notify.DialAMQPRelay(cfg.AMQPURL, bus, log, m)
	default:
		return nil, nil
	}
}

func migrateUp(dsn string, log *zap.Logger) error {
	m, err := db.NewMigrator(dsn, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("error closing migrator", zap.Error(err))
		}
	}()
	return m.Up()
}
