package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/config"
	"github.com/hackgods/frontdesk-scheduling/internal/logging"
	redisclient "github.com/hackgods/frontdesk-scheduling/internal/redis"
	"github.com/hackgods/frontdesk-scheduling/internal/reservation"
)

// reservation-sweeper compacts expired reservations in the shared redis
// store. Any number of replicas may run; a redis lock lets one sweep per
// tick.
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
	log = log.Named("sweeper")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()

	manager := reservation.NewManager(reservation.NewRedisStore(rdb),
		reservation.WithTTL(cfg.ReservationTTL),
		reservation.WithLogger(log),
	)

	// the lock only has to outlive one sweep
	locker := redisclient.NewLocker(rdb, cfg.SweepInterval, log)
	sweeper := reservation.NewSweeper(manager, cfg.SweepInterval, log, reservation.WithRunGuard(locker))

	if err := sweeper.Start(rootCtx); err != nil {
		log.Fatal("sweeper start error", zap.Error(err))
	}

	log.Info("reservation-sweeper running",
		zap.String("redis_addr", cfg.RedisAddr),
		zap.Duration("interval", cfg.SweepInterval),
	)

	<-rootCtx.Done()
	sweeper.Stop()
	log.Info("reservation-sweeper stopped")
}
