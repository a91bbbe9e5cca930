package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/careslot/booking-service/internal/app"
	"github.com/careslot/booking-service/internal/booking"
	"github.com/careslot/booking-service/internal/config"
	"github.com/careslot/booking-service/internal/db"
	"github.com/careslot/booking-service/internal/directory"
	"github.com/careslot/booking-service/internal/otp"
	redisclient "github.com/careslot/booking-service/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := app.NewLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("expiry-worker starting",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("reservation_ttl", cfg.ReservationTTL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	repo := booking.NewPgRepository(pgPool)
	doctorRepo := directory.NewPgRepository(pgPool)
	authority := otp.NewAuthority(otp.NewPgRepository(pgPool), cfg.OTPTTL, cfg.OTPMaxAttempts)
	mutex := redisclient.NewSlotMutex(rdb, cfg.LockTTL)
	svc := booking.NewService(repo, doctorRepo, authority, mutex, cfg, logger)

	// Run once at startup so restarts do not delay pending releases
	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.ExpireStaleReservations(runCtx, start); err != nil {
		logger.Error("expiry run error", zap.Error(err))
		return
	}
	logger.Debug("expiry run complete", zap.Duration("took", time.Since(start)))
}
