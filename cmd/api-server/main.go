package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/careslot/booking-service/internal/api"
	"github.com/careslot/booking-service/internal/app"
	"github.com/careslot/booking-service/internal/booking"
	"github.com/careslot/booking-service/internal/config"
	"github.com/careslot/booking-service/internal/db"
	"github.com/careslot/booking-service/internal/directory"
	"github.com/careslot/booking-service/internal/otp"
	redisclient "github.com/careslot/booking-service/internal/redis"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := app.NewLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.Duration("reservation_ttl", cfg.ReservationTTL),
		zap.Duration("otp_ttl", cfg.OTPTTL),
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

	migrator, err := app.NewMigrator(pgPool, cfg.MigrationsDir)
	if err != nil {
		logger.Fatal("migrator init error", zap.Error(err))
	}
	if err := migrator.Run(rootCtx); err != nil {
		logger.Fatal("migrations error", zap.Error(err))
	}
	_ = migrator.Close()
	logger.Info("migrations applied")

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

	bookingRepo := booking.NewPgRepository(pgPool)
	doctorRepo := directory.NewPgRepository(pgPool)
	authority := otp.NewAuthority(otp.NewPgRepository(pgPool), cfg.OTPTTL, cfg.OTPMaxAttempts)
	mutex := redisclient.NewSlotMutex(rdb, cfg.LockTTL)
	svc := booking.NewService(bookingRepo, doctorRepo, authority, mutex, cfg, logger)

	router := api.NewRouter(api.RouterConfig{
		Reservations: svc,
		Doctors:      doctorRepo,
		PgPool:       pgPool,
		Redis:        rdb,
		Logger:       logger,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
