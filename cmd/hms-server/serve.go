package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/jobs"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/telemetry"
)

const bodyLimit = "1MB"

func serveCmd() *cobra.Command {
	var memory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(memory)
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "Serve scheduling from an in-memory store seeded with a demo doctor and patient")
	return cmd
}

// backend is the storage the server runs on and the handlers built over it.
type backend struct {
	pinger     db.Pinger
	scheduling *scheduling.Service
	handlers   []routeRegistrar
	close      func()
}

func schedulingOptions(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) []scheduling.Option {
	return []scheduling.Option{
		scheduling.WithWindowDays(cfg.AvailabilityWindowDays),
		scheduling.WithStrictTransitions(cfg.StrictStatusTransitions),
		scheduling.WithLogger(logger),
		scheduling.WithOutcomeRecorder(metrics),
	}
}

// newPostgresBackend connects to DATABASE_URL and mounts both domains.
func newPostgresBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) (*backend, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")

	pinger := db.NewPinger(pool)
	metrics.WithPoolStats(pinger.Stats)

	// Identity domain
	identitySvc := identity.NewService(
		identity.NewDoctorRepo(pool),
		identity.NewPatientRepo(pool),
		identity.NewDepartmentRepo(pool),
	)

	// Scheduling domain
	schedulingSvc := scheduling.NewService(
		scheduling.NewAvailabilityRepo(pool),
		scheduling.NewAppointmentRepo(pool),
		scheduling.NewTreatmentRepo(pool),
		doctorDirectory{svc: identitySvc},
		patientDirectory{svc: identitySvc},
		db.NewTxManager(pool),
		schedulingOptions(cfg, logger, metrics)...,
	)

	return &backend{
		pinger:     pinger,
		scheduling: schedulingSvc,
		handlers: []routeRegistrar{
			identity.NewHandler(identitySvc).WithCareChecker(schedulingSvc),
			scheduling.NewHandler(schedulingSvc),
		},
		close: pool.Close,
	}, nil
}

// routeRegistrar is implemented by every domain handler.
type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

// newRouter builds the echo instance with the global middleware chain, the
// health and metrics endpoints and the /api/v1 routes of each handler.
func newRouter(cfg *config.Config, logger zerolog.Logger, pinger db.Pinger, metrics *telemetry.Metrics, handlers ...routeRegistrar) (*echo.Echo, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, logger))

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: key,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pinger))
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	for _, h := range handlers {
		h.RegisterRoutes(apiV1)
	}
	return e, nil
}

func runServer(memory bool) error {
	// Config
	load := config.Load
	if memory {
		load = config.LoadWithoutDatabase
	}
	cfg, err := load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env, cfg.Level())
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Storage
	metrics := telemetry.NewMetrics()
	var b *backend
	if memory {
		demo := newMemoryDemo()
		b = newMemoryBackend(cfg, logger, metrics, demo)
		logger.Warn().
			Str("doctor_id", demo.doctor.String()).
			Str("patient_id", demo.patient.String()).
			Msg("serving from memory; data is lost on exit")
	} else {
		b, err = newPostgresBackend(context.Background(), cfg, logger, metrics)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
	}
	defer b.close()

	e, err := newRouter(cfg, logger, b.pinger, metrics, b.handlers...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build router")
	}

	// Background jobs
	scheduler := jobs.NewScheduler(logger)
	if err := scheduler.Add(jobs.PruneAvailability(cfg.AvailabilityPruneSchedule, b.scheduling, time.Now, logger)); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule jobs")
	}
	scheduler.Start()

	// Start server
	addr := ":" + cfg.Port
	logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("jobs did not stop in time")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
