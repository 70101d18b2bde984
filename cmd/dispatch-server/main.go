package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/dispatchdesk/internal/config"
	"github.com/ehr/dispatchdesk/internal/domain/emergency"
	"github.com/ehr/dispatchdesk/internal/platform/geo"
	"github.com/ehr/dispatchdesk/internal/platform/metrics"
	"github.com/ehr/dispatchdesk/internal/platform/middleware"
	"github.com/ehr/dispatchdesk/internal/platform/triage"
	"github.com/ehr/dispatchdesk/internal/platform/webhook"
	"github.com/ehr/dispatchdesk/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "dispatch-server",
		Short: "Emergency intake, bed reservation and case dispatch API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dispatch API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			hospitals, _ := cmd.Flags().GetStringSlice("hospital")
			return runServer(hospitals)
		},
	}
	cmd.Flags().StringSlice("hospital", nil, "Hospital to register at startup (repeatable)")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			redacted := *cfg
			if redacted.TriageAPIKey != "" {
				redacted.TriageAPIKey = "********"
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(redacted); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return nil
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// app holds everything runServer needs after wiring.
type app struct {
	echo     *echo.Echo
	service  *emergency.Service
	hub      *websocket.Hub
	webhooks *webhook.Manager
}

// newApp wires the bed ledger, case registry, lifecycle service, intake
// coordinator, live feed and HTTP routes.
func newApp(cfg *config.Config, logger zerolog.Logger, registry *prometheus.Registry) *app {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	// Metrics
	m := metrics.NewEmergency(registry)
	e.GET("/metrics", metrics.Handler(registry))

	// Live feed
	hub := websocket.NewHub(logger)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e)

	// Outbound webhooks
	webhooks := webhook.NewManager(webhook.NewMemoryStore(), webhook.Config{
		Timeout:    cfg.WebhookTimeout,
		MaxRetries: cfg.WebhookMaxRetries,
	}, logger)

	// Core
	ledger := emergency.NewLedger(cfg.DefaultTotalBeds)
	svc := emergency.NewService(ledger, emergency.NewRegistry(), logger)
	svc.SetMetrics(m)
	svc.SetPublisher(emergency.Publishers{hub, webhooks})

	geoClient := geo.NewClient(geo.Config{
		BaseURL:   cfg.GeoBaseURL,
		UserAgent: cfg.GeoUserAgent,
		Timeout:   cfg.GeoTimeout,
	}, logger)
	triageClient := triage.NewClient(triage.Config{
		URL:     cfg.TriageURL,
		APIKey:  cfg.TriageAPIKey,
		Timeout: cfg.TriageTimeout,
	}, logger)
	if cfg.TriageURL == "" {
		logger.Warn().Msg("TRIAGE_URL not set; POST /api/v1/emergency will fail until it is configured")
	}

	intake := emergency.NewIntake(svc, triageClient, geoClient, emergency.PlaceholderFieldUnits{},
		emergency.IntakeOptions{MaxHospitals: cfg.GeoMaxResults}, logger)
	intake.SetMetrics(m)

	// API group
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	emergency.NewHandler(svc, intake).RegisterRoutes(apiV1)
	webhook.NewHandler(webhooks).RegisterRoutes(apiV1.Group("/webhooks"))

	return &app{echo: e, service: svc, hub: hub, webhooks: webhooks}
}

func runServer(hospitals []string) error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := newApp(cfg, logger, registry)
	if err := a.service.RegisterHospitals(context.Background(), hospitals); err != nil {
		logger.Fatal().Err(err).Msg("failed to register startup hospitals")
	}
	if len(hospitals) > 0 {
		logger.Info().Strs("hospitals", hospitals).Int("beds_each", cfg.DefaultTotalBeds).Msg("hospitals registered")
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go a.webhooks.Run(workerCtx, cfg.WebhookWorkers)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = a.echo.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = a.echo.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	stopWorkers()
	logger.Info().Int("ws_clients", a.hub.ClientCount()).Msg("server stopped")
	return nil
}
