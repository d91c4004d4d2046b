package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/textgate/textgate/internal/platform/config"
	"github.com/textgate/textgate/internal/platform/database"
	"github.com/textgate/textgate/internal/platform/logger"
	"github.com/textgate/textgate/internal/platform/messagebroker"
	"github.com/textgate/textgate/internal/sms_dispatch_service/app"
	"github.com/textgate/textgate/internal/sms_dispatch_service/domain"
	"github.com/textgate/textgate/internal/sms_dispatch_service/health"
	"github.com/textgate/textgate/internal/sms_dispatch_service/middleware"
	"github.com/textgate/textgate/internal/sms_dispatch_service/provider"
	"github.com/textgate/textgate/internal/sms_dispatch_service/repository"
	pgrepo "github.com/textgate/textgate/internal/sms_dispatch_service/repository/postgres"
	"github.com/textgate/textgate/internal/sms_dispatch_service/retry"
	httptransport "github.com/textgate/textgate/internal/sms_dispatch_service/transport/http"
)

const serviceName = "sms_gateway"

func main() {
	cfg, err := config.Load(os.Getenv("TEXTGATE_CONFIG_PATH"))
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("SMS gateway starting...", "port", cfg.ServerPort, "instances", len(cfg.Instances))

	// Message audit log is optional; without a DSN sends simply go unaudited.
	var messageLog repository.MessageLogRepository
	if cfg.PostgresDSN != "" {
		dbPool, err := database.NewDBPool(context.Background(), cfg.PostgresDSN)
		if err != nil {
			appLogger.Error("Failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()
		messageLog = pgrepo.NewPgMessageLogRepository(dbPool)
		appLogger.Info("Connected to PostgreSQL, message auditing enabled")
	}

	// Send-report events are optional too.
	var natsClient *messagebroker.NatsClient
	if cfg.NATSURL != "" {
		natsClient, err = messagebroker.NewNatsClient(cfg.NATSURL, serviceName, appLogger)
		if err != nil {
			appLogger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		appLogger.Info("Connected to NATS, send reports enabled", "subject", app.ReportSubject)
	}

	transport := provider.NewRESTProvider(appLogger, cfg.Provider.APIURL, cfg.Provider.APIKey, nil)
	retrier := retry.NewPolicy(appLogger)

	registry := app.NewRegistry()
	for name, instCfg := range cfg.Instances {
		svc := app.NewDispatchService(
			name,
			toDomainConfig(instCfg),
			transport,
			retrier,
			messageLog,
			reportsOrNil(natsClient),
			appLogger,
		)
		registry.Register(name, &app.Instance{
			Service: svc,
			Probe:   health.NewProbe(svc, appLogger),
		})
		appLogger.Info("Instance registered", "instance", name, "sender", instCfg.SenderNumber)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(httptransport.PrometheusMetricsMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := httptransport.NewHealthHandler(registry, appLogger)
	messageHandler := httptransport.NewMessageHandler(registry, appLogger)

	// Health endpoints stay open for monitoring aggregators.
	healthHandler.RegisterRoutes(r)

	r.Group(func(api chi.Router) {
		if cfg.APIAuthSecret != "" {
			api.Use(middleware.Auth(cfg.APIAuthSecret, appLogger))
		} else {
			appLogger.Warn("api_auth_secret not set, API authentication disabled")
		}
		messageHandler.RegisterRoutes(api)
	})

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ServerPort), Handler: r}
	go func() {
		appLogger.Info(fmt.Sprintf("SMS gateway listening on port %d", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed to serve", "error", err)
		}
	}()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	<-quitChan
	appLogger.Info("Shutdown signal received, shutting down HTTP server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	}
	appLogger.Info("SMS gateway shut down.")
}

// toDomainConfig maps the raw yaml instance block onto the engine's config.
// Nil pointers mean "not set" and take the documented defaults; explicit
// zeros survive the mapping (max_retries: 0 disables retrying, a timeout of
// 0 disables health caching).
func toDomainConfig(c config.InstanceConfig) domain.InstanceConfig {
	maxRetries := -1
	if c.MaxRetries != nil {
		maxRetries = *c.MaxRetries
	}
	ttl := domain.DefaultCachedResultTTL
	if c.CachedResultTimeoutSeconds != nil {
		ttl = time.Duration(*c.CachedResultTimeoutSeconds) * time.Second
	}
	return domain.InstanceConfig{
		SenderNumber:    c.SenderNumber,
		MaxConcurrency:  c.MaxConcurrency,
		MaxRetries:      maxRetries,
		Tag:             c.Tag,
		CachedResultTTL: ttl,
		TestSending:     c.TestSending,
		TestPhoneNumber: c.TestPhoneNumber,
	}
}

func reportsOrNil(c *messagebroker.NatsClient) app.ReportPublisher {
	if c == nil {
		return nil
	}
	return c
}
