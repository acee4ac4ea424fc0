// Command pubble-server runs the pubble auth HTTP backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pubble-team/pubbleauth"
	"github.com/pubble-team/pubbleauth/internal/config"
	"github.com/pubble-team/pubbleauth/internal/logging"
	"github.com/pubble-team/pubbleauth/internal/server"
	"github.com/pubble-team/pubbleauth/internal/telemetry"
	otelexport "github.com/pubble-team/pubbleauth/metrics/export/otel"
	"github.com/pubble-team/pubbleauth/metrics/export/prometheus"
	"github.com/pubble-team/pubbleauth/users"
)

const serviceName = "pubble-auth"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(ctx, "server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	res := newResources(logger)
	defer res.close()

	userStore, err := res.userStore(ctx, cfg)
	if err != nil {
		return err
	}
	if err := bootstrapAdmin(ctx, cfg, userStore, logger); err != nil {
		return err
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	for _, w := range engineCfg.Lint() {
		logger.Warn(ctx, "config lint", "code", w.Code, "severity", w.Severity.String(), "detail", w.Message)
	}
	builder := pubbleauth.New().
		WithConfig(engineCfg).
		WithUserProvider(userStore).
		WithLogger(logger.With("component", "engine"))
	if err := res.refreshStore(ctx, cfg, builder); err != nil {
		return err
	}
	if cfg.AuditEnabled {
		builder = builder.WithAuditSink(pubbleauth.NewJSONWriterSink(os.Stdout))
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()

	tp, err := telemetry.NewMeterProvider(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "telemetry shutdown", "error", err)
		}
	}()
	var attrs []attribute.KeyValue
	if cfg.Env != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Env))
	}
	exp, err := otelexport.NewExporter(tp.MeterProvider.Meter(serviceName), engine, attrs...)
	if err != nil {
		return fmt.Errorf("otel exporter: %w", err)
	}
	defer exp.Close()

	table, err := cfg.AccessTable()
	if err != nil {
		return err
	}
	opts := server.Options{
		Auth:        engine,
		Table:       table,
		Logger:      logger.With("component", "http"),
		CORSOrigins: cfg.CORSOrigins(),
		Cookie: server.CookieOptions{
			Secure: cfg.RefreshCookieSecure,
			Domain: cfg.RefreshCookieDomain,
		},
	}
	if cfg.MetricsEnabled {
		opts.Metrics = prometheus.NewExporter(engine).Handler()
	}
	router, err := server.New(opts)
	if err != nil {
		return err
	}

	return server.Run(ctx, cfg.HTTPAddr, router, logger)
}

// bootstrapAdmin creates the configured ADMIN account unless it exists.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, store userStore, logger logging.Logger) error {
	if cfg.BootstrapAdminUsername == "" {
		return nil
	}
	_, err := store.Create(ctx, pubbleauth.UserRecord{
		Username:     cfg.BootstrapAdminUsername,
		PasswordHash: cfg.BootstrapAdminPasswordHash,
		Role:         pubbleauth.RoleAdmin,
	})
	switch {
	case errors.Is(err, users.ErrDuplicateUsername):
		logger.Debug(ctx, "bootstrap admin already exists", "username", cfg.BootstrapAdminUsername)
		return nil
	case err != nil:
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	logger.Info(ctx, "bootstrap admin created", "username", cfg.BootstrapAdminUsername)
	return nil
}
