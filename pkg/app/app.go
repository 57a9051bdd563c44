package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/spoke-sso/pkg/audit"
	"github.com/platinummonkey/spoke-sso/pkg/config"
	"github.com/platinummonkey/spoke-sso/pkg/observability"
	"github.com/platinummonkey/spoke-sso/pkg/sso"
	"github.com/platinummonkey/spoke-sso/pkg/sso/postgres"
	"github.com/platinummonkey/spoke-sso/pkg/sso/statestore"
	"github.com/prometheus/client_golang/prometheus"
)

// Version is reported by the health endpoints. Set with -ldflags at build time.
var Version = "dev"

// stateStore is the state store surface the app needs beyond sso.StateStore
type stateStore interface {
	sso.StateStore
	observability.Pinger
	Close() error
}

// App is a wired SSO service together with the resources it owns
type App struct {
	Config   *config.Config
	Service  *sso.Service
	DB       *sql.DB
	States   sso.StateStore
	Audit    audit.Logger
	Logger   *observability.Logger
	Registry *prometheus.Registry
	Health   *observability.HealthChecker

	otel    *observability.OTelProviders
	closers []func() error
}

// New opens the database described by cfg and builds the app on it. The
// returned App owns the connection pool.
func New(ctx context.Context, cfg *config.Config, issuer sso.AuthIssuer) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}

	a, err := NewWithDB(ctx, cfg, db, issuer)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.closers = append([]func() error{db.Close}, a.closers...)
	return a, nil
}

// NewWithDB builds the app on an existing connection pool, which the caller
// keeps ownership of
func NewWithDB(ctx context.Context, cfg *config.Config, db *sql.DB, issuer sso.AuthIssuer) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if db == nil {
		return nil, errors.New("database is required")
	}
	if issuer == nil {
		return nil, errors.New("auth issuer is required")
	}

	a := &App{
		Config: cfg,
		DB:     db,
		Logger: observability.NewLogger(cfg.Observability.LogLevel, os.Stdout),
	}

	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.otel = providers

	metrics, err := a.newMetrics()
	if err != nil {
		return nil, err
	}

	states, err := newStateStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.States = states
	a.closers = append(a.closers, states.Close)

	providerRepo, err := newProviderRepository(cfg.SSO.ProvidersFile, db)
	if err != nil {
		return nil, err
	}

	auditLogger, err := newAuditLogger(cfg.Audit, db, a.Logger)
	if err != nil {
		return nil, err
	}
	a.Audit = auditLogger
	a.closers = append(a.closers, auditLogger.Close)

	invites := postgres.NewInviteRepository(db)
	svc, err := sso.NewService(sso.Config{
		PublicBaseURL: cfg.SSO.PublicBaseURL,
		StateTTL:      cfg.SSO.StateTTL,
		ClockSkew:     cfg.SSO.ClockSkew,
	}, sso.Dependencies{
		Providers:  providerRepo,
		Tenants:    postgres.NewTenantRepository(db),
		Users:      postgres.NewUserRepository(db),
		Identities: postgres.NewIdentityRepository(db),
		Members:    postgres.NewMembershipRepository(db),
		Invites:    invites,
		Acceptance: invites,
		Issuer:     issuer,
		States:     states,
		HTTPClient: sso.NewHTTPClient(cfg.SSO.HTTPTimeout),
		Audit:      auditLogger,
		Logger:     a.Logger,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SSO service: %w", err)
	}
	a.Service = svc
	a.Health = observability.NewHealthChecker(db, states, Version)

	a.Logger.WithFields(map[string]interface{}{
		"state_backend":  cfg.State.Backend,
		"providers_file": cfg.SSO.ProvidersFile,
		"audit_database": cfg.Audit.Database,
	}).Info("SSO service initialized")

	built = true
	return a, nil
}

func (a *App) newMetrics() (observability.Recorder, error) {
	var recorders observability.Recorders

	if a.Config.Observability.MetricsEnabled {
		a.Registry = prometheus.NewRegistry()
		recorders = append(recorders, observability.NewMetrics(a.Registry))
	}
	if a.otel != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create OTel metrics: %w", err)
		}
		recorders = append(recorders, otelMetrics)
	}

	if len(recorders) == 0 {
		return observability.NopRecorder{}, nil
	}
	return recorders, nil
}

func newStateStore(ctx context.Context, cfg *config.Config) (stateStore, error) {
	switch cfg.State.Backend {
	case config.StateBackendRedis:
		store, err := statestore.NewRedisStore(ctx, cfg.State.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis state store: %w", err)
		}
		return store, nil
	case config.StateBackendMemory:
		return statestore.NewMemoryStore(cfg.State.MemorySize, sso.EffectiveStateTTL(cfg.SSO.StateTTL)), nil
	default:
		return nil, fmt.Errorf("invalid state backend: %s", cfg.State.Backend)
	}
}

// newProviderRepository layers the configs stored in Postgres over the ones
// from the providers file, when one is set. Tenant entries in the file apply
// when Postgres has no row for that tenant.
func newProviderRepository(path string, db *sql.DB) (sso.ProviderConfigRepository, error) {
	tenant := postgres.NewProviderRepository(db)
	if path == "" {
		return tenant, nil
	}

	configs, err := config.LoadProvidersFile(path)
	if err != nil {
		return nil, err
	}
	static, err := sso.NewStaticProviderRepository(configs...)
	if err != nil {
		return nil, fmt.Errorf("invalid providers file %s: %w", path, err)
	}
	return &sso.LayeredProviderRepository{Tenant: tenant, Global: static}, nil
}

// newAuditLogger always logs events to the structured log and adds the file
// and database sinks that are configured
func newAuditLogger(cfg config.AuditConfig, db *sql.DB, logger *observability.Logger) (*audit.MultiLogger, error) {
	sinks := []audit.Logger{audit.NewSlogLogger(logger.Slog())}

	if cfg.File != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
			Path:     cfg.File,
			Rotate:   cfg.Rotate,
			MaxSize:  cfg.MaxSize,
			MaxFiles: cfg.MaxFiles,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create audit file logger: %w", err)
		}
		sinks = append(sinks, fileLogger)
	}

	if cfg.Database {
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, fmt.Errorf("failed to create audit database logger: %w", err)
		}
		sinks = append(sinks, dbLogger)
	}

	multi := audit.NewMultiLogger(sinks...)
	multi.SetAsync(cfg.Async)
	return multi, nil
}

// Router returns the operational routes: health checks and, when enabled,
// Prometheus metrics
func (a *App) Router() *mux.Router {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, a.Health)
	if a.Registry != nil {
		observability.RegisterMetricsEndpoint(router, a.Registry)
	}
	return router
}

// ServeOps serves Router on the configured health port until ctx is done,
// then shuts the server down gracefully
func (a *App) ServeOps(ctx context.Context) error {
	server := &http.Server{
		Addr:         net.JoinHostPort(a.Config.Server.Host, a.Config.Server.HealthPort),
		Handler:      a.Router(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Infof("Operational endpoints listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("operational server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.Logger.Info("Shutting down operational server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("operational server shutdown failed: %w", err)
	}
	return nil
}

// Close releases everything the app owns, most recently acquired first
func (a *App) Close() error {
	var errs []error

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if a.otel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := observability.ShutdownOTel(ctx, a.otel, a.Logger); err != nil {
			errs = append(errs, err)
		}
		a.otel = nil
	}

	return errors.Join(errs...)
}
