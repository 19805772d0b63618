// Package app assembles the settlement stack from configuration: ledger,
// curve factory, fee vault, event bus, metrics, storage and journal.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rovshanmuradov/curve-bundler/internal/bundler"
	"github.com/rovshanmuradov/curve-bundler/internal/config"
	"github.com/rovshanmuradov/curve-bundler/internal/curve"
	"github.com/rovshanmuradov/curve-bundler/internal/events"
	"github.com/rovshanmuradov/curve-bundler/internal/journal"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
	"github.com/rovshanmuradov/curve-bundler/internal/metrics"
	"github.com/rovshanmuradov/curve-bundler/internal/protocol"
	"github.com/rovshanmuradov/curve-bundler/internal/storage"
	"github.com/rovshanmuradov/curve-bundler/internal/storage/memory"
	"github.com/rovshanmuradov/curve-bundler/internal/storage/postgres"
	"github.com/rovshanmuradov/curve-bundler/internal/vault"
	"go.uber.org/zap"
)

// ProgramID is the program every protocol account is derived from.
var ProgramID = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

// Account seeds.
var (
	seedBundler      = []byte("bundler")
	seedFactory      = []byte("factory")
	seedFeeVault     = []byte("fee-vault")
	seedFeeRecipient = []byte("fee-recipient")
)

const shutdownTimeout = 10 * time.Second

// Addresses are the protocol accounts derived from ProgramID.
type Addresses struct {
	Bundler      ledger.Address
	Factory      ledger.Address
	FeeVault     ledger.Address
	FeeRecipient ledger.Address
}

// DeriveAddresses computes the protocol accounts. The result is the same on
// every call.
func DeriveAddresses() (Addresses, error) {
	var a Addresses
	for _, d := range []struct {
		seed []byte
		dst  *ledger.Address
	}{
		{seedBundler, &a.Bundler},
		{seedFactory, &a.Factory},
		{seedFeeVault, &a.FeeVault},
		{seedFeeRecipient, &a.FeeRecipient},
	} {
		addr, _, err := solana.FindProgramAddress([][]byte{d.seed}, ProgramID)
		if err != nil {
			return Addresses{}, fmt.Errorf("derive %s address: %w", d.seed, err)
		}
		*d.dst = addr
	}
	return a, nil
}

// Option overrides a component New would otherwise build from config.
type Option func(*options)

type options struct {
	store    storage.Storage
	registry *prometheus.Registry
	clock    func() time.Time
}

// WithStore uses s instead of the store selected by postgres_url.
func WithStore(s storage.Storage) Option {
	return func(o *options) { o.store = s }
}

// WithClock sets the bundler clock.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// App is a fully wired settlement stack.
type App struct {
	Config    *config.Config
	Addresses Addresses
	Ledger    *ledger.Ledger
	Registry  *protocol.Registry
	Factory   *curve.Factory
	Vault     *vault.Vault
	Bus       *events.Bus
	Metrics   *metrics.Collector
	Bundler   *bundler.Bundler
	Store     storage.Storage
	Journal   *journal.Journal

	promRegistry *prometheus.Registry
	closers      *shutdown
	logger       *zap.Logger
}

// New builds and initializes the stack. The bundler is bound to the factory
// before New returns. Close must be called to flush the journal.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	params, err := cfg.CurveParams()
	if err != nil {
		return nil, err
	}
	addrs, err := DeriveAddresses()
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:       cfg,
		Addresses:    addrs,
		promRegistry: o.registry,
		closers:      newShutdown(logger.Named("shutdown")),
		logger:       logger.Named("app"),
	}

	a.Ledger = ledger.New(logger)
	a.Registry = protocol.NewRegistry(logger)

	a.Factory, err = curve.NewFactory(a.Ledger.State(), addrs.Factory, params, logger)
	if err != nil {
		return nil, fmt.Errorf("create factory: %w", err)
	}
	if err := a.Registry.Register(a.Factory); err != nil {
		return nil, err
	}
	a.Vault = vault.New(a.Ledger.State(), addrs.FeeVault, addrs.FeeRecipient, logger)

	a.Metrics, err = metrics.NewCollector(o.registry)
	if err != nil {
		return nil, err
	}

	a.Store = o.store
	if a.Store == nil {
		a.Store, err = openStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	a.closers.add("store", func(context.Context) error {
		a.Store.Close()
		return nil
	})

	a.Bus = events.NewBus(logger, cfg.EventBuffer)
	a.Journal, err = journal.New(journal.Config{
		Store:    a.Store,
		Retries:  uint(cfg.JournalRetries),
		Recorder: a.Metrics,
		Logger:   logger,
	})
	if err != nil {
		a.abort(a.Bus.Shutdown)
		return nil, err
	}
	a.Journal.Attach(a.Bus)
	a.closers.add("journal", func(context.Context) error {
		a.Journal.Detach()
		return nil
	})
	a.closers.add("event_bus", a.Bus.Shutdown)

	a.Bundler, err = bundler.New(&bundler.Config{
		Ledger:    a.Ledger,
		Address:   addrs.Bundler,
		Factories: a.Registry,
		Vault:     a.Vault,
		Publisher: a.Bus,
		Recorder:  a.Metrics,
		Clock:     o.clock,
		Logger:    logger,
	})
	if err != nil {
		a.abort(nil)
		return nil, err
	}
	if err := a.Bundler.Initialize(addrs.Factory); err != nil {
		a.abort(nil)
		return nil, err
	}

	a.logger.Info("Settlement stack ready",
		zap.String("bundler", addrs.Bundler.String()),
		zap.String("factory", addrs.Factory.String()),
		zap.String("fee_vault", addrs.FeeVault.String()),
		zap.String("deploy_fee", params.DeployFee.Dec()))
	return a, nil
}

// OpenStore opens the configured trade store without building the rest of
// the stack.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	return openStore(ctx, cfg, logger)
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.PostgresURL == "" {
		logger.Debug("postgres_url not set, journaling to memory")
		return memory.New(), nil
	}

	store, err := postgres.NewStore(ctx, cfg.PostgresURL, logger)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	if err := store.RunMigrations(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate postgres store: %w", err)
	}
	return store, nil
}

// Fund grants addr the configured initial balance.
func (a *App) Fund(addr ledger.Address) error {
	amount, err := a.Config.InitialBalanceAmount()
	if err != nil {
		return err
	}
	return a.Ledger.Fund(addr, amount)
}

// Gatherer exposes the metrics registry.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.promRegistry
}

// ServeMetrics serves /metrics on metrics_addr until ctx is done. It returns
// immediately when no address is configured.
func (a *App) ServeMetrics(ctx context.Context) error {
	if a.Config.MetricsAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.Config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Serving metrics", zap.String("addr", a.Config.MetricsAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close drains the event bus so every committed trade reaches the journal,
// then releases storage. Calling Close again is a no-op.
func (a *App) Close(ctx context.Context) error {
	err := a.closers.run(ctx)

	stats := a.Bus.Stats()
	a.logger.Info("Settlement stack closed",
		zap.Uint64("events_published", stats.Published),
		zap.Uint64("events_dropped", stats.Dropped),
		zap.Uint64("handler_failures", stats.HandlerFailures))
	return err
}

// abort releases whatever New built before failing. extra closes a
// component that was not registered yet.
func (a *App) abort(extra closeFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if extra != nil {
		a.closers.add("pending", extra)
	}
	if err := a.closers.run(ctx); err != nil {
		a.logger.Warn("Cleanup after failed startup", zap.Error(err))
	}
}
