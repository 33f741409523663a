package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/credit-markets/vitalfi-data/internal/alerting"
	"github.com/credit-markets/vitalfi-data/internal/api"
	"github.com/credit-markets/vitalfi-data/internal/cache"
	"github.com/credit-markets/vitalfi-data/internal/config"
	"github.com/credit-markets/vitalfi-data/internal/derive"
	"github.com/credit-markets/vitalfi-data/internal/ledger"
	"github.com/credit-markets/vitalfi-data/internal/scheduler"
	"github.com/credit-markets/vitalfi-data/internal/service"
	"github.com/credit-markets/vitalfi-data/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// openStore selects the cache backing store. With a database DSN configured
// cache entries survive restarts in Postgres; otherwise the cache lives in
// process memory under the same byte budget.
func (a *App) openStore(ctx context.Context) (cache.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return cache.NewMemoryStore(int(a.Config.Cache.ByteBudget)), nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewCacheStore(pool, a.Config.Cache.ByteBudget)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) newCache(store cache.Store) *cache.Client {
	return cache.NewClient(cache.Options{
		BaseURL:       a.Config.API.BaseURL,
		UserAgent:     a.Config.API.UserAgent,
		Timeout:       a.Config.API.RequestTimeout,
		EvictFraction: a.Config.Cache.EvictFraction,
	}, store, a.Logger)
}

func (a *App) newAPI(store cache.Store) *api.Client {
	return api.NewClient(a.newCache(store), a.Config.API.PageLimit, a.Logger)
}

func (a *App) newReader() (*ledger.Reader, *ledger.Client, error) {
	if a.Config.Ledger.RPCURL == "" {
		return nil, nil, nil
	}
	program, err := derive.ParseAddress(a.Config.Ledger.Program)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger.program: %w", err)
	}
	client := ledger.NewClient(ledger.Options{
		RPCURL:  a.Config.Ledger.RPCURL,
		WSURL:   a.Config.Ledger.WSURL,
		Timeout: a.Config.Ledger.RequestTimeout,
	}, a.Logger)
	return ledger.NewReader(client, program, a.Logger), client, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newService(ctx context.Context, sched *scheduler.Scheduler) (*service.Service, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	reader, ledgerClient, err := a.newReader()
	if err != nil {
		if closeStore != nil {
			closeStore()
		}
		return nil, nil, err
	}

	var apiSource service.APISource
	if a.Config.API.BaseURL != "" {
		apiSource = a.newAPI(store)
	}
	var ledgerSource service.LedgerSource
	if reader != nil {
		ledgerSource = reader
	}

	svc := service.New(sched, apiSource, ledgerSource, a.newNotifier(), service.Options{
		Authority:     a.Config.Ledger.Authority,
		AssetDecimals: a.Config.Ledger.AssetDecimals,
		AlertsOn:      a.Config.Alerting.Enabled,
	}, a.Logger)

	cleanup := func() {
		if ledgerClient != nil {
			ledgerClient.Close()
		}
		if closeStore != nil {
			closeStore()
		}
	}
	return svc, cleanup, nil
}

// Run executes the long-running refresh service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Refresh.Interval,
		AlignToStart: a.Config.Refresh.AlignToStart,
		StartupDelay: a.Config.Refresh.StartupDelay,
	}, a.Logger)

	svc, cleanup, err := a.newService(ctx, sched)
	if err != nil {
		return err
	}
	defer cleanup()

	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; cache is in-memory only")
	}

	a.Logger.Info().Msg("starting vault data service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("vault data service stopped")
	return nil
}

// ExportOptions hold parameters for exporting vault activity history.
type ExportOptions struct {
	Vault     string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// VaultsOptions configure the vaults listing command.
type VaultsOptions struct {
	Authority string
}

// PositionsOptions configure the positions listing command.
type PositionsOptions struct {
	Owner string
}
