package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"kolmowatch/internal/alerting"
	"kolmowatch/internal/config"
	"kolmowatch/internal/provider"
	"kolmowatch/internal/scheduler"
	"kolmowatch/internal/service"
	"kolmowatch/internal/storage"
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

// newProviderChain builds the fallback chain in configured order.
func (a *App) newProviderChain(telemetry provider.TelemetryRecorder) (*provider.Manager, error) {
	p := a.Config.Providers
	chain := make([]provider.Provider, 0, len(p.Order))
	for _, name := range p.Order {
		switch name {
		case "frankfurter":
			chain = append(chain, provider.NewFrankfurter(provider.FrankfurterOptions{
				BaseURL:   p.Frankfurter.BaseURL,
				Timeout:   p.Frankfurter.RequestTimeout,
				UserAgent: p.Frankfurter.UserAgent,
			}, a.Logger))
		case "cbr":
			chain = append(chain, provider.NewCBR(provider.CBROptions{
				BaseURL:   p.CBR.BaseURL,
				Timeout:   p.CBR.RequestTimeout,
				UserAgent: p.CBR.UserAgent,
			}, a.Logger))
		case "twelvedata":
			chain = append(chain, provider.NewTwelveData(provider.TwelveDataOptions{
				BaseURL:   p.TwelveData.BaseURL,
				APIKey:    p.TwelveData.APIKey,
				Timeout:   p.TwelveData.RequestTimeout,
				UserAgent: p.TwelveData.UserAgent,
			}, a.Logger))
		default:
			return nil, fmt.Errorf("unknown provider %q in providers.order", name)
		}
	}
	return provider.NewManager(chain, telemetry, a.Logger), nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newService wires provider chain, store and notifier into a Service.
// The store is required: every pipeline operation persists.
func (a *App) newService(ctx context.Context, sched *scheduler.Scheduler, withAlerts bool) (*service.Service, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}

	manager, err := a.newProviderChain(service.NewTelemetry(store, a.Logger))
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	var notifier alerting.Notifier
	if withAlerts {
		notifier = a.newNotifier()
	}

	svc := service.New(a.Config, sched, manager, store, notifier, a.Logger)
	return svc, closeStore, nil
}

// Run executes the long-running daily pipeline service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runAt, err := config.ParseRunAt(a.Config.Scheduler.RunAt)
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Options{
		RunAt:        runAt,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc, closeStore, err := a.newService(ctx, sched, true)
	if err != nil {
		return err
	}
	defer closeStore()

	a.Logger.Info().Str("run_at", a.Config.Scheduler.RunAt).Msg("starting daily pipeline service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("daily pipeline service stopped")
	return nil
}

// Fetch runs the full pipeline once for a single date.
func (a *App) Fetch(ctx context.Context, date time.Time) error {
	svc, closeStore, err := a.newService(ctx, nil, true)
	if err != nil {
		return err
	}
	defer closeStore()

	rec, err := svc.ProcessDate(ctx, date)
	if err != nil {
		return err
	}
	if rec != nil {
		a.Logger.Info().
			Str("date", date.Format("2006-01-02")).
			Str("kolmo", rec.Invariant.Value.String()).
			Str("state", string(rec.Invariant.State)).
			Str("winner", string(rec.Winner)).
			Msg("date processed")
	}
	return nil
}

// ExportOptions hold parameters for exporting historical records.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	JSONPath  string
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

// RecomputeOptions configure the recompute job.
type RecomputeOptions struct {
	From time.Time
	To   time.Time
}

// CoeffsOptions configure coefficient derivation.
type CoeffsOptions struct {
	Date     time.Time
	JSONPath string
}
