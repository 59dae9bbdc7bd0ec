package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"omnisearch/internal/adapter/store"
	"omnisearch/internal/domain"
	"omnisearch/internal/infra/config"
	"omnisearch/internal/infra/logger"
	"omnisearch/internal/infra/tracer"
	"omnisearch/internal/usecase/dispatch"
	"omnisearch/internal/usecase/eventbus"
	"omnisearch/internal/usecase/history"
	"omnisearch/internal/usecase/prefs"
	"omnisearch/internal/usecase/registry"
	"omnisearch/internal/usecase/transfer"
)

// Collections declares the store schema: every collection, its primary
// key and the secondary indexes its read paths query. Engines and
// history are read whole (registry cache, GetAll scans), so they declare
// no indexes; preferences are looked up by category.
func Collections() []domain.CollectionSpec {
	return []domain.CollectionSpec{
		{Name: domain.CollectionEngines, Key: "id"},
		{Name: domain.CollectionHistory, Key: "id"},
		{Name: domain.CollectionPreferences, Key: "key", Indexes: []string{"category"}},
	}
}

// App is the explicit context object constructed once at startup and
// passed into collaborators. There is no ambient module-level state:
// Init opens everything, Dispose releases it.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      *store.SQLiteStore
	Bus        *eventbus.Bus
	Registry   *registry.Manager
	Prefs      *prefs.Manager
	History    *history.Manager
	Dispatcher *dispatch.Dispatcher
	Transfer   *transfer.Manager
	Cron       *cron.Cron

	closeLog       func() error
	shutdownTracer func(context.Context) error
}

// Init loads config, opens the store, loads the registry cache, applies
// the first-run seed and wires the dispatcher. Store open/init failure is
// fatal and propagates to the caller.
func Init(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	st, err := store.Open(cfg.Store.Path, log, Collections()...)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New(log)
	reg := registry.NewManager(st, bus, log)
	pf := prefs.NewManager(st, log)
	hist := history.NewManager(st, pf, bus, log, cfg.History.MaxEntries, cfg.History.RetentionDays)
	disp := dispatch.NewDispatcher(reg, hist, bus, log, cfg.Search.SearchesPerMin, cfg.Search.Burst)
	tr := transfer.NewManager(st, reg, pf, log)

	a := &App{
		Config:         cfg,
		Logger:         log,
		Store:          st,
		Bus:            bus,
		Registry:       reg,
		Prefs:          pf,
		History:        hist,
		Dispatcher:     disp,
		Transfer:       tr,
		closeLog:       closeLog,
		shutdownTracer: shutdownTracer,
	}

	if err := reg.Load(ctx); err != nil {
		a.Dispose(ctx)
		return nil, fmt.Errorf("load registry: %w", err)
	}
	if cfg.Seed.Path != "" {
		if err := tr.Seed(ctx, cfg.Seed.Path); err != nil {
			a.Dispose(ctx)
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	if cfg.History.RetentionDays > 0 {
		a.Cron = cron.New()
		if _, err := hist.ScheduleRetention(a.Cron, cfg.History.PruneSchedule); err != nil {
			a.Dispose(ctx)
			return nil, fmt.Errorf("schedule history retention: %w", err)
		}
		a.Cron.Start()
	}

	return a, nil
}

// Dispose drains the bus, stops the cron runner and releases the store,
// tracer and log handles. Safe to call once Init has returned an App.
func (a *App) Dispose(ctx context.Context) error {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	a.Bus.Close()

	var firstErr error
	if err := a.Store.Close(); err != nil {
		firstErr = err
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.closeLog != nil {
		if err := a.closeLog(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
