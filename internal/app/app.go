// Package app wires the grid, the placer, the journal and the session
// collaborators into a running HTTP service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"

	"asyncedit/internal/api"
	"asyncedit/internal/audit"
	"asyncedit/internal/config"
	"asyncedit/internal/engine"
	"asyncedit/internal/policy"
	"asyncedit/internal/preference"
	"asyncedit/internal/session"
	"asyncedit/internal/storage"
)

type App struct {
	Handler   http.Handler
	Sessions  *session.Manager
	Worlds    *storage.Worlds
	AllowList *policy.AllowList
	Guard     *audit.Guard

	cfg         config.Config
	logger      *slog.Logger
	journal     *engine.Journal
	stopJournal context.CancelFunc
	stopPlacer  func()
	stopWatch   context.CancelFunc
	prefs       *preference.Badger
	audit       *audit.SQLiteRecorder
}

// New replays the journal into the grid and starts every background
// component. Close releases them in reverse order.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	muts, err := engine.LoadJournal(cfg.JournalPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	a.journal, a.stopJournal, err = engine.NewJournal(ctx, engine.JournalCfg{
		Path:           cfg.JournalPath(),
		EnqueueTimeout: cfg.JournalEnqueueTimeout,
		FlushInterval:  cfg.JournalFlushInterval,
		BufferBytes:    cfg.JournalBufferBytes,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	a.Worlds = storage.NewWorlds(storage.WithRecorder(a.journal), storage.WithLogger(logger))
	replayed := a.Worlds.Replay(muts)
	logger.Info("grid restored", "mutations", replayed, "path", cfg.JournalPath())

	placer, stopPlacer := engine.NewPlacer(ctx, engine.PlacerCfg{
		Workers:    cfg.PlacerWorkers,
		ReadyQueue: cfg.PlacerReadyQueue,
		Logger:     logger,
	})
	a.stopPlacer = stopPlacer

	if a.AllowList, err = policy.Load(cfg.OperationsFile, logger); err != nil {
		return nil, err
	}
	if cfg.OperationsFile != "" && cfg.WatchOperations {
		watchCtx, cancel := context.WithCancel(ctx)
		a.stopWatch = cancel
		go func() {
			if err := a.AllowList.Watch(watchCtx, cfg.OperationsFile); err != nil {
				logger.Warn("allow-list watcher stopped", "error", err)
			}
		}()
	}

	if a.prefs, err = preference.OpenBadger(preference.BadgerConfig{Path: cfg.PreferencesDir(), Logger: logger}); err != nil {
		return nil, err
	}

	protected, err := cfg.ProtectedRegions()
	if err != nil {
		return nil, err
	}
	a.Guard = audit.NewGuard(protected...)
	hook := audit.Chain{a.Guard}
	opts := api.Options{Preferences: a.prefs, Logger: logger}
	if cfg.AuditEnabled {
		if a.audit, err = audit.OpenSQLite(cfg.AuditPath(), logger); err != nil {
			return nil, err
		}
		hook = append(hook, a.audit)
		opts.Changes = a.audit
	}

	a.Sessions = session.NewManager(func(actor uuid.UUID, world string) (*session.Session, error) {
		ext := storage.NewExtent(a.Worlds.Get(world), placer, cfg.MaxChanges)
		return session.New(ext, placer, session.Config{
			Actor:       actor,
			MaxQueued:   cfg.MaxQueued,
			AllowList:   a.AllowList,
			Preferences: a.prefs,
			Hook:        hook,
			Logger:      logger,
		}), nil
	})
	a.Handler = api.NewServer(a.Sessions, opts)
	ok = true
	return a, nil
}

// Close flushes every session, drains the placer and closes the journal
// and the stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Sessions != nil {
		if err := a.Sessions.CloseAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.stopWatch != nil {
		a.stopWatch()
	}
	if a.stopPlacer != nil {
		a.stopPlacer()
	}
	if a.stopJournal != nil {
		a.stopJournal()
		<-a.journal.Done()
	}
	if a.prefs != nil {
		if err := a.prefs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close preferences: %w", err))
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
