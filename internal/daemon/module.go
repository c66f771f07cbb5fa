// Package daemon composes the profile's components into the running campod
// process.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/rmarin/campo/internal/api"
	"github.com/rmarin/campo/internal/bus"
	"github.com/rmarin/campo/internal/config"
	"github.com/rmarin/campo/internal/gateway"
	"github.com/rmarin/campo/internal/lock"
	"github.com/rmarin/campo/internal/logging"
	"github.com/rmarin/campo/internal/media"
	"github.com/rmarin/campo/internal/profile"
	"github.com/rmarin/campo/internal/status"
	"github.com/rmarin/campo/internal/store"
	"github.com/rmarin/campo/internal/syncer"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideGateway,
			provideOrchestrator,
			provideActionService,
			provideMediaService,
			provideLocationService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(profile.ConfigPath(p.ProfileName))
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}

	st := store.New(db)
	if err := st.EnsureCatalog(cfg.OrganizationID); err != nil {
		_ = st.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return st, nil
}

func provideGateway(cfg *config.Config) gateway.Gateway {
	return gateway.NewHTTP(cfg.Gateway.BaseURL, cfg.Gateway.Token,
		time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second)
}

func provideOrchestrator(st *store.Store, gw gateway.Gateway, b *bus.Bus, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *syncer.Orchestrator {
	return syncer.New(st, gw, b, machine, logger, syncer.Config{
		Interval:     time.Duration(cfg.Sync.IntervalSeconds) * time.Second,
		CycleTimeout: time.Duration(cfg.Sync.CycleTimeoutSeconds) * time.Second,
		BatchSize:    cfg.Sync.BatchSize,
		MaxInFlight:  cfg.Sync.MaxInFlight,
		MaxAttempts:  cfg.Sync.MaxAttempts,
		Backoff: syncer.Backoff{
			Base: time.Duration(cfg.Sync.BackoffBaseMillis) * time.Millisecond,
			Cap:  time.Duration(cfg.Sync.BackoffCapMillis) * time.Millisecond,
		},
	})
}

func provideActionService(st *store.Store, b *bus.Bus, cfg *config.Config) *api.ActionService {
	return api.NewActionService(st, b, cfg.Sync.MaxAttempts)
}

func provideMediaService(st *store.Store, b *bus.Bus, cfg *config.Config) *api.MediaService {
	return api.NewMediaService(st, b, media.Params{
		MaxWidth:         cfg.Media.MaxWidth,
		MaxHeight:        cfg.Media.MaxHeight,
		Quality:          cfg.Media.Quality,
		ThumbnailSize:    cfg.Media.ThumbnailSize,
		ThumbnailQuality: cfg.Media.ThumbnailQuality,
	}, cfg.Sync.MaxAttempts)
}

func provideLocationService(st *store.Store, b *bus.Bus, cfg *config.Config) *api.LocationService {
	return api.NewLocationService(st, b, cfg.Sync.MaxAttempts)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, st *store.Store, o *syncer.Orchestrator, machine *status.Machine, cfg *config.Config,
	_ *api.ActionService, _ *api.MediaService, _ *api.LocationService, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			o.Start(context.Background())
			if err := machine.Transition(status.Idle); err != nil {
				return err
			}

			// Pick up whatever was queued before the last shutdown.
			o.OnTrigger("resume")

			logger.Info("daemon started",
				zap.String("org_id", cfg.OrganizationID),
				zap.String("agent_id", cfg.AgentID))
			return nil
		},
		OnStop: func(_ context.Context) error {
			o.Stop()
			if err := st.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
