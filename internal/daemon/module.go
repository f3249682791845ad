package daemon

import (
	"context"

	"github.com/matheus3301/wppsync/internal/api"
	"github.com/matheus3301/wppsync/internal/app"
	"github.com/matheus3301/wppsync/internal/avatar"
	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/config"
	"github.com/matheus3301/wppsync/internal/lock"
	"github.com/matheus3301/wppsync/internal/logging"
	"github.com/matheus3301/wppsync/internal/presence"
	"github.com/matheus3301/wppsync/internal/session"
	"github.com/matheus3301/wppsync/internal/status"
	"github.com/matheus3301/wppsync/internal/store"
	intsync "github.com/matheus3301/wppsync/internal/sync"
	"github.com/matheus3301/wppsync/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideGateway,
			presence.NewRepository,
			avatar.NewRepository,
			provideAdapter,
			provideLoader,
			provideDirectory,
			provideImporter,
			provideOrchestrator,
			provideApp,
			provideEngine,
			provideWatcher,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	if p.Config == nil {
		return config.Default()
	}
	return p.Config
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideGateway opens the store at boot. The lock parameter orders it after
// the session lock; a store that cannot be opened aborts startup.
func provideGateway(p Params, _ *lock.Lock, logger *zap.Logger) (*store.Gateway, error) {
	g := store.NewGateway(session.AppDBPath(p.SessionName), store.AppSchema, logger)
	if err := g.Initialize(context.Background()); err != nil {
		return nil, err
	}
	return g, nil
}

func provideAdapter(p Params, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.SessionName, b, logger)
}

func provideLoader(avatars *avatar.Repository, adapter *wa.Adapter, logger *zap.Logger) *avatar.Loader {
	return avatar.NewLoader(avatars, adapter, logger)
}

func provideDirectory(adapter *wa.Adapter, g *store.Gateway, logger *zap.Logger) *wa.Directory {
	return wa.NewDirectory(adapter, g, logger)
}

func provideImporter(g *store.Gateway, adapter *wa.Adapter, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Importer {
	return intsync.NewImporter(g, adapter, b, cfg.ImportBatchSize, logger)
}

func provideOrchestrator(g *store.Gateway, adapter *wa.Adapter, dir *wa.Directory, importer *intsync.Importer, b *bus.Bus, m *status.Machine, logger *zap.Logger) *intsync.Orchestrator {
	return intsync.NewOrchestrator(g, adapter, dir, importer, b, m, logger)
}

func provideApp(
	b *bus.Bus,
	g *store.Gateway,
	pres *presence.Repository,
	avatars *avatar.Repository,
	loader *avatar.Loader,
	m *status.Machine,
	orch *intsync.Orchestrator,
	importer *intsync.Importer,
	logger *zap.Logger,
) *app.App {
	return &app.App{
		Bus:          b,
		Store:        g,
		Presence:     pres,
		Avatars:      avatars,
		Loader:       loader,
		Status:       m,
		Orchestrator: orch,
		Importer:     importer,
		Logger:       logger,
	}
}

func provideEngine(g *store.Gateway, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(g, b, logger)
}

func provideWatcher(orch *intsync.Orchestrator, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *Watcher {
	return NewWatcher(orch, b, cfg.AutoEnsure, logger)
}

func provideService(p Params, a *app.App, adapter *wa.Adapter, cfg *config.Config, logger *zap.Logger) api.LocalDataServer {
	return api.NewLocalDataService(p.SessionName, a, adapter, cfg.PictureWait(), logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, a *app.App, adapter *wa.Adapter, engine *intsync.Engine, watcher *Watcher, logger *zap.Logger) {
	var detachCaches func()
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			detachCaches = a.InvalidateCachesOnClear()

			// Start sync engine (subscribes to wa.* bus events).
			engine.Start(context.Background())
			watcher.Start()

			handler := wa.NewEventHandler(a, adapter, logger)
			adapter.RegisterEventHandler(handler.Handle)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if adapter.IsLoggedIn() {
				go func() {
					if err := adapter.Connect(); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
					}
				}()
			} else {
				logger.Info("no credentials found, auth required")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			watcher.Stop()
			a.Importer.Close()
			engine.Stop()
			adapter.Disconnect()
			a.Loader.Wait()
			if detachCaches != nil {
				detachCaches()
			}
			if err := a.Store.Close(); err != nil {
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
