// Package app holds the application context: the shared instances of the
// store gateway, caches, bus and orchestrator, built once and passed
// explicitly to everything that needs them.
package app

import (
	"github.com/matheus3301/wppsync/internal/avatar"
	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/presence"
	"github.com/matheus3301/wppsync/internal/status"
	"github.com/matheus3301/wppsync/internal/store"
	"github.com/matheus3301/wppsync/internal/sync"
	"go.uber.org/zap"
)

// App is the application context.
type App struct {
	Bus          *bus.Bus
	Store        *store.Gateway
	Presence     *presence.Repository
	Avatars      *avatar.Repository
	Loader       *avatar.Loader
	Status       *status.Machine
	Orchestrator *sync.Orchestrator
	Importer     *sync.Importer
	Logger       *zap.Logger
}

// InvalidateCachesOnClear empties the presence and profile picture caches
// whenever the local data is cleared. The caches are emptied before any
// table is cleared. The returned function detaches the handler.
func (a *App) InvalidateCachesOnClear() func() {
	return a.Bus.On(sync.KindLocalDataCleared, func(bus.Event) {
		a.Presence.Clear()
		a.Avatars.Clear()
		a.logger().Info("local caches cleared")
	})
}

func (a *App) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}
