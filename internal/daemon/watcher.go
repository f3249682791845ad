package daemon

import (
	"context"
	"sync"

	"github.com/matheus3301/wppsync/internal/bus"
	"go.uber.org/zap"
)

// Connection and session events the daemon reacts to.
const (
	KindConnected = "sync.connected"
	KindLoggedOut = "session.logged_out"
)

// LocalData is the part of the orchestrator driven by connection events.
type LocalData interface {
	EnsureLocalData(ctx context.Context) error
	DropLocalData(ctx context.Context, dropSchema bool) error
}

// Watcher ensures local data when the protocol connection comes up and drops
// it when the session is logged out remotely. Operations run in their own
// goroutine so bus publishers are never blocked.
type Watcher struct {
	local      LocalData
	bus        *bus.Bus
	autoEnsure bool
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsubs []func()

	mu      sync.Mutex
	stopped bool
}

// NewWatcher creates a watcher. Nothing happens until Start.
func NewWatcher(local LocalData, b *bus.Bus, autoEnsure bool, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{local: local, bus: b, autoEnsure: autoEnsure, logger: logger}
}

// Start registers the bus handlers.
func (w *Watcher) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())
	if w.autoEnsure {
		w.unsubs = append(w.unsubs, w.bus.On(KindConnected, func(bus.Event) {
			w.spawn("ensure", func(ctx context.Context) error {
				return w.local.EnsureLocalData(ctx)
			})
		}))
	}
	w.unsubs = append(w.unsubs, w.bus.On(KindLoggedOut, func(bus.Event) {
		w.spawn("drop", func(ctx context.Context) error {
			return w.local.DropLocalData(ctx, false)
		})
	}))
}

// Stop detaches the handlers, cancels running operations and waits for them.
func (w *Watcher) Stop() {
	for _, unsub := range w.unsubs {
		unsub()
	}
	w.unsubs = nil

	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) spawn(op string, fn func(ctx context.Context) error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := fn(w.ctx); err != nil {
			w.logger.Error("automatic local data operation failed", zap.String("op", op), zap.Error(err))
		}
	}()
}
