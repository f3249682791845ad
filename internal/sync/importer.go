package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/store"
	"go.uber.org/zap"
)

// DefaultImportBatchSize is the number of older messages requested per
// conversation when no batch size is configured.
const DefaultImportBatchSize = 50

// HistoryRequester asks the remote side for messages older than anchor.
// Results arrive later as wa.history_batch events.
type HistoryRequester interface {
	RequestHistory(ctx context.Context, anchor *store.Message, count int) error
}

// ImportResult is the payload of import_finished and import_failed events.
type ImportResult struct {
	Requested int
	Err       string
}

// Importer backfills message history for every stored conversation. It runs
// in its own goroutine and stops when the local data is cleared.
type Importer struct {
	src       DBSource
	requester HistoryRequester
	bus       *bus.Bus
	batchSize int
	logger    *zap.Logger

	mu     stdsync.Mutex
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
	unsub  func()
}

// NewImporter creates an importer. A batchSize <= 0 selects DefaultImportBatchSize.
func NewImporter(src DBSource, requester HistoryRequester, b *bus.Bus, batchSize int, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = DefaultImportBatchSize
	}
	im := &Importer{
		src:       src,
		requester: requester,
		bus:       b,
		batchSize: batchSize,
		logger:    logger,
	}
	im.unsub = b.On(KindLocalDataCleared, func(bus.Event) { im.Cancel() })
	return im
}

// StartBackgroundImport starts an import and returns immediately. A running
// import is cancelled first.
func (im *Importer) StartBackgroundImport() {
	im.mu.Lock()
	if im.cancel != nil {
		im.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	im.cancel = cancel
	im.wg.Add(1)
	im.mu.Unlock()

	go func() {
		defer im.wg.Done()
		defer cancel()
		im.run(ctx)
	}()
}

// Cancel stops the running import, if any.
func (im *Importer) Cancel() {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.cancel != nil {
		im.cancel()
		im.cancel = nil
	}
}

// Wait blocks until every started import returned.
func (im *Importer) Wait() {
	im.wg.Wait()
}

// Close cancels the running import and detaches from the bus.
func (im *Importer) Close() {
	im.unsub()
	im.Cancel()
	im.Wait()
}

func (im *Importer) run(ctx context.Context) {
	requested, err := im.importAll(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		im.logger.Info("message import cancelled", zap.Int("requested", requested))
	case err != nil:
		im.logger.Error("message import failed", zap.Error(err), zap.Int("requested", requested))
		im.bus.Publish(bus.NewEvent(KindImportFailed, ImportResult{Requested: requested, Err: err.Error()}))
	default:
		im.logger.Info("message import finished", zap.Int("requested", requested))
		im.bus.Publish(bus.NewEvent(KindImportFinished, ImportResult{Requested: requested}))
	}
}

func (im *Importer) importAll(ctx context.Context) (int, error) {
	db, err := im.src.DB()
	if err != nil {
		return 0, err
	}
	convs, err := db.ListConversations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}

	requested := 0
	for _, c := range convs {
		if err := ctx.Err(); err != nil {
			return requested, err
		}
		oldest, err := db.OldestMessage(ctx, c.ID)
		if err != nil {
			return requested, fmt.Errorf("oldest message of %s: %w", c.ID, err)
		}
		if oldest == nil {
			continue
		}
		if err := im.requester.RequestHistory(ctx, oldest, im.batchSize); err != nil {
			if ctx.Err() != nil {
				return requested, ctx.Err()
			}
			return requested, fmt.Errorf("request history for %s: %w", c.ID, err)
		}
		requested++
	}
	return requested, nil
}
