package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/status"
	"github.com/matheus3301/wppsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Local data lifecycle events.
const (
	KindLocalDataCleared          = "localdata.cleared"
	KindLocalDataImported         = "localdata.imported"
	KindSchemaRegenerationSkipped = "localdata.schema_regeneration_skipped"
	KindImportFinished            = "localdata.import_finished"
	KindImportFailed              = "localdata.import_failed"
)

// UserInfoFetcher fetches the account owner's profile.
type UserInfoFetcher interface {
	FetchUserInfo(ctx context.Context) (*store.User, error)
}

// ConversationFetcher fetches every conversation and writes it to the store.
type ConversationFetcher interface {
	FetchConversations(ctx context.Context) error
}

// MessageImporter starts a background message import and returns at once.
// Import outcomes are reported by the importer itself.
type MessageImporter interface {
	StartBackgroundImport()
}

// Store is the part of the persistent store the orchestrator drives.
type Store interface {
	Initialize(ctx context.Context) error
	Tables() []string
	ClearTable(ctx context.Context, name string) error
	SaveUser(ctx context.Context, u *store.User) error
}

// Purger is implemented by stores that can delete their files entirely.
type Purger interface {
	DropEntirely(ctx context.Context) error
}

// ErrPurgeUnsupported is returned by PurgeLocalData when the store cannot
// be deleted.
var ErrPurgeUnsupported = errors.New("store does not support purge")

// SyncError reports a failed step of an orchestrator operation. The
// operation is left partially applied.
type SyncError struct {
	Op   string
	Step string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s local data: %s: %v", e.Op, e.Step, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Orchestrator sequences ensure, drop and refresh of the local data set.
// The three operations never overlap.
type Orchestrator struct {
	store    Store
	users    UserInfoFetcher
	convs    ConversationFetcher
	importer MessageImporter
	bus      bus.Publisher
	machine  *status.Machine
	logger   *zap.Logger

	mu stdsync.Mutex
}

// NewOrchestrator creates an orchestrator. machine and logger may be nil.
func NewOrchestrator(st Store, users UserInfoFetcher, convs ConversationFetcher, importer MessageImporter, b bus.Publisher, machine *status.Machine, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = status.NewMachine(b)
	}
	return &Orchestrator{
		store:    st,
		users:    users,
		convs:    convs,
		importer: importer,
		bus:      b,
		machine:  machine,
		logger:   logger,
	}
}

// State returns the lifecycle state of the local data set.
func (o *Orchestrator) State() status.State {
	return o.machine.Current()
}

// EnsureLocalData initializes the store, saves the account owner, fetches all
// conversations, publishes localdata.imported and starts the background
// message import without waiting for it.
func (o *Orchestrator) EnsureLocalData(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ensure(ctx)
}

// DropLocalData publishes localdata.cleared and then clears every declared
// table concurrently. It returns once all clears finished or the first one
// failed. dropSchema asks for the schema to be regenerated, which is not
// supported: only the rows are removed.
func (o *Orchestrator) DropLocalData(ctx context.Context, dropSchema bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.drop(ctx, dropSchema)
}

// RefreshLocalData drops the local data to completion and then ensures it.
func (o *Orchestrator) RefreshLocalData(ctx context.Context, dropSchema bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.drop(ctx, dropSchema); err != nil {
		return err
	}
	return o.ensure(ctx)
}

// PurgeLocalData publishes localdata.cleared, deletes the store files and
// creates an empty store with the declared schema. It is the only way to
// rebuild the schema itself.
func (o *Orchestrator) PurgeLocalData(ctx context.Context) (err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	purger, ok := o.store.(Purger)
	if !ok {
		return &SyncError{Op: "purge", Step: "drop store", Err: ErrPurgeUnsupported}
	}

	o.transition(status.Dropping)
	defer func() {
		if err != nil {
			o.logger.Error("purge local data failed", zap.Error(err))
			o.transition(status.Failed)
			return
		}
		o.transition(status.Unloaded)
	}()

	o.publish(KindLocalDataCleared)
	if err := purger.DropEntirely(ctx); err != nil {
		return &SyncError{Op: "purge", Step: "drop store", Err: err}
	}
	if err := o.store.Initialize(ctx); err != nil {
		return &SyncError{Op: "purge", Step: "initialize store", Err: err}
	}
	o.logger.Info("local data purged")
	return nil
}

func (o *Orchestrator) ensure(ctx context.Context) (err error) {
	o.transition(status.Ensuring)
	defer func() {
		if err != nil {
			o.logger.Error("ensure local data failed", zap.Error(err))
			o.transition(status.Failed)
			return
		}
		o.transition(status.Ready)
	}()

	if err := o.store.Initialize(ctx); err != nil {
		return &SyncError{Op: "ensure", Step: "initialize store", Err: err}
	}

	user, err := o.users.FetchUserInfo(ctx)
	if err != nil {
		return &SyncError{Op: "ensure", Step: "fetch user info", Err: err}
	}
	if user != nil {
		if err := o.store.SaveUser(ctx, user); err != nil {
			return &SyncError{Op: "ensure", Step: "save user info", Err: err}
		}
	}

	if err := o.convs.FetchConversations(ctx); err != nil {
		return &SyncError{Op: "ensure", Step: "fetch conversations", Err: err}
	}

	o.publish(KindLocalDataImported)
	o.importer.StartBackgroundImport()

	o.logger.Info("local data ensured")
	return nil
}

func (o *Orchestrator) drop(ctx context.Context, dropSchema bool) (err error) {
	o.transition(status.Dropping)
	defer func() {
		if err != nil {
			o.logger.Error("drop local data failed", zap.Error(err))
			o.transition(status.Failed)
			return
		}
		o.transition(status.Unloaded)
	}()

	if err := o.store.Initialize(ctx); err != nil {
		return &SyncError{Op: "drop", Step: "initialize store", Err: err}
	}

	o.publish(KindLocalDataCleared)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range o.store.Tables() {
		g.Go(func() error {
			if err := o.store.ClearTable(gctx, name); err != nil {
				return fmt.Errorf("clear %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &SyncError{Op: "drop", Step: "clear tables", Err: err}
	}

	if dropSchema {
		// Regeneration is not implemented; the tables keep their layout.
		o.logger.Warn("schema regeneration requested but not supported, tables were only cleared")
		o.publish(KindSchemaRegenerationSkipped)
	}

	o.logger.Info("local data dropped", zap.Bool("drop_schema", dropSchema))
	return nil
}

func (o *Orchestrator) publish(kind string) {
	if o.bus != nil {
		o.bus.Publish(bus.NewEvent(kind, nil))
	}
}

func (o *Orchestrator) transition(to status.State) {
	if err := o.machine.Transition(to); err != nil {
		o.logger.Debug("status transition skipped", zap.Error(err))
	}
}
