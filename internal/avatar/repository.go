package avatar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wppsync/internal/validate"
)

// DefaultWaitTimeout bounds WaitForReady when the caller has no preference.
const DefaultWaitTimeout = 30 * time.Second

// Status is the fetch state of a profile picture record.
type Status string

const (
	Loading Status = "loading"
	Fetched Status = "fetched"
	Error   Status = "error"
)

// Record is a cached profile picture. URL is set only when Status is Fetched.
type Record struct {
	Status Status
	URL    string
}

func (rec Record) validate() error {
	switch rec.Status {
	case Fetched:
		if rec.URL == "" {
			return fmt.Errorf("%w: fetched record without url", validate.ErrInvalidArgument)
		}
	case Loading, Error:
		if rec.URL != "" {
			return fmt.Errorf("%w: %s record must not carry a url", validate.ErrInvalidArgument, rec.Status)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", validate.ErrInvalidArgument, rec.Status)
	}
	return nil
}

// Repository caches profile picture records per user and lets callers wait
// for a record to become Fetched.
type Repository struct {
	mu      sync.Mutex
	records map[string]Record
	// changed holds one watch per waited-on key; its channel is closed on
	// every mutation of that key.
	changed map[string]*watch
}

type watch struct {
	ch      chan struct{}
	waiters int
}

// NewRepository creates an empty profile picture cache.
func NewRepository() *Repository {
	return &Repository{
		records: make(map[string]Record),
		changed: make(map[string]*watch),
	}
}

// Store upserts a record. Overwriting with Loading restarts the state machine.
func (r *Repository) Store(id string, rec Record) error {
	if err := validate.UserID(id); err != nil {
		return err
	}
	if err := rec.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.records[id] = rec
	r.notifyLocked(id)
	r.mu.Unlock()
	return nil
}

// resolveLoading replaces a Loading record with rec. It does nothing when the
// record is gone or no longer Loading.
func (r *Repository) resolveLoading(id string, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.records[id]; !ok || cur.Status != Loading {
		return
	}
	r.records[id] = rec
	r.notifyLocked(id)
}

// Get returns the record for a user, if any.
func (r *Repository) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Has reports whether a record exists for the user.
func (r *Repository) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Remove deletes the record for a user.
func (r *Repository) Remove(id string) error {
	if err := validate.UserID(id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.records, id)
	r.notifyLocked(id)
	r.mu.Unlock()
	return nil
}

// Clear deletes every record.
func (r *Repository) Clear() {
	r.mu.Lock()
	clear(r.records)
	for id := range r.changed {
		r.notifyLocked(id)
	}
	r.mu.Unlock()
}

// Len returns the number of cached records.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// WaitForReady blocks until the user's record is Fetched or the timeout elapses.
// The deadline is fixed when the call starts. It returns the Fetched record,
// (nil, nil) when the deadline passes first, or ctx.Err() when ctx is done.
func (r *Repository) WaitForReady(ctx context.Context, id string, timeout time.Duration) (*Record, error) {
	if err := validate.UserID(id); err != nil {
		return nil, err
	}
	if err := validate.Timeout(timeout); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		r.mu.Lock()
		rec, ok := r.records[id]
		if ok && rec.Status == Fetched {
			r.mu.Unlock()
			return &rec, nil
		}
		w := r.watchLocked(id)
		r.mu.Unlock()

		select {
		case <-w.ch:
		case <-deadline.C:
			r.unwatch(id, w)
			return nil, nil
		case <-ctx.Done():
			r.unwatch(id, w)
			return nil, ctx.Err()
		}
	}
}

// watchers returns the number of keys with pending waiters.
func (r *Repository) watchers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changed)
}

func (r *Repository) watchLocked(id string) *watch {
	w, ok := r.changed[id]
	if !ok {
		w = &watch{ch: make(chan struct{})}
		r.changed[id] = w
	}
	w.waiters++
	return w
}

// unwatch releases a waiter that gave up. The watch is dropped with its last
// waiter unless a mutation already closed and replaced it.
func (r *Repository) unwatch(id string, w *watch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w.waiters--
	if w.waiters == 0 && r.changed[id] == w {
		delete(r.changed, id)
	}
}

func (r *Repository) notifyLocked(id string) {
	if w, ok := r.changed[id]; ok {
		close(w.ch)
		delete(r.changed, id)
	}
}
