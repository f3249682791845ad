package presence

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wppsync/internal/validate"
)

// Repository caches the online flag of tracked users.
// An id that was never set is untracked, which is distinct from tracked and offline.
type Repository struct {
	mu     sync.RWMutex
	online map[string]bool
}

// NewRepository creates an empty presence cache.
func NewRepository() *Repository {
	return &Repository{online: make(map[string]bool)}
}

// SetOnlineStatus upserts the online flag for a user.
func (r *Repository) SetOnlineStatus(id string, isOnline bool) error {
	if err := validate.UserID(id); err != nil {
		return err
	}
	r.mu.Lock()
	r.online[id] = isOnline
	r.mu.Unlock()
	return nil
}

// SetBulkOnlineStatus applies a presence snapshot. With withReset every tracked
// user is first forced offline, so users missing from the snapshot do not keep
// a stale online flag. All keys are validated before anything is mutated.
func (r *Repository) SetBulkOnlineStatus(statuses map[string]bool, withReset bool) error {
	for id := range statuses {
		if err := validate.UserID(id); err != nil {
			return fmt.Errorf("bulk presence: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if withReset {
		for id := range r.online {
			r.online[id] = false
		}
	}
	for id, isOnline := range statuses {
		r.online[id] = isOnline
	}
	return nil
}

// IsOnline reports whether the user is tracked and online.
func (r *Repository) IsOnline(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online[id]
}

// IsTracked reports whether the user has a presence entry.
func (r *Repository) IsTracked(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[id]
	return ok
}

// TrackedIDs returns the tracked user ids in lexical order.
func (r *Repository) TrackedIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.online))
	for id := range r.online {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Snapshot returns a copy of every tracked entry.
func (r *Repository) Snapshot() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.online))
	for id, v := range r.online {
		out[id] = v
	}
	return out
}

// Remove stops tracking a user.
func (r *Repository) Remove(id string) error {
	if err := validate.UserID(id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.online, id)
	r.mu.Unlock()
	return nil
}

// ResetAll marks every tracked user offline.
func (r *Repository) ResetAll() {
	r.mu.Lock()
	for id := range r.online {
		r.online[id] = false
	}
	r.mu.Unlock()
}

// Clear drops all entries.
func (r *Repository) Clear() {
	r.mu.Lock()
	clear(r.online)
	r.mu.Unlock()
}
