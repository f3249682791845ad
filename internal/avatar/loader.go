package avatar

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const fetchTimeout = 20 * time.Second

// Fetcher resolves the current profile picture URL of a user.
type Fetcher interface {
	FetchProfilePicture(ctx context.Context, userID string) (string, error)
}

// ErrNoPicture is returned by fetchers when the user has no profile picture.
var ErrNoPicture = errors.New("no profile picture")

// Loader moves records through Loading -> Fetched/Error using a Fetcher.
type Loader struct {
	repo    *Repository
	fetcher Fetcher
	logger  *zap.Logger

	mu sync.Mutex
	// gens holds the generation of the newest fetch per user. A fetch stores
	// its result only while it is still the newest one for that user.
	gens map[string]uint64
	wg   sync.WaitGroup
}

// NewLoader creates a loader that writes into repo.
func NewLoader(repo *Repository, fetcher Fetcher, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{repo: repo, fetcher: fetcher, logger: logger, gens: make(map[string]uint64)}
}

// Load starts a fetch unless a record for the user already exists.
func (l *Loader) Load(id string) error {
	if l.repo.Has(id) {
		return nil
	}
	return l.Reload(id)
}

// Reload overwrites the record with Loading and starts a new fetch. Results of
// fetches started earlier for the same user are discarded.
func (l *Loader) Reload(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.repo.Store(id, Record{Status: Loading}); err != nil {
		return err
	}
	l.gens[id]++
	l.wg.Add(1)
	go l.fetch(id, l.gens[id])
	return nil
}

// Wait blocks until every fetch started so far has stored its result.
func (l *Loader) Wait() {
	l.wg.Wait()
}

func (l *Loader) fetch(id string, gen uint64) {
	defer l.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	url, err := l.fetcher.FetchProfilePicture(ctx, id)
	if err != nil || url == "" {
		if err != nil && !errors.Is(err, ErrNoPicture) {
			l.logger.Warn("profile picture fetch failed", zap.String("user_id", id), zap.Error(err))
		}
		l.complete(id, gen, Record{Status: Error})
		return
	}
	l.complete(id, gen, Record{Status: Fetched, URL: url})
}

// complete stores the result of fetch gen. Stale generations are dropped, and
// so are results for records removed or cleared while the fetch ran.
func (l *Loader) complete(id string, gen uint64, rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gens[id] != gen {
		l.logger.Debug("dropping stale profile picture result", zap.String("user_id", id))
		return
	}
	delete(l.gens, id)
	l.repo.resolveLoading(id, rec)
}
