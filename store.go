package entrycache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/always-cache/entry-cache/cache"
	"github.com/always-cache/entry-cache/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Store owns the entries of one data directory.
type Store struct {
	env       *env
	registry  *ObserverRegistry
	coord     *Coordinator
	refresher *Refresher
	log       zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
	closed  bool
	loads   singleflight.Group
}

// Open prepares the data directory and returns a store over it. Leftovers
// of interrupted downloads, and data files without a complete metadata
// record, are removed.
func Open(config Config) (*Store, error) {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("dir", config.DataDir).Logger()

	if config.DataDir == "" {
		return nil, errors.New("data dir not set")
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	threshold := config.MemoryThreshold
	if threshold == 0 {
		threshold = DefaultMemoryThreshold
	} else if threshold < 0 {
		threshold = 0
	}
	provider := config.Provider
	if provider == nil {
		provider = cache.NewMemCache()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	tr := config.Transport
	if tr == nil {
		tr = &transport.HTTPTransport{Logger: &logger}
	}

	registry := NewObserverRegistry()
	s := &Store{
		env: &env{
			dir:       config.DataDir,
			threshold: threshold,
			provider:  provider,
			registry:  registry,
			now:       now,
			log:       logger,
		},
		registry: registry,
		coord:    NewCoordinator(tr, registry, logger),
		log:      logger,
		entries:  make(map[string]*Entry),
	}
	s.coord.now = now
	s.coord.responseModifier = config.ResponseModifier

	if err := s.sweep(); err != nil {
		return nil, err
	}
	if config.RefreshInterval > 0 {
		s.refresher = newRefresher(s, config.RefreshPrefix, config.RefreshInterval)
		go s.refresher.run()
	}
	return s, nil
}

// sweep removes files no complete metadata record refers to, and records
// whose data file is gone.
func (s *Store) sweep() error {
	referenced := make(map[string]bool)
	var stale []string
	err := s.env.provider.AllKeys("", func(key string) {
		m, ok, err := s.env.provider.Get(key)
		if err != nil || !ok {
			return
		}
		if !m.Complete {
			stale = append(stale, key)
			return
		}
		if m.DataFile != "" {
			if _, err := os.Stat(filepath.Join(s.env.dir, m.DataFile)); err == nil {
				referenced[m.DataFile] = true
				return
			}
		}
		stale = append(stale, key)
	})
	if err != nil {
		return fmt.Errorf("listing metadata: %w", err)
	}
	for _, key := range stale {
		s.log.Warn().Str("key", key).Msg("Removing metadata without data")
		if err := s.env.provider.Purge(key); err != nil {
			return fmt.Errorf("purging %s: %w", key, err)
		}
	}

	files, err := os.ReadDir(s.env.dir)
	if err != nil {
		return fmt.Errorf("reading data dir: %w", err)
	}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || referenced[name] {
			continue
		}
		if !strings.HasSuffix(name, downloadSuffix) && !strings.HasSuffix(name, dataSuffix) {
			continue
		}
		s.log.Warn().Str("file", name).Msg("Removing unreferenced data file")
		if err := os.Remove(filepath.Join(s.env.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", name, err)
		}
	}
	return nil
}

// Create returns the entry for key, creating it if needed. A new entry is
// restored from persisted metadata when there is a complete record for it;
// otherwise it starts out New. An existing entry keeps its request and policy.
func (s *Store) Create(key string, req *http.Request, policy Policy) (*Entry, error) {
	if e, ok := s.lookup(key); ok {
		return e, nil
	}
	v, err, _ := s.loads.Do(key, func() (interface{}, error) {
		if e, ok := s.lookup(key); ok {
			return e, nil
		}
		e := newEntry(key, req, policy, s.env)
		if err := s.restore(e); err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil, ErrClosed
		}
		s.entries[key] = e
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (s *Store) restore(e *Entry) error {
	m, ok, err := s.env.provider.Get(e.key)
	if err != nil {
		return fmt.Errorf("loading metadata of %s: %w", e.key, err)
	}
	if !ok || !m.Complete {
		return nil
	}
	if e.restore(m) {
		e.log.Debug().Stringer("status", e.Status()).Msg("Restored entry")
		return nil
	}
	e.log.Warn().Str("file", m.DataFile).Msg("Discarding persisted entry with invalid data")
	if m.DataFile != "" {
		os.Remove(filepath.Join(s.env.dir, m.DataFile))
	}
	return s.env.provider.Purge(e.key)
}

func (s *Store) lookup(key string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Entry returns the entry for key.
func (s *Store) Entry(key string) (*Entry, error) {
	if e, ok := s.lookup(key); ok {
		return e, nil
	}
	return nil, ErrNotFound
}

// Status returns the status of key, moving it to Stale first if it expired.
func (s *Store) Status(key string) (Status, error) {
	e, err := s.Entry(key)
	if err != nil {
		return StatusNew, err
	}
	return e.Expire(s.env.now()), nil
}

// Data returns the complete representation held for key.
func (s *Store) Data(key string) ([]byte, error) {
	e, err := s.Entry(key)
	if err != nil {
		return nil, err
	}
	return e.Data()
}

// EnsureFresh makes o observe a usable representation of key; see
// Coordinator.EnsureFresh. o is signaled exactly once.
func (s *Store) EnsureFresh(ctx context.Context, key string, o Observer) error {
	e, err := s.Entry(key)
	if err != nil {
		return err
	}
	s.coord.EnsureFresh(ctx, e, o)
	return nil
}

// Fetch is EnsureFresh waiting for the outcome. When ctx ends first the
// caller stops waiting; the fetch itself continues for other observers.
func (s *Store) Fetch(ctx context.Context, key string) (*Entry, error) {
	e, err := s.Entry(key)
	if err != nil {
		return nil, err
	}
	w := newWaiter()
	s.coord.EnsureFresh(ctx, e, w)
	select {
	case err := <-w.done:
		return e, err
	case <-ctx.Done():
		if !s.registry.Remove(key, w) {
			// signaled in the meantime
			return e, <-w.done
		}
		return e, ctx.Err()
	}
}

// Cancel stops the fetch in flight for key, see Entry.Cancel.
// It reports whether there was one.
func (s *Store) Cancel(key string) bool {
	return s.coord.Cancel(key)
}

// Refresh revalidates key even if it is still fresh, loading it from the
// persisted metadata if needed.
func (s *Store) Refresh(ctx context.Context, key string) (*Entry, error) {
	e, err := s.Entry(key)
	if errors.Is(err, ErrNotFound) {
		e, err = s.createFromMetadata(key)
	}
	if err != nil {
		return nil, err
	}
	e.Invalidate()
	return s.Fetch(ctx, key)
}

func (s *Store) createFromMetadata(key string) (*Entry, error) {
	m, ok, err := s.env.provider.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	req, err := http.NewRequest(m.Method, m.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("rebuilding request of %s: %w", key, err)
	}
	return s.Create(key, req, Policy{Persistable: true, HeadOnly: m.Method == http.MethodHead})
}

// Remove cancels any fetch for key and deletes the entry with its files
// and metadata.
func (s *Store) Remove(key string) error {
	s.coord.Cancel(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	var err error
	if ok {
		err = e.release()
	}
	if pErr := s.env.provider.Purge(key); pErr != nil && err == nil {
		err = pErr
	}
	return err
}

// Keys returns the keys of the entries currently loaded.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys
}

// Close stops the refresher and cancels every fetch in flight.
// The provider is left open.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	if s.refresher != nil {
		s.refresher.stop()
	}
	for _, key := range keys {
		s.coord.Cancel(key)
	}
	return nil
}
