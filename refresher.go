package entrycache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Refresher revalidates persisted entries before they expire, one entry
// at a time, oldest expiration first.
type Refresher struct {
	store    *Store
	prefix   string
	interval time.Duration
	log      zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

func newRefresher(s *Store, prefix string, interval time.Duration) *Refresher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		store:    s,
		prefix:   prefix,
		interval: interval,
		log:      s.log.With().Str("component", "refresher").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}
}

// run queries the provider for entries expiring within the interval and
// refreshes them, then sleeps for the interval.
func (r *Refresher) run() {
	defer close(r.stopped)
	r.log.Info().Msgf("Starting refresh loop with interval %s", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if n := r.refreshExpiring(); n == 0 {
			r.log.Trace().Msg("No entries expiring, pausing refresh")
		}
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// refreshExpiring refreshes every entry expiring within the interval, each
// once per round, earliest expiration first. Entries refreshed in this round
// are not revisited even if they expire again within the window. It returns
// the number of refreshed entries.
func (r *Refresher) refreshExpiring() int {
	keys, err := r.store.env.provider.Expiring(r.prefix, r.store.env.now().Add(r.interval))
	if err != nil {
		r.log.Error().Err(err).Msg("Could not get expiring entries")
		return 0
	}
	refreshed := 0
	for _, key := range keys {
		if r.ctx.Err() != nil {
			break
		}
		r.refreshEntry(key)
		refreshed++
	}
	return refreshed
}

// refreshEntry revalidates key, retrying once. An entry that cannot be
// refreshed is removed.
func (r *Refresher) refreshEntry(key string) {
	log := r.log.With().Str("key", key).Logger()
	log.Trace().Msg("Refreshing entry")
	err := r.refreshOnce(key)
	if err != nil && r.ctx.Err() == nil {
		select {
		case <-time.After(time.Second):
		case <-r.ctx.Done():
		}
		err = r.refreshOnce(key)
	}
	if err == nil || r.ctx.Err() != nil {
		return
	}
	log.Error().Err(err).Msg("Could not refresh entry")
	if err := r.store.Remove(key); err != nil {
		log.Error().Err(err).Msg("Could not remove entry")
	}
}

func (r *Refresher) refreshOnce(key string) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.interval)
	defer cancel()
	_, err := r.store.Refresh(ctx, key)
	return err
}

func (r *Refresher) stop() {
	r.cancel()
	<-r.stopped
}
