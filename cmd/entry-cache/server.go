package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	entrycache "github.com/always-cache/entry-cache"
	cachekey "github.com/always-cache/entry-cache/pkg/cache-key"
	"github.com/always-cache/entry-cache/rfc9111"
	"github.com/always-cache/entry-cache/rfc9211"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const cacheName = "entry-cache"

func init() {
	chi.RegisterMethod("PURGE")
}

// server answers GET and HEAD requests from the store's entries, fetching
// from the origin as needed.
type server struct {
	store  *entrycache.Store
	keyer  cachekey.CacheKeyer
	policy entrycache.Policy
	now    func() time.Time
	log    zerolog.Logger
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/*", s.serve)
	r.Head("/*", s.serve)
	r.Method("PURGE", "/*", http.HandlerFunc(s.purge))
	return r
}

func (s *server) serve(w http.ResponseWriter, r *http.Request) {
	key, err := s.keyer.Key(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusMethodNotAllowed)
		return
	}
	log := s.log.With().Str("key", key).Logger()
	originReq, err := s.keyer.OriginRequest(key)
	if err != nil {
		log.Error().Err(err).Msg("Could not create origin request")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	policy := s.policy
	policy.HeadOnly = r.Method == http.MethodHead
	if _, err := s.store.Create(key, originReq, policy); err != nil {
		log.Error().Err(err).Msg("Could not create entry")
		http.Error(w, "Cache unavailable", http.StatusServiceUnavailable)
		return
	}
	before, _ := s.store.Status(key)

	e, err := s.store.Fetch(r.Context(), key)
	cs := rfc9211.New(cacheName)
	if err != nil {
		s.fail(w, log, cs, before, err)
		return
	}

	info := e.Info()
	now := s.now()
	switch {
	case e.ServedFromCache() && before.Complete():
		cs.Hit()
	case e.Status() == entrycache.StatusNotModified:
		cs.Forward(rfc9211.FwdReasonStale)
		cs.ForwardStatus(http.StatusNotModified)
	case e.ServedFromCache():
		// origin failed, serving what we have
		cs.Forward(rfc9211.FwdReasonStale)
		cs.Detail("origin-error")
	default:
		cs.Forward(forwardReason(before))
		cs.ForwardStatus(info.StatusCode)
		if policy.Persistable {
			cs.Stored()
		}
	}
	if !info.ExpiresAt.IsZero() {
		cs.TTL(info.TTL(now))
	}

	header := w.Header()
	for name, values := range info.Header {
		header[name] = append([]string(nil), values...)
	}
	rfc9111.SetAge(header, info.RequestedAt, info.ReceivedAt, now)
	header.Set("Cache-Status", cs.String())

	if r.Method == http.MethodHead {
		w.WriteHeader(info.StatusCode)
		return
	}
	body, err := e.Open()
	if err != nil {
		log.Error().Err(err).Msg("Could not open entry data")
		http.Error(w, "Cache unavailable", http.StatusServiceUnavailable)
		return
	}
	defer body.Close()
	w.WriteHeader(info.StatusCode)
	if _, err := io.Copy(w, body); err != nil {
		log.Debug().Err(err).Msg("Could not write response")
	}
}

func (s *server) fail(w http.ResponseWriter, log zerolog.Logger, cs *rfc9211.CacheStatus, before entrycache.Status, err error) {
	cs.Forward(forwardReason(before))
	status := http.StatusBadGateway
	var transportErr *entrycache.TransportError
	switch {
	case errors.As(err, &transportErr) && transportErr.StatusCode != 0:
		cs.ForwardStatus(transportErr.StatusCode)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	log.Info().Err(err).Msg("Could not serve entry")
	w.Header().Set("Cache-Status", cs.String())
	http.Error(w, http.StatusText(status), status)
}

// purge removes the GET and HEAD entries of the requested URL, loaded or
// persisted.
func (s *server) purge(w http.ResponseWriter, r *http.Request) {
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		req := r.Clone(r.Context())
		req.Method = method
		key, err := s.keyer.Key(req)
		if err != nil {
			continue
		}
		if err := s.store.Remove(key); err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("Could not purge entry")
			http.Error(w, "Purge failed", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func forwardReason(before entrycache.Status) rfc9211.FwdReason {
	switch before {
	case entrycache.StatusNew:
		return rfc9211.FwdReasonUriMiss
	case entrycache.StatusStale, entrycache.StatusFailed:
		return rfc9211.FwdReasonStale
	}
	return rfc9211.FwdReasonMiss
}
