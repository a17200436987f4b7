package entrycache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/always-cache/entry-cache/rfc9111"
	"github.com/always-cache/entry-cache/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Coordinator decides, per use of an entry, whether it can be served as is,
// must be revalidated, or must be downloaded, and runs the resulting fetch.
// At most one fetch is in flight per key; later callers join it.
type Coordinator struct {
	transport        transport.Transport
	registry         *ObserverRegistry
	responseModifier func(*http.Response) error
	now              func() time.Time
	log              zerolog.Logger

	mu       sync.Mutex
	inflight map[string]*fetch
}

func NewCoordinator(t transport.Transport, registry *ObserverRegistry, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		transport: t,
		registry:  registry,
		now:       time.Now,
		log:       logger,
		inflight:  make(map[string]*fetch),
	}
}

// EnsureFresh makes o observe a usable representation of e. A fresh entry
// is served without touching the network. Otherwise o joins the fetch in
// flight, or a new one is started: conditional when the entry holds a
// validator, unconditional when it does not.
func (c *Coordinator) EnsureFresh(ctx context.Context, e *Entry, o Observer) {
	if !c.registry.Register(e.key, o) {
		e.log.Trace().Msg("Joined fetch in flight")
		return
	}
	if e.serveIfFresh(c.now()) {
		e.log.Trace().Msg("Serving fresh entry")
		c.registry.SignalAll(e.key, e, nil)
		return
	}
	if err := ctx.Err(); err != nil {
		c.registry.SignalAll(e.key, e, err)
		return
	}
	c.dispatch(e)
}

func (c *Coordinator) dispatch(e *Entry) {
	f := &fetch{
		id:    uuid.New(),
		c:     c,
		entry: e,
		gen:   e.claim(),
	}
	f.log = e.log.With().Str("fetch", f.id.String()).Logger()

	// the fetch outlives the caller, only Cancel stops it
	fctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	req := e.Request()
	if e.policy.HeadOnly {
		req.Method = http.MethodHead
	}
	if e.Status() == StatusStale {
		condReq, err := e.Info().BuildConditionalRequest(req)
		switch {
		case errors.Is(err, ErrNoValidator):
			f.log.Debug().Msg("No validator, fetching full response")
		case err != nil:
			cancel()
			c.abort(f, err)
			return
		default:
			if err := e.beginRevalidation(f.gen, condReq); err != nil {
				cancel()
				c.abort(f, err)
				return
			}
			req = condReq
			f.conditional = true
		}
	}

	c.mu.Lock()
	c.inflight[e.key] = f
	c.mu.Unlock()

	f.target = req.Method + " " + req.URL.String()
	f.requestedAt = c.now()
	f.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Bool("conditional", f.conditional).
		Msg("Dispatching request")
	c.transport.Start(fctx, req.WithContext(fctx), f)
}

// abort fails a fetch that could not be dispatched.
func (c *Coordinator) abort(f *fetch, err error) {
	f.log.Error().Err(err).Msg("Could not dispatch fetch")
	if mErr := f.entry.markFailed(f.gen, err); mErr != nil {
		c.registry.SignalAll(f.entry.key, f.entry, err)
	}
}

// Cancel stops the fetch in flight for key. It reports false when there
// was none.
func (c *Coordinator) Cancel(key string) bool {
	c.mu.Lock()
	f, ok := c.inflight[key]
	delete(c.inflight, key)
	c.mu.Unlock()
	if !ok {
		return false
	}
	f.cancel()
	if err := f.entry.cancel(f.gen); err != nil {
		f.log.Debug().Err(err).Msg("Fetch already finished")
		return false
	}
	f.log.Debug().Msg("Fetch cancelled")
	return true
}

// InFlight reports whether a fetch is running for key.
func (c *Coordinator) InFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[key]
	return ok
}

func (c *Coordinator) release(f *fetch) {
	c.mu.Lock()
	if c.inflight[f.entry.key] == f {
		delete(c.inflight, f.entry.key)
	}
	c.mu.Unlock()
	f.cancel()
}

var errFetchDone = errors.New("fetch done")

// fetch handles the transport events of one exchange.
type fetch struct {
	id          uuid.UUID
	c           *Coordinator
	entry       *Entry
	gen         uint64
	conditional bool
	target      string
	requestedAt time.Time
	cancel      context.CancelFunc
	log         zerolog.Logger
}

func (f *fetch) OnResponse(res *http.Response) error {
	receivedAt := f.c.now()
	e := f.entry

	if f.conditional && rfc9111.NotModified(res) {
		f.log.Debug().Msg("Not modified")
		if err := e.markNotModified(f.gen, res.Header, f.requestedAt, receivedAt); err != nil {
			f.log.Debug().Err(err).Msg("Dropping response")
		}
		f.c.release(f)
		return errFetchDone
	}
	if res.StatusCode < 200 || res.StatusCode > 299 || res.StatusCode == http.StatusPartialContent {
		f.fail(&TransportError{
			StatusCode: res.StatusCode,
			Err:        errors.New(f.target),
		})
		return errFetchDone
	}
	if f.c.responseModifier != nil {
		if err := f.c.responseModifier(res); err != nil {
			f.fail(&TransportError{StatusCode: res.StatusCode, Err: err})
			return errFetchDone
		}
	}

	info := NewInfo(res, f.requestedAt, receivedAt)
	if f.conditional {
		if err := e.markModified(f.gen); err != nil {
			f.stop(err)
			return err
		}
	}
	if err := e.beginDownload(f.gen, info); err != nil {
		f.stop(err)
		return err
	}
	f.log.Debug().Int("status", res.StatusCode).Int64("length", info.ContentLength).Msg("Downloading")
	return nil
}

func (f *fetch) OnData(chunk []byte) error {
	if err := f.entry.appendData(f.gen, chunk); err != nil {
		// the entry has failed and signaled its observers
		f.stop(err)
		return err
	}
	return nil
}

func (f *fetch) OnComplete() {
	if err := f.entry.markComplete(f.gen); err != nil {
		f.log.Debug().Err(err).Msg("Completion rejected")
	}
	f.c.release(f)
}

func (f *fetch) OnFailure(err error) {
	f.fail(&TransportError{Err: err})
}

// fail applies a transport failure, falling back to the previous body
// when the policy allows it.
func (f *fetch) fail(err error) {
	e := f.entry
	defer f.c.release(f)
	if e.policy.IgnoreTransportErrors && e.HasBody() {
		if fbErr := e.fallBackToStale(f.gen, err); fbErr == nil {
			f.log.Warn().Err(err).Msg("Fetch failed, serving stale entry")
			return
		}
	}
	if mErr := e.markFailed(f.gen, err); mErr != nil {
		f.log.Debug().Err(mErr).Msg("Dropping failure")
		return
	}
	f.log.Info().Err(err).Msg("Fetch failed")
}

// stop ends a fetch whose entry refused an event.
func (f *fetch) stop(err error) {
	if !errors.Is(err, ErrCancelled) {
		f.log.Debug().Err(err).Msg("Stopping fetch")
	}
	f.c.release(f)
}
