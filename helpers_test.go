package entrycache

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/always-cache/entry-cache/cache"
	"github.com/always-cache/entry-cache/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

// fakeTransport records exchanges; tests drive their events by hand.
type fakeTransport struct {
	mu        sync.Mutex
	exchanges []*exchange
}

type exchange struct {
	ctx context.Context
	req *http.Request
	h   transport.Handler
}

func (t *fakeTransport) Start(ctx context.Context, req *http.Request, h transport.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exchanges = append(t.exchanges, &exchange{ctx: ctx, req: req, h: h})
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.exchanges)
}

func (t *fakeTransport) last(tb testing.TB) *exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	require.NotEmpty(tb, t.exchanges, "no request dispatched")
	return t.exchanges[len(t.exchanges)-1]
}

func (x *exchange) respond(status int, header http.Header, length int64) error {
	if header == nil {
		header = make(http.Header)
	}
	if length >= 0 {
		header.Set("Content-Length", strconv.FormatInt(length, 10))
	}
	return x.h.OnResponse(&http.Response{
		StatusCode:    status,
		Header:        header,
		ContentLength: length,
		Request:       x.req,
	})
}

// deliver sends the whole body in chunks of size n and completes.
func (x *exchange) deliver(tb testing.TB, body []byte, n int) {
	for len(body) > 0 {
		k := n
		if k > len(body) {
			k = len(body)
		}
		require.NoError(tb, x.h.OnData(body[:k]))
		body = body[k:]
	}
	x.h.OnComplete()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2022, time.June, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store     *Store
	transport *fakeTransport
	clock     *clock
	provider  cache.CacheProvider
	dir       string
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	h := &harness{
		transport: &fakeTransport{},
		clock:     newClock(),
		provider:  cache.NewMemCache(),
		dir:       t.TempDir(),
	}
	h.open(t, opts...)
	return h
}

// open (re)opens the store over the harness' directory and provider.
func (h *harness) open(t *testing.T, opts ...func(*Config)) {
	config := Config{
		DataDir:   h.dir,
		Transport: h.transport,
		Provider:  h.provider,
		Logger:    &testLogger,
		Now:       h.clock.Now,
	}
	for _, opt := range opts {
		opt(&config)
	}
	s, err := Open(config)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	h.store = s
}

func (h *harness) create(t *testing.T, key string, policy Policy) *Entry {
	req, err := http.NewRequest(http.MethodGet, "http://origin.test/"+key, nil)
	require.NoError(t, err)
	e, err := h.store.Create(key, req, policy)
	require.NoError(t, err)
	return e
}

func header(kv ...string) http.Header {
	h := make(http.Header)
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

// recordingObserver keeps the events it receives, tagged with its name.
type recordingObserver struct {
	name   string
	events *[]string
	mu     *sync.Mutex
	errs   []error
}

func (o *recordingObserver) record(event string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*o.events = append(*o.events, o.name+":"+event)
}

func (o *recordingObserver) OnFinish(*Entry) {
	o.record("finish")
}

func (o *recordingObserver) OnFail(_ *Entry, err error) {
	o.errs = append(o.errs, err)
	o.record("fail")
}

func (o *recordingObserver) OnProgress(*Entry, int64, int64) {}

func observers(names ...string) ([]*recordingObserver, *[]string) {
	events := make([]string, 0)
	mu := &sync.Mutex{}
	list := make([]*recordingObserver, 0, len(names))
	for _, name := range names {
		list = append(list, &recordingObserver{name: name, events: &events, mu: mu})
	}
	return list, &events
}
