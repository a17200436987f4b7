package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	events   []string
	body     strings.Builder
	failOn   int
	failures []error
	done     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) OnResponse(res *http.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("response %d", res.StatusCode))
	return nil
}

func (r *recorder) OnData(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "data")
	r.body.Write(chunk)
	if r.failOn > 0 && len(r.events)-1 >= r.failOn {
		close(r.done)
		return errors.New("disk full")
	}
	return nil
}

func (r *recorder) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "complete")
	close(r.done)
}

func (r *recorder) OnFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "failure")
	r.failures = append(r.failures, err)
	close(r.done)
}

func (r *recorder) wait(t *testing.T) {
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("exchange did not finish")
	}
}

func TestHTTPTransportDeliversChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	rec := newRecorder()
	tr := &HTTPTransport{ChunkSize: 30}
	tr.Start(context.Background(), req, rec)
	rec.wait(t)

	assert.Equal(t, strings.Repeat("x", 100), rec.body.String())
	assert.Equal(t, "response 200", rec.events[0])
	assert.Equal(t, "complete", rec.events[len(rec.events)-1])
	assert.Empty(t, rec.failures)
}

func TestHTTPTransportConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	rec := newRecorder()
	(&HTTPTransport{}).Start(context.Background(), req, rec)
	rec.wait(t)

	assert.Equal(t, []string{"failure"}, rec.events)
}

func TestHTTPTransportHandlerStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("y", 100))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	rec := newRecorder()
	rec.failOn = 1
	(&HTTPTransport{ChunkSize: 10}).Start(context.Background(), req, rec)
	rec.wait(t)
	// give a misbehaving transport the chance to deliver more
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"response 200", "data"}, rec.events)
}

func TestHTTPTransportCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		fmt.Fprint(w, strings.Repeat("z", 10))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	rec := newRecorder()
	(&HTTPTransport{ChunkSize: 10}).Start(ctx, req, rec)
	time.Sleep(50 * time.Millisecond)
	cancel()
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.failures, 1)
	assert.ErrorIs(t, rec.failures[0], context.Canceled)
}
