package entrycache

import (
	"bytes"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshInfo(length int64) *Info {
	return NewInfo(response(200, header("Cache-Control", "max-age=60", "ETag", `"v1"`), length), requested, received)
}

func TestEntryDownloadLifecycle(t *testing.T) {
	h := newHarness(t)
	e := h.create(t, "a", Policy{})
	assert.Equal(t, StatusNew, e.Status())

	_, err := e.Data()
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, e.BeginDownload(freshInfo(6)))
	assert.Equal(t, StatusDownloading, e.Status())
	require.NoError(t, e.AppendData([]byte("abc")))
	partial, err := e.Partial()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(partial))
	assert.Equal(t, int64(3), e.CurrentLength())

	require.NoError(t, e.AppendData([]byte("def")))
	require.NoError(t, e.MarkComplete())
	assert.Equal(t, StatusFresh, e.Status())
	data, err := e.Data()
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}

func TestEntryCompletesStaleWhenExpiredOnArrival(t *testing.T) {
	h := newHarness(t)
	e := h.create(t, "a", Policy{})
	info := NewInfo(response(200, header("Cache-Control", "no-cache"), 1), requested, received)

	require.NoError(t, e.BeginDownload(info))
	require.NoError(t, e.AppendData([]byte("x")))
	require.NoError(t, e.MarkComplete())
	assert.Equal(t, StatusStale, e.Status())
	assert.True(t, e.HasBody())
}

func TestEntryRejectsInvalidTransitions(t *testing.T) {
	h := newHarness(t)
	e := h.create(t, "a", Policy{})

	assert.ErrorIs(t, e.AppendData([]byte("x")), ErrInvalidTransition)
	assert.ErrorIs(t, e.MarkComplete(), ErrInvalidTransition)
	assert.ErrorIs(t, e.MarkModified(), ErrInvalidTransition)
	assert.ErrorIs(t, e.BeginRevalidation(nil), ErrInvalidTransition)
	assert.ErrorIs(t, e.MarkNotModified(nil, requested, received), ErrInvalidTransition)
	assert.Equal(t, StatusNew, e.Status())
}

func TestEntryTruncatedBody(t *testing.T) {
	h := newHarness(t)
	e := h.create(t, "a", Policy{})
	obs, events := observers("a")
	h.store.registry.Register("a", obs[0])

	require.NoError(t, e.BeginDownload(freshInfo(100)))
	require.NoError(t, e.AppendData(bytes.Repeat([]byte("x"), 80)))
	err := e.MarkComplete()

	var truncated *TruncatedBodyError
	require.ErrorAs(t, err, &truncated)
	assert.Equal(t, int64(100), truncated.Expected)
	assert.Equal(t, int64(80), truncated.Received)
	assert.Equal(t, StatusFailed, e.Status())
	assert.ErrorIs(t, e.Err(), err)
	assert.Equal(t, []string{"a:fail"}, *events)
	_, err = e.Data()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestEntryHeadOnlySkipsLengthCheck(t *testing.T) {
	h := newHarness(t)
	e := h.create(t, "a", Policy{HeadOnly: true})

	require.NoError(t, e.BeginDownload(freshInfo(100)))
	require.NoError(t, e.AppendData([]byte("ignored")))
	require.NoError(t, e.MarkComplete())
	assert.Equal(t, StatusFresh, e.Status())
	data, err := e.Data()
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestEntryFailureKeepsPreviousBody(t *testing.T) {
	h := newHarness(t)
	e := h.create(t, "a", Policy{})
	require.NoError(t, e.BeginDownload(freshInfo(3)))
	require.NoError(t, e.AppendData([]byte("old")))
	require.NoError(t, e.MarkComplete())

	h.clock.Advance(time.Hour)
	assert.Equal(t, StatusStale, e.Expire(h.clock.Now()))
	require.NoError(t, e.BeginRevalidation(nil))
	require.NoError(t, e.MarkModified())
	require.NoError(t, e.BeginDownload(freshInfo(3)))
	require.NoError(t, e.AppendData([]byte("ne")))

	data, err := e.Data()
	require.NoError(t, err)
	assert.Equal(t, "old", string(data), "previous body readable during download")

	boom := errors.New("connection reset")
	require.NoError(t, e.MarkFailed(boom))
	assert.Equal(t, StatusFailed, e.Status())
	data, err = e.Data()
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestEntryCancel(t *testing.T) {
	h := newHarness(t)
	e := h.create(t, "a", Policy{})

	require.NoError(t, e.BeginDownload(freshInfo(10)))
	require.NoError(t, e.AppendData([]byte("12345")))
	require.NoError(t, e.Cancel())
	assert.Equal(t, StatusNew, e.Status())
	assert.Zero(t, e.CurrentLength())

	require.NoError(t, e.BeginDownload(freshInfo(2)))
	require.NoError(t, e.AppendData([]byte("ok")))
	require.NoError(t, e.MarkComplete())
	assert.ErrorIs(t, e.Cancel(), ErrInvalidTransition)
}

func TestEntryStaleFetchIsDropped(t *testing.T) {
	h := newHarness(t)
	e := h.create(t, "a", Policy{})

	gen := e.claim()
	require.NoError(t, e.beginDownload(gen, freshInfo(2)))
	require.NoError(t, e.Cancel())
	assert.ErrorIs(t, e.appendData(gen, []byte("x")), ErrCancelled)
	assert.ErrorIs(t, e.markComplete(gen), ErrCancelled)
	assert.Equal(t, StatusNew, e.Status())
}

func TestEntryFinishedFetchCannotBeCancelled(t *testing.T) {
	h := newHarness(t)
	e := h.create(t, "a", Policy{})

	gen := e.claim()
	require.NoError(t, e.beginDownload(gen, NewInfo(response(200, header("Cache-Control", "no-cache"), 2), requested, received)))
	require.NoError(t, e.appendData(gen, []byte("ok")))
	require.NoError(t, e.markComplete(gen))
	require.Equal(t, StatusStale, e.Status())

	assert.ErrorIs(t, e.cancel(gen), ErrCancelled)
	assert.Equal(t, StatusStale, e.Status())
	assert.True(t, e.HasBody())
}

func TestEntryNotModifiedRefreshesInfo(t *testing.T) {
	h := newHarness(t)
	e := h.create(t, "a", Policy{})
	require.NoError(t, e.BeginDownload(freshInfo(3)))
	require.NoError(t, e.AppendData([]byte("old")))
	require.NoError(t, e.MarkComplete())

	h.clock.Advance(time.Hour)
	e.Expire(h.clock.Now())
	require.NoError(t, e.BeginRevalidation(nil))
	now := h.clock.Now()
	require.NoError(t, e.MarkNotModified(header("Cache-Control", "max-age=120"), now, now))

	assert.Equal(t, StatusNotModified, e.Status())
	assert.Equal(t, now.Add(2*time.Minute), e.Info().ExpiresAt)
	assert.Equal(t, int64(3), e.Info().ContentLength)
	assert.True(t, e.ServedFromCache())
}

func TestEntryUserData(t *testing.T) {
	h := newHarness(t)
	e := h.create(t, "a", Policy{})
	e.SetUserData(42)
	assert.Equal(t, 42, e.UserData())
	assert.Equal(t, "http://origin.test/a", e.Request().URL.String())
	assert.Equal(t, http.MethodGet, e.Request().Method)
}
