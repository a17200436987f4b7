package entrycache

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/always-cache/entry-cache/cache"
	"github.com/always-cache/entry-cache/rfc9111"
	"github.com/rs/zerolog"
)

// Policy is fixed when an entry is created.
type Policy struct {
	// Persistable entries are written to disk from the first byte and keep
	// their metadata in the store's provider, so they survive restarts.
	Persistable bool
	// IgnoreTransportErrors serves the last good representation when a
	// fetch fails, instead of failing the entry.
	IgnoreTransportErrors bool
	// HeadOnly entries are fetched with HEAD and hold no body.
	HeadOnly bool
}

// env is what entries of one store share.
type env struct {
	dir       string
	threshold int64
	provider  cache.CacheProvider
	registry  *ObserverRegistry
	now       func() time.Time
	log       zerolog.Logger
}

// Entry is the cached state of one resource.
//
// Mutations are serialized by the entry's lock and by fetch ownership:
// only the fetch holding the current generation may move the entry.
// Observers are always signaled after the lock is released.
type Entry struct {
	key     string
	request *http.Request
	policy  Policy
	env     *env
	log     zerolog.Logger

	mu     sync.RWMutex
	status Status
	info   *Info
	// body is the last complete representation, nil if there is none
	body *body
	// pending and pendingInfo belong to the download in progress
	pending     *buffer
	pendingInfo *Info
	lastErr     error
	gen         uint64

	revalidating    bool
	servedFromCache bool
	lastConditional *http.Request
	userData        interface{}
}

func newEntry(key string, req *http.Request, policy Policy, env *env) *Entry {
	return &Entry{
		key:     key,
		request: req,
		policy:  policy,
		env:     env,
		log:     env.log.With().Str("key", key).Logger(),
		status:  StatusNew,
	}
}

func (e *Entry) Key() string {
	return e.key
}

func (e *Entry) Policy() Policy {
	return e.policy
}

// Request returns a copy of the request the entry is fetched with.
func (e *Entry) Request() *http.Request {
	return e.request.Clone(e.request.Context())
}

func (e *Entry) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Info returns the metadata of the current representation, nil if none.
func (e *Entry) Info() *Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.info
}

// Err returns the failure recorded by the last fetch, if any.
func (e *Entry) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// Revalidating reports whether a conditional request is in flight.
func (e *Entry) Revalidating() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.revalidating
}

// ServedFromCache reports whether the last use was satisfied without
// downloading a body: a fresh hit, a 304, or a fallback to the stale copy.
func (e *Entry) ServedFromCache() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.servedFromCache
}

// LastConditionalRequest returns the last conditional request sent for
// the entry. It is kept for debugging only and never persisted.
func (e *Entry) LastConditionalRequest() *http.Request {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastConditional
}

// CurrentLength returns the number of body bytes held: received so far
// while downloading, the complete length otherwise.
func (e *Entry) CurrentLength() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pending != nil {
		return e.pending.Len()
	}
	if e.body != nil {
		return e.body.size
	}
	return 0
}

func (e *Entry) SetUserData(v interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userData = v
}

func (e *Entry) UserData() interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.userData
}

// HasBody reports whether a complete representation is held.
func (e *Entry) HasBody() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.body != nil
}

// Data returns the complete representation. It is available in Fresh,
// NotModified and Stale, and in any other status that kept a previous body.
func (e *Entry) Data() ([]byte, error) {
	e.mu.RLock()
	b := e.body
	e.mu.RUnlock()
	if b == nil {
		return nil, ErrNotReady
	}
	return b.Bytes()
}

// Open returns a reader over the complete representation.
func (e *Entry) Open() (io.ReadCloser, error) {
	e.mu.RLock()
	b := e.body
	e.mu.RUnlock()
	if b == nil {
		return nil, ErrNotReady
	}
	return b.Open()
}

// Partial returns the bytes of the download in progress received so far.
func (e *Entry) Partial() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pending == nil {
		return nil, ErrNotReady
	}
	return e.pending.Snapshot()
}

// claim hands the entry to a new fetch and returns its generation.
// A failed entry starts over from Stale when it kept a body, else from New.
func (e *Entry) claim() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusFailed {
		if e.body != nil {
			e.transition(StatusStale)
		} else {
			e.transition(StatusNew)
		}
	}
	e.gen++
	e.lastErr = nil
	e.servedFromCache = false
	return e.gen
}

// owns reports whether gen may mutate the entry. Zero matches any fetch.
// Callers hold the lock.
func (e *Entry) owns(gen uint64) bool {
	return gen == 0 || gen == e.gen
}

// endFetchLocked retires the current generation once its fetch has
// finished, so later events of that fetch are dropped.
func (e *Entry) endFetchLocked() {
	e.gen++
}

func (e *Entry) transition(to Status) {
	e.log.Trace().Stringer("from", e.status).Stringer("to", to).Msg("Status changed")
	e.status = to
}

// BeginRevalidation moves a Stale entry to RevalidationPending, recording
// the conditional request about to be sent.
func (e *Entry) BeginRevalidation(req *http.Request) error {
	return e.beginRevalidation(0, req)
}

func (e *Entry) beginRevalidation(gen uint64, req *http.Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.owns(gen) {
		return ErrCancelled
	}
	if e.status != StatusStale {
		return fmt.Errorf("%w: revalidating %s entry", ErrInvalidTransition, e.status)
	}
	e.revalidating = true
	e.lastConditional = req
	e.transition(StatusRevalidationPending)
	return nil
}

// MarkModified records that a conditional request got a full response.
func (e *Entry) MarkModified() error {
	return e.markModified(0)
}

func (e *Entry) markModified(gen uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.owns(gen) {
		return ErrCancelled
	}
	if e.status != StatusRevalidationPending {
		return fmt.Errorf("%w: modified in %s", ErrInvalidTransition, e.status)
	}
	e.transition(StatusModified)
	return nil
}

// BeginDownload starts receiving the body described by info. The previous
// body, if any, stays readable until the new one completes.
func (e *Entry) BeginDownload(info *Info) error {
	return e.beginDownload(0, info)
}

func (e *Entry) beginDownload(gen uint64, info *Info) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.owns(gen) {
		return ErrCancelled
	}
	switch e.status {
	case StatusNew, StatusStale, StatusModified, StatusFailed:
	default:
		return fmt.Errorf("%w: download in %s", ErrInvalidTransition, e.status)
	}
	if e.pending != nil {
		e.pending.discard()
	}
	e.pending = newBuffer(e.env.dir, e.key, e.env.threshold, e.policy.Persistable)
	e.pendingInfo = info
	e.transition(StatusDownloading)
	return nil
}

// AppendData appends a received chunk. A disk failure fails the entry and
// is returned as a *WriteError.
func (e *Entry) AppendData(chunk []byte) error {
	return e.appendData(0, chunk)
}

func (e *Entry) appendData(gen uint64, chunk []byte) error {
	e.mu.Lock()
	if !e.owns(gen) {
		e.mu.Unlock()
		return ErrCancelled
	}
	if e.status != StatusDownloading {
		e.mu.Unlock()
		return fmt.Errorf("%w: data in %s", ErrInvalidTransition, e.status)
	}
	if e.policy.HeadOnly {
		e.mu.Unlock()
		return nil
	}
	wasOnDisk := e.pending.onDisk()
	if err := e.pending.Write(chunk); err != nil {
		e.failLocked(err)
		e.mu.Unlock()
		e.log.Error().Err(err).Msg("Could not buffer data")
		e.env.registry.SignalAll(e.key, e, err)
		return err
	}
	if !wasOnDisk && e.pending.onDisk() {
		e.log.Debug().Int64("size", e.pending.Len()).Msg("Moved download to disk")
	}
	received, expected := e.pending.Len(), e.pendingInfo.ContentLength
	e.mu.Unlock()
	e.env.registry.Progress(e.key, e, received, expected)
	return nil
}

// MarkComplete finishes the download. The new body replaces the previous
// one and the entry becomes Fresh or Stale depending on its metadata.
// A length mismatch fails the entry with a *TruncatedBodyError.
func (e *Entry) MarkComplete() error {
	return e.markComplete(0)
}

func (e *Entry) markComplete(gen uint64) error {
	e.mu.Lock()
	if !e.owns(gen) {
		e.mu.Unlock()
		return ErrCancelled
	}
	if e.status != StatusDownloading {
		e.mu.Unlock()
		return fmt.Errorf("%w: completion in %s", ErrInvalidTransition, e.status)
	}
	info := e.pendingInfo
	if !e.policy.HeadOnly && info.ContentLength != UnknownLength && e.pending.Len() != info.ContentLength {
		err := &TruncatedBodyError{Expected: info.ContentLength, Received: e.pending.Len()}
		e.failLocked(err)
		e.mu.Unlock()
		e.log.Warn().Err(err).Msg("Download incomplete")
		e.env.registry.SignalAll(e.key, e, err)
		return err
	}
	newBody, err := e.pending.commit()
	e.pending = nil
	if err != nil {
		e.failLocked(err)
		e.mu.Unlock()
		e.log.Error().Err(err).Msg("Could not commit download")
		e.env.registry.SignalAll(e.key, e, err)
		return err
	}
	if old := e.body; old != nil && old.path != "" && old.path != newBody.path {
		if err := old.remove(); err != nil {
			e.log.Warn().Err(err).Str("path", old.path).Msg("Could not remove replaced body")
		}
	}
	e.body = newBody
	e.info = info
	e.pendingInfo = nil
	e.revalidating = false
	e.endFetchLocked()
	e.transition(info.ComputeFreshness(e.env.now()))
	e.persistLocked()
	e.mu.Unlock()
	e.log.Debug().Int64("size", newBody.size).Msg("Download complete")
	e.env.registry.SignalAll(e.key, e, nil)
	return nil
}

// MarkNotModified applies a 304 response: the body is kept and the
// metadata refreshed from header.
func (e *Entry) MarkNotModified(header http.Header, requestedAt, receivedAt time.Time) error {
	return e.markNotModified(0, header, requestedAt, receivedAt)
}

func (e *Entry) markNotModified(gen uint64, header http.Header, requestedAt, receivedAt time.Time) error {
	e.mu.Lock()
	if !e.owns(gen) {
		e.mu.Unlock()
		return ErrCancelled
	}
	if e.status != StatusRevalidationPending || e.info == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: not modified in %s", ErrInvalidTransition, e.status)
	}
	e.info = e.info.Refresh(header, requestedAt, receivedAt)
	e.revalidating = false
	e.servedFromCache = true
	e.endFetchLocked()
	e.transition(StatusNotModified)
	e.persistLocked()
	e.mu.Unlock()
	e.env.registry.SignalAll(e.key, e, nil)
	return nil
}

// MarkFailed fails the fetch in progress. A previous body is kept.
// Entries holding a complete representation cannot fail.
func (e *Entry) MarkFailed(reason error) error {
	return e.markFailed(0, reason)
}

func (e *Entry) markFailed(gen uint64, reason error) error {
	e.mu.Lock()
	if !e.owns(gen) {
		e.mu.Unlock()
		return ErrCancelled
	}
	if e.status.Complete() {
		e.mu.Unlock()
		return fmt.Errorf("%w: failure in %s", ErrInvalidTransition, e.status)
	}
	e.failLocked(reason)
	e.mu.Unlock()
	e.env.registry.SignalAll(e.key, e, reason)
	return nil
}

func (e *Entry) failLocked(reason error) {
	if e.pending != nil {
		e.pending.discard()
		e.pending = nil
	}
	e.pendingInfo = nil
	e.revalidating = false
	e.lastErr = reason
	e.endFetchLocked()
	e.transition(StatusFailed)
}

// fallBackToStale ends a failed fetch by keeping the previous body. The
// observers are released as if the fetch had succeeded.
func (e *Entry) fallBackToStale(gen uint64, reason error) error {
	e.mu.Lock()
	if !e.owns(gen) {
		e.mu.Unlock()
		return ErrCancelled
	}
	if e.body == nil || e.status.Complete() {
		e.mu.Unlock()
		return fmt.Errorf("%w: fallback in %s", ErrInvalidTransition, e.status)
	}
	if e.pending != nil {
		e.pending.discard()
		e.pending = nil
	}
	e.pendingInfo = nil
	e.revalidating = false
	e.lastErr = reason
	e.servedFromCache = true
	e.endFetchLocked()
	e.transition(StatusStale)
	e.mu.Unlock()
	e.env.registry.SignalAll(e.key, e, nil)
	return nil
}

// Cancel abandons the fetch in progress. Partial data is discarded; the
// entry returns to Stale when it holds a previous body, to New otherwise.
// Waiting observers get ErrCancelled.
func (e *Entry) Cancel() error {
	return e.cancel(0)
}

// cancel abandons the fetch of generation gen. A fetch that has already
// finished cannot be cancelled.
func (e *Entry) cancel(gen uint64) error {
	e.mu.Lock()
	if !e.owns(gen) {
		e.mu.Unlock()
		return ErrCancelled
	}
	if e.status.Complete() {
		e.mu.Unlock()
		return fmt.Errorf("%w: cancel in %s", ErrInvalidTransition, e.status)
	}
	// invalidate the current fetch, late events are dropped
	e.endFetchLocked()
	if e.pending != nil {
		e.pending.discard()
		e.pending = nil
	}
	e.pendingInfo = nil
	e.revalidating = false
	if e.body != nil {
		e.transition(StatusStale)
	} else {
		e.transition(StatusNew)
	}
	e.mu.Unlock()
	e.env.registry.SignalAll(e.key, e, ErrCancelled)
	return nil
}

// Expire moves a Fresh or NotModified entry to Stale once its metadata
// says so at now. It returns the resulting status.
func (e *Entry) Expire(now time.Time) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Complete() && e.info != nil && e.info.ComputeFreshness(now) == StatusStale {
		e.transition(StatusStale)
	}
	return e.status
}

// Invalidate moves a complete entry to Stale regardless of its expiry,
// so that the next use revalidates it.
func (e *Entry) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Complete() {
		e.transition(StatusStale)
	}
}

// serveIfFresh marks a fresh hit. It reports false when the entry needs a fetch.
func (e *Entry) serveIfFresh(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.status.Complete() || e.info == nil || e.info.ComputeFreshness(now) != StatusFresh {
		if e.status.Complete() {
			e.transition(StatusStale)
		}
		return false
	}
	e.servedFromCache = true
	return true
}

// persistLocked writes the sidecar metadata of persistable entries.
// Failures are logged: the entry stays usable, and without a complete
// record its data file is swept on the next start.
func (e *Entry) persistLocked() {
	if !e.policy.Persistable || e.env.provider == nil || e.body == nil || e.info == nil {
		return
	}
	if err := e.env.provider.Put(e.metadataLocked()); err != nil {
		e.log.Error().Err(err).Msg("Could not persist metadata")
	}
}

func (e *Entry) metadataLocked() cache.Metadata {
	var lastModified string
	if !e.info.LastModified.IsZero() {
		lastModified = rfc9111.FormatHttpDate(e.info.LastModified)
	}
	dataFile := ""
	if e.body.path != "" {
		dataFile = filepath.Base(e.body.path)
	}
	return cache.Metadata{
		Key:            e.key,
		Method:         e.request.Method,
		URL:            e.request.URL.String(),
		DataFile:       dataFile,
		Header:         e.info.Header,
		Expires:        e.info.ExpiresAt,
		Cacheable:      e.info.Cacheable,
		MustRevalidate: e.info.MustRevalidate,
		ETag:           e.info.ETag,
		LastModified:   lastModified,
		ContentLength:  e.info.ContentLength,
		StatusCode:     e.info.StatusCode,
		RequestedAt:    e.info.RequestedAt,
		ReceivedAt:     e.info.ReceivedAt,
		Complete:       true,
	}
}

// restore rebuilds an entry from persisted metadata. It returns false when
// the data file is missing or does not match the recorded length.
func (e *Entry) restore(m cache.Metadata) bool {
	path := filepath.Join(e.env.dir, m.DataFile)
	if m.DataFile == "" {
		return false
	}
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}
	if !e.policy.HeadOnly && m.ContentLength != UnknownLength && stat.Size() != m.ContentLength {
		return false
	}
	info := &Info{
		ExpiresAt:      m.Expires,
		Cacheable:      m.Cacheable,
		MustRevalidate: m.MustRevalidate,
		ETag:           parseETag(m.ETag),
		LastModified:   parseLastModified(m.LastModified),
		ContentLength:  m.ContentLength,
		StatusCode:     m.StatusCode,
		Header:         m.Header,
		RequestedAt:    m.RequestedAt,
		ReceivedAt:     m.ReceivedAt,
	}
	if info.Header == nil {
		info.Header = make(http.Header)
	}
	if info.ContentLength == UnknownLength && !e.policy.HeadOnly {
		info.ContentLength = stat.Size()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info = info
	e.body = &body{path: path, size: stat.Size()}
	e.status = info.ComputeFreshness(e.env.now())
	return true
}

// release drops the entry's resources. The entry must not be used afterwards.
func (e *Entry) release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	if e.pending != nil {
		e.pending.discard()
		e.pending = nil
	}
	var err error
	if e.body != nil {
		err = e.body.remove()
		e.body = nil
	}
	e.info = nil
	e.status = StatusNew
	return err
}
