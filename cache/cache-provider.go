package cache

import (
	"net/http"
	"time"
)

// CacheProvider stores the sidecar metadata of persisted entries.
// The entry bodies themselves live in data files next to the metadata;
// a record with Complete set is the marker that its data file is whole.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// AllKeys calls the given callback for each key with the given prefix.
	AllKeys(prefix string, cb func(string)) error
	// Get returns the metadata stored for key, and whether it exists.
	Get(key string) (Metadata, bool, error)
	// Put stores (or replaces) the metadata for m.Key.
	Put(m Metadata) error
	// Expiring returns the keys of complete entries expiring at or before the
	// given time, earliest expiration first. Entries without an expiration
	// time are skipped.
	Expiring(prefix string, before time.Time) ([]string, error)
	// Purge removes the metadata for the given key.
	Purge(key string) error
	// Has checks if the specified key exists.
	Has(key string) bool
	Close() error
}

// Metadata is the persisted description of one entry.
type Metadata struct {
	Key    string
	Method string
	URL    string
	// DataFile is the path of the body, relative to the data directory.
	DataFile string
	Header   http.Header
	// Expires is zero when the response carried no explicit expiration.
	Expires        time.Time
	Cacheable      bool
	MustRevalidate bool
	ETag           string
	// LastModified is kept in its HTTP-date form; an unparsable value
	// is treated as no validator.
	LastModified  string
	ContentLength int64
	StatusCode    int
	RequestedAt   time.Time
	ReceivedAt    time.Time
	Complete      bool
}

// toUnixMilli maps the zero time to 0. Other times at or before the epoch
// are clamped to 1 so that they stay distinguishable from zero.
func toUnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	if ms := t.UnixMilli(); ms > 0 {
		return ms
	}
	return 1
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
