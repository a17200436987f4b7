package entrycache

import (
	"net/http"
	"time"

	"github.com/always-cache/entry-cache/cache"
	"github.com/always-cache/entry-cache/transport"
	"github.com/rs/zerolog"
)

// DefaultMemoryThreshold is the body size above which downloads move to disk.
const DefaultMemoryThreshold int64 = 512 * 1024

type Config struct {
	// Directory for data files. Required.
	DataDir string
	// Downloads larger than this are moved to a file in DataDir.
	// DefaultMemoryThreshold is used if zero; use a negative value to
	// always write to disk.
	MemoryThreshold int64
	// Transport performing the exchanges. An HTTPTransport on the default
	// client is used if nil.
	Transport transport.Transport
	// Storage for the metadata of persistable entries. Metadata is kept in
	// memory only if nil.
	Provider cache.CacheProvider
	// Logger to use. A console logger is created if nil.
	Logger *zerolog.Logger
	// Optional function for transforming origin responses before their
	// metadata is computed.
	// Use it e.g. for adding Cache-Control or other headers.
	ResponseModifier func(*http.Response) error
	// Clock, time.Now if nil.
	Now func() time.Time
	// Revalidate persisted entries expiring within this interval in the
	// background. Zero disables the refresher.
	RefreshInterval time.Duration
	// Only keys with this prefix are refreshed.
	RefreshPrefix string
}
