package entrycache

import (
	"net/http"
	"strings"
	"time"

	"github.com/always-cache/entry-cache/rfc9111"
)

// UnknownLength is the ContentLength of responses that did not declare one.
const UnknownLength int64 = -1

// Info is the metadata of one version of a resource, derived from the
// response that delivered it. It is immutable; a successful revalidation
// produces a new Info through Refresh.
type Info struct {
	// ExpiresAt is zero when the response carried no explicit expiration.
	ExpiresAt time.Time
	// Cacheable is false for responses that must be validated on every use.
	Cacheable      bool
	MustRevalidate bool
	// ETag and LastModified are the validators; either may be absent.
	ETag          string
	LastModified  time.Time
	ContentLength int64
	StatusCode    int
	// Header holds the storable response header fields.
	Header      http.Header
	RequestedAt time.Time
	ReceivedAt  time.Time
}

// NewInfo derives the metadata of res, which was requested at requestedAt
// and whose header arrived at receivedAt.
func NewInfo(res *http.Response, requestedAt, receivedAt time.Time) *Info {
	info := fromHeader(res.Header, requestedAt, receivedAt)
	info.StatusCode = res.StatusCode
	info.ContentLength = res.ContentLength
	if info.ContentLength < 0 {
		info.ContentLength = UnknownLength
	}
	return info
}

func fromHeader(header http.Header, requestedAt, receivedAt time.Time) *Info {
	header = rfc9111.StorableHeader(header)
	info := &Info{
		Cacheable:      rfc9111.Cacheable(header),
		MustRevalidate: rfc9111.ResponseCacheControl(header).MustRevalidate(),
		ETag:           parseETag(header.Get("ETag")),
		LastModified:   parseLastModified(header.Get("Last-Modified")),
		Header:         header,
		RequestedAt:    requestedAt,
		ReceivedAt:     receivedAt,
	}
	if expires, ok := rfc9111.Expiration(header, receivedAt); ok {
		info.ExpiresAt = expires
	}
	return info
}

// ComputeFreshness returns StatusFresh when the representation may be used
// at now without validation, StatusStale otherwise.
func (i *Info) ComputeFreshness(now time.Time) Status {
	if !i.Cacheable {
		return StatusStale
	}
	if i.ExpiresAt.IsZero() {
		if i.MustRevalidate {
			return StatusStale
		}
		return StatusFresh
	}
	if now.Before(i.ExpiresAt) {
		return StatusFresh
	}
	return StatusStale
}

// TTL is the remaining freshness lifetime at now; negative when stale.
func (i *Info) TTL(now time.Time) time.Duration {
	if i.ExpiresAt.IsZero() {
		return 0
	}
	return i.ExpiresAt.Sub(now)
}

func (i *Info) HasValidator() bool {
	return i.ETag != "" || !i.LastModified.IsZero()
}

// BuildConditionalRequest returns a copy of base carrying the validators
// as If-None-Match and If-Modified-Since.
func (i *Info) BuildConditionalRequest(base *http.Request) (*http.Request, error) {
	req, ok := rfc9111.ValidationRequest(base.Context(), base, i.ETag, i.LastModified)
	if !ok {
		return nil, ErrNoValidator
	}
	return req, nil
}

// Refresh returns the metadata after a 304 carrying header. The stored
// representation's length and status are kept; expiry and validators are
// recomputed from the merged header fields.
func (i *Info) Refresh(header http.Header, requestedAt, receivedAt time.Time) *Info {
	refreshed := fromHeader(rfc9111.UpdateStoredHeader(i.Header, header), requestedAt, receivedAt)
	refreshed.ContentLength = i.ContentLength
	refreshed.StatusCode = i.StatusCode
	return refreshed
}

// parseETag returns the entity tag if it is well formed, or "".
//
//	entity-tag = [ weak ] opaque-tag
//	weak       = %s"W/"
//	opaque-tag = DQUOTE *etagc DQUOTE
func parseETag(value string) string {
	tag := strings.TrimSpace(value)
	opaque := strings.TrimPrefix(tag, "W/")
	if len(opaque) < 2 || opaque[0] != '"' || opaque[len(opaque)-1] != '"' {
		return ""
	}
	if strings.ContainsAny(opaque[1:len(opaque)-1], "\"\r\n") {
		return ""
	}
	return tag
}

func parseLastModified(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := rfc9111.HttpDate(value)
	if err != nil {
		return time.Time{}
	}
	return t
}
