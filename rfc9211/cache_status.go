// Package rfc9211 renders the Cache-Status response header field.
package rfc9211

import (
	"fmt"
	"strings"
	"time"
)

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     The Cache-Status HTTP response header field indicates caches' handling
// §     of the request corresponding to the response it occurs within.
// §
// §       Cache-Status   = #( cache-identifier *( ";" cache-parameter ) )

// FwdReason is the value of the "fwd" parameter.
type FwdReason string

const (
	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdReasonStale FwdReason = "stale"
)

// CacheStatus accumulates the parameters of one Cache-Status member.
type CacheStatus struct {
	cache     string
	hit       bool
	fwdReason FwdReason
	fwdStatus int
	stored    bool
	ttl       *time.Duration
	detail    string
}

// New returns a status for the cache identified by cache.
func New(cache string) *CacheStatus {
	return &CacheStatus{cache: cache}
}

// §  2.1.  The hit parameter
func (cs *CacheStatus) Hit() {
	cs.hit = true
	cs.fwdReason = ""
}

// §  2.2.  The fwd parameter
func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.hit = false
	cs.fwdReason = reason
}

// §  2.3.  The fwd-status parameter
func (cs *CacheStatus) ForwardStatus(status int) {
	cs.fwdStatus = status
}

// §  2.4.  The ttl parameter
func (cs *CacheStatus) TTL(ttl time.Duration) {
	cs.ttl = &ttl
}

// §  2.5.  The stored parameter
func (cs *CacheStatus) Stored() {
	cs.stored = true
}

// §  2.8.  The detail parameter
func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs *CacheStatus) String() string {
	parts := []string{cs.cache}
	if cs.hit {
		parts = append(parts, "hit")
	} else if cs.fwdReason != "" {
		parts = append(parts, "fwd="+string(cs.fwdReason))
	}
	if cs.fwdStatus != 0 {
		parts = append(parts, fmt.Sprintf("fwd-status=%d", cs.fwdStatus))
	}
	if cs.stored {
		parts = append(parts, "stored")
	}
	if cs.ttl != nil {
		parts = append(parts, fmt.Sprintf("ttl=%.f", cs.ttl.Seconds()))
	}
	if cs.detail != "" {
		parts = append(parts, fmt.Sprintf("detail=%q", cs.detail))
	}
	return strings.Join(parts, "; ")
}
