package rfc9111

import (
	"net/http"
	"time"
)

// Expired is returned as the expiration time of responses carrying an
// invalid Expires value.
var Expired = time.Unix(0, 0).UTC()

// §  5.3.  Expires
// §
// §     The "Expires" response header field gives the date/time after which
// §     the response is considered stale.
// §
// §     A cache recipient MUST interpret invalid date formats, especially the
// §     value "0", as representing a time in the past (i.e., "already
// §     expired").
func getExpires(header http.Header) (time.Time, bool) {
	values := header.Values("Expires")
	if len(values) == 0 {
		return time.Time{}, false
	}
	if exp, err := HttpDate(values[0]); err == nil {
		return exp, true
	}
	return Expired, true
}

// Expiration returns the absolute time after which a response received at
// responseTime becomes stale, and whether an explicit expiration time is
// present at all.
//
// Expires is consulted first, corrected for clock skew between the origin
// and this cache using the Date field. Otherwise max-age is added to the
// time the response was generated, which is the receive time minus Age.
//
// Shared-cache directives (s-maxage) are not applicable: this is a private cache.
func Expiration(header http.Header, responseTime time.Time) (time.Time, bool) {
	// §  *  If the Expires response header field (Section 5.3) is present, use
	// §     its value minus the value of the Date response header field (using
	// §     the time the message was received if it is not present, as per
	// §     Section 6.6.1 of [HTTP]), or
	if expires, ok := getExpires(header); ok {
		if expires.Equal(Expired) {
			return Expired, true
		}
		if date, err := HttpDate(header.Get("Date")); err == nil {
			return responseTime.Add(expires.Sub(date)), true
		}
		return expires, true
	}
	// §  *  If the max-age response directive (Section 5.2.2.1) is present,
	// §     use its value, or
	if maxAge, ok := ResponseCacheControl(header).MaxAge(); ok {
		return responseTime.Add(-ageValue(header)).Add(maxAge), true
	}
	// §  *  Otherwise, no explicit expiration time is present in the response.
	return time.Time{}, false
}

// Cacheable reports whether a stored response may be reused without
// validation at all. no-store and no-cache (or a legacy Pragma: no-cache)
// both force validation on every use.
func Cacheable(header http.Header) bool {
	cc := ResponseCacheControl(header)
	if cc.NoStore() || cc.NoCache() {
		return false
	}
	return !PragmaNoCache(header)
}
