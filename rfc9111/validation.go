package rfc9111

import (
	"context"
	"net/http"
	"time"
)

// §  4.3.1.  Sending a Validation Request
// §
// §     When generating a conditional request for validation, a cache either
// §     starts with a request it is attempting to satisfy or -- if it is
// §     initiating the request independently -- synthesizes a request using a
// §     stored response by copying the method, target URI, and request header
// §     fields identified by the Vary header field (Section 4.1).
// §
// §     It then updates that request with one or more precondition header
// §     fields.  These contain validator metadata sourced from a stored
// §     response(s) that has the same URI.
// §
// §     One such validator is the timestamp given in a Last-Modified header
// §     field, which can be used in an If-Modified-Since header field for
// §     response validation.
// §
// §     Another is the entity tag given in an ETag field.  One or more entity
// §     tags, indicating one or more stored responses, can be used in an
// §     If-None-Match header field for response validation.
//
// ValidationRequest returns a conditional copy of base, and false when
// neither validator is available.
func ValidationRequest(ctx context.Context, base *http.Request, etag string, lastModified time.Time) (*http.Request, bool) {
	if etag == "" && lastModified.IsZero() {
		return nil, false
	}
	req := GetForwardRequest(base.WithContext(ctx))
	req.Header.Del("If-Match")
	req.Header.Del("If-Unmodified-Since")
	req.Header.Del("If-Range")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	} else {
		req.Header.Del("If-None-Match")
	}
	if !lastModified.IsZero() {
		req.Header.Set("If-Modified-Since", FormatHttpDate(lastModified))
	} else {
		req.Header.Del("If-Modified-Since")
	}
	return req, true
}

// §  4.3.3.  Handling a Validation Response
// §
// §     *  A 304 (Not Modified) response status code indicates that the
// §        stored response can be updated and reused; see Section 4.3.4.
// §
// §     *  A full response (i.e., one containing content) indicates that none
// §        of the stored responses nominated in the conditional request are
// §        suitable.  Instead, the cache MUST use the full response to satisfy
// §        the request.
func NotModified(res *http.Response) bool {
	return res.StatusCode == http.StatusNotModified
}
