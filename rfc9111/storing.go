package rfc9111

import (
	"net/http"
	"strings"
)

// hop-by-hop fields, see Section 7.6.1 of [HTTP]
var hopByHopFields = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"TE",
	"Transfer-Encoding",
	"Upgrade",
}

// §  3.1.  Storing Header and Trailer Fields
// §
// §     Caches MUST include all received response header fields -- including
// §     unrecognized ones -- when storing a response; this assures that new
// §     HTTP header fields can be successfully deployed.  However, the
// §     following exceptions are made:
// §
// §     *  The Connection header field and fields whose names are listed in
// §        it are required by Section 7.6.1 of [HTTP] to be removed before
// §        forwarding the message.
// §
// §     *  Header fields that are specific to the proxy that a cache uses
// §        when forwarding a request MUST NOT be stored.
func StorableHeader(header http.Header) http.Header {
	if header == nil {
		return make(http.Header)
	}
	h := header.Clone()
	stripHopByHop(h)
	h.Del("Proxy-Authenticate")
	h.Del("Proxy-Authentication-Info")
	h.Del("Proxy-Authorization")
	return h
}

// §  3.2.  Updating Stored Header Fields
// §
// §     When doing so, the cache MUST add each header field in the provided
// §     response to the stored response, replacing field values that are
// §     already present, with the following exceptions:
// §
// §     *  Header fields excepted from storage in Section 3.1,
// §
// §     *  Header fields that the cache's stored response depends upon, as
// §        described below,
// §
// §     *  Header fields that are automatically processed and removed by the
// §        recipient, as described below, and
// §
// §     *  The Content-Length header field.
func UpdateStoredHeader(stored, received http.Header) http.Header {
	h := StorableHeader(stored)
	for name, values := range StorableHeader(received) {
		// §  [...] a cache MUST NOT update the Content-Length [...]
		if name == "Content-Length" || name == "Content-Encoding" {
			continue
		}
		h[name] = append([]string(nil), values...)
	}
	return h
}

// GetListHeader returns the items of a comma-separated list field, over all field lines.
func GetListHeader(header http.Header, field string) []string {
	list := make([]string, 0)
	for _, hdr := range header.Values(field) {
		for _, item := range strings.Split(hdr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}

// GetForwardRequest returns a copy of req stripped of hop-by-hop fields,
// suitable for sending to the origin.
func GetForwardRequest(req *http.Request) *http.Request {
	r := req.Clone(req.Context())
	stripHopByHop(r.Header)
	return r
}

func stripHopByHop(h http.Header) {
	for _, name := range GetListHeader(h, "Connection") {
		h.Del(name)
	}
	for _, name := range hopByHopFields {
		h.Del(name)
	}
}
