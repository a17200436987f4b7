package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const (
	originSeparator  = ":"
	methodSeparator  = ":"
	variantSeparator = "\t"
)

// CacheKeyer maps client requests to entry keys, and entry keys back to
// the request that fetches them from the origin.
type CacheKeyer struct {
	// Unique identifier for the origin.
	// Usually this should be the origin - well - origin.
	OriginId string
	// Cache key prefix for this origin
	OriginPrefix string
	// Origin requests are sent to this URL. Only scheme and host are used.
	Origin *url.URL
	// Host header sent to the origin, if different from the origin URL.
	Host string
}

func NewCacheKeyer(originId string, origin *url.URL) CacheKeyer {
	return CacheKeyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
		Origin:       origin,
	}
}

// MethodPrefix gets the key prefix for the origin with the given method.
// E.g. prefix for all GET requests in the cache.
func (c CacheKeyer) MethodPrefix(method string) string {
	return c.OriginId + originSeparator + method + methodSeparator
}

// Key returns the entry key of a client request. Only GET and HEAD are
// cacheable. If the request has a `Cache-Key` header, that value is
// included in the key, so clients can ask for separate variants.
func (c CacheKeyer) Key(r *http.Request) (string, error) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return "", ErrorMethodNotSupported
	}
	key := c.MethodPrefix(r.Method) + r.URL.RequestURI() + variantSeparator
	if ck := r.Header.Get("Cache-Key"); ck != "" {
		key += ck
	}
	return key, nil
}

// OriginRequest generates the origin request for the provided key.
// It returns an error if the key does not belong to this origin.
func (c CacheKeyer) OriginRequest(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, c.OriginPrefix) {
		return nil, fmt.Errorf("Key and origin do not match")
	}
	keyNoOrigin := strings.TrimPrefix(key, c.OriginPrefix)
	keyNoVariant, _, found := strings.Cut(keyNoOrigin, variantSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	method, uri, found := strings.Cut(keyNoVariant, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	target := uri
	if c.Origin != nil {
		target = c.Origin.Scheme + "://" + c.Origin.Host + uri
	}
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return req, err
	}
	if c.Host != "" {
		req.Host = c.Host
	}
	return req, nil
}
