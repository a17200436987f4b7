package rfc9111

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestValidationRequest(t *testing.T) {
	base, _ := http.NewRequest(http.MethodGet, "http://example.com/a", nil)
	base.Header.Set("Connection", "close")
	base.Header.Set("Accept", "text/plain")

	req, ok := ValidationRequest(context.Background(), base, `"v1"`, received)
	if !ok {
		t.Fatal("No validation request")
	}
	if req.Header.Get("If-None-Match") != `"v1"` {
		t.Fatalf("If-None-Match is %s", req.Header.Get("If-None-Match"))
	}
	if req.Header.Get("If-Modified-Since") != "Wed, 01 Jun 2022 12:00:00 GMT" {
		t.Fatalf("If-Modified-Since is %s", req.Header.Get("If-Modified-Since"))
	}
	if req.Header.Get("Connection") != "" || req.Header.Get("Accept") != "text/plain" {
		t.Fatalf("Forward headers are %v", req.Header)
	}
	if base.Header.Get("If-None-Match") != "" {
		t.Fatal("Base request mutated")
	}
}

func TestValidationRequestWithoutValidator(t *testing.T) {
	base, _ := http.NewRequest(http.MethodGet, "http://example.com/a", nil)
	if _, ok := ValidationRequest(context.Background(), base, "", time.Time{}); ok {
		t.Fatal("Validation request built without validators")
	}
}

func TestUpdateStoredHeader(t *testing.T) {
	stored := make(http.Header)
	stored.Set("Content-Length", "100")
	stored.Set("Cache-Control", "max-age=10")
	stored.Set("X-Kept", "yes")
	received := make(http.Header)
	received.Set("Content-Length", "0")
	received.Set("Cache-Control", "max-age=60")
	received.Set("Connection", "keep-alive")

	h := UpdateStoredHeader(stored, received)
	if h.Get("Content-Length") != "100" {
		t.Fatalf("Content-Length is %s", h.Get("Content-Length"))
	}
	if h.Get("Cache-Control") != "max-age=60" || h.Get("X-Kept") != "yes" {
		t.Fatalf("Header is %v", h)
	}
	if h.Get("Connection") != "" {
		t.Fatal("Hop-by-hop field stored")
	}
}
