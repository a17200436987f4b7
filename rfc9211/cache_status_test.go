package rfc9211

import (
	"testing"
	"time"
)

func TestHit(t *testing.T) {
	cs := New("Entry-Cache")
	cs.Hit()
	cs.TTL(90 * time.Second)
	if s := cs.String(); s != "Entry-Cache; hit; ttl=90" {
		t.Fatalf("Cache-Status is %s", s)
	}
}

func TestForward(t *testing.T) {
	cs := New("Entry-Cache")
	cs.Forward(FwdReasonStale)
	cs.ForwardStatus(304)
	cs.Stored()
	cs.Detail("not-modified")
	want := `Entry-Cache; fwd=stale; fwd-status=304; stored; detail="not-modified"`
	if s := cs.String(); s != want {
		t.Fatalf("Cache-Status is %s", s)
	}
}
