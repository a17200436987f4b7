package entrycache

import "fmt"

// Status is the lifecycle state of an Entry.
type Status int

const (
	// StatusNew entries have never held a complete representation.
	StatusNew Status = 0
	// StatusFresh entries hold a complete representation usable without validation.
	StatusFresh Status = 1
	// StatusModified entries got a full new response to a conditional request;
	// the new body is about to be downloaded.
	StatusModified Status = 2
	// StatusNotModified entries were confirmed by a 304 and refreshed.
	StatusNotModified Status = 4
	// StatusRevalidationPending entries wait for the answer to a conditional request.
	StatusRevalidationPending Status = 5
	// StatusStale entries hold a complete representation that needs validation.
	StatusStale Status = 6
	// StatusDownloading entries are receiving a body.
	StatusDownloading Status = 7
	// StatusFailed entries saw their last fetch fail. A previous body, if any, is kept.
	StatusFailed Status = 8
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusFresh:
		return "fresh"
	case StatusModified:
		return "modified"
	case StatusNotModified:
		return "not-modified"
	case StatusRevalidationPending:
		return "revalidation-pending"
	case StatusStale:
		return "stale"
	case StatusDownloading:
		return "downloading"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether observers are released in this state.
func (s Status) Terminal() bool {
	return s == StatusFresh || s == StatusNotModified || s == StatusFailed
}

// Complete reports whether the entry is known to hold a whole representation.
func (s Status) Complete() bool {
	return s == StatusFresh || s == StatusNotModified
}
