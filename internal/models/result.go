package models

import "time"

// FilingStatus distinguishes a filing that produced chunks from one that had
// nothing to chunk. Failures are reported as errors, not as a status.
type FilingStatus int

const (
	StatusChunked FilingStatus = iota + 1
	StatusEmpty
)

func (s FilingStatus) String() string {
	switch s {
	case StatusChunked:
		return "chunked"
	case StatusEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// ItemResult holds the chunks of one item.
type ItemResult struct {
	Span   ItemSpan
	Blocks []Block
	Chunks []Chunk
}

// FilingResult is the complete, ordered output for one filing.
type FilingResult struct {
	Filing   FilingID
	Status   FilingStatus
	Degraded bool // no item headings were found
	Items    []ItemResult
}

// Chunks returns every chunk of the filing in document order.
func (r *FilingResult) Chunks() []Chunk {
	var out []Chunk
	for _, item := range r.Items {
		out = append(out, item.Chunks...)
	}
	return out
}

// LedgerEntry records one ingested filing.
type LedgerEntry struct {
	Filing      FilingID
	Source      string
	ContentHash string
	Chunks      int
	IngestedAt  time.Time
}
