package protocol

import "time"

// DocumentProgress is published on the bus after every segment a generation
// run finishes, hit or miss, so observers see live movement instead of only
// terminal states.
type DocumentProgress struct {
	DocumentID   string    `json:"document_id"`
	SegmentIndex int       `json:"segment_index"`
	Completed    int       `json:"completed"`
	Total        int       `json:"total"`
	CacheHit     bool      `json:"cache_hit"`
	Bytes        int64     `json:"bytes"`
	Timestamp    time.Time `json:"timestamp"`
}

// DocumentStatus announces a document status transition.
type DocumentStatus struct {
	DocumentID string    `json:"document_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectDocumentProgress = "lector.document.progress"
	SubjectDocumentStatus   = "lector.document.status"
)
