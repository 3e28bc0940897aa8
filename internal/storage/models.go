package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert-if-absent hits an existing row.
var ErrDuplicate = errors.New("duplicate")

// ContentRecord is a persisted generated-content row. Rows are immutable;
// an edit produces a new row so history stays auditable.
type ContentRecord struct {
	ID                int64
	UUID              string
	Body              string // JSON array of parts; single posts have one part
	Kind              string // "single" or "thread"
	SourceDescription string
	RelevanceScore    float64
	BrandScore        float64
	ImageRef          string
	SourceType        string
	SourceID          string
	ContentHash       string
	CreatedAt         time.Time
}

// LedgerEntry records that a source produced content (or was processed with
// nothing to say). ContentHash is empty for mark-processed entries.
type LedgerEntry struct {
	SourceType  string
	SourceID    string
	ContentHash string
	ContentUUID string
	CreatedAt   time.Time
}

// RunRecord captures one pipeline run for observability. IDs are assigned
// by sqlite and increase monotonically.
type RunRecord struct {
	ID            int64
	CorrelationID string
	State         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Processed     int
	Generated     int
	Skipped       int
	Errors        int
	ErrorLog      string // JSON array of error strings
}

// SignalRecord mirrors a gathered signal for analytics and as a
// supplemental source when live gathering returns too few items.
type SignalRecord struct {
	ID          string
	Kind        string
	PayloadJSON string
	Score       float64
	CapturedAt  time.Time
}

// Job is a queued publish job.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
