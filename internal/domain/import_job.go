package domain

import (
	"encoding/json"
	"time"
)

// ImportStatus is the lifecycle state of an import job.
type ImportStatus string

const (
	// StatusPending indicates the job was created and not yet started.
	StatusPending ImportStatus = "pending"
	// StatusProcessing indicates the pipeline (or a commit) is running.
	StatusProcessing ImportStatus = "processing"
	// StatusReview indicates candidates are extracted and held for an explicit commit.
	StatusReview ImportStatus = "review"
	// StatusCompleted indicates the commit finished with at least one imported row.
	StatusCompleted ImportStatus = "completed"
	// StatusFailed indicates an unrecoverable error.
	StatusFailed ImportStatus = "failed"
)

var transitions = map[ImportStatus][]ImportStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusReview, StatusFailed, StatusCompleted},
	StatusReview:     {StatusProcessing},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to ImportStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Predecessors lists the statuses a record may hold before being saved
// with status to: to itself plus every status that can transition to it.
func Predecessors(to ImportStatus) []ImportStatus {
	out := []ImportStatus{to}
	for _, from := range []ImportStatus{StatusPending, StatusProcessing, StatusReview, StatusCompleted, StatusFailed} {
		if from != to && CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// IsTerminal reports whether no further transitions are possible.
func (s ImportStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParsingMethod records how the statement text was turned into candidates.
type ParsingMethod string

const (
	ParsingMethodFull     ParsingMethod = "full"
	ParsingMethodFiltered ParsingMethod = "filtered"
	ParsingMethodChunked  ParsingMethod = "chunked"
)

// FileRef points at the raw uploaded statement in object storage.
type FileRef struct {
	Path     string `json:"path"`
	SHA256   string `json:"sha256,omitempty"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
}

// ImportJob is one statement-processing attempt.
type ImportJob struct {
	ID        string  `json:"id"`
	AccountID string  `json:"account_id"`
	UserID    string  `json:"user_id"`
	File      FileRef `json:"file"`

	Status        ImportStatus  `json:"status"`
	ParsingMethod ParsingMethod `json:"parsing_method,omitempty"`

	TotalTransactions    int `json:"total_transactions"`
	ImportedTransactions int `json:"imported_transactions"`
	FailedTransactions   int `json:"failed_transactions"`

	Confidence   *float64 `json:"confidence,omitempty"`
	ErrorMessage *string  `json:"error_message,omitempty"`
	Metadata     Metadata `json:"metadata"`

	// LeaseExpiresAt is set while a pipeline execution owns the job.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	Attempts       int        `json:"attempts"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LeaseActive reports whether another execution currently owns the job.
func (j *ImportJob) LeaseActive(now time.Time) bool {
	return j.Status == StatusProcessing && j.LeaseExpiresAt != nil && now.Before(*j.LeaseExpiresAt)
}

// SetError records a failure message on the job.
func (j *ImportJob) SetError(msg string) {
	const maxLen = 2000
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	j.ErrorMessage = &msg
}

// Clone returns a deep copy, including metadata.
func (j *ImportJob) Clone() *ImportJob {
	c := *j
	c.Metadata = j.Metadata.Clone()
	if j.Confidence != nil {
		v := *j.Confidence
		c.Confidence = &v
	}
	if j.ErrorMessage != nil {
		v := *j.ErrorMessage
		c.ErrorMessage = &v
	}
	if j.LeaseExpiresAt != nil {
		v := *j.LeaseExpiresAt
		c.LeaseExpiresAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// Metadata is the free-form diagnostics map persisted with a job.
type Metadata map[string]any

// Clone copies the map through JSON, which is also how every persistent
// backend stores it, so callers always observe JSON-normalized values.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		out := make(Metadata, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	var out Metadata
	if err := json.Unmarshal(b, &out); err != nil || out == nil {
		return Metadata{}
	}
	return out
}

// Int reads a numeric entry regardless of whether it went through JSON.
func (m Metadata) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// Bool reads a boolean entry.
func (m Metadata) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// String reads a string entry.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Len returns the length of a list entry.
func (m Metadata) Len(key string) int {
	switch v := m[key].(type) {
	case []any:
		return len(v)
	case []string:
		return len(v)
	case []Discard:
		return len(v)
	case []StageCount:
		return len(v)
	}
	return 0
}

// Metadata keys written by the pipeline.
const (
	MetaEstimatedTransactions = "estimated_transactions"
	MetaPayloadStrategy       = "payload_strategy"
	MetaChunked               = "chunked"
	MetaFiltered              = "filtered"
	MetaChunkCount            = "chunk_count"
	MetaDiscards              = "discards"
	MetaBreakerTrips          = "breaker_trips"
	MetaStages                = "stages"
	MetaWarnings              = "warnings"
	MetaDuplicates            = "duplicates"
	MetaTimeout               = "timeout"
	MetaCommitErrors          = "commit_errors"
	MetaTextMethod            = "text_method"
	MetaPageCount             = "page_count"
	MetaProvider              = "provider"
	MetaProviderCalls         = "provider_calls"
	MetaResumedChunks         = "resumed_chunks"
	MetaFailedStage           = "failed_stage"
	MetaPhase                 = "phase"
	MetaBreakerRejections     = "breaker_rejections"
)

// PhaseCommit marks a processing job whose rows are being committed.
const PhaseCommit = "commit"

// StageCount records how many items entered and left one pipeline stage.
type StageCount struct {
	Stage      string `json:"stage"`
	In         int    `json:"in"`
	Out        int    `json:"out"`
	DurationMS int64  `json:"duration_ms"`
}

// Discard explains why a candidate was dropped by the validator.
type Discard struct {
	Index       int    `json:"index"`
	ChunkIndex  int    `json:"chunk_index"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
}
