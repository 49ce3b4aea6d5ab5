package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo encodes pending -> running -> {completed, failed, cancelled}.
// A pending job may also be cancelled before any worker picks it up.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

type JobType string

const (
	JobTypeCategories JobType = "categories"
	JobTypeProducts   JobType = "products"
)

func (t JobType) Valid() bool {
	return t == JobTypeCategories || t == JobTypeProducts
}

type Job struct {
	ID             uuid.UUID       `json:"id"`
	ImporterID     int64           `json:"importer_id"`
	Type           JobType         `json:"type"`
	Status         JobStatus       `json:"status"`
	Priority       int             `json:"priority"`
	Progress       int             `json:"progress"`
	TotalItems     int             `json:"total_items"`
	ProcessedItems int             `json:"processed_items"`
	Params         JobParams       `json:"params"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// JobParams is what the caller asked for when the job was created.
type JobParams struct {
	CategoryIDs []int64 `json:"category_ids,omitempty"`
	RequestedBy string  `json:"requested_by,omitempty"`
}

// JobProgress is the counters snapshot written while a job runs.
type JobProgress struct {
	Progress       int
	TotalItems     int
	ProcessedItems int
	CurrentItem    string
}

// JobResult is stored as the job's result payload.
type JobResult struct {
	Created     int            `json:"created"`
	Updated     int            `json:"updated"`
	Skipped     int            `json:"skipped"`
	Processed   int            `json:"processed"`
	CurrentItem string         `json:"current_item,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	Phases      []PhaseSummary `json:"phases,omitempty"`
	Scopes      []ScopeSummary `json:"scopes,omitempty"`
}

type PhaseSummary struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ScopeSummary describes one paginated traversal, e.g. one category listing.
type ScopeSummary struct {
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Limit     int    `json:"limit"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Exhausted bool   `json:"exhausted,omitempty"`
	ListError string `json:"list_error,omitempty"`
}

type LogLevel string

const (
	LogInfo    LogLevel = "INFO"
	LogWarning LogLevel = "WARNING"
	LogError   LogLevel = "ERROR"
)

// JobLogEntry is append-only.
type JobLogEntry struct {
	ID        int64     `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
