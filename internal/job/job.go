// Package job tracks asynchronous processing jobs and their progress.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is a job's lifecycle state. Transitions move forward only.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProcessingJob is the pollable state of one pipeline run.
type ProcessingJob struct {
	ID           uuid.UUID       `json:"id"`
	Filename     string          `json:"filename"`
	Status       Status          `json:"status"`
	Progress     int             `json:"progress"` // 0-100
	Message      string          `json:"message"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	DocumentID   *uuid.UUID      `json:"documentId,omitempty"`
	ChunkCount   int             `json:"chunkCount"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ProgressReporter receives stage progress. Stages are handed a reporter
// explicitly; there is no process-wide current job.
type ProgressReporter interface {
	Progress(percent int, message string)
}

// NopReporter discards progress. Useful for tests and synchronous callers.
type NopReporter struct{}

// Progress implements ProgressReporter.
func (NopReporter) Progress(int, string) {}
