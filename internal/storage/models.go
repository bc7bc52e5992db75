// Package storage provides database models and repositories for the
// valuation engine.
package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Document represents an ingested valuation report. Immutable once stored.
type Document struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Filename    string     `json:"filename" db:"filename"`
	StorageRef  string     `json:"storage_ref" db:"storage_ref"`
	RawText     string     `json:"raw_text" db:"raw_text"`
	PageCount   int        `json:"page_count" db:"page_count"`
	ParseTier   string     `json:"parse_tier" db:"parse_tier"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// Page is one page of a stored document.
type Page struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DocumentID uuid.UUID `json:"document_id" db:"document_id"`
	Number     int       `json:"number" db:"number"`
	Text       string    `json:"text" db:"text"`
}

// Chunk is one ordered text unit with its embedding. SequenceIndex is unique
// and monotonically increasing per document.
type Chunk struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	DocumentID    uuid.UUID       `json:"document_id" db:"document_id"`
	SequenceIndex int             `json:"sequence_index" db:"sequence_index"`
	PageNumber    *int            `json:"page_number,omitempty" db:"page_number"`
	Text          string          `json:"text" db:"text"`
	Embedding     []float32       `json:"embedding,omitempty" db:"embedding"`
	IsVisual      bool            `json:"is_visual" db:"is_visual"`
	Metadata      json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// ExtractedMetrics is the persisted final metric set for a document.
type ExtractedMetrics struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	DocumentID  uuid.UUID       `json:"document_id" db:"document_id"`
	Metrics     json.RawMessage `json:"metrics" db:"metrics"`
	Confidence  int             `json:"confidence" db:"confidence"`
	MergePolicy string          `json:"merge_policy" db:"merge_policy"`
	Issues      json.RawMessage `json:"issues,omitempty" db:"issues"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
