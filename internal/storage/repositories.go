package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// DocumentRepository handles document, page, and chunk persistence.
type DocumentRepository struct {
	db DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// CreateWithChunks inserts a document with its pages and chunks in one
// transaction, so a partially ingested document is never visible to readers.
func (r *DocumentRepository) CreateWithChunks(ctx context.Context, doc *Document, pages []Page, chunks []Chunk) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, filename, storage_ref, raw_text, page_count, parse_tier, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, doc.ID, doc.Filename, doc.StorageRef, doc.RawText, doc.PageCount, doc.ParseTier, doc.CreatedAt, doc.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for i := range pages {
		page := &pages[i]
		if page.ID == uuid.Nil {
			page.ID = uuid.New()
		}
		page.DocumentID = doc.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pages (id, document_id, number, text)
			VALUES ($1, $2, $3, $4)
		`, page.ID, page.DocumentID, page.Number, page.Text)
		if err != nil {
			return fmt.Errorf("insert page %d: %w", page.Number, err)
		}
	}

	for i := range chunks {
		chunk := &chunks[i]
		if chunk.ID == uuid.Nil {
			chunk.ID = uuid.New()
		}
		chunk.DocumentID = doc.ID
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = doc.CreatedAt
		}

		embedding, err := encodeEmbedding(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding for chunk %d: %w", chunk.SequenceIndex, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, sequence_index, page_number, text, embedding, is_visual, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, chunk.ID, chunk.DocumentID, chunk.SequenceIndex, chunk.PageNumber,
			chunk.Text, embedding, chunk.IsVisual, nullableRaw(chunk.Metadata), chunk.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.SequenceIndex, err)
		}
	}

	return tx.Commit()
}

// GetByID retrieves a document by ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `
		SELECT id, filename, storage_ref, raw_text, page_count, parse_tier, created_at, processed_at
		FROM documents WHERE id = $1
	`
	doc := &Document{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.Filename, &doc.StorageRef, &doc.RawText,
		&doc.PageCount, &doc.ParseTier, &doc.CreatedAt, &doc.ProcessedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// List retrieves documents newest first.
func (r *DocumentRepository) List(ctx context.Context, limit, offset int) ([]*Document, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, filename, storage_ref, raw_text, page_count, parse_tier, created_at, processed_at
		FROM documents ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		if err := rows.Scan(
			&doc.ID, &doc.Filename, &doc.StorageRef, &doc.RawText,
			&doc.PageCount, &doc.ParseTier, &doc.CreatedAt, &doc.ProcessedAt,
		); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// MarkProcessed stamps the document's processing completion time.
func (r *DocumentRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	result, err := r.db.ExecContext(ctx,
		`UPDATE documents SET processed_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetChunks retrieves a document's chunks in sequence order.
func (r *DocumentRepository) GetChunks(ctx context.Context, documentID uuid.UUID) ([]*Chunk, error) {
	query := `
		SELECT id, document_id, sequence_index, page_number, text, embedding, is_visual, metadata, created_at
		FROM chunks WHERE document_id = $1 ORDER BY sequence_index
	`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		chunk := &Chunk{}
		var embedding, metadata sql.NullString
		if err := rows.Scan(
			&chunk.ID, &chunk.DocumentID, &chunk.SequenceIndex, &chunk.PageNumber,
			&chunk.Text, &embedding, &chunk.IsVisual, &metadata, &chunk.CreatedAt,
		); err != nil {
			return nil, err
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &chunk.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding for chunk %d: %w", chunk.SequenceIndex, err)
			}
		}
		if metadata.Valid && metadata.String != "" {
			chunk.Metadata = json.RawMessage(metadata.String)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// MetricsRepository handles extracted-metrics persistence.
type MetricsRepository struct {
	db DB
}

// NewMetricsRepository creates a new metrics repository.
func NewMetricsRepository(db DB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// Create stores an extracted metric set.
func (r *MetricsRepository) Create(ctx context.Context, metrics *ExtractedMetrics) error {
	if metrics.ID == uuid.Nil {
		metrics.ID = uuid.New()
	}
	if metrics.CreatedAt.IsZero() {
		metrics.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO extracted_metrics (id, document_id, metrics, confidence, merge_policy, issues, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		metrics.ID, metrics.DocumentID, string(metrics.Metrics), metrics.Confidence,
		metrics.MergePolicy, nullableRaw(metrics.Issues), metrics.CreatedAt,
	)
	return err
}

// GetLatestByDocument retrieves the most recent metric set for a document.
func (r *MetricsRepository) GetLatestByDocument(ctx context.Context, documentID uuid.UUID) (*ExtractedMetrics, error) {
	query := `
		SELECT id, document_id, metrics, confidence, merge_policy, issues, created_at
		FROM extracted_metrics WHERE document_id = $1
		ORDER BY created_at DESC LIMIT 1
	`
	metrics := &ExtractedMetrics{}
	var rawMetrics string
	var issues sql.NullString
	err := r.db.QueryRowContext(ctx, query, documentID).Scan(
		&metrics.ID, &metrics.DocumentID, &rawMetrics, &metrics.Confidence,
		&metrics.MergePolicy, &issues, &metrics.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	metrics.Metrics = json.RawMessage(rawMetrics)
	if issues.Valid && issues.String != "" {
		metrics.Issues = json.RawMessage(issues.String)
	}
	return metrics, nil
}

func encodeEmbedding(vec []float32) (interface{}, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableRaw(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
