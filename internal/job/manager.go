package job

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/valuation-engine/internal/observability"
)

// ProgressChannel is the pub/sub channel job updates are published on.
const ProgressChannel = "jobs.progress"

// Publisher fans job updates out to subscribers. Satisfied by the Redis
// cache client; nil disables fanout.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Manager is an in-memory job registry. Jobs are created at upload time and
// mutated only through the manager, which enforces forward-only transitions.
type Manager struct {
	mu        sync.RWMutex
	jobs      map[uuid.UUID]*ProcessingJob
	logger    *observability.Logger
	publisher Publisher
}

// NewManager creates a job manager. publisher may be nil.
func NewManager(logger *observability.Logger, publisher Publisher) *Manager {
	return &Manager{
		jobs:      make(map[uuid.UUID]*ProcessingJob),
		logger:    logger.WithComponent("jobs"),
		publisher: publisher,
	}
}

// Create registers a new pending job.
func (m *Manager) Create(filename string) *ProcessingJob {
	now := time.Now()
	job := &ProcessingJob{
		ID:        uuid.New(),
		Filename:  filename,
		Status:    StatusPending,
		Message:   "Queued for processing",
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.logger.Info().Str("job_id", job.ID.String()).Str("filename", filename).Msg("Job created")
	return snapshot(job)
}

// Get returns a snapshot of a job.
func (m *Manager) Get(id uuid.UUID) (*ProcessingJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return snapshot(job), true
}

// Run executes fn detached from the caller, moving the job through
// processing to completed or failed. fn reports progress through the
// supplied reporter.
func (m *Manager) Run(id uuid.UUID, fn func(ctx context.Context, reporter ProgressReporter) (json.RawMessage, error)) {
	go func() {
		ctx := context.Background()
		if !m.transition(id, StatusProcessing, 0, "Processing started") {
			return
		}

		result, err := fn(ctx, m.Reporter(id))
		if err != nil {
			m.fail(id, err.Error())
			return
		}
		m.complete(id, result)
	}()
}

// Reporter returns a ProgressReporter bound to one job.
func (m *Manager) Reporter(id uuid.UUID) ProgressReporter {
	return &managerReporter{manager: m, id: id}
}

// SetDocument records the persisted document and chunk count on the job.
func (m *Manager) SetDocument(id uuid.UUID, documentID uuid.UUID, chunkCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	job.DocumentID = &documentID
	job.ChunkCount = chunkCount
	job.UpdatedAt = time.Now()
}

type managerReporter struct {
	manager *Manager
	id      uuid.UUID
}

// Progress implements ProgressReporter.
func (r *managerReporter) Progress(percent int, message string) {
	r.manager.progress(r.id, percent, message)
}

func (m *Manager) progress(id uuid.UUID, percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	// Progress never moves backwards even if stages report out of order.
	if percent > job.Progress {
		job.Progress = percent
	}
	job.Message = message
	job.UpdatedAt = time.Now()
	update := snapshot(job)
	m.mu.Unlock()

	m.logger.Debug().
		Str("job_id", id.String()).
		Int("progress", update.Progress).
		Str("message", message).
		Msg("Job progress")
	m.publish(update)
}

func (m *Manager) complete(id uuid.UUID, result json.RawMessage) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	job.Status = StatusCompleted
	job.Progress = 100
	job.Message = "Processing complete"
	job.Result = result
	job.UpdatedAt = time.Now()
	update := snapshot(job)
	m.mu.Unlock()

	m.logger.Info().Str("job_id", id.String()).Msg("Job completed")
	m.publish(update)
}

func (m *Manager) fail(id uuid.UUID, errorMessage string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	job.Status = StatusFailed
	job.Message = "Processing failed"
	job.ErrorMessage = errorMessage
	job.UpdatedAt = time.Now()
	update := snapshot(job)
	m.mu.Unlock()

	m.logger.Error().Str("job_id", id.String()).Str("error", errorMessage).Msg("Job failed")
	m.publish(update)
}

// transition moves a non-terminal job to a new status.
func (m *Manager) transition(id uuid.UUID, status Status, percent int, message string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		return false
	}
	job.Status = status
	job.Progress = percent
	job.Message = message
	job.UpdatedAt = time.Now()
	update := snapshot(job)
	m.mu.Unlock()

	m.publish(update)
	return true
}

func (m *Manager) publish(update *ProcessingJob) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.publisher.Publish(ctx, ProgressChannel, update); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to publish job update")
	}
}

func snapshot(job *ProcessingJob) *ProcessingJob {
	copied := *job
	return &copied
}
