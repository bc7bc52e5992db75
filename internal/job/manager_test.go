package job

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/valuation-engine/internal/observability"
)

func newTestManager() *Manager {
	return NewManager(observability.NopLogger(), nil)
}

func waitForTerminal(t *testing.T, m *Manager, id uuid.UUID) *ProcessingJob {
	t.Helper()
	var got *ProcessingJob
	require.Eventually(t, func() bool {
		job, ok := m.Get(id)
		if !ok || !job.Status.Terminal() {
			return false
		}
		got = job
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestCreateAndGet(t *testing.T) {
	m := newTestManager()

	created := m.Create("report.pdf")
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, "report.pdf", created.Filename)
	assert.Zero(t, created.Progress)

	got, ok := m.Get(created.ID)
	require.True(t, ok)
	assert.Equal(t, created.ID, got.ID)

	_, ok = m.Get(uuid.New())
	assert.False(t, ok)
}

func TestGetReturnsSnapshot(t *testing.T) {
	m := newTestManager()
	created := m.Create("report.pdf")

	got, _ := m.Get(created.ID)
	got.Status = StatusFailed
	got.Progress = 99

	again, _ := m.Get(created.ID)
	assert.Equal(t, StatusPending, again.Status, "mutating a snapshot must not touch the registry")
	assert.Zero(t, again.Progress)
}

func TestRunCompletes(t *testing.T) {
	m := newTestManager()
	created := m.Create("report.pdf")

	m.Run(created.ID, func(ctx context.Context, reporter ProgressReporter) (json.RawMessage, error) {
		reporter.Progress(50, "halfway")
		return json.RawMessage(`{"documentId": "abc"}`), nil
	})

	job := waitForTerminal(t, m, created.ID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.JSONEq(t, `{"documentId": "abc"}`, string(job.Result))
	assert.Empty(t, job.ErrorMessage)
}

func TestRunFails(t *testing.T) {
	m := newTestManager()
	created := m.Create("report.pdf")

	m.Run(created.ID, func(ctx context.Context, reporter ProgressReporter) (json.RawMessage, error) {
		return nil, errors.New("storage unavailable")
	})

	job := waitForTerminal(t, m, created.ID)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "storage unavailable", job.ErrorMessage)
	assert.Nil(t, job.Result)
}

func TestTerminalJobsAreImmutable(t *testing.T) {
	m := newTestManager()
	created := m.Create("report.pdf")

	m.Run(created.ID, func(ctx context.Context, reporter ProgressReporter) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	job := waitForTerminal(t, m, created.ID)
	require.Equal(t, StatusCompleted, job.Status)

	m.Reporter(created.ID).Progress(10, "late report")
	m.SetDocument(created.ID, uuid.New(), 7)

	after, _ := m.Get(created.ID)
	assert.Equal(t, StatusCompleted, after.Status)
	assert.Equal(t, 100, after.Progress)
	assert.Equal(t, "Processing complete", after.Message)
	assert.Nil(t, after.DocumentID)
}

func TestProgressIsClampedAndMonotonic(t *testing.T) {
	m := newTestManager()
	created := m.Create("report.pdf")
	require.True(t, m.transition(created.ID, StatusProcessing, 0, "started"))

	reporter := m.Reporter(created.ID)
	reporter.Progress(150, "overshoot")
	job, _ := m.Get(created.ID)
	assert.Equal(t, 100, job.Progress)

	reporter.Progress(40, "out of order")
	job, _ = m.Get(created.ID)
	assert.Equal(t, 100, job.Progress, "progress never moves backwards")
	assert.Equal(t, "out of order", job.Message)

	reporter.Progress(-5, "negative")
	job, _ = m.Get(created.ID)
	assert.Equal(t, 100, job.Progress)
}

func TestSetDocument(t *testing.T) {
	m := newTestManager()
	created := m.Create("report.pdf")
	docID := uuid.New()

	m.SetDocument(created.ID, docID, 12)

	job, _ := m.Get(created.ID)
	require.NotNil(t, job.DocumentID)
	assert.Equal(t, docID, *job.DocumentID)
	assert.Equal(t, 12, job.ChunkCount)
}

type capturingPublisher struct {
	mu       sync.Mutex
	messages []interface{}
}

func (p *capturingPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func TestUpdatesArePublished(t *testing.T) {
	publisher := &capturingPublisher{}
	m := NewManager(observability.NopLogger(), publisher)
	created := m.Create("report.pdf")

	m.Run(created.ID, func(ctx context.Context, reporter ProgressReporter) (json.RawMessage, error) {
		reporter.Progress(30, "normalizing")
		return json.RawMessage(`{}`), nil
	})
	waitForTerminal(t, m, created.ID)

	// transition, one progress report, completion.
	assert.Equal(t, 3, publisher.count())
}

func TestNopReporter(t *testing.T) {
	assert.NotPanics(t, func() {
		NopReporter{}.Progress(50, "ignored")
	})
}
