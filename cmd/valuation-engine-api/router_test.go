package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/valuation-engine/internal/chunk"
	"github.com/meridianlabs/valuation-engine/internal/config"
	"github.com/meridianlabs/valuation-engine/internal/docparse"
	"github.com/meridianlabs/valuation-engine/internal/embedding"
	"github.com/meridianlabs/valuation-engine/internal/extract"
	"github.com/meridianlabs/valuation-engine/internal/job"
	"github.com/meridianlabs/valuation-engine/internal/llm"
	"github.com/meridianlabs/valuation-engine/internal/merge"
	"github.com/meridianlabs/valuation-engine/internal/normalize"
	"github.com/meridianlabs/valuation-engine/internal/observability"
	"github.com/meridianlabs/valuation-engine/internal/pipeline"
	"github.com/meridianlabs/valuation-engine/internal/storage"
)

type canned struct{}

func (canned) Parse(ctx context.Context, filename string, data []byte) (*docparse.Result, error) {
	return &docparse.Result{Pages: []docparse.Page{
		{Number: 1, Text: "Enterprise value of $50 million. Revenue was $30,000,000."},
	}}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := observability.NopLogger()
	cfg := config.DefaultConfig()

	db, err := storage.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.EnsureSchema(context.Background(), db))

	documents := storage.NewDocumentRepository(db)
	metrics := storage.NewMetricsRepository(db)

	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return `{"enterpriseValue": {"currentValue": 50000000}, "keyFinancials": {"revenue": 30000000}}`, nil
	})

	pl := pipeline.New(logger, pipeline.Options{
		Normalizer:  normalize.NewNormalizer(logger, normalize.Options{Parser: canned{}}),
		Chunker:     chunk.New(2000, 20),
		Batcher:     embedding.NewBatcher(logger, embedding.NewMockClient(8), 2),
		Extractor:   extract.NewExtractor(logger, extract.Options{Completer: completer, Concurrency: 2}),
		Documents:   documents,
		Metrics:     metrics,
		MergePolicy: merge.PolicyEnhancedOverrides,
	})

	return NewRouter(logger, cfg, Dependencies{
		Jobs:      job.NewManager(logger, nil),
		Pipeline:  pl,
		Documents: documents,
		Metrics:   metrics,
	})
}

func uploadPDF(t *testing.T, router http.Handler, filename string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.7 test payload"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestUploadPollAndReadMetrics(t *testing.T) {
	router := newTestRouter(t)

	rec := uploadPDF(t, router, "report.pdf")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted struct {
		JobID    string `json:"jobId"`
		Status   string `json:"status"`
		Filename string `json:"filename"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "pending", accepted.Status)
	assert.Equal(t, "report.pdf", accepted.Filename)

	// Poll until the detached job completes.
	var polled job.ProcessingJob
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+accepted.JobID, nil)
		poll := httptest.NewRecorder()
		router.ServeHTTP(poll, req)
		if poll.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(poll.Body.Bytes(), &polled); err != nil {
			return false
		}
		return polled.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, job.StatusCompleted, polled.Status)
	assert.Equal(t, 100, polled.Progress)
	require.NotNil(t, polled.DocumentID)

	// The document shows up in the listing.
	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	list := httptest.NewRecorder()
	router.ServeHTTP(list, req)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), "report.pdf")

	// And its metrics are readable.
	req = httptest.NewRequest(http.MethodGet, "/documents/"+polled.DocumentID.String()+"/metrics", nil)
	metricsRec := httptest.NewRecorder()
	router.ServeHTTP(metricsRec, req)
	require.Equal(t, http.StatusOK, metricsRec.Code)

	var metricsResp struct {
		DocumentID string          `json:"documentId"`
		Metrics    json.RawMessage `json:"metrics"`
		Confidence int             `json:"confidence"`
	}
	require.NoError(t, json.Unmarshal(metricsRec.Body.Bytes(), &metricsResp))
	assert.Equal(t, polled.DocumentID.String(), metricsResp.DocumentID)
	assert.Contains(t, string(metricsResp.Metrics), "50000000")
	assert.Greater(t, metricsResp.Confidence, 0)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	router := newTestRouter(t)

	rec := uploadPDF(t, router, "report.docx")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "PDF")
}

func TestUploadRequiresFileField(t *testing.T) {
	router := newTestRouter(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("name", "no file here"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/00000000-0000-0000-0000-000000000001", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/jobs/not-a-uuid", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMetricsNotFound(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/documents/00000000-0000-0000-0000-000000000001/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
