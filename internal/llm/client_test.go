package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/valuation-engine/internal/observability"
)

func completionResponse(content string) string {
	reply := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	data, _ := json.Marshal(reply)
	return string(data)
}

func TestClientCompleteReturnsFirstChoice(t *testing.T) {
	var gotModel atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel.Store(req.Model)

		fmt.Fprint(w, completionResponse(`{"revenue": 1000000}`))
	}))
	defer server.Close()

	client, err := NewClient(observability.NopLogger(), Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Models:  []string{"primary-model"},
	})
	require.NoError(t, err)

	content, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "extract"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"revenue": 1000000}`, content)
	assert.Equal(t, "primary-model", gotModel.Load())
}

func TestClientCompleteFallsBackToSecondaryModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Model == "primary-model" {
			// Non-retryable failure so the client moves on without backoff.
			http.Error(w, "model not found", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, completionResponse("secondary answer"))
	}))
	defer server.Close()

	client, err := NewClient(observability.NopLogger(), Config{
		BaseURL: server.URL,
		Models:  []string{"primary-model", "secondary-model"},
	})
	require.NoError(t, err)

	content, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "extract"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "secondary answer", content)
}

func TestClientCompleteAllModelsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewClient(observability.NopLogger(), Config{
		BaseURL: server.URL,
		Models:  []string{"a", "b"},
	})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all models failed")
}

func TestClientCompleteExplicitModelSkipsChain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		fmt.Fprint(w, completionResponse("model was "+req.Model))
	}))
	defer server.Close()

	client, err := NewClient(observability.NopLogger(), Config{
		BaseURL: server.URL,
		Models:  []string{"default-model"},
	})
	require.NoError(t, err)

	content, err := client.Complete(context.Background(), Request{Model: "override-model"})
	require.NoError(t, err)
	assert.Equal(t, "model was override-model", content)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(observability.NopLogger(), Config{Models: []string{"m"}})
	assert.Error(t, err)

	_, err = NewClient(observability.NopLogger(), Config{BaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestCompleterFunc(t *testing.T) {
	var f Completer = CompleterFunc(func(ctx context.Context, req Request) (string, error) {
		return "canned", nil
	})
	got, err := f.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "canned", got)
}
