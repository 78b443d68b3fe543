package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/stepflow/pkg/ports"
)

type callRecorder struct {
	calls []error
	out   int
}

func (r *callRecorder) ObserveLLMCall(model string, in, out int, d time.Duration, err error) {
	r.calls = append(r.calls, err)
	r.out += out
}

func TestClient_GenerateCompletion(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "hello "}, {"type": "text", "text": "there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 5, "output_tokens": 3}
		}`))
	}))
	defer srv.Close()

	metrics := &callRecorder{}
	c, err := NewClient("test-key", nil, WithBaseURL(srv.URL), WithMaxRetries(0), WithMetrics(metrics))
	require.NoError(t, err)

	resp, err := c.GenerateCompletion(context.Background(), &ports.LLMRequest{
		Model:       "claude-test",
		System:      "be brief",
		Prompt:      "say hello",
		MaxTokens:   64,
		Temperature: 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "claude-test", resp.Model)
	assert.Equal(t, 5, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)

	assert.Equal(t, "claude-test", body["model"])
	assert.Equal(t, 64.0, body["max_tokens"])
	assert.Equal(t, 0.5, body["temperature"])
	require.Len(t, metrics.calls, 1)
	assert.NoError(t, metrics.calls[0])
	assert.Equal(t, 3, metrics.out)
}

func TestClient_Errors(t *testing.T) {
	_, err := NewClient("", nil)
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "invalid_request_error", "message": "bad"}}`))
	}))
	defer srv.Close()

	metrics := &callRecorder{}
	c, err := NewClient("test-key", nil, WithBaseURL(srv.URL), WithMaxRetries(0), WithMetrics(metrics))
	require.NoError(t, err)

	_, err = c.GenerateCompletion(context.Background(), &ports.LLMRequest{Model: "m", Prompt: "p", MaxTokens: 1})
	assert.Error(t, err)
	require.Len(t, metrics.calls, 1)
	assert.Error(t, metrics.calls[0])

	_, err = c.GenerateCompletion(context.Background(), &ports.LLMRequest{Prompt: "p", MaxTokens: 1})
	assert.Error(t, err)
}
