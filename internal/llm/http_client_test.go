package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientStream(t *testing.T) {
	var gotAuth string
	var gotBody ChatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`data: {"choices":[{"delta":{"content":"hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: [DONE]`,
		} {
			_, _ = w.Write([]byte(line + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	client, err := NewHTTPClient("secret", srv.URL, "test-model")
	require.NoError(t, err)

	var deltas []string
	result, err := client.Stream(context.Background(), &ChatRequest{
		Messages: []*Message{{Role: "user", Content: "hi"}},
		Tools:    []map[string]interface{}{{"type": "function"}},
	}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, []string{"hel", "lo"}, deltas)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "test-model", gotBody.Model)
	assert.True(t, gotBody.Stream)
	assert.Equal(t, "auto", gotBody.ToolChoice)
}

func TestHTTPClientNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewHTTPClient("", srv.URL, "test-model")
	require.NoError(t, err)

	_, err = client.Stream(context.Background(), &ChatRequest{}, nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "rate limited")
}

func TestHTTPClientCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"x"}}]}` + "\n"))
		w.(http.Flusher).Flush()
		close(started)
		// Hold the stream open until the client goes away
		<-r.Context().Done()
	}))
	defer srv.Close()

	client, err := NewHTTPClient("", srv.URL, "test-model")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = client.Stream(ctx, &ChatRequest{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewHTTPClientValidation(t *testing.T) {
	_, err := NewHTTPClient("", "http://localhost", "")
	assert.Error(t, err)

	_, err = NewHTTPClient("", "", "model")
	assert.Error(t, err)
}

func TestNormalizeToolCallIDs(t *testing.T) {
	calls := []ToolCall{
		{ID: "keep", Function: FunctionCall{Name: "read_file"}},
		{Function: FunctionCall{Name: "list dir!"}},
		{Function: FunctionCall{}},
	}

	normalized := NormalizeToolCallIDs(calls)
	assert.Equal(t, "keep", normalized[0].ID)
	assert.Equal(t, "call_list_dir_2", normalized[1].ID)
	assert.Equal(t, "call_3", normalized[2].ID)
}

func TestEstimateContextTokens(t *testing.T) {
	messages := []*Message{
		{Role: "user", Content: "list the files in the project"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "c1", Function: FunctionCall{Name: "list_dir", Arguments: "{}"}}}},
	}

	total, _ := EstimateContextTokens("unknown-model", "you are a coding agent", messages)
	assert.Greater(t, total, 0)
}
