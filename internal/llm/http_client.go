package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atelier-dev/atelier/internal/logger"
)

// HTTPClient implements Client against any OpenAI-compatible chat completions
// endpoint. It speaks the SSE wire protocol directly; the response body is fed
// through a StreamDecoder in whatever chunk sizes the transport delivers.
type HTTPClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient constructs a streaming client. baseURL must point at the API
// root (e.g. https://api.openai.com/v1). An empty apiKey sends no
// Authorization header, which suits unsecured local servers.
func NewHTTPClient(apiKey, baseURL, modelName string) (*HTTPClient, error) {
	model := strings.TrimSpace(modelName)
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	trimmedBase := strings.TrimSpace(baseURL)
	if trimmedBase == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	return &HTTPClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(trimmedBase, "/"),
		httpClient: &http.Client{
			// No overall timeout: streamed turns can legitimately run long.
			// Cancellation happens through the request context.
			Timeout: 0,
		},
	}, nil
}

// ModelName returns the configured model name
func (c *HTTPClient) ModelName() string {
	return c.model
}

// Stream sends the request and decodes the SSE response. Content deltas reach
// onContent as they arrive. A cancelled context returns ctx.Err(), which
// callers must treat as cancellation rather than failure.
func (c *HTTPClient) Stream(ctx context.Context, req *ChatRequest, onContent func(delta string) error) (*StreamResult, error) {
	if req == nil {
		return nil, fmt.Errorf("chat request cannot be nil")
	}

	payload := *req
	payload.Model = c.model
	payload.Stream = true
	if payload.ToolChoice == "" && len(payload.Tools) > 0 {
		payload.ToolChoice = "auto"
	}

	httpReq, err := c.newChatRequest(ctx, &payload)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	decoder := NewStreamDecoder(onContent)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := decoder.Feed(string(buf[:n])); err != nil {
				return nil, err
			}
		}
		if decoder.Done() {
			break
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("model stream read failed: %w", readErr)
		}
	}

	result := decoder.Finish()
	logger.Debug("llm: stream finished in %s (content=%d bytes, tool_calls=%d, invalid=%d)",
		time.Since(start), len(result.Content), len(result.ToolCalls), len(result.InvalidCalls))

	return result, nil
}

func (c *HTTPClient) newChatRequest(ctx context.Context, payload *ChatRequest) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}

	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	return req, nil
}
