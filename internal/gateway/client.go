// Package gateway is the single seam between the workspace and the
// generative model service. Every dispatch is at-most-once: a request
// is sent exactly one time and its failure is reported to the caller
// rather than retried, because callers surface errors in the UI flow
// and a silent duplicate completion is worse than a visible failure.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"toolbench/internal/logging"
	"toolbench/internal/types"
)

// Failure taxonomy. ErrTransport covers everything between us and the
// service: network errors, non-200 statuses, API error payloads.
// ErrMalformed means the service answered 200 but the body did not
// carry a usable completion.
var (
	ErrTransport = errors.New("model service unavailable")
	ErrMalformed = errors.New("malformed model response")
)

// Request is a provider-neutral dispatch. Exactly one of Prompt or
// History drives the contents: History (oldest first) for multi-turn
// conversation, Prompt for single-shot actions. Messages flagged as
// errors are never sent back to the service.
type Request struct {
	SystemInstruction string
	Prompt            string
	History           []types.Message
	Settings          types.RunSettings
	WantJSON          bool
}

// Response is the completed dispatch.
type Response struct {
	Text         string
	FinishReason string
	TotalTokens  int
}

// Client is the dispatch seam the workspace depends on.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// GeminiClient talks to the Gemini generateContent REST API.
type GeminiClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// Config holds the connection settings for the Gemini API.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:  apiKey,
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Timeout: 2 * time.Minute,
	}
}

// NewGeminiClient creates a client with custom config.
func NewGeminiClient(config Config) *GeminiClient {
	baseURL := strings.TrimSpace(config.BaseURL)
	if baseURL == "" {
		baseURL = DefaultConfig("").BaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig("").Timeout
	}
	return &GeminiClient{
		apiKey:  config.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Generate sends one request and returns the completion. The request
// is never resent: on any failure the caller decides what to surface.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (Response, error) {
	// Auto-apply timeout if context has no deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	if c.apiKey == "" {
		logging.DispatchError("generate: API key not configured")
		return Response{}, fmt.Errorf("%w: API key not configured", ErrTransport)
	}
	if err := req.Settings.Validate(); err != nil {
		return Response{}, fmt.Errorf("run settings: %w", err)
	}

	// Pace requests slightly so a burst of dispatches does not trip
	// service-side rate limits.
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := GeminiRequest{
		Contents: buildContents(req),
		GenerationConfig: GeminiGenerationConfig{
			Temperature:     req.Settings.Temperature,
			TopP:            req.Settings.TopP,
			TopK:            req.Settings.TopK,
			MaxOutputTokens: req.Settings.MaxOutputTokens,
		},
	}
	if req.SystemInstruction != "" {
		reqBody.SystemInstruction = &GeminiContent{
			Parts: []GeminiPart{{Text: req.SystemInstruction}},
		}
	}
	if req.WantJSON {
		reqBody.GenerationConfig.ResponseMimeType = "application/json"
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, req.Settings.Model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	logging.Dispatch("generate: model=%s turns=%d json=%v", req.Settings.Model, len(reqBody.Contents), req.WantJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logging.DispatchError("generate: request failed: %v", err)
		return Response{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr GeminiResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != nil {
			logging.DispatchError("generate: API error %d (%s): %s", apiErr.Error.Code, apiErr.Error.Status, apiErr.Error.Message)
			return Response{}, fmt.Errorf("%w: %s (status %d)", ErrTransport, apiErr.Error.Message, resp.StatusCode)
		}
		return Response{}, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if geminiResp.Error != nil {
		return Response{}, fmt.Errorf("%w: %s", ErrTransport, geminiResp.Error.Message)
	}
	if len(geminiResp.Candidates) == 0 {
		return Response{}, fmt.Errorf("%w: no candidates", ErrMalformed)
	}

	candidate := geminiResp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return Response{}, fmt.Errorf("%w: empty completion (finish reason %s)", ErrMalformed, candidate.FinishReason)
	}

	logging.Dispatch("generate: completed in %v (%d tokens)", time.Since(start).Round(time.Millisecond), geminiResp.UsageMetadata.TotalTokenCount)
	return Response{
		Text:         text.String(),
		FinishReason: candidate.FinishReason,
		TotalTokens:  geminiResp.UsageMetadata.TotalTokenCount,
	}, nil
}

// buildContents maps the request onto Gemini turn structure. History
// wins over Prompt when both are set; error-flagged messages are local
// annotations and never leave the workspace.
func buildContents(req Request) []GeminiContent {
	if len(req.History) == 0 {
		return []GeminiContent{
			{Role: "user", Parts: []GeminiPart{{Text: req.Prompt}}},
		}
	}

	contents := make([]GeminiContent, 0, len(req.History))
	for _, msg := range req.History {
		if msg.Error {
			continue
		}
		role := "user"
		if msg.Role == types.RoleModel {
			role = "model"
		}
		contents = append(contents, GeminiContent{
			Role:  role,
			Parts: []GeminiPart{{Text: msg.Text}},
		})
	}
	return contents
}
