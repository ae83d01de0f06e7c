// Package llm wraps an OpenAI-compatible chat API for structured decisions
// and code generation. Responses are repaired with jsonrepair before
// unmarshalling; anything still unparseable fails loudly with a typed error,
// never a fabricated default.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/time/rate"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
)

// Client is a lightweight OpenAI-compatible API client.
// It uses net/http directly, throttled by a token-bucket limiter.
type Client struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates an LLM client from config. Pass nil for httpClient to
// use a default client bounded by cfg.Timeout.
func NewClient(cfg config.LLMConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// chatRequest is the OpenAI chat completion request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the minimal OpenAI chat completion response we need.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chatErrorResponse captures an API error from the LLM provider.
type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// complete sends one chat completion and returns the raw assistant content.
func (c *Client) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", models.NewWorkflowError(models.ErrCodeLLMFailure, "LLM rate limiter interrupted", err)
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", models.NewWorkflowError(models.ErrCodeLLMFailure, "LLM request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", models.NewWorkflowError(models.ErrCodeLLMFailure, "failed to read LLM response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyLLMError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", models.NewWorkflowError(models.ErrCodeLLMFailure, "failed to parse LLM response", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", models.NewWorkflowError(models.ErrCodeLLMFailure, "LLM returned no choices", nil)
	}

	return chatResp.Choices[0].Message.Content, nil
}

// Decide asks for a structured decision and unmarshals it into T.
// Mildly malformed JSON (trailing commas, fences, single quotes) is repaired
// first; JSON that cannot be repaired is a typed failure.
func Decide[T any](ctx context.Context, c *Client, system, user string) (T, error) {
	var out T

	raw, err := c.complete(ctx, system, user, true)
	if err != nil {
		return out, err
	}

	cleaned := StripFences(raw)
	if !json.Valid([]byte(cleaned)) {
		repaired, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return out, models.NewWorkflowError(models.ErrCodeLLMFailure,
				"LLM returned unrepairable JSON", repairErr)
		}
		cleaned = repaired
	}

	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return out, models.NewWorkflowError(models.ErrCodeLLMFailure,
			"LLM JSON did not match expected shape", err)
	}
	return out, nil
}

// Generate asks for source text and returns it with markdown fences stripped.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	raw, err := c.complete(ctx, system, user, false)
	if err != nil {
		return "", err
	}
	code := StripFences(raw)
	if strings.TrimSpace(code) == "" {
		return "", models.NewWorkflowError(models.ErrCodeGeneration, "LLM returned empty code", nil)
	}
	return code, nil
}

// StripFences removes a surrounding markdown code fence, including an
// optional language tag, from LLM output.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		// Drop the language tag line ("python", "json", ...).
		firstLine := strings.TrimSpace(trimmed[:idx])
		if firstLine != "" && !strings.ContainsAny(firstLine, "{}[]()<>") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// classifyLLMError maps HTTP status codes to appropriate error codes.
func classifyLLMError(statusCode int, body []byte) *models.WorkflowError {
	var errResp chatErrorResponse
	msg := "LLM API error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return models.NewWorkflowError(models.ErrCodeLLMAuthFailure, msg, nil)
	case statusCode == http.StatusTooManyRequests:
		return models.NewWorkflowError(models.ErrCodeLLMRateLimited, msg, nil)
	default:
		return models.NewWorkflowError(models.ErrCodeLLMFailure, fmt.Sprintf("LLM API returned %d: %s", statusCode, msg), nil)
	}
}
