package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
)

type fakeDecision struct {
	IsSearchPage bool   `json:"is_search_page"`
	Reasoning    string `json:"reasoning"`
}

func fakeServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func testClient(baseURL string) *Client {
	return NewClient(config.LLMConfig{
		BaseURL:           baseURL,
		APIKey:            "test",
		Model:             "test-model",
		RequestsPerSecond: 100,
		Burst:             10,
		Timeout:           5 * time.Second,
	}, nil)
}

func TestDecideParsesValidJSON(t *testing.T) {
	srv := fakeServer(t, `{"is_search_page": true, "reasoning": "found input"}`, http.StatusOK)
	defer srv.Close()

	got, err := Decide[fakeDecision](context.Background(), testClient(srv.URL), "sys", "user")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !got.IsSearchPage || got.Reasoning != "found input" {
		t.Errorf("Decide = %+v", got)
	}
}

func TestDecideRepairsMalformedJSON(t *testing.T) {
	// Trailing comma plus fence: repairable, must not fail.
	srv := fakeServer(t, "```json\n{\"is_search_page\": true,}\n```", http.StatusOK)
	defer srv.Close()

	got, err := Decide[fakeDecision](context.Background(), testClient(srv.URL), "sys", "user")
	if err != nil {
		t.Fatalf("Decide on repairable JSON: %v", err)
	}
	if !got.IsSearchPage {
		t.Error("repaired decision lost is_search_page")
	}
}

func TestDecideFailsLoudlyOnGarbage(t *testing.T) {
	srv := fakeServer(t, "I cannot help with that.", http.StatusOK)
	defer srv.Close()

	_, err := Decide[fakeDecision](context.Background(), testClient(srv.URL), "sys", "user")
	if err == nil {
		t.Fatal("Decide on garbage succeeded, want typed error")
	}
	var we *models.WorkflowError
	if !errors.As(err, &we) {
		t.Fatalf("error type = %T, want *models.WorkflowError", err)
	}
	if we.Code != models.ErrCodeLLMFailure {
		t.Errorf("error code = %s, want %s", we.Code, models.ErrCodeLLMFailure)
	}
}

func TestClassifyAuthError(t *testing.T) {
	srv := fakeServer(t, "", http.StatusUnauthorized)
	defer srv.Close()

	_, err := Decide[fakeDecision](context.Background(), testClient(srv.URL), "sys", "user")
	var we *models.WorkflowError
	if !errors.As(err, &we) || we.Code != models.ErrCodeLLMAuthFailure {
		t.Errorf("err = %v, want code %s", err, models.ErrCodeLLMAuthFailure)
	}
}

func TestGenerateStripsFences(t *testing.T) {
	srv := fakeServer(t, "```python\nimport sys\nprint('ok')\n```", http.StatusOK)
	defer srv.Close()

	code, err := testClient(srv.URL).Generate(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if code != "import sys\nprint('ok')" {
		t.Errorf("Generate = %q", code)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\ncode\n```", "code"},
		{"  ```python\nx = 1\n```  ", "x = 1"},
	}
	for _, tt := range tests {
		if got := StripFences(tt.in); got != tt.want {
			t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
