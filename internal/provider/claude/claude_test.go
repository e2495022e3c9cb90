package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nvbach/ai-orchestrator/internal/provider"
)

func TestSend_Mock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("Expected x-api-key header, got %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("Expected anthropic-version header to be set")
		}

		var body claudeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Decoding request body failed: %v", err)
		}
		if body.System != "be brief" {
			t.Errorf("Expected system prompt in top-level field, got %q", body.System)
		}
		if body.MaxTokens == 0 {
			t.Error("Expected a non-zero max_tokens default")
		}

		resp := claudeResponse{
			ID: "msg-test",
			Content: []claudeContent{
				{Type: "text", Text: "Hello from Claude mock!"},
			},
			Model: "claude-sonnet-4",
			Usage: claudeUsage{InputTokens: 12, OutputTokens: 30},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := New("test-key", WithBaseURL(server.URL))

	resp, err := c.Send(context.Background(), &provider.Request{
		Model:  "claude-sonnet-4",
		System: "be brief",
		Messages: []provider.Message{
			{Role: "user", Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if resp.Content != "Hello from Claude mock!" {
		t.Errorf("Expected 'Hello from Claude mock!', got %s", resp.Content)
	}
	if resp.Usage.TotalTokens != 42 {
		t.Errorf("Expected total tokens summed to 42, got %d", resp.Usage.TotalTokens)
	}
}

func TestSend_Forbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"type":"error","error":{"type":"permission_error","message":"api key disabled"}}`))
	}))
	defer server.Close()

	c := New("test-key", WithBaseURL(server.URL))

	_, err := c.Send(context.Background(), &provider.Request{
		Model:    "claude-sonnet-4",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if !provider.IsAuth(err) {
		t.Errorf("Expected auth error for 403, got %v", err)
	}
}

func TestSend_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer server.Close()

	c := New("test-key", WithBaseURL(server.URL))

	_, err := c.Send(context.Background(), &provider.Request{
		Model:    "claude-sonnet-4",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if !provider.IsRetryable(err) {
		t.Errorf("Expected retryable error for 503, got %v", err)
	}
}

func TestMapRequest_RoleNormalization(t *testing.T) {
	c := New("key")
	out := c.mapRequest(&provider.Request{
		Model: "claude-sonnet-4",
		Messages: []provider.Message{
			{Role: "user", Content: "a"},
			{Role: "assistant", Content: "b"},
			{Role: "tool", Content: "c"},
		},
	})

	want := []string{"user", "assistant", "user"}
	for i, m := range out.Messages {
		if m.Role != want[i] {
			t.Errorf("Message %d: expected role %s, got %s", i, want[i], m.Role)
		}
	}
}
