package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatJSON(t *testing.T, r *http.Request) chatRequest {
	t.Helper()
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func TestChat_ParsesContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("Authorization = %q", got)
		}
		req := chatJSON(t, r)
		if req.Model != "test-model" {
			t.Fatalf("model = %q, want test-model", req.Model)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"Take it with water."}}]}`))
	}))
	defer server.Close()

	p := NewOpenAICompatProvider("test-key", server.URL)
	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "test-model", nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "Take it with water." {
		t.Fatalf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 0 {
		t.Fatalf("tool calls = %d, want 0", len(resp.ToolCalls))
	}
}

func TestChat_ParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"reminder","arguments":"{\"action\":\"list\"}"}}
		]}}]}`))
	}))
	defer server.Close()

	p := NewOpenAICompatProvider("k", server.URL)
	resp, err := p.Chat(context.Background(), nil, nil, "m", nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}

	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "reminder" {
		t.Fatalf("call = %+v", call)
	}
	if call.Arguments["action"] != "list" {
		t.Fatalf("arguments = %v, want action=list", call.Arguments)
	}
}

func TestChat_RetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"recovered"}}]}`))
	}))
	defer server.Close()

	p := NewOpenAICompatProvider("k", server.URL)
	resp, err := p.Chat(context.Background(), nil, nil, "m", nil)
	if err != nil {
		t.Fatalf("Chat() error = %v after retries", err)
	}
	if resp.Content != "recovered" {
		t.Fatalf("content = %q", resp.Content)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestChat_ClientErrorDoesNotRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))
	defer server.Close()

	p := NewOpenAICompatProvider("k", server.URL)
	_, err := p.Chat(context.Background(), nil, nil, "bogus", nil)
	if err == nil {
		t.Fatal("Chat() error = nil, want provider error")
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("error = %v, want the provider's message", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (client errors must not retry)", attempts)
	}
}

func TestChat_UnparseableClientErrorDoesNotRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	p := NewOpenAICompatProvider("k", server.URL)
	_, err := p.Chat(context.Background(), nil, nil, "m", nil)
	if err == nil {
		t.Fatal("Chat() error = nil, want provider error")
	}
	if !strings.Contains(err.Error(), "provider returned 400") {
		t.Fatalf("error = %v, want the status in the message", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (client errors must not retry)", attempts)
	}
}

func TestChat_OptionsForwarded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := chatJSON(t, r)
		if req.MaxTokens != 4096 {
			t.Fatalf("max_tokens = %d, want 4096", req.MaxTokens)
		}
		if req.Temperature != 0.3 {
			t.Fatalf("temperature = %v, want 0.3", req.Temperature)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	p := NewOpenAICompatProvider("k", server.URL)
	if _, err := p.Chat(context.Background(), nil, nil, "m", map[string]interface{}{
		"max_tokens":  4096,
		"temperature": 0.3,
	}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
}

func TestChat_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	p := NewOpenAICompatProvider("k", server.URL)
	if _, err := p.Chat(context.Background(), nil, nil, "m", nil); err == nil {
		t.Fatal("Chat() error = nil, want no-choices error")
	}
}
