package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmcourier/internal/domain"
	"llmcourier/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(serverURL string) *Client {
	return New(config.ProviderConfig{
		Name:    "test",
		BaseURL: serverURL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	}, nil, newTestLogger())
}

func TestClientChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content-type: %s", r.Header.Get("Content-Type"))
		}

		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q, want configured default", req.Model)
		}
		if req.Stream {
			t.Error("buffered chat must not set stream")
		}

		resp := wireResponse{
			ID:    "chatcmpl-123",
			Model: "gpt-4o-mini",
			Choices: []wireChoice{
				{
					Message:      wireRespMessage{Role: "assistant", Content: "Hello! How can I help?"},
					FinishReason: "stop",
				},
			},
			Usage:   wireUsage{PromptTokens: 10, CompletionTokens: 8, TotalTokens: 18},
			Created: 1700000000,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Message.Content != "Hello! How can I help?" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 18 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestClientChatAPIErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{429, domain.ErrRateLimit},
		{401, domain.ErrAuthInvalid},
		{403, domain.ErrAuthInvalid},
		{413, domain.ErrContextOverflow},
		{500, domain.ErrServer},
		{503, domain.ErrServer},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))

		client := newTestClient(server.URL)
		_, err := client.Chat(context.Background(), domain.ChatRequest{
			Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		})
		server.Close()

		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
		if domain.IsRetryableError(err) != (tc.status == 429 || tc.status >= 500) {
			t.Errorf("status %d: wrong retryability classification", tc.status)
		}
	}
}

func TestClientChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("unexpected accept: %s", r.Header.Get("Accept"))
		}
		var req wireRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("streaming chat must set stream")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"str\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"eam\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ch, err := client.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	acc := NewStreamAccumulator()
	for ev := range ch {
		acc.Feed(ev)
	}
	if acc.Text() != "stream" {
		t.Errorf("text = %q, want stream", acc.Text())
	}
	if !acc.Done() {
		t.Error("expected terminal Done")
	}
}

func TestClientChatStreamHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, domain.ErrRateLimit) {
		t.Errorf("err = %v, want ErrRateLimit", err)
	}
}

func TestClientChatToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"tools"`) {
			t.Error("request missing tools")
		}
		if !strings.Contains(string(body), `"get_weather"`) {
			t.Error("request missing tool schema")
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{
				"message": {
					"role": "assistant",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "get_weather", "arguments": "{\"city\":\"Hanoi\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}]
		}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "weather in Hanoi?"}},
		Tools: []domain.ToolSchema{{
			Name:        "get_weather",
			Description: "Get current weather for a city",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
		}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish = %q", resp.FinishReason)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.Message.ToolCalls))
	}
	call := resp.Message.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "get_weather" {
		t.Errorf("call = %+v", call)
	}
	if string(call.Arguments) != `{"city":"Hanoi"}` {
		t.Errorf("args = %s", call.Arguments)
	}
}

func TestClientChatTask(t *testing.T) {
	client := newTestClient("https://api.test/v1")

	task, err := client.ChatTask(domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("ChatTask: %v", err)
	}

	if task.ID == "" {
		t.Error("expected generated task ID")
	}
	if task.Method != http.MethodPost {
		t.Errorf("method = %s", task.Method)
	}
	if task.URL != "https://api.test/v1/chat/completions" {
		t.Errorf("url = %s", task.URL)
	}
	if task.Headers["Authorization"] != "Bearer test-key" {
		t.Errorf("headers = %v", task.Headers)
	}
	if !task.Streaming {
		t.Error("streaming flag not carried")
	}

	var req wireRequest
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if req.Model != "gpt-4o-mini" || !req.Stream {
		t.Errorf("payload = %+v", req)
	}
}

func TestParseChatResponseInvalid(t *testing.T) {
	if _, err := ParseChatResponse([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid body")
	}
}

func TestClientBaseURLTrimmed(t *testing.T) {
	client := New(config.ProviderConfig{BaseURL: "https://api.test/v1/"}, nil, newTestLogger())
	task, err := client.ChatTask(domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatTask: %v", err)
	}
	if task.URL != "https://api.test/v1/chat/completions" {
		t.Errorf("url = %s, trailing slash not trimmed", task.URL)
	}
}
