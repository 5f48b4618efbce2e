package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You manage tasks."},
		{Role: RoleUser, Content: "Create two tasks."},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "toolu_1", Function: FunctionCall{Name: "create_task", Arguments: map[string]any{"title": "A"}}},
			{Function: FunctionCall{Name: "create_task"}},
		}},
		{Role: RoleTool, Name: "create_task", ToolCallID: "toolu_1", Content: `{"id":1}`, Status: StatusSuccess},
		{Role: RoleTool, Name: "create_task", ToolCallID: "toolu_create_task_1", Content: `{"error":"InvalidArgumentError"}`, Status: StatusError},
	}

	result, system := convertToAnthropic(messages)

	if system != "You manage tasks." {
		t.Errorf("system = %q", system)
	}
	if len(result) != 3 {
		t.Fatalf("got %d messages, want 3 (user, assistant, folded tool results)", len(result))
	}

	blocks, ok := result[1].Content.([]anthropicContent)
	if !ok || len(blocks) != 2 {
		t.Fatalf("assistant content = %#v", result[1].Content)
	}
	if blocks[0].Type != "tool_use" || blocks[0].ID != "toolu_1" {
		t.Errorf("first block = %+v", blocks[0])
	}
	if blocks[1].ID != "toolu_create_task_1" {
		t.Errorf("generated id = %q, want toolu_create_task_1", blocks[1].ID)
	}
	if args, ok := blocks[1].Input.(map[string]any); !ok || args == nil {
		t.Errorf("nil arguments should become {}, got %#v", blocks[1].Input)
	}

	results, ok := result[2].Content.([]anthropicContent)
	if !ok || len(results) != 2 {
		t.Fatalf("tool results = %#v, want two blocks in one user turn", result[2].Content)
	}
	if result[2].Role != RoleUser || results[0].Type != "tool_result" {
		t.Errorf("tool result turn = %+v", result[2])
	}
	if results[0].IsError || !results[1].IsError {
		t.Errorf("is_error flags = %v, %v; want false, true", results[0].IsError, results[1].IsError)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "search_tasks",
				"description": "Search tasks",
				"parameters": map[string]any{
					"type":       "object",
					"properties": map[string]any{"query": map[string]any{"type": "string"}},
					"required":   []string{"query"},
				},
			},
		},
		{"type": "function", "function": map[string]any{"name": "get_tasks"}},
		{"not": "a tool"},
	}

	result := convertToolsToAnthropic(tools)
	if len(result) != 2 {
		t.Fatalf("got %d tools, want 2", len(result))
	}
	if result[0].Name != "search_tasks" || result[0].Description != "Search tasks" {
		t.Errorf("tool = %+v", result[0])
	}
	if result[1].InputSchema == nil {
		t.Error("missing parameters should default to an empty object schema")
	}
	if convertToolsToAnthropic(nil) != nil {
		t.Error("no tools should convert to nil")
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	resp := &anthropicResponse{
		Model: "claude-sonnet-4-20250514",
		Role:  "assistant",
		Content: []anthropicContent{
			{Type: "text", Text: "Looking that up."},
			{Type: "tool_use", ID: "toolu_xyz", Name: "get_task", Input: map[string]any{"title": "Standup"}},
			{Type: "tool_use", ID: "toolu_abc", Name: "get_tasks", Input: nil},
		},
		StopReason: "tool_use",
		Usage:      anthropicUsage{InputTokens: 120, OutputTokens: 30},
	}

	result := convertFromAnthropic(resp)

	if result.Message.Content != "Looking that up." {
		t.Errorf("content = %q", result.Message.Content)
	}
	if len(result.Message.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(result.Message.ToolCalls))
	}
	if tc := result.Message.ToolCalls[0]; tc.ID != "toolu_xyz" || tc.Function.Arguments["title"] != "Standup" {
		t.Errorf("first call = %+v", tc)
	}
	if result.Message.ToolCalls[1].Function.Arguments == nil {
		t.Error("nil input should become an empty map")
	}
	if result.InputTokens != 120 || result.OutputTokens != 30 || !result.Done {
		t.Errorf("usage = %d/%d done=%v", result.InputTokens, result.OutputTokens, result.Done)
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514",
			"content":[{"type":"tool_use","id":"toolu_1","name":"get_tasks","input":{"limit":5}}],
			"stop_reason":"tool_use","usage":{"input_tokens":10,"output_tokens":4}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", "claude-sonnet-4-20250514", Options{}, nil)
	c.apiURL = srv.URL

	resp, err := c.Chat(context.Background(), "claude-sonnet-4-20250514", []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "list"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if temp, ok := got["temperature"]; !ok || temp != float64(0) {
		t.Errorf("temperature = %v (present %v), want explicit 0", temp, ok)
	}
	if got["max_tokens"] != float64(DefaultMaxTokens) {
		t.Errorf("max_tokens = %v, want %d", got["max_tokens"], DefaultMaxTokens)
	}
	if got["system"] != "sys" {
		t.Errorf("system = %v", got["system"])
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].ID != "toolu_1" {
		t.Errorf("tool calls = %+v", resp.Message.ToolCalls)
	}
}

func TestAnthropicClient_ErrorBody(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"overloaded", 529, true},
		{"bad key", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"type":"error","error":{"type":"some_error","message":"nope"}}`))
			}))
			defer srv.Close()

			c := NewAnthropicClient("sk-test", "m", Options{}, nil)
			c.apiURL = srv.URL
			_, err := c.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "x"}}, nil)

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.Message != "some_error: nope" {
				t.Errorf("message = %q", apiErr.Message)
			}
			if IsTransient(err) != tt.wantTransient {
				t.Errorf("IsTransient() = %v, want %v", !tt.wantTransient, tt.wantTransient)
			}
		})
	}
}

func TestClientsImplementInterface(t *testing.T) {
	var _ Client = (*AnthropicClient)(nil)
	var _ Client = (*OllamaClient)(nil)
	var _ Client = (*OpenAIClient)(nil)
	var _ Client = (*GeminiClient)(nil)
	var _ Client = (*MultiClient)(nil)
	var _ Client = (*RetryClient)(nil)
}
