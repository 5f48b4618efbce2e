package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestConvertToOpenAI(t *testing.T) {
	msgs := convertToOpenAI([]Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "call_1", Function: FunctionCall{Name: "delete_task", Arguments: map[string]any{"task_id": float64(3)}}},
		}},
		{Role: RoleTool, Name: "delete_task", ToolCallID: "call_1", Content: `{"message":"ok"}`},
	})

	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	tc := msgs[1].ToolCalls[0]
	if tc.Type != openai.ToolTypeFunction || tc.Function.Arguments != `{"task_id":3}` {
		t.Errorf("tool call = %+v", tc)
	}
	if msgs[2].Role != openai.ChatMessageRoleTool || msgs[2].ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", msgs[2])
	}
}

func TestOpenAITemperature(t *testing.T) {
	if got := openAITemperature(0); got <= 0 {
		t.Errorf("openAITemperature(0) = %v, want a positive value that survives omitempty", got)
	}
	if got := openAITemperature(0.7); got != float32(0.7) {
		t.Errorf("openAITemperature(0.7) = %v", got)
	}
}

func TestOpenAIClient_Chat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1760000000, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "",
				"tool_calls": [
					{"id": "call_a", "type": "function", "function": {"name": "search_tasks", "arguments": "{\"query\":\"milk\"}"}},
					{"id": "call_b", "type": "function", "function": {"name": "get_tasks", "arguments": "not json"}}
				]}}],
			"usage": {"prompt_tokens": 50, "completion_tokens": 12, "total_tokens": 62}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL+"/v1", Options{}, nil)
	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "search_tasks", "description": "Search"}}}
	resp, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: RoleUser, Content: "milk?"}}, tools)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if _, ok := got["temperature"]; !ok {
		t.Error("temperature was dropped from the request")
	}
	if gotTools, _ := got["tools"].([]any); len(gotTools) != 1 {
		t.Errorf("tools = %v", got["tools"])
	}

	if len(resp.Message.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(resp.Message.ToolCalls))
	}
	if resp.Message.ToolCalls[0].Function.Arguments["query"] != "milk" {
		t.Errorf("arguments = %v", resp.Message.ToolCalls[0].Function.Arguments)
	}
	if args := resp.Message.ToolCalls[1].Function.Arguments; args == nil || len(args) != 0 {
		t.Errorf("unparseable arguments = %v, want empty map", args)
	}
	if resp.InputTokens != 50 || resp.OutputTokens != 12 || resp.CreatedAt.IsZero() {
		t.Errorf("resp = %+v", resp)
	}
}

func TestWrapOpenAIError(t *testing.T) {
	err := wrapOpenAIError(&openai.APIError{HTTPStatusCode: 429, Message: "slow down"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 429 || !IsTransient(err) {
		t.Errorf("wrapped = %v, want transient 429", err)
	}

	err = wrapOpenAIError(&openai.RequestError{HTTPStatusCode: 401, Err: errors.New("bad key")})
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 || IsTransient(err) {
		t.Errorf("wrapped = %v, want permanent 401", err)
	}

	plain := errors.New("boom")
	if wrapOpenAIError(plain) != plain {
		t.Error("unrelated errors should pass through")
	}
}
