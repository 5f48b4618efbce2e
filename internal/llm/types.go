// Package llm provides LLM client implementations.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Tool message statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`

	// Name and Status are set on tool messages only.
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

// FunctionCall is the name and decoded arguments of a tool invocation.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at the provider boundaries.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	InputTokens  int
	OutputTokens int

	// Timing (populated when available)
	TotalDuration time.Duration
	LoadDuration  time.Duration
	EvalDuration  time.Duration
}

// Temperature is sent with every request. Tool selection must be
// repeatable, so it is not configurable, and every client sends the
// zero explicitly rather than leaving it to the provider default.
const Temperature = 0.0

// Options are the generation parameters shared by every provider.
type Options struct {
	MaxTokens int
}

// DefaultMaxTokens caps a single completion when Options leaves it unset.
const DefaultMaxTokens = 4096

func (o Options) maxTokens() int {
	if o.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return o.MaxTokens
}

// toolNames extracts function names from OpenAI-format tool definitions.
func toolNames(tools []map[string]any) []string {
	var names []string
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			continue
		}
		if name, ok := fn["name"].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}
