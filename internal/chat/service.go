// Package chat turns one free-form user message into an agent turn and
// reports the tool results the agent produced.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nugget/taskmate/internal/checkpoint"
	"github.com/nugget/taskmate/internal/llm"
	"github.com/nugget/taskmate/internal/observability"
	"github.com/nugget/taskmate/internal/tools"
)

// EmptyInputError is returned when the message is blank.
type EmptyInputError struct{}

func (e *EmptyInputError) Error() string { return "Message cannot be empty" }

// IsEmptyInput reports whether err is, or wraps, an *EmptyInputError.
func IsEmptyInput(err error) bool {
	var e *EmptyInputError
	return errors.As(err, &e)
}

// ToolRecord is one tool result from a chat turn.
type ToolRecord struct {
	Content    any     `json:"content"`
	Name       string  `json:"name"`
	Status     *string `json:"status"`
	ToolCallID string  `json:"tool_call_id"`
}

// Invoker runs one agent turn. *agent.Runtime implements it.
type Invoker interface {
	Invoke(ctx context.Context, ec tools.ExecContext, message string) (*checkpoint.State, error)
}

// RuntimeBuilder builds the agent for one turn around saver.
type RuntimeBuilder func(saver checkpoint.Saver) (Invoker, error)

// Service processes chat messages.
type Service struct {
	build    RuntimeBuilder
	newSaver func() checkpoint.Saver
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *slog.Logger
}

// ProcessChat runs text through a fresh conversation acting as actorID
// and returns the tool records in the order the tools ran.
func (s *Service) ProcessChat(ctx context.Context, text string, actorID int64) (_ []ToolRecord, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &EmptyInputError{}
	}

	t := newTurn(actorID, uuid.NewString(), s.logger)

	ctx, span := s.tracer.Start(ctx, "chat.process",
		attribute.String("conversation_id", t.conversationID),
		attribute.Int64("actor_id", actorID),
	)
	defer func() {
		observability.EndSpan(span, err)
		s.metrics.ObserveChatTurn(t.status.String())
	}()

	t.advance(statusProcessing)

	rt, err := s.build(s.newSaver())
	if err != nil {
		t.fail(err)
		return nil, fmt.Errorf("build runtime: %w", err)
	}

	st, err := rt.Invoke(ctx, tools.NewExecContext(actorID, t.conversationID), text)
	if err != nil {
		t.fail(err)
		return nil, fmt.Errorf("process chat: %w", err)
	}

	records := extractToolRecords(st.ToolMessages())
	t.advance(statusCompleted, "tool_records", len(records))
	return records, nil
}

func extractToolRecords(msgs []llm.Message) []ToolRecord {
	records := make([]ToolRecord, 0, len(msgs))
	for _, m := range msgs {
		rec := ToolRecord{
			Content:    parseContent(m.Content),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if m.Status != "" {
			status := m.Status
			rec.Status = &status
		}
		records = append(records, rec)
	}
	return records
}

// parseContent decodes JSON-shaped tool output and leaves anything else
// as text.
func parseContent(s string) any {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return s
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return s
	}
	return v
}
