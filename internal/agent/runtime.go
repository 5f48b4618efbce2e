// Package agent runs the tool-calling loop between a model and the task
// tools for one chat turn.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nugget/taskmate/internal/checkpoint"
	"github.com/nugget/taskmate/internal/events"
	"github.com/nugget/taskmate/internal/llm"
	"github.com/nugget/taskmate/internal/observability"
	"github.com/nugget/taskmate/internal/prompts"
	"github.com/nugget/taskmate/internal/tools"
	"github.com/nugget/taskmate/internal/usage"
)

// DefaultMaxIterations bounds the model round-trips in one Invoke.
const DefaultMaxIterations = 8

// Runtime binds a model, the tool registry, the system prompt and a
// conversation saver. It is safe for concurrent use as long as the
// saver is.
type Runtime struct {
	client        llm.Client
	registry      *tools.Registry
	model         string
	systemPrompt  string
	maxIterations int
	saver         checkpoint.Saver

	bus     *events.Bus
	metrics *observability.Metrics
	tracer  *observability.Tracer
	usage   func(context.Context, usage.Record)
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMaxIterations overrides DefaultMaxIterations. Values below one
// are ignored.
func WithMaxIterations(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxIterations = n
		}
	}
}

// WithSaver sets the conversation saver. The default is a MemorySaver.
func WithSaver(s checkpoint.Saver) Option {
	return func(r *Runtime) { r.saver = s }
}

// WithEvents publishes tool and request events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(r *Runtime) { r.bus = bus }
}

// WithMetrics records tool metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithTracer records an agent.invoke span and one span per tool call.
func WithTracer(t *observability.Tracer) Option {
	return func(r *Runtime) { r.tracer = t }
}

// WithUsage reports the token counts of every model call to record.
func WithUsage(record func(context.Context, usage.Record)) Option {
	return func(r *Runtime) { r.usage = record }
}

// New builds a Runtime. client should already carry its generation
// options and retry policy.
func New(client llm.Client, registry *tools.Registry, model string, logger *slog.Logger, opts ...Option) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{
		client:        client,
		registry:      registry,
		model:         model,
		systemPrompt:  prompts.SystemPrompt(),
		maxIterations: DefaultMaxIterations,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.saver == nil {
		r.saver = checkpoint.NewMemorySaver()
	}
	return r
}

// WithSaver returns a copy of r that loads and saves through s.
func (r *Runtime) WithSaver(s checkpoint.Saver) *Runtime {
	c := *r
	c.saver = s
	return &c
}

// Invoke runs one turn: the user message goes to the model, requested
// tools run in order under ec, and the loop repeats until the model
// stops asking for tools or the iteration cap is hit. The final state
// is saved and returned.
func (r *Runtime) Invoke(ctx context.Context, ec tools.ExecContext, message string) (_ *checkpoint.State, err error) {
	start := r.now()
	ctx = tools.WithExecContext(ctx, ec)
	convID := tools.ConversationIDFromContext(ctx)
	var actorID int64
	if ec.Metadata != nil {
		actorID = ec.Metadata.ActorID
	}

	requestID := generateRequestID()
	log := r.logger.With("request_id", requestID, "conversation", convID)

	ctx, span := r.tracer.Start(ctx, "agent.invoke",
		attribute.String("conversation_id", convID),
		attribute.Int64("actor_id", actorID),
		attribute.String("model", r.model),
	)
	defer func() { observability.EndSpan(span, err) }()

	st, err := r.saver.Load(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("agent invoke: %w", err)
	}
	if st == nil {
		st = &checkpoint.State{ConversationID: convID, ActorID: actorID, CreatedAt: start.UTC()}
	}
	if len(st.Messages) == 0 {
		st.Messages = append(st.Messages, llm.Message{Role: llm.RoleSystem, Content: r.systemPrompt})
	}
	st.Messages = append(st.Messages, llm.Message{Role: llm.RoleUser, Content: message})

	toolDefs := r.registry.List()
	iterations, toolCalls := 0, 0

	log.Info("agent turn started", "model", r.model, "history", len(st.Messages))

	for iterations < r.maxIterations {
		iterations++

		resp, err := r.client.Chat(ctx, r.model, st.Messages, toolDefs)
		if err != nil {
			log.Error("model call failed", "iteration", iterations, "error", err)
			return nil, fmt.Errorf("agent invoke: %w", err)
		}

		if r.usage != nil {
			r.usage(ctx, usage.Record{
				RequestID:      requestID,
				ConversationID: convID,
				ActorID:        actorID,
				Model:          r.model,
				InputTokens:    resp.InputTokens,
				OutputTokens:   resp.OutputTokens,
			})
		}

		reply := resp.Message
		reply.Role = llm.RoleAssistant
		for i := range reply.ToolCalls {
			if reply.ToolCalls[i].ID == "" {
				reply.ToolCalls[i].ID = "call_" + uuid.NewString()
			}
		}
		st.Messages = append(st.Messages, reply)

		log.Debug("model replied",
			"iteration", iterations,
			"tool_calls", len(reply.ToolCalls),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)

		if len(reply.ToolCalls) == 0 {
			break
		}
		for _, tc := range reply.ToolCalls {
			st.Messages = append(st.Messages, r.executeTool(ctx, log, convID, actorID, tc))
			toolCalls++
		}
		if iterations == r.maxIterations {
			log.Warn("max iterations reached", "iterations", iterations)
		}
	}

	st.UpdatedAt = r.now().UTC()
	if err := r.saver.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("agent invoke: save state: %w", err)
	}

	elapsed := r.now().Sub(start)
	r.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestComplete,
		Data: map[string]any{
			"conversation_id": convID,
			"actor_id":        actorID,
			"model":           r.model,
			"iterations":      iterations,
			"tool_calls":      toolCalls,
			"elapsed_ms":      elapsed.Milliseconds(),
		},
	})
	log.Info("agent turn completed",
		"iterations", iterations,
		"tool_calls", toolCalls,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return st, nil
}

// executeTool runs one call and renders its result as a tool message.
// Failures never abort the turn; the model sees them as error content.
func (r *Runtime) executeTool(ctx context.Context, log *slog.Logger, convID string, actorID int64, tc llm.ToolCall) llm.Message {
	name := tc.Function.Name
	ctx, span := r.tracer.Start(ctx, "tool."+name, attribute.String("tool_call_id", tc.ID))

	r.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindToolCall,
		Data:   map[string]any{"conversation_id": convID, "actor_id": actorID, "tool": name},
	})

	args := tc.Function.Arguments
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte("{}")
	}

	start := r.now()
	content, err := r.registry.Execute(ctx, name, string(argsJSON))
	elapsed := r.now().Sub(start)

	status := llm.StatusSuccess
	if err != nil {
		status = llm.StatusError
		content = tools.ErrorContent(name, err)
		logToolError(log, name, err)
	} else {
		log.Debug("tool succeeded", "tool", name, "elapsed", elapsed)
	}
	observability.EndSpan(span, err)

	r.metrics.ObserveTool(name, status, elapsed)
	r.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindToolDone,
		Data: map[string]any{
			"conversation_id": convID,
			"actor_id":        actorID,
			"tool":            name,
			"ok":              err == nil,
			"duration_ms":     elapsed.Milliseconds(),
		},
	})

	return llm.Message{
		Role:       llm.RoleTool,
		Name:       name,
		Content:    content,
		Status:     status,
		ToolCallID: tc.ID,
	}
}

// logToolError logs expected refusals quietly and everything else loudly.
func logToolError(log *slog.Logger, name string, err error) {
	var te *tools.ToolError
	var unavailable *tools.ErrToolUnavailable
	switch {
	case errors.As(err, &te) && te.Kind != tools.KindInternal:
		log.Info("tool refused", "tool", name, "kind", te.Kind, "message", te.Message)
	case errors.As(err, &unavailable):
		log.Warn("model requested unknown tool", "tool", name)
	default:
		log.Error("tool failed", "tool", name, "error", err)
	}
}
