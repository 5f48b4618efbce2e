package tools

import (
	"context"
)

type contextKey string

const execContextKey contextKey = "exec_context"

// Metadata carries caller identity for a tool invocation.
type Metadata struct {
	// ActorID is the acting user. Zero means unset.
	ActorID int64
}

// ExecContext is the per-turn bundle every tool call runs under. It is
// built by the caller, attached to the context once, and never exposed
// to the model as a parameter.
type ExecContext struct {
	ConversationID string
	Metadata       *Metadata
}

// NewExecContext returns an ExecContext for actorID.
func NewExecContext(actorID int64, conversationID string) ExecContext {
	return ExecContext{
		ConversationID: conversationID,
		Metadata:       &Metadata{ActorID: actorID},
	}
}

// WithExecContext attaches a copy of ec to ctx. Later changes to the
// caller's Metadata do not affect the attached copy.
func WithExecContext(ctx context.Context, ec ExecContext) context.Context {
	if ec.Metadata != nil {
		md := *ec.Metadata
		ec.Metadata = &md
	}
	return context.WithValue(ctx, execContextKey, ec)
}

// ExecContextFrom returns the attached ExecContext, if any.
func ExecContextFrom(ctx context.Context) (ExecContext, bool) {
	if ctx == nil {
		return ExecContext{}, false
	}
	ec, ok := ctx.Value(execContextKey).(ExecContext)
	return ec, ok
}

// ActorFromContext resolves the acting user's ID. It is the only way a
// tool learns who it is acting for.
func ActorFromContext(ctx context.Context) (int64, error) {
	ec, ok := ExecContextFrom(ctx)
	if !ok {
		return 0, configurationError("Configuration is required")
	}
	if ec.Metadata == nil {
		return 0, configurationError("Configuration metadata is required")
	}
	if ec.Metadata.ActorID == 0 {
		return 0, configurationError("created_by is required in configuration")
	}
	return ec.Metadata.ActorID, nil
}

// ConversationIDFromContext extracts the conversation ID from the context.
// Returns "default" if not set.
func ConversationIDFromContext(ctx context.Context) string {
	if ec, ok := ExecContextFrom(ctx); ok && ec.ConversationID != "" {
		return ec.ConversationID
	}
	return "default"
}
