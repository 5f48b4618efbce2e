package chat

import (
	"errors"
	"log/slog"

	"github.com/nugget/taskmate/internal/agent"
	"github.com/nugget/taskmate/internal/checkpoint"
	"github.com/nugget/taskmate/internal/llm"
	"github.com/nugget/taskmate/internal/observability"
	"github.com/nugget/taskmate/internal/tools"
)

// Factory holds what every chat service shares.
type Factory struct {
	Client   llm.Client
	Registry *tools.Registry
	Model    string

	// RuntimeOptions are applied to every runtime the default builder
	// creates, after the per-turn saver.
	RuntimeOptions []agent.Option

	// NewSaver returns the saver for one turn. Nil means a fresh
	// MemorySaver per turn.
	NewSaver func() checkpoint.Saver

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Logger  *slog.Logger
}

// NewService builds a service around the default agent runtime.
func (f *Factory) NewService() (*Service, error) {
	if f.Client == nil {
		return nil, errors.New("chat: llm client is required")
	}
	if f.Registry == nil {
		return nil, errors.New("chat: tool registry is required")
	}
	return f.NewServiceWithRuntime(f.defaultBuilder)
}

// NewServiceWithRuntime builds a service around a custom runtime builder.
func (f *Factory) NewServiceWithRuntime(build RuntimeBuilder) (*Service, error) {
	if build == nil {
		return nil, errors.New("chat: runtime builder is required")
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newSaver := f.NewSaver
	if newSaver == nil {
		newSaver = func() checkpoint.Saver { return checkpoint.NewMemorySaver() }
	}
	return &Service{
		build:    build,
		newSaver: newSaver,
		metrics:  f.Metrics,
		tracer:   f.Tracer,
		logger:   logger.With("component", "chat"),
	}, nil
}

func (f *Factory) defaultBuilder(saver checkpoint.Saver) (Invoker, error) {
	opts := append([]agent.Option{agent.WithSaver(saver)}, f.RuntimeOptions...)
	return agent.New(f.Client, f.Registry, f.Model, f.Logger, opts...), nil
}
