package llm

import (
	"context"
	"errors"
	"testing"
)

type namedClient struct {
	name    string
	pingErr error
}

func (n *namedClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return &ChatResponse{Model: n.name + "/" + model}, nil
}

func (n *namedClient) Ping(context.Context) error { return n.pingErr }

func TestMultiClient_Routing(t *testing.T) {
	fallback := &namedClient{name: "ollama"}
	m := NewMultiClient(fallback)
	m.AddProvider("anthropic", &namedClient{name: "anthropic"})
	m.AddModel("claude-sonnet-4-20250514", "anthropic")
	m.AddModel("orphan", "missing-provider")

	tests := []struct{ model, want string }{
		{"claude-sonnet-4-20250514", "anthropic/claude-sonnet-4-20250514"},
		{"qwen3:4b", "ollama/qwen3:4b"},
		{"orphan", "ollama/orphan"},
	}
	for _, tt := range tests {
		resp, err := m.Chat(context.Background(), tt.model, nil, nil)
		if err != nil {
			t.Fatalf("Chat(%s) error = %v", tt.model, err)
		}
		if resp.Model != tt.want {
			t.Errorf("Chat(%s) routed to %q, want %q", tt.model, resp.Model, tt.want)
		}
	}
}

func TestMultiClient_NoFallback(t *testing.T) {
	m := NewMultiClient(nil)
	if _, err := m.Chat(context.Background(), "x", nil, nil); err == nil {
		t.Error("expected error with no provider")
	}
	if err := m.Ping(context.Background()); err == nil {
		t.Error("expected Ping error with no providers")
	}
}

func TestMultiClient_PingJoinsErrors(t *testing.T) {
	down := errors.New("down")
	m := NewMultiClient(&namedClient{name: "ollama"})
	m.AddProvider("openai", &namedClient{name: "openai", pingErr: down})

	err := m.Ping(context.Background())
	if !errors.Is(err, down) {
		t.Errorf("Ping() = %v, want wrapped provider error", err)
	}
}
