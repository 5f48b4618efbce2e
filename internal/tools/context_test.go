package tools

import (
	"context"
	"testing"
)

func TestActorFromContext(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		want    int64
		wantMsg string
	}{
		{
			name:    "missing context",
			ctx:     context.Background(),
			wantMsg: "Configuration is required",
		},
		{
			name:    "no metadata",
			ctx:     WithExecContext(context.Background(), ExecContext{ConversationID: "c1"}),
			wantMsg: "Configuration metadata is required",
		},
		{
			name:    "metadata without actor",
			ctx:     WithExecContext(context.Background(), ExecContext{ConversationID: "c1", Metadata: &Metadata{}}),
			wantMsg: "created_by is required in configuration",
		},
		{
			name: "actor present",
			ctx:  WithExecContext(context.Background(), NewExecContext(42, "c1")),
			want: 42,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ActorFromContext(tt.ctx)
			if tt.wantMsg != "" {
				if !IsKind(err, KindConfiguration) {
					t.Fatalf("error = %v, want ConfigurationError", err)
				}
				if err.Error() != tt.wantMsg {
					t.Errorf("message = %q, want %q", err.Error(), tt.wantMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ActorFromContext() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWithExecContext_CopiesMetadata(t *testing.T) {
	ec := NewExecContext(1, "c1")
	ctx := WithExecContext(context.Background(), ec)

	ec.Metadata.ActorID = 2

	got, err := ActorFromContext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("attached actor changed to %d after caller mutation", got)
	}
}

func TestConversationIDFromContext(t *testing.T) {
	if got := ConversationIDFromContext(context.Background()); got != "default" {
		t.Errorf("without context = %q, want default", got)
	}
	ctx := WithExecContext(context.Background(), NewExecContext(1, "conv-9"))
	if got := ConversationIDFromContext(ctx); got != "conv-9" {
		t.Errorf("ConversationIDFromContext() = %q, want conv-9", got)
	}
}
