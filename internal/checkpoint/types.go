// Package checkpoint stores the message history of agent conversations.
package checkpoint

import (
	"context"
	"time"

	"github.com/nugget/taskmate/internal/llm"
)

// State is the conversation as the agent left it after a turn.
type State struct {
	ConversationID string        `json:"conversation_id"`
	ActorID        int64         `json:"actor_id"`
	Messages       []llm.Message `json:"messages"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ToolMessages returns the tool-role messages in order.
func (s *State) ToolMessages() []llm.Message {
	if s == nil {
		return nil
	}
	var out []llm.Message
	for _, m := range s.Messages {
		if m.Role == llm.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

// Saver loads and persists conversation state between agent turns.
type Saver interface {
	// Load returns the saved state, or nil and no error when the
	// conversation has never been saved.
	Load(ctx context.Context, conversationID string) (*State, error)
	Save(ctx context.Context, st *State) error
}

// Summary describes a saved conversation without its messages.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	ActorID        int64     `json:"actor_id"`
	MessageCount   int       `json:"message_count"`
	ByteSize       int64     `json:"byte_size"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
