package checkpoint

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// MemorySaver keeps state in process memory. The chat service uses a
// fresh one per turn so nothing leaks between requests.
type MemorySaver struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewMemorySaver returns an empty MemorySaver.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{states: make(map[string]*State)}
}

// Load returns a copy of the saved state.
func (m *MemorySaver) Load(_ context.Context, conversationID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[conversationID]
	if !ok {
		return nil, nil
	}
	return clone(st), nil
}

// Save stores a copy of st.
func (m *MemorySaver) Save(_ context.Context, st *State) error {
	if st == nil || st.ConversationID == "" {
		return errors.New("checkpoint: state needs a conversation id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.ConversationID] = clone(st)
	return nil
}

// Len reports how many conversations are held.
func (m *MemorySaver) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

func clone(st *State) *State {
	c := *st
	c.Messages = slices.Clone(st.Messages)
	return &c
}
