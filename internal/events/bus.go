// Package events provides a publish/subscribe bus for task changes and
// agent activity. Events flow from the agent loop, the task tools and
// the REST handlers to subscribers (the WebSocket feed and the MQTT
// publisher). Publish on a nil *Bus is a no-op.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the agent tool-calling loop.
	SourceAgent = "agent"
	// SourceTools identifies task changes made by a tool call.
	SourceTools = "tools"
	// SourceAPI identifies task changes made through the REST API.
	SourceAPI = "api"
)

// Kind constants describe the type of event within a source.
const (
	// KindTaskCreated signals a new task.
	// Data: task_id, actor_id, title.
	KindTaskCreated = "task_created"
	// KindTaskUpdated signals a changed task.
	// Data: task_id, actor_id, title.
	KindTaskUpdated = "task_updated"
	// KindTaskDeleted signals a removed task.
	// Data: task_id, actor_id, title.
	KindTaskDeleted = "task_deleted"

	// KindToolCall signals the start of a tool execution.
	// Data: conversation_id, actor_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: conversation_id, actor_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete signals the end of an agent turn.
	// Data: conversation_id, actor_id, model, iterations, tool_calls,
	// elapsed_ms.
	KindRequestComplete = "request_complete"
)

// Event represents a single event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// IsTaskChange reports whether e describes a task mutation.
func (e Event) IsTaskChange() bool {
	switch e.Kind {
	case KindTaskCreated, KindTaskUpdated, KindTaskDeleted:
		return true
	}
	return false
}

// ActorID returns the actor_id carried in Data, or 0.
func (e Event) ActorID() int64 {
	switch v := e.Data["actor_id"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// TaskEvent builds a task change event.
func TaskEvent(source, kind string, taskID, actorID int64, title string) Event {
	return Event{
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Data: map[string]any{
			"task_id":  taskID,
			"actor_id": actorID,
			"title":    title,
		},
	}
}

// Filter selects the events a subscriber receives. A nil Filter
// accepts everything.
type Filter func(Event) bool

// TaskChanges accepts task mutations only.
func TaskChanges(e Event) bool { return e.IsTaskChange() }

// TaskChangesBy accepts mutations made by actorID.
func TaskChangesBy(actorID int64) Filter {
	return func(e Event) bool { return e.IsTaskChange() && e.ActorID() == actorID }
}

type subscriber struct {
	ch      chan Event
	filter  Filter
	dropped uint64 // atomic
}

// Bus is a non-blocking broadcast bus. A subscriber whose buffer is
// full misses the event; publishers never wait.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]*subscriber
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]*subscriber)}
}

// Publish delivers e to every subscriber whose filter accepts it.
// Publish on a nil *Bus is a no-op.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			atomic.AddUint64(&sub.dropped, 1)
		}
	}
}

// Subscribe returns a channel of published events buffered to bufSize.
// The caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int, filter ...Filter) <-chan Event {
	sub := &subscriber{ch: make(chan Event, bufSize)}
	if len(filter) > 0 {
		sub.filter = filter[0]
	}
	b.mu.Lock()
	b.subs[sub.ch] = sub
	b.mu.Unlock()
	return sub.ch
}

// Unsubscribe closes ch and returns how many events it missed because
// its buffer was full. Unknown channels return 0.
func (b *Bus) Unsubscribe(ch <-chan Event) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[ch]
	if !ok {
		return 0
	}
	delete(b.subs, ch)
	close(sub.ch)
	return atomic.LoadUint64(&sub.dropped)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
