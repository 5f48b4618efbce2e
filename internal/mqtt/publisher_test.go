package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/taskmate/internal/config"
	"github.com/nugget/taskmate/internal/events"
)

// recorder captures publishes in place of a broker connection.
type recorder struct {
	mu   sync.Mutex
	msgs []*paho.Publish
	err  error
}

func (r *recorder) publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.msgs = append(r.msgs, p)
	return &paho.PublishResponse{}, nil
}

func (r *recorder) snapshot() []*paho.Publish {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*paho.Publish(nil), r.msgs...)
}

func TestNew_Defaults(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, nil, nil)
	if p.cfg.TopicPrefix != DefaultTopicPrefix {
		t.Errorf("TopicPrefix = %q, want %q", p.cfg.TopicPrefix, DefaultTopicPrefix)
	}
	if !strings.HasPrefix(p.cfg.ClientID, "taskmate-") {
		t.Errorf("ClientID = %q, want taskmate- prefix", p.cfg.ClientID)
	}

	p = New(config.MQTTConfig{TopicPrefix: "home/tasks/", ClientID: "me"}, nil, nil)
	if got := p.taskTopic(events.KindTaskCreated); got != "home/tasks/tasks/task_created" {
		t.Errorf("taskTopic = %q", got)
	}
	if got := p.availabilityTopic(); got != "home/tasks/availability" {
		t.Errorf("availabilityTopic = %q", got)
	}
	if p.cfg.ClientID != "me" {
		t.Errorf("ClientID = %q, want me", p.cfg.ClientID)
	}
}

func TestMessage(t *testing.T) {
	p := New(config.MQTTConfig{}, nil, slog.Default())
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e := events.TaskEvent(events.SourceTools, events.KindTaskUpdated, 7, 3, "Ship release")
	e.Timestamp = ts
	msg, ok := p.message(e)
	if !ok {
		t.Fatal("task event was skipped")
	}
	if msg.Topic != "taskmate/tasks/task_updated" || msg.QoS != 1 || msg.Retain {
		t.Errorf("publish = topic %q qos %d retain %v", msg.Topic, msg.QoS, msg.Retain)
	}
	var got map[string]any
	if err := json.Unmarshal(msg.Payload, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"kind": "task_updated", "source": "tools", "task_id": float64(7),
		"actor_id": float64(3), "title": "Ship release", "ts": "2026-03-01T12:00:00Z",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("payload[%s] = %v, want %v", k, got[k], v)
		}
	}

	if _, ok := p.message(events.Event{Kind: events.KindToolCall}); ok {
		t.Error("tool_call event was published")
	}
}

func TestForward(t *testing.T) {
	bus := events.New()
	p := New(config.MQTTConfig{}, bus, slog.Default())
	rec := &recorder{}
	sub := bus.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.forward(ctx, sub, rec.publish)
	}()

	bus.Publish(events.TaskEvent(events.SourceAPI, events.KindTaskCreated, 1, 1, "a"))
	bus.Publish(events.Event{Source: events.SourceAgent, Kind: events.KindRequestComplete})
	bus.Publish(events.TaskEvent(events.SourceAPI, events.KindTaskDeleted, 1, 1, "a"))

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	bus.Unsubscribe(sub)

	msgs := rec.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	if msgs[0].Topic != "taskmate/tasks/task_created" || msgs[1].Topic != "taskmate/tasks/task_deleted" {
		t.Errorf("topics = %q, %q", msgs[0].Topic, msgs[1].Topic)
	}
}

func TestForward_PublishErrorKeepsGoing(t *testing.T) {
	bus := events.New()
	p := New(config.MQTTConfig{}, bus, slog.Default())
	rec := &recorder{err: errors.New("broker down")}
	sub := bus.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.forward(ctx, sub, rec.publish)
	}()
	bus.Publish(events.TaskEvent(events.SourceAPI, events.KindTaskCreated, 1, 1, "a"))
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forward did not stop after cancel")
	}
}

func TestPublishAvailability(t *testing.T) {
	p := New(config.MQTTConfig{TopicPrefix: "tm"}, nil, slog.Default())
	rec := &recorder{}
	p.publishAvailability(context.Background(), rec.publish, "online")

	msgs := rec.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("published %d, want 1", len(msgs))
	}
	if msgs[0].Topic != "tm/availability" || string(msgs[0].Payload) != "online" || !msgs[0].Retain {
		t.Errorf("availability publish = %+v", msgs[0])
	}
}

func TestStop_NotStarted(t *testing.T) {
	p := New(config.MQTTConfig{}, nil, nil)
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if err := p.AwaitConnection(context.Background()); err == nil {
		t.Error("AwaitConnection() before Start succeeded")
	}
}
