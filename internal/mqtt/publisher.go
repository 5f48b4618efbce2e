package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/nugget/taskmate/internal/config"
	"github.com/nugget/taskmate/internal/events"
)

// DefaultTopicPrefix is used when the config leaves topic_prefix empty.
const DefaultTopicPrefix = "taskmate"

// subscriberBuffer is how many events may queue while the broker is slow.
const subscriberBuffer = 256

// publishFunc is the subset of *autopaho.ConnectionManager the forward
// loop uses.
type publishFunc func(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)

// Publisher forwards task events from the bus to the broker.
type Publisher struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to connect and begin forwarding.
func New(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	cfg.TopicPrefix = strings.TrimRight(cfg.TopicPrefix, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = "taskmate-" + uuid.NewString()[:8]
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, bus: bus, logger: logger.With("component", "mqtt")}
}

// Start connects to the broker and forwards task events until ctx is
// cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	if p.bus == nil {
		return fmt.Errorf("mqtt: event bus is required")
	}
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm.Publish, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Subscribe before connecting so no event is lost during the
	// handshake; the buffer absorbs them.
	sub := p.bus.Subscribe(subscriberBuffer, events.TaskChanges)
	defer func() {
		if n := p.bus.Unsubscribe(sub); n > 0 {
			p.logger.Warn("mqtt publisher fell behind", "dropped", n)
		}
	}()

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.forward(ctx, sub, cm.Publish)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm.Publish, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

func (p *Publisher) taskTopic(kind string) string {
	return p.cfg.TopicPrefix + "/tasks/" + kind
}

// forward drains sub until ctx is done or the bus closes it.
func (p *Publisher) forward(ctx context.Context, sub <-chan events.Event, publish publishFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			msg, ok := p.message(e)
			if !ok {
				continue
			}
			if _, err := publish(ctx, msg); err != nil {
				p.logger.Warn("mqtt task event publish failed", "topic", msg.Topic, "error", err)
				continue
			}
			p.logger.Debug("mqtt task event published", "topic", msg.Topic)
		}
	}
}

// taskMessage is the JSON payload of a task event.
type taskMessage struct {
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	TaskID    any       `json:"task_id"`
	ActorID   int64     `json:"actor_id"`
	Title     any       `json:"title"`
	Timestamp time.Time `json:"ts"`
}

// message renders a task change event. Other events are skipped.
func (p *Publisher) message(e events.Event) (*paho.Publish, bool) {
	if !e.IsTaskChange() {
		return nil, false
	}
	payload, err := json.Marshal(taskMessage{
		Kind:      e.Kind,
		Source:    e.Source,
		TaskID:    e.Data["task_id"],
		ActorID:   e.ActorID(),
		Title:     e.Data["title"],
		Timestamp: e.Timestamp.UTC(),
	})
	if err != nil {
		p.logger.Error("mqtt marshal task event", "kind", e.Kind, "error", err)
		return nil, false
	}
	return &paho.Publish{
		Topic:   p.taskTopic(e.Kind),
		Payload: payload,
		QoS:     1,
	}, true
}

func (p *Publisher) publishAvailability(ctx context.Context, publish publishFunc, status string) {
	if _, err := publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}
