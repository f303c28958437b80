// Package mqtt bridges conversation signals over an MQTT broker. Remote
// clients publish user messages, approval decisions, and goal updates to
// per-session topics; the bridge forwards them to the orchestrator and
// mirrors status transitions back out. QoS 1 gives at-least-once
// delivery; the orchestrator's consumed-signal log absorbs redeliveries.
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

	"github.com/voyagehq/concierge-agent/internal/config"
	"github.com/voyagehq/concierge-agent/internal/conversation"
	"github.com/voyagehq/concierge-agent/internal/events"
	"github.com/voyagehq/concierge-agent/internal/orchestrator"
)

// Conversations is the orchestrator surface the bridge needs. The
// concrete *orchestrator.Manager is wired in main.go.
type Conversations interface {
	Get(sessionID string) *orchestrator.Conversation
}

// messagePayload is the wire format for <prefix>/<session>/message.
type messagePayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// approvalPayload is the wire format for <prefix>/<session>/approval.
type approvalPayload struct {
	ID         string `json:"id"`
	ToolCallID string `json:"toolCallId"`
	Approved   bool   `json:"approved"`
}

// goalsPayload is the wire format for <prefix>/<session>/goals.
type goalsPayload struct {
	ID    string              `json:"id"`
	Goals []conversation.Goal `json:"goals"`
}

// Bridge manages the MQTT connection, subscribes to the per-session
// signal topics, and republishes conversation status changes.
type Bridge struct {
	cfg     config.MQTTConfig
	convs   Conversations
	bus     *events.Bus
	limiter *messageRateLimiter
	logger  *slog.Logger
	cm      *autopaho.ConnectionManager
}

// New creates a Bridge but does not connect. Call [Bridge.Start] to
// begin the connection and forwarding loops.
func New(cfg config.MQTTConfig, convs Conversations, bus *events.Bus, logger *slog.Logger) *Bridge {
	logger = logger.With("component", "mqtt")
	return &Bridge{
		cfg:     cfg,
		convs:   convs,
		bus:     bus,
		limiter: newMessageRateLimiter(200, time.Minute, logger),
		logger:  logger,
	}
}

// Start connects to the MQTT broker, subscribes to the signal topics,
// and blocks until ctx is cancelled. On every (re-)connect the
// subscriptions are re-established and a birth message is published.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := b.cfg.TopicPrefix + "/availability"

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.BrokerURL)
			b.subscribe(ctx, cm)
			b.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					b.handle(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	// Wait for the initial connection before starting the mirror loop.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// Log but don't fail — autopaho will keep retrying in the background.
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	go b.limiter.start(ctx)
	b.mirrorLoop(ctx)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publishAvailability(ctx, b.cm, "offline")
	return b.cm.Disconnect(ctx)
}

func (b *Bridge) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	subs := []paho.SubscribeOptions{
		{Topic: b.cfg.TopicPrefix + "/+/message", QoS: 1},
		{Topic: b.cfg.TopicPrefix + "/+/approval", QoS: 1},
		{Topic: b.cfg.TopicPrefix + "/+/goals", QoS: 1},
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		b.logger.Warn("mqtt subscribe failed", "error", err)
		return
	}
	b.logger.Debug("mqtt subscribed to signal topics", "prefix", b.cfg.TopicPrefix)
}

func (b *Bridge) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.cfg.TopicPrefix + "/availability",
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		b.logger.Info("mqtt availability published", "status", status)
	}
}

// handle routes one inbound signal to its conversation.
func (b *Bridge) handle(ctx context.Context, topic string, payload []byte) {
	if !b.limiter.allow() {
		return
	}

	sessionID, kind, ok := parseSignalTopic(b.cfg.TopicPrefix, topic)
	if !ok {
		b.logger.Debug("mqtt message on unrecognized topic", "topic", topic)
		return
	}

	b.bus.Publish(events.Event{
		Source: events.SourceMQTT,
		Kind:   events.KindSignalReceived,
		Data:   map[string]any{"session_id": sessionID, "topic": topic},
	})

	conv := b.convs.Get(sessionID)
	if conv == nil {
		b.logger.Warn("mqtt signal for unknown session", "session_id", sessionID, "kind", kind)
		return
	}

	var err error
	switch kind {
	case "message":
		var p messagePayload
		if err = json.Unmarshal(payload, &p); err == nil {
			err = conv.SubmitMessage(p.ID, p.Text)
		}
	case "approval":
		var p approvalPayload
		if err = json.Unmarshal(payload, &p); err == nil {
			err = conv.ApproveTool(p.ID, p.ToolCallID, p.Approved)
		}
	case "goals":
		var p goalsPayload
		if err = json.Unmarshal(payload, &p); err == nil {
			err = conv.UpdateGoals(p.ID, p.Goals)
		}
	}
	if err != nil {
		b.logger.Warn("mqtt signal rejected",
			"session_id", sessionID, "kind", kind, "error", err)
	}
}

// mirrorLoop republishes conversation status transitions to
// <prefix>/<session>/status as retained messages, so remote clients can
// observe suspension and completion without polling.
func (b *Bridge) mirrorLoop(ctx context.Context) {
	ch := b.bus.Subscribe(64)
	defer b.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			if evt.Kind != events.KindStatusChange {
				continue
			}
			sessionID, _ := evt.Data["session_id"].(string)
			status, _ := evt.Data["to"].(string)
			if sessionID == "" || status == "" {
				continue
			}
			if _, err := b.cm.Publish(ctx, &paho.Publish{
				Topic:   b.cfg.TopicPrefix + "/" + sessionID + "/status",
				Payload: []byte(status),
				QoS:     1,
				Retain:  true,
			}); err != nil {
				b.logger.Debug("mqtt status publish failed",
					"session_id", sessionID, "error", err)
			}
		}
	}
}

// parseSignalTopic splits <prefix>/<session_id>/<kind> and validates the
// prefix and kind. The session id must be a single non-empty segment.
func parseSignalTopic(prefix, topic string) (sessionID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	switch parts[1] {
	case "message", "approval", "goals":
		return parts[0], parts[1], true
	}
	return "", "", false
}
