// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (conversation engine,
// approval gate, MQTT bridge) to subscribers (WebSocket handler, future
// metrics collector). The bus is nil-safe: calling Publish on a nil
// *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceConversation identifies events from the conversation engine.
	SourceConversation = "conversation"
	// SourceApproval identifies events from the approval gate.
	SourceApproval = "approval"
	// SourceSnapshot identifies events from snapshot persistence.
	SourceSnapshot = "snapshot"
	// SourceMQTT identifies events from the MQTT signal bridge.
	SourceMQTT = "mqtt"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the engine dequeued a user message.
	// Data: session_id, message_len.
	KindTurnStart = "turn_start"
	// KindTurnComplete signals a full turn finished.
	// Data: session_id, status, messages.
	KindTurnComplete = "turn_complete"
	// KindRelevanceRejected signals input was judged off-goal.
	// Data: session_id, reason.
	KindRelevanceRejected = "relevance_rejected"
	// KindToolCall signals the start of a tool execution.
	// Data: session_id, tool, tool_call_id.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: session_id, tool, tool_call_id, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindStatusChange signals a conversation status transition.
	// Data: session_id, from, to.
	KindStatusChange = "status_change"
	// KindHistoryCompacted signals the message log was summarized.
	// Data: session_id, before, after.
	KindHistoryCompacted = "history_compacted"

	// KindApprovalRequested signals a tool call awaits a human decision.
	// Data: session_id, tool, tool_call_id.
	KindApprovalRequested = "approval_requested"
	// KindApprovalResolved signals a pending decision was delivered.
	// Data: session_id, tool_call_id, approved.
	KindApprovalResolved = "approval_resolved"

	// KindSnapshotSaved signals state was persisted after a turn.
	// Data: session_id, messages.
	KindSnapshotSaved = "snapshot_saved"

	// KindSignalReceived signals an inbound MQTT signal.
	// Data: session_id, topic.
	KindSignalReceived = "signal_received"
)

// Event represents a single operational event published by a component.
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

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers. The channel is bidirectional so it can be handed
// straight back to Unsubscribe; subscribers should only receive on it.
func (b *Bus) Subscribe(bufSize int) chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
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
