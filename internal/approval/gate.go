// Package approval implements the suspended-decision registry that
// gates tool calls behind human consent. Each gated call registers a
// pending slot keyed by tool-call id; an external approval signal
// resolves the slot exactly once. The pending table is explicit state
// (not a closure-captured promise) so it can be inspected and counted.
package approval

import "sync"

// Gate maps in-flight tool-call ids to their pending decisions.
// Safe for concurrent use: the orchestrator goroutine waits on the
// channel returned by Request while HTTP/MQTT goroutines call Resolve.
type Gate struct {
	mu      sync.Mutex
	pending map[string]chan bool
}

// NewGate creates an empty approval gate.
func NewGate() *Gate {
	return &Gate{pending: make(map[string]chan bool)}
}

// Request registers a pending slot for the tool-call id and returns the
// channel the caller suspends on. The channel delivers exactly one
// decision. Requesting an id that is already pending returns the
// existing slot.
func (g *Gate) Request(toolCallID string) <-chan bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.pending[toolCallID]; ok {
		return ch
	}
	ch := make(chan bool, 1)
	g.pending[toolCallID] = ch
	return ch
}

// Resolve completes the slot for the given id. Unknown or
// already-resolved ids are a no-op — approval signals may be
// redelivered and must be idempotent. Returns whether a slot matched.
func (g *Gate) Resolve(toolCallID string, approved bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.pending[toolCallID]
	if !ok {
		return false
	}
	delete(g.pending, toolCallID)
	ch <- approved
	return true
}

// Pending returns the number of unresolved slots.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// PendingIDs returns the ids of all unresolved slots.
func (g *Gate) PendingIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	return ids
}
