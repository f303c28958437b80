package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voyagehq/concierge-agent/internal/conversation"
	"github.com/voyagehq/concierge-agent/internal/snapshot"
)

// RestorableStore is the wider persistence surface the manager needs to
// bring sessions back after a restart. *snapshot.Store implements it.
type RestorableStore interface {
	SnapshotStore
	Load(sessionID string) (*conversation.State, error)
	List() ([]snapshot.Meta, error)
}

// Manager owns the set of live conversations: one engine goroutine per
// session, keyed by session id. It is the single entry point the HTTP
// and MQTT layers talk to. Engines run under the base context given at
// construction, not the caller's request context, so they outlive the
// HTTP request that created them.
type Manager struct {
	ctx   context.Context
	mu    sync.RWMutex
	convs map[string]*Conversation
	deps  Deps
	log   *slog.Logger
}

// NewManager creates an empty manager sharing deps across sessions.
// Cancelling ctx stops every engine the manager ever launches.
func NewManager(ctx context.Context, deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ctx:   ctx,
		convs: make(map[string]*Conversation),
		deps:  deps,
		log:   logger.With("component", "manager"),
	}
}

// Start creates a new conversation and launches its engine goroutine.
// Fails if the session id is already live.
func (m *Manager) Start(sessionID string, goals []conversation.Goal, systemPrompt string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.convs[sessionID]; exists {
		return nil, fmt.Errorf("conversation %s already exists", sessionID)
	}

	c := New(sessionID, goals, systemPrompt, m.deps)
	m.convs[sessionID] = c
	go c.Run(m.ctx)

	m.log.Info("conversation started", "session_id", sessionID, "goals", len(goals))
	return c, nil
}

// Get returns the live conversation for a session, or nil.
func (m *Manager) Get(sessionID string) *Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.convs[sessionID]
}

// List returns the live conversations in no particular order.
func (m *Manager) List() []*Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Conversation, 0, len(m.convs))
	for _, c := range m.convs {
		out = append(out, c)
	}
	return out
}

// Restore loads every non-terminal snapshot from the store and resumes
// its engine. Terminal sessions stay on disk for transcript queries but
// get no goroutine. Returns the number of sessions resumed.
func (m *Manager) Restore(store RestorableStore) (int, error) {
	metas, err := store.List()
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}

	resumed := 0
	for _, meta := range metas {
		if meta.Status.Terminal() {
			continue
		}
		state, err := store.Load(meta.SessionID)
		if err != nil {
			m.log.Warn("skipping unreadable snapshot", "session_id", meta.SessionID, "error", err)
			continue
		}
		if state == nil {
			continue
		}

		m.mu.Lock()
		if _, exists := m.convs[meta.SessionID]; exists {
			m.mu.Unlock()
			continue
		}
		c := Resume(state, m.deps)
		m.convs[meta.SessionID] = c
		m.mu.Unlock()

		go c.Run(m.ctx)
		resumed++
		m.log.Info("conversation resumed", "session_id", meta.SessionID, "status", c.Status())
	}
	return resumed, nil
}
