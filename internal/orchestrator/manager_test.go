package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/voyagehq/concierge-agent/internal/conversation"
	"github.com/voyagehq/concierge-agent/internal/snapshot"
)

func TestManagerStartRejectsDuplicate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(ctx, testDeps(newFakeCaps(), newMemStore()))

	if _, err := m.Start("s1", nil, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start("s1", nil, ""); err == nil {
		t.Error("duplicate session id accepted")
	}
	if c := m.Get("s1"); c == nil {
		t.Error("Get returned nil for a live session")
	}
	if c := m.Get("missing"); c != nil {
		t.Error("Get returned a conversation for an unknown id")
	}
	if got := len(m.List()); got != 1 {
		t.Errorf("List returned %d conversations, want 1", got)
	}
}

func TestManagerRestoreSkipsTerminalSessions(t *testing.T) {
	dir := t.TempDir()
	store, err := snapshot.NewStore(filepath.Join(dir, "snapshots.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now().UTC()
	active := &conversation.State{
		SessionID: "s-active",
		Status:    conversation.StatusActive,
		Messages:  []conversation.Message{conversation.NewMessage(conversation.RoleAssistant, "hi")},
		CreatedAt: now,
		UpdatedAt: now,
	}
	finished := &conversation.State{
		SessionID: "s-done",
		Status:    conversation.StatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	suspended := &conversation.State{
		SessionID: "s-waiting",
		Status:    conversation.StatusWaitingApproval,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, s := range []*conversation.State{active, finished, suspended} {
		if err := store.Save(s); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(ctx, testDeps(newFakeCaps(), newMemStore()))

	resumed, err := m.Restore(store)
	if err != nil {
		t.Fatal(err)
	}
	if resumed != 2 {
		t.Errorf("resumed %d sessions, want 2", resumed)
	}
	if m.Get("s-done") != nil {
		t.Error("terminal session got an engine")
	}
	if c := m.Get("s-active"); c == nil {
		t.Error("active session was not resumed")
	}
	c := m.Get("s-waiting")
	if c == nil {
		t.Fatal("suspended session was not resumed")
	}
	// The pending decision slot did not survive the restart.
	if c.Status() != conversation.StatusActive {
		t.Errorf("resumed status = %s, want active", c.Status())
	}
}

func TestManagerRestoreIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := snapshot.NewStore(filepath.Join(dir, "snapshots.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now().UTC()
	if err := store.Save(&conversation.State{
		SessionID: "s1",
		Status:    conversation.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(ctx, testDeps(newFakeCaps(), newMemStore()))

	if _, err := m.Restore(store); err != nil {
		t.Fatal(err)
	}
	resumed, err := m.Restore(store)
	if err != nil {
		t.Fatal(err)
	}
	if resumed != 0 {
		t.Errorf("second restore resumed %d sessions, want 0", resumed)
	}
	if got := len(m.List()); got != 1 {
		t.Errorf("List returned %d conversations, want 1", got)
	}
}
