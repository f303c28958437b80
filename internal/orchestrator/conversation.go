// Package orchestrator runs the conversation state machine: one
// goroutine per session drains an inbound message queue, filters for
// goal relevance, proposes and executes tool calls (gating flagged
// ones behind human approval), generates responses, re-evaluates
// goals, and snapshots state after every turn. Signals (user message,
// approval, goal update) arrive from HTTP or MQTT goroutines and are
// buffered; all state mutation happens on the session goroutine or
// under its lock, so queries always observe a consistent snapshot.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voyagehq/concierge-agent/internal/approval"
	"github.com/voyagehq/concierge-agent/internal/conversation"
	"github.com/voyagehq/concierge-agent/internal/events"
	"github.com/voyagehq/concierge-agent/internal/tools"
)

// Config holds the per-conversation agent knobs.
type Config struct {
	MaxTokens           int     `yaml:"max_tokens"`
	Temperature         float64 `yaml:"temperature"`
	EnableSummary       bool    `yaml:"enable_summary"`
	MaxHistory          int     `yaml:"max_history"`
	EnableHumanApproval bool    `yaml:"enable_human_approval"`
}

// DefaultConfig returns the stock agent configuration.
func DefaultConfig() Config {
	return Config{
		MaxTokens:           2000,
		Temperature:         0.7,
		EnableSummary:       true,
		MaxHistory:          50,
		EnableHumanApproval: true,
	}
}

// Capabilities is the language-model surface the engine depends on.
// *llm.Service implements it; tests substitute fakes.
type Capabilities interface {
	GenerateResponse(ctx context.Context, history []conversation.Message) (string, error)
	ProposeToolCalls(ctx context.Context, history []conversation.Message, available []*tools.Tool) ([]conversation.ToolCall, error)
	Summarizer(goal string) conversation.Summarizer
	CheckRelevance(ctx context.Context, input, goal string) (relevant bool, reason string)
}

// SnapshotStore persists per-turn state and the consumed-signal log.
// *snapshot.Store implements it.
type SnapshotStore interface {
	Save(state *conversation.State) error
	MarkConsumed(sessionID, signalID string) error
	Consumed(sessionID, signalID string) (bool, error)
}

// Deps bundles the collaborators a Conversation needs.
type Deps struct {
	Caps     Capabilities
	Registry *tools.Registry
	Store    SnapshotStore
	Bus      *events.Bus
	Config   Config
	Logger   *slog.Logger
}

const (
	greetingText = "Hello! I'm your AI assistant. I can help you with various tasks using the tools available to me. What would you like to do today?"

	apologyText = "I encountered an error and need to stop our conversation. Please try starting a new session."

	fallbackResponseText = "I apologize, but I encountered an issue generating a response."
)

// errShutdown aborts a turn without failing the conversation when the
// engine's context is cancelled mid-turn.
var errShutdown = errors.New("conversation engine shutting down")

// queuedMessage pairs an inbound user message with the signal id used
// for redelivery dedupe.
type queuedMessage struct {
	signalID string
	text     string
}

// Conversation is the engine for one session.
type Conversation struct {
	mu    sync.Mutex
	state *conversation.State
	inbox []queuedMessage
	// pendingIDs guards against a signal being enqueued twice before
	// the turn that consumes it runs.
	pendingIDs map[string]bool

	wake chan struct{}
	done chan struct{}
	gate *approval.Gate
	deps Deps
	log  *slog.Logger
}

// New creates a fresh conversation: optional system prompt first, then
// the synthetic greeting, status active.
func New(sessionID string, goals []conversation.Goal, systemPrompt string, deps Deps) *Conversation {
	now := time.Now().UTC()
	state := &conversation.State{
		SessionID: sessionID,
		Goals:     conversation.CloneGoals(goals),
		Status:    conversation.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if id, ok := conversation.SelectCurrent(state.Goals); ok {
		state.CurrentGoal = id
	}
	if systemPrompt != "" {
		state.Messages = append(state.Messages, conversation.NewMessage(conversation.RoleSystem, systemPrompt))
	}
	state.Messages = append(state.Messages, conversation.NewMessage(conversation.RoleAssistant, greetingText))

	return newWithState(state, deps)
}

// Resume rebuilds the engine around previously persisted state. A
// session restored in waiting_approval is set back to active: the
// pending decision slot did not survive the restart, so the turn that
// was suspended will be re-driven by signal redelivery.
func Resume(state *conversation.State, deps Deps) *Conversation {
	if state.Status == conversation.StatusWaitingApproval {
		state.Status = conversation.StatusActive
	}
	return newWithState(state, deps)
}

func newWithState(state *conversation.State, deps Deps) *Conversation {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversation{
		state:      state,
		pendingIDs: make(map[string]bool),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		gate:       approval.NewGate(),
		deps:       deps,
		log:        logger.With("component", "conversation", "session_id", state.SessionID),
	}
}

// Run drives the main loop until the conversation reaches a terminal
// status or ctx is cancelled. Call exactly once, in its own goroutine.
func (c *Conversation) Run(ctx context.Context) {
	defer close(c.done)

	for {
		if c.Status().Terminal() {
			c.log.Info("conversation reached terminal status", "status", c.Status())
			return
		}

		msg, ok := c.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
				continue
			}
		}

		if err := c.runTurn(ctx, msg); err != nil {
			if errors.Is(err, errShutdown) || ctx.Err() != nil {
				return
			}
			c.log.Error("turn failed", "error", err)
			c.append(conversation.NewMessage(conversation.RoleAssistant, apologyText))
			c.setStatus(conversation.StatusFailed)
			c.persist(msg.signalID)
			return
		}
	}
}

// Done is closed when the Run loop exits.
func (c *Conversation) Done() <-chan struct{} { return c.done }

// runTurn processes one dequeued user message end to end.
func (c *Conversation) runTurn(ctx context.Context, msg queuedMessage) error {
	c.deps.Bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindTurnStart,
		Data:   map[string]any{"session_id": c.state.SessionID, "message_len": len(msg.text)},
	})

	// Relevance filter: only when a goal is being pursued and the
	// human-in-the-loop mode is on. Off-goal input is consumed without
	// entering history; the user gets a clarification instead.
	if goal, ok := c.currentGoal(); ok && c.deps.Config.EnableHumanApproval {
		relevant, reason := c.deps.Caps.CheckRelevance(ctx, msg.text, goal.Description)
		if err := ctx.Err(); err != nil {
			return errShutdown
		}
		if !relevant {
			clarification := fmt.Sprintf(
				"I notice your message might not be directly related to our current goal: %q. %s Would you like to continue with the current goal or change direction?",
				goal.Description, reason)
			c.append(conversation.NewMessage(conversation.RoleAssistant, clarification))
			c.deps.Bus.Publish(events.Event{
				Source: events.SourceConversation,
				Kind:   events.KindRelevanceRejected,
				Data:   map[string]any{"session_id": c.state.SessionID, "reason": reason},
			})
			c.persist(msg.signalID)
			return nil
		}
	}

	c.append(conversation.NewMessage(conversation.RoleUser, msg.text))

	c.maybeSummarize(ctx)

	// Tool phase. A proposal failure is treated as "no tools needed";
	// the turn still produces a response.
	available := c.availableTools()
	proposed, err := c.deps.Caps.ProposeToolCalls(ctx, c.history(), available)
	if err != nil {
		if ctx.Err() != nil {
			return errShutdown
		}
		c.log.Warn("tool proposal failed, continuing without tools", "error", err)
		proposed = nil
	}

	if len(proposed) > 0 {
		results := make([]conversation.ToolResult, 0, len(proposed))
		for _, call := range proposed {
			result, err := c.executeToolCall(ctx, call)
			if err != nil {
				return err
			}
			results = append(results, result)
		}
		c.appendToolResults(proposed, results)
	}

	// Response generation is the one fatal capability: without it the
	// conversation cannot continue.
	reply, err := c.deps.Caps.GenerateResponse(ctx, c.history())
	if err != nil {
		if ctx.Err() != nil {
			return errShutdown
		}
		return fmt.Errorf("generate response: %w", err)
	}
	if reply == "" {
		reply = fallbackResponseText
	}
	c.append(conversation.NewMessage(conversation.RoleAssistant, reply))

	c.mu.Lock()
	if conversation.AllCompleted(c.state.Goals) {
		c.mu.Unlock()
		c.setStatus(conversation.StatusCompleted)
	} else {
		c.mu.Unlock()
	}

	c.persist(msg.signalID)

	c.deps.Bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindTurnComplete,
		Data: map[string]any{
			"session_id": c.state.SessionID,
			"status":     string(c.Status()),
			"messages":   c.messageCount(),
		},
	})
	return nil
}

// maybeSummarize compacts the log when it outgrows the configured
// ceiling. Failures are swallowed: compaction is best-effort and never
// blocks a turn.
func (c *Conversation) maybeSummarize(ctx context.Context) {
	if !c.deps.Config.EnableSummary {
		return
	}

	goalDesc := ""
	if goal, ok := c.currentGoal(); ok {
		goalDesc = goal.Description
	}
	summarizer := c.deps.Caps.Summarizer(goalDesc)

	before := c.history()
	compacted, changed := conversation.Compact(ctx, before, c.deps.Config.MaxHistory, conversation.KeepTail, summarizer)
	if !changed {
		return
	}

	c.mu.Lock()
	c.state.Messages = compacted
	c.state.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()

	c.deps.Bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindHistoryCompacted,
		Data: map[string]any{
			"session_id": c.state.SessionID,
			"before":     len(before),
			"after":      len(compacted),
		},
	})
}

// availableTools returns the goal-scoped tool set, or the full catalog
// when no goal is active.
func (c *Conversation) availableTools() []*tools.Tool {
	if goal, ok := c.currentGoal(); ok {
		return c.deps.Registry.ForGoal(goal.Name)
	}
	return c.deps.Registry.List()
}

// persist writes the snapshot and marks the turn's signal consumed.
// Persistence errors are logged, not fatal: the conversation stays
// usable and the next turn retries the write.
func (c *Conversation) persist(signalID string) {
	snap := c.Snapshot()
	if err := c.deps.Store.Save(&snap); err != nil {
		c.log.Warn("snapshot save failed", "error", err)
		return
	}
	if signalID != "" {
		if err := c.deps.Store.MarkConsumed(snap.SessionID, signalID); err != nil {
			c.log.Warn("mark signal consumed failed", "signal_id", signalID, "error", err)
		}
	}
	c.mu.Lock()
	delete(c.pendingIDs, signalID)
	c.mu.Unlock()

	c.deps.Bus.Publish(events.Event{
		Source: events.SourceSnapshot,
		Kind:   events.KindSnapshotSaved,
		Data:   map[string]any{"session_id": snap.SessionID, "messages": len(snap.Messages)},
	})
}

// --- signal entry points (called from HTTP/MQTT goroutines) ---

// SubmitMessage enqueues a user message. signalID deduplicates
// redeliveries; pass a fresh id per logical message.
func (c *Conversation) SubmitMessage(signalID, text string) error {
	if c.Status().Terminal() {
		return fmt.Errorf("conversation %s is %s", c.state.SessionID, c.Status())
	}
	if dup, err := c.alreadyConsumed(signalID); err != nil {
		return err
	} else if dup {
		return nil
	}

	c.mu.Lock()
	if c.pendingIDs[signalID] {
		c.mu.Unlock()
		return nil
	}
	c.pendingIDs[signalID] = true
	c.inbox = append(c.inbox, queuedMessage{signalID: signalID, text: text})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// ApproveTool resolves a pending approval. Unknown or already-resolved
// ids are a no-op, so redelivered decisions are harmless.
func (c *Conversation) ApproveTool(signalID, toolCallID string, approved bool) error {
	if c.Status().Terminal() {
		return fmt.Errorf("conversation %s is %s", c.state.SessionID, c.Status())
	}
	if dup, err := c.alreadyConsumed(signalID); err != nil {
		return err
	} else if dup {
		return nil
	}

	matched := c.gate.Resolve(toolCallID, approved)

	// Only a matched decision consumes the signal. An unmatched one
	// (no slot registered for the id) must stay redeliverable, or an
	// at-least-once transport's retry of the same signal would be
	// dropped by the dedupe check and the wait would never resolve.
	if matched && signalID != "" {
		if err := c.deps.Store.MarkConsumed(c.state.SessionID, signalID); err != nil {
			c.log.Warn("mark approval consumed failed", "error", err)
		}
	}
	c.deps.Bus.Publish(events.Event{
		Source: events.SourceApproval,
		Kind:   events.KindApprovalResolved,
		Data: map[string]any{
			"session_id":   c.state.SessionID,
			"tool_call_id": toolCallID,
			"approved":     approved,
			"matched":      matched,
		},
	})
	return nil
}

// UpdateGoals atomically replaces the goal list and recomputes the
// current goal. Visible to the next turn; never interrupts an
// in-flight approval wait.
func (c *Conversation) UpdateGoals(signalID string, goals []conversation.Goal) error {
	if c.Status().Terminal() {
		return fmt.Errorf("conversation %s is %s", c.state.SessionID, c.Status())
	}
	if dup, err := c.alreadyConsumed(signalID); err != nil {
		return err
	} else if dup {
		return nil
	}
	if err := c.deps.Store.MarkConsumed(c.state.SessionID, signalID); err != nil {
		c.log.Warn("mark goal update consumed failed", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Goals = conversation.CloneGoals(goals)
	c.state.CurrentGoal = ""
	if id, ok := conversation.SelectCurrent(c.state.Goals); ok {
		c.state.CurrentGoal = id
	}
	c.state.UpdatedAt = time.Now().UTC()
	return nil
}

func (c *Conversation) alreadyConsumed(signalID string) (bool, error) {
	if signalID == "" {
		return false, nil
	}
	seen, err := c.deps.Store.Consumed(c.state.SessionID, signalID)
	if err != nil {
		// Dedupe is best-effort; prefer a duplicate over a dropped signal.
		c.log.Warn("consumed lookup failed", "signal_id", signalID, "error", err)
		return false, nil
	}
	return seen, nil
}

// --- query entry points (read-only, never block on the loop) ---

// Snapshot returns a deep copy of the conversation state.
func (c *Conversation) Snapshot() conversation.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Status returns the current status.
func (c *Conversation) Status() conversation.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

// PendingApprovals returns the tool-call ids awaiting a decision.
func (c *Conversation) PendingApprovals() []string {
	return c.gate.PendingIDs()
}

// SessionID returns the session identifier.
func (c *Conversation) SessionID() string { return c.state.SessionID }

// --- internal state helpers ---

func (c *Conversation) append(msg conversation.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Messages = append(c.state.Messages, msg)
	c.state.UpdatedAt = time.Now().UTC()
}

func (c *Conversation) appendToolResults(calls []conversation.ToolCall, results []conversation.ToolResult) {
	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = r.Describe()
	}
	msg := conversation.NewMessage(conversation.RoleTool, "Tool execution results:\n"+strings.Join(lines, "\n"))
	msg.ToolCalls = calls
	msg.ToolResults = results
	c.append(msg)
}

func (c *Conversation) setStatus(to conversation.Status) {
	c.mu.Lock()
	from := c.state.Status
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state.Status = to
	c.state.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()

	c.deps.Bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindStatusChange,
		Data: map[string]any{
			"session_id": c.state.SessionID,
			"from":       string(from),
			"to":         string(to),
		},
	})
}

func (c *Conversation) currentGoal() (conversation.Goal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.CurrentGoal == "" {
		return conversation.Goal{}, false
	}
	if g := c.state.GoalByID(c.state.CurrentGoal); g != nil {
		return *g, true
	}
	return conversation.Goal{}, false
}

func (c *Conversation) history() []conversation.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]conversation.Message, len(c.state.Messages))
	copy(msgs, c.state.Messages)
	return msgs
}

func (c *Conversation) messageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state.Messages)
}

func (c *Conversation) dequeue() (queuedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbox) == 0 {
		return queuedMessage{}, false
	}
	msg := c.inbox[0]
	c.inbox = c.inbox[1:]
	return msg, true
}
