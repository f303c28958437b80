package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voyagehq/concierge-agent/internal/conversation"
	"github.com/voyagehq/concierge-agent/internal/events"
	"github.com/voyagehq/concierge-agent/internal/orchestrator"
	"github.com/voyagehq/concierge-agent/internal/snapshot"
	"github.com/voyagehq/concierge-agent/internal/tools"
)

// stubCaps answers every capability with a fixed script: no tool calls,
// always relevant, a canned reply.
type stubCaps struct{}

func (stubCaps) GenerateResponse(ctx context.Context, history []conversation.Message) (string, error) {
	return "Happy to help.", nil
}

func (stubCaps) ProposeToolCalls(ctx context.Context, history []conversation.Message, available []*tools.Tool) ([]conversation.ToolCall, error) {
	return nil, nil
}

func (stubCaps) Summarizer(goal string) conversation.Summarizer {
	return stubSummarizer{}
}

func (stubCaps) CheckRelevance(ctx context.Context, input, goal string) (bool, string) {
	return true, ""
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(ctx context.Context, messages []conversation.Message) (string, error) {
	return "summary", nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server, *events.Bus) {
	t.Helper()

	store, err := snapshot.NewStore(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := events.New()
	manager := orchestrator.NewManager(ctx, orchestrator.Deps{
		Caps:     stubCaps{},
		Registry: tools.NewRegistry(tools.Deps{}),
		Store:    store,
		Bus:      bus,
		Config:   orchestrator.DefaultConfig(),
		Logger:   slog.Default(),
	})

	s := NewServer("", 0, manager, store, bus, "You are a concierge.", slog.Default())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts, bus
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestCreateConversation(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/conversations", map[string]any{
		"sessionId": "s1",
		"goals": []map[string]any{
			{"id": "g1", "name": "travel_planning", "description": "Plan a trip"},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	state := decodeBody[conversation.State](t, resp)
	if state.SessionID != "s1" || state.Status != conversation.StatusActive {
		t.Errorf("state = %s %s", state.SessionID, state.Status)
	}
	if len(state.Messages) != 2 {
		t.Errorf("got %d seed messages, want system prompt + greeting", len(state.Messages))
	}

	// Duplicate session id conflicts.
	resp = postJSON(t, ts.URL+"/v1/conversations", map[string]any{"sessionId": "s1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", resp.StatusCode)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	_, ts, _ := newTestServer(t)

	postJSON(t, ts.URL+"/v1/conversations", map[string]any{"sessionId": "s1"}).Body.Close()

	resp := postJSON(t, ts.URL+"/v1/conversations/s1/messages", map[string]any{
		"id":   "sig-1",
		"text": "hello there",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	resp.Body.Close()

	// The turn runs asynchronously; poll until the reply lands.
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/v1/conversations/s1")
		if err != nil {
			t.Fatal(err)
		}
		state := decodeBody[conversation.State](t, resp)
		if len(state.Messages) >= 3 {
			last := state.Messages[len(state.Messages)-1]
			if last.Content != "Happy to help." {
				t.Errorf("last message = %q", last.Content)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("turn never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMessageValidation(t *testing.T) {
	_, ts, _ := newTestServer(t)
	postJSON(t, ts.URL+"/v1/conversations", map[string]any{"sessionId": "s1"}).Body.Close()

	resp := postJSON(t, ts.URL+"/v1/conversations/s1/messages", map[string]any{"id": "sig-1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty text status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/v1/conversations/missing/messages", map[string]any{"text": "hi"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}
}

func TestApprovalValidation(t *testing.T) {
	_, ts, _ := newTestServer(t)
	postJSON(t, ts.URL+"/v1/conversations", map[string]any{"sessionId": "s1"}).Body.Close()

	resp := postJSON(t, ts.URL+"/v1/conversations/s1/approvals", map[string]any{"approved": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing toolCallId status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/v1/conversations/s1/approvals", map[string]any{
		"toolCallId": "tc-unknown",
		"approved":   true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("stale approval status = %d, want 200 no-op", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestApprovalsListEmpty(t *testing.T) {
	_, ts, _ := newTestServer(t)
	postJSON(t, ts.URL+"/v1/conversations", map[string]any{"sessionId": "s1"}).Body.Close()

	resp, err := http.Get(ts.URL + "/v1/conversations/s1/approvals")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[map[string][]string](t, resp)
	if got, ok := body["pending"]; !ok || len(got) != 0 {
		t.Errorf("pending = %v, want empty list", body)
	}
}

func TestGoalsUpdate(t *testing.T) {
	_, ts, _ := newTestServer(t)
	postJSON(t, ts.URL+"/v1/conversations", map[string]any{"sessionId": "s1"}).Body.Close()

	resp := postJSONMethod(t, http.MethodPut, ts.URL+"/v1/conversations/s1/goals", map[string]any{
		"id": "sig-goals",
		"goals": []map[string]any{
			{"id": "g1", "name": "event_management", "description": "Organize the launch"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/v1/conversations/s1/status")
	if err != nil {
		t.Fatal(err)
	}
	status := decodeBody[map[string]any](t, resp)
	if status["currentGoal"] != "g1" {
		t.Errorf("currentGoal = %v, want g1", status["currentGoal"])
	}
}

func postJSONMethod(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestTranscriptRendersHTML(t *testing.T) {
	_, ts, _ := newTestServer(t)
	postJSON(t, ts.URL+"/v1/conversations", map[string]any{"sessionId": "s1"}).Body.Close()

	resp, err := http.Get(ts.URL + "/v1/conversations/s1/transcript")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "Conversation s1") {
		t.Error("transcript missing session header")
	}
}

func TestHealthAndVersion(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	health := decodeBody[map[string]string](t, resp)
	if health["status"] != "healthy" {
		t.Errorf("health = %v", health)
	}

	resp, err = http.Get(ts.URL + "/v1/version")
	if err != nil {
		t.Fatal(err)
	}
	version := decodeBody[map[string]string](t, resp)
	if version["version"] == "" {
		t.Errorf("version = %v", version)
	}
}

func TestEventsWebSocket(t *testing.T) {
	_, ts, bus := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Give the subscription a moment to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindTurnStart,
		Data:   map[string]any{"session_id": "s1"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt events.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatal(err)
	}
	if evt.Kind != events.KindTurnStart {
		t.Errorf("event kind = %q, want %q", evt.Kind, events.KindTurnStart)
	}
}

func TestRenderTranscriptMarkdown(t *testing.T) {
	now := time.Now().UTC()
	state := &conversation.State{
		SessionID: "s1",
		Status:    conversation.StatusActive,
		UpdatedAt: now,
		Messages: []conversation.Message{
			{ID: "m1", Role: conversation.RoleAssistant, Content: "I found **3 flights** for you.", Timestamp: now},
		},
	}

	html, err := RenderTranscript(state)
	if err != nil {
		t.Fatal(err)
	}
	out := string(html)
	if !strings.Contains(out, "<strong>3 flights</strong>") {
		t.Error("markdown was not rendered to HTML")
	}
	if !strings.Contains(out, `class="msg assistant"`) {
		t.Error("message role class missing")
	}
}

func TestConversationListSummaries(t *testing.T) {
	_, ts, _ := newTestServer(t)
	for i := range 3 {
		postJSON(t, ts.URL+"/v1/conversations", map[string]any{
			"sessionId": fmt.Sprintf("s%d", i),
		}).Body.Close()
	}

	resp, err := http.Get(ts.URL + "/v1/conversations")
	if err != nil {
		t.Fatal(err)
	}
	list := decodeBody[[]conversationSummary](t, resp)
	if len(list) != 3 {
		t.Errorf("got %d conversations, want 3", len(list))
	}
	for _, c := range list {
		if c.Messages == 0 {
			t.Errorf("session %s reports zero messages", c.SessionID)
		}
	}
}
