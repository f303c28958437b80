package mqtt

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestParseSignalTopic(t *testing.T) {
	cases := []struct {
		topic       string
		wantSession string
		wantKind    string
		wantOK      bool
	}{
		{"concierge/sess-1/message", "sess-1", "message", true},
		{"concierge/sess-1/approval", "sess-1", "approval", true},
		{"concierge/sess-1/goals", "sess-1", "goals", true},
		{"concierge/sess-1/status", "", "", false},
		{"concierge/sess-1/message/extra", "", "", false},
		{"concierge/message", "", "", false},
		{"concierge//message", "", "", false},
		{"other/sess-1/message", "", "", false},
		{"concierge/availability", "", "", false},
	}

	for _, tc := range cases {
		session, kind, ok := parseSignalTopic("concierge", tc.topic)
		if ok != tc.wantOK || session != tc.wantSession || kind != tc.wantKind {
			t.Errorf("parseSignalTopic(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.topic, session, kind, ok, tc.wantSession, tc.wantKind, tc.wantOK)
		}
	}
}

func TestSignalPayloadDecoding(t *testing.T) {
	var msg messagePayload
	if err := json.Unmarshal([]byte(`{"id":"sig-1","text":"hello"}`), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.ID != "sig-1" || msg.Text != "hello" {
		t.Errorf("message payload = %+v", msg)
	}

	var appr approvalPayload
	if err := json.Unmarshal([]byte(`{"id":"sig-2","toolCallId":"tc1","approved":true}`), &appr); err != nil {
		t.Fatal(err)
	}
	if appr.ToolCallID != "tc1" || !appr.Approved {
		t.Errorf("approval payload = %+v", appr)
	}

	var goals goalsPayload
	raw := `{"id":"sig-3","goals":[{"id":"g1","name":"travel_planning","description":"Plan a trip","completed":false}]}`
	if err := json.Unmarshal([]byte(raw), &goals); err != nil {
		t.Fatal(err)
	}
	if len(goals.Goals) != 1 || goals.Goals[0].Name != "travel_planning" {
		t.Errorf("goals payload = %+v", goals)
	}
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	r := newMessageRateLimiter(3, time.Minute, slog.Default())
	for i := range 3 {
		if !r.allow() {
			t.Fatalf("message %d denied under limit", i)
		}
	}
	if r.allow() {
		t.Error("message over limit was allowed")
	}
	if got := r.dropped.Load(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}
