package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// stubSummarizer records what it was asked to summarize and returns a
// fixed summary or error.
type stubSummarizer struct {
	summary string
	err     error
	gotLen  int
}

func (s *stubSummarizer) Summarize(_ context.Context, messages []Message) (string, error) {
	s.gotLen = len(messages)
	return s.summary, s.err
}

func makeMessages(n int) []Message {
	msgs := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, NewMessage(RoleUser, fmt.Sprintf("message %d", i)))
	}
	return msgs
}

func TestCompactUnderThreshold(t *testing.T) {
	msgs := makeMessages(5)
	sum := &stubSummarizer{summary: "unused"}

	got, spliced := Compact(context.Background(), msgs, 50, KeepTail, sum)
	if spliced {
		t.Error("Compact() spliced below threshold")
	}
	if len(got) != 5 {
		t.Errorf("Compact() len = %d, want 5", len(got))
	}
}

func TestCompactSplicesSummaryPlusTail(t *testing.T) {
	msgs := makeMessages(25)
	sum := &stubSummarizer{summary: "the user planned a trip"}

	got, spliced := Compact(context.Background(), msgs, 20, KeepTail, sum)
	if !spliced {
		t.Fatal("Compact() did not splice above threshold")
	}
	if len(got) != KeepTail+1 {
		t.Fatalf("Compact() len = %d, want %d", len(got), KeepTail+1)
	}
	if got[0].Role != RoleSystem {
		t.Errorf("first message role = %q, want %q", got[0].Role, RoleSystem)
	}
	if !strings.Contains(got[0].Content, "Conversation summary: the user planned a trip") {
		t.Errorf("summary message content = %q", got[0].Content)
	}
	// The tail must be the last KeepTail originals, in order.
	if got[1].Content != "message 15" || got[len(got)-1].Content != "message 24" {
		t.Errorf("tail = %q..%q, want message 15..message 24", got[1].Content, got[len(got)-1].Content)
	}
	// All but the tail should have been summarized.
	if sum.gotLen != 15 {
		t.Errorf("summarizer saw %d messages, want 15", sum.gotLen)
	}
}

func TestCompactLeavesLogOnSummarizerFailure(t *testing.T) {
	msgs := makeMessages(25)
	sum := &stubSummarizer{err: errors.New("model unavailable")}

	got, spliced := Compact(context.Background(), msgs, 20, KeepTail, sum)
	if spliced {
		t.Error("Compact() spliced despite summarizer failure")
	}
	if len(got) != 25 {
		t.Errorf("Compact() len = %d, want untouched 25", len(got))
	}
}

func TestStateCloneIndependence(t *testing.T) {
	st := State{
		SessionID: "s1",
		Status:    StatusActive,
		Messages: []Message{
			{
				ID:   "m1",
				Role: RoleAssistant,
				ToolCalls: []ToolCall{
					{ID: "tc1", Name: "search_flights", Parameters: map[string]any{"origin": "SFO"}},
				},
			},
		},
		Goals: []Goal{{ID: "g1", Tools: []string{"search_flights"}}},
	}

	cp := st.Clone()
	cp.Messages[0].ToolCalls[0].ID = "mutated"
	cp.Goals[0].Completed = true
	cp.Messages = append(cp.Messages, NewMessage(RoleUser, "extra"))

	if st.Messages[0].ToolCalls[0].ID != "tc1" {
		t.Error("Clone() shares tool call slice with original")
	}
	if st.Goals[0].Completed {
		t.Error("Clone() shares goal list with original")
	}
	if len(st.Messages) != 1 {
		t.Error("Clone() shares message slice with original")
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusActive:          false,
		StatusWaitingApproval: false,
		StatusCompleted:       true,
		StatusFailed:          true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
