package conversation

import (
	"context"
	"fmt"
)

// KeepTail is how many trailing messages survive a compaction splice.
const KeepTail = 10

// Summarizer condenses a slice of messages into one block of prose.
// The LLM service implements this; tests substitute a stub.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// Compact replaces an over-long message log with a single synthetic
// summary message followed by the last keepTail entries. Compaction is
// best-effort: if the summarizer fails the original log is returned
// untouched, and the turn proceeds with full history.
//
// Returns the (possibly replaced) log and whether a splice happened.
func Compact(ctx context.Context, messages []Message, threshold, keepTail int, s Summarizer) ([]Message, bool) {
	if threshold <= 0 || len(messages) <= threshold {
		return messages, false
	}
	if keepTail <= 0 {
		keepTail = KeepTail
	}
	if keepTail >= len(messages) {
		return messages, false
	}

	summary, err := s.Summarize(ctx, messages[:len(messages)-keepTail])
	if err != nil {
		return messages, false
	}

	summaryMsg := NewMessage(RoleSystem, fmt.Sprintf("Conversation summary: %s", summary))
	compacted := make([]Message, 0, keepTail+1)
	compacted = append(compacted, summaryMsg)
	compacted = append(compacted, messages[len(messages)-keepTail:]...)
	return compacted, true
}
