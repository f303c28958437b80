package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	records := []Record{
		{Model: "anthropic/claude-sonnet-4-20250514", Operation: OpResponse, InputTokens: 1200, OutputTokens: 300},
		{Model: "anthropic/claude-sonnet-4-20250514", Operation: OpToolProposal, InputTokens: 800, OutputTokens: 120},
		{Model: "openai/gpt-4o", Operation: OpSummary, InputTokens: 2500, OutputTokens: 400},
	}
	for _, rec := range records {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 4500 {
		t.Errorf("TotalInputTokens = %d, want 4500", sum.TotalInputTokens)
	}
	if sum.TotalOutputTokens != 820 {
		t.Errorf("TotalOutputTokens = %d, want 820", sum.TotalOutputTokens)
	}
}

func TestSummaryExcludesOutsideWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := Record{
		Timestamp:   time.Now().Add(-48 * time.Hour),
		Model:       "anthropic/claude-sonnet-4-20250514",
		Operation:   OpResponse,
		InputTokens: 100,
	}
	if err := s.Record(ctx, old); err != nil {
		t.Fatalf("Record: %v", err)
	}

	sum, err := s.Summary(time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 0 {
		t.Errorf("TotalRecords = %d, want 0 (record is outside window)", sum.TotalRecords)
	}
}

func TestSummaryByModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, rec := range []Record{
		{Model: "anthropic/claude-sonnet-4-20250514", Operation: OpResponse, InputTokens: 500, OutputTokens: 100},
		{Model: "anthropic/claude-sonnet-4-20250514", Operation: OpRelevance, InputTokens: 200, OutputTokens: 10},
		{Model: "openai/gpt-4o", Operation: OpResponse, InputTokens: 900, OutputTokens: 250},
	} {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	byModel, err := s.SummaryByModel(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if len(byModel) != 2 {
		t.Fatalf("got %d models, want 2", len(byModel))
	}
	anthropic := byModel["anthropic/claude-sonnet-4-20250514"]
	if anthropic == nil || anthropic.TotalRecords != 2 || anthropic.TotalInputTokens != 700 {
		t.Errorf("anthropic summary = %+v, want 2 records / 700 input tokens", anthropic)
	}
}

func TestSummaryByOperation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, rec := range []Record{
		{Model: "m", Operation: OpResponse, InputTokens: 10, OutputTokens: 5},
		{Model: "m", Operation: OpResponse, InputTokens: 20, OutputTokens: 5},
		{Model: "m", Operation: OpSummary, InputTokens: 300, OutputTokens: 50},
	} {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	byOp, err := s.SummaryByOperation(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SummaryByOperation: %v", err)
	}
	if resp := byOp[OpResponse]; resp == nil || resp.TotalRecords != 2 {
		t.Errorf("response summary = %+v, want 2 records", resp)
	}
	if sum := byOp[OpSummary]; sum == nil || sum.TotalOutputTokens != 50 {
		t.Errorf("summary op summary = %+v, want 50 output tokens", sum)
	}
}

func TestRecordGeneratesID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, Record{Model: "m", Operation: OpResponse}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(ctx, Record{Model: "m", Operation: OpResponse}); err != nil {
		t.Fatalf("Record with generated ID collided: %v", err)
	}
}
