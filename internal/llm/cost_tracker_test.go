package llm

import (
	"context"
	"sync"
	"testing"
)

func TestCostTrackerFromContext(t *testing.T) {
	tracker := NewCostTracker()
	ctx := WithCostTracker(context.Background(), tracker)

	got, ok := CostTrackerFromContext(ctx)
	if !ok {
		t.Fatalf("expected cost tracker in context")
	}
	if got != tracker {
		t.Fatalf("expected the same tracker instance back")
	}
}

func TestCostTrackerFromContextMissing(t *testing.T) {
	if _, ok := CostTrackerFromContext(context.Background()); ok {
		t.Fatalf("expected no tracker on a bare context")
	}
}

func TestWithCostTrackerHandlesNilContext(t *testing.T) {
	ctx := WithCostTracker(nil, NewCostTracker())
	if _, ok := CostTrackerFromContext(ctx); !ok {
		t.Fatalf("expected cost tracker in context")
	}
}

func TestCostTrackerRecordsConcurrently(t *testing.T) {
	tracker := NewCostTracker()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Record(RoutingDecision{ModelID: "m", Tier: "cheap"})
		}()
	}
	wg.Wait()
	if got := len(tracker.Decisions()); got != 20 {
		t.Fatalf("expected 20 decisions, got %d", got)
	}
}
