package llm

import (
	"context"
	"sync"
)

// RoutingDecision records which model tier served a request and why. It is
// ephemeral cost-accounting data, not persisted by the engine.
type RoutingDecision struct {
	ModelID         string   `json:"model_id"`
	Tier            string   `json:"tier"`
	Reason          string   `json:"reason"`
	Capabilities    []string `json:"capabilities,omitempty"`
	EstimatedTokens int      `json:"estimated_tokens"`
}

// CostTracker accumulates routing decisions for one turn. A tracker is
// created at turn start and carried on the context so nested calls can record
// against it without parameter threading.
type CostTracker struct {
	mu        sync.Mutex
	decisions []RoutingDecision
}

func NewCostTracker() *CostTracker {
	return &CostTracker{}
}

func (t *CostTracker) Record(decision RoutingDecision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decisions = append(t.decisions, decision)
}

// Decisions returns a copy of the recorded decisions in record order.
func (t *CostTracker) Decisions() []RoutingDecision {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RoutingDecision, len(t.decisions))
	copy(out, t.decisions)
	return out
}

type costTrackerContextKey struct{}

// WithCostTracker stores a cost tracker on the provided context.
func WithCostTracker(ctx context.Context, tracker *CostTracker) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, costTrackerContextKey{}, tracker)
}

// CostTrackerFromContext retrieves the turn's cost tracker if present.
func CostTrackerFromContext(ctx context.Context) (*CostTracker, bool) {
	if ctx == nil {
		return nil, false
	}
	tracker, ok := ctx.Value(costTrackerContextKey{}).(*CostTracker)
	if !ok || tracker == nil {
		return nil, false
	}
	return tracker, true
}
