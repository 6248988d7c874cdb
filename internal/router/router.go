// Package router picks the cheapest model tier able to serve a request and
// keeps process-wide usage tallies for cost accounting.
package router

import (
	"context"
	"sync"

	"fincite/engine/internal/llm"
)

const (
	TierCheap     = "cheap"
	TierExpensive = "expensive"
)

const (
	ModelCheapID     = "claude-haiku-4-5"
	ModelExpensiveID = "claude-sonnet-4-6"
)

const (
	ReasonLightUnderThreshold  = "light-capabilities-under-threshold"
	ReasonHeavyOrOverThreshold = "heavy-capabilities-or-over-threshold"
)

// DefaultTokenThreshold is the estimated-volume cutoff above which a request
// is routed to the expensive tier regardless of capabilities.
const DefaultTokenThreshold = 6000

// costRatio is the price of the expensive tier as a multiple of the cheap
// tier's price.
const costRatio = 12.0

// defaultLightCapabilities is the capability set the cheap tier can satisfy.
var defaultLightCapabilities = []string{
	"light-tool",
	"document-qa",
	"summarize",
	"extract",
}

// Stats reports usage tallies and the estimated cost-reduction factor
// relative to sending every call to the expensive tier.
type Stats struct {
	TotalCalls          int     `json:"total_calls"`
	CheapCalls          int     `json:"cheap_calls"`
	ExpensiveCalls      int     `json:"expensive_calls"`
	CheapRatio          float64 `json:"cheap_ratio"`
	CostReductionFactor float64 `json:"cost_reduction_factor"`
}

// Router is a single shared instance passed to all callers; counter updates
// are serialized internally.
type Router struct {
	mu             sync.Mutex
	tokenThreshold int
	light          map[string]bool
	cheapCalls     int
	expensiveCalls int
}

func New(tokenThreshold int, lightCapabilities []string) *Router {
	if tokenThreshold <= 0 {
		tokenThreshold = DefaultTokenThreshold
	}
	if len(lightCapabilities) == 0 {
		lightCapabilities = defaultLightCapabilities
	}
	light := make(map[string]bool, len(lightCapabilities))
	for _, name := range lightCapabilities {
		light[name] = true
	}
	return &Router{tokenThreshold: tokenThreshold, light: light}
}

// Choose returns the model for a request and a human-readable reason. The
// cheap tier is chosen iff every requested capability is in the light set and
// the token estimate is under the threshold. The decision is tallied and, if
// the context carries a cost tracker, recorded against the current turn.
func (r *Router) Choose(ctx context.Context, capabilities []string, estimatedTokens int) (string, string) {
	modelID, tier, reason := r.decide(capabilities, estimatedTokens)

	r.mu.Lock()
	if tier == TierCheap {
		r.cheapCalls++
	} else {
		r.expensiveCalls++
	}
	r.mu.Unlock()

	if tracker, ok := llm.CostTrackerFromContext(ctx); ok {
		tracker.Record(llm.RoutingDecision{
			ModelID:         modelID,
			Tier:            tier,
			Reason:          reason,
			Capabilities:    capabilities,
			EstimatedTokens: estimatedTokens,
		})
	}
	return modelID, reason
}

func (r *Router) decide(capabilities []string, estimatedTokens int) (modelID, tier, reason string) {
	if estimatedTokens < r.tokenThreshold && r.allLight(capabilities) {
		return ModelCheapID, TierCheap, ReasonLightUnderThreshold
	}
	return ModelExpensiveID, TierExpensive, ReasonHeavyOrOverThreshold
}

func (r *Router) allLight(capabilities []string) bool {
	for _, name := range capabilities {
		if !r.light[name] {
			return false
		}
	}
	return true
}

func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Stats{
		TotalCalls:     r.cheapCalls + r.expensiveCalls,
		CheapCalls:     r.cheapCalls,
		ExpensiveCalls: r.expensiveCalls,
	}
	if stats.TotalCalls == 0 {
		return stats
	}
	total := float64(stats.TotalCalls)
	stats.CheapRatio = float64(stats.CheapCalls) / total
	stats.CostReductionFactor = (float64(stats.CheapCalls) + float64(stats.ExpensiveCalls)*costRatio) / total
	return stats
}
