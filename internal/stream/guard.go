// Package stream protects the user-visible partial answer during
// incremental delivery.
package stream

import "strings"

const (
	// substantialThreshold is the trimmed length at which a streamed
	// candidate locks in as the protected answer.
	substantialThreshold = 50
	// upgradeFloor is the minimum absolute length a later candidate needs,
	// together with doubling the protected length, to supersede the lock.
	upgradeFloor = 500
)

// FallbackText is returned by Finalize when neither streaming nor batch
// produced usable content.
const FallbackText = "I was unable to generate a response. Please try again."

// Guard keeps the observable partial answer monotonic in content
// completeness. Tool-use events racing with text events can deliver an
// emptied or truncated update after a rich one; once a substantial candidate
// is locked, later candidates replace it only under the upgrade rule.
//
// A Guard is owned by one turn and is not safe for concurrent use.
type Guard struct {
	locked    bool
	protected string
	lastSeen  string
}

func NewGuard() *Guard {
	return &Guard{}
}

// Observe evaluates a newly streamed candidate and returns the text that
// should currently be shown.
//
// Unlocked: a candidate whose trimmed length exceeds the substantial
// threshold locks in; smaller candidates are surfaced as-is.
//
// Locked: a candidate replaces the protected value only when it is at least
// twice the protected length and above the upgrade floor. Anything shorter
// is rejected and the protected value is returned unchanged.
func (g *Guard) Observe(candidate string) string {
	g.lastSeen = candidate
	if !g.locked {
		if len(strings.TrimSpace(candidate)) > substantialThreshold {
			g.locked = true
			g.protected = candidate
		}
		return candidate
	}
	if len(candidate) >= 2*len(g.protected) && len(candidate) > upgradeFloor {
		g.protected = candidate
	}
	return g.protected
}

// Locked reports whether a substantial candidate has been locked in.
func (g *Guard) Locked() bool {
	return g.locked
}

// Current returns the protected value if locked, else the last candidate.
func (g *Guard) Current() string {
	if g.locked {
		return g.protected
	}
	return g.lastSeen
}

// Finalize picks the turn's answer: the protected value when locked, else
// the streamed text when non-trivial, else the batch-computed text, else the
// fallback placeholder.
func (g *Guard) Finalize(streamText, batchText string) string {
	if g.locked {
		return g.protected
	}
	if strings.TrimSpace(streamText) != "" {
		return streamText
	}
	if strings.TrimSpace(batchText) != "" {
		return batchText
	}
	return FallbackText
}
