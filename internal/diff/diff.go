package diff

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Span is one region where the streamed text diverged from the batch
// rendering. Kind is "missing" for text only present in the batch form and
// "extra" for text only present in the streamed form.
type Span struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

const (
	SpanMissing = "missing"
	SpanExtra   = "extra"
)

// Drift summarizes how far an incrementally assembled response diverged
// from the batch rendering of the same provider response. Distance is the
// Levenshtein edit distance; Spans lists the first few differing regions.
type Drift struct {
	Distance int    `json:"distance"`
	Spans    []Span `json:"spans,omitempty"`
}

func (d Drift) Empty() bool {
	return d.Distance == 0
}

const (
	maxSpans    = 8
	maxSpanText = 120
)

// Measure compares the streamed and batch forms of a response. Equal inputs
// return a zero Drift without running the diff.
func Measure(streamed, batch string) Drift {
	if streamed == batch {
		return Drift{}
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(streamed, batch, false)

	drift := Drift{Distance: dmp.DiffLevenshtein(diffs)}
	for _, chunk := range diffs {
		if chunk.Type == diffmatchpatch.DiffEqual {
			continue
		}
		if len(drift.Spans) == maxSpans {
			break
		}
		kind := SpanExtra
		if chunk.Type == diffmatchpatch.DiffInsert {
			kind = SpanMissing
		}
		drift.Spans = append(drift.Spans, Span{Kind: kind, Text: clip(chunk.Text)})
	}
	return drift
}

func clip(text string) string {
	if len(text) <= maxSpanText {
		return text
	}
	return text[:maxSpanText]
}
