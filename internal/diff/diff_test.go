package diff

import (
	"strings"
	"testing"
)

func TestMeasureEqual(t *testing.T) {
	drift := Measure("same text", "same text")
	if !drift.Empty() {
		t.Fatalf("expected zero drift, got distance %d", drift.Distance)
	}
	if len(drift.Spans) != 0 {
		t.Fatalf("expected no spans, got %d", len(drift.Spans))
	}
}

func TestMeasureDivergence(t *testing.T) {
	streamed := "revenue rose 4% in Q3 [1]"
	batch := "revenue rose 4% in Q3 [1][2]"
	drift := Measure(streamed, batch)
	if drift.Distance != 3 {
		t.Fatalf("distance = %d, want 3", drift.Distance)
	}
	if len(drift.Spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(drift.Spans))
	}
	if drift.Spans[0].Kind != SpanMissing || drift.Spans[0].Text != "[2]" {
		t.Fatalf("unexpected span %+v", drift.Spans[0])
	}
}

func TestMeasureExtraStreamedText(t *testing.T) {
	drift := Measure("prefix leftover", "prefix")
	if drift.Empty() {
		t.Fatalf("expected drift")
	}
	found := false
	for _, span := range drift.Spans {
		if span.Kind == SpanExtra {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an extra span, got %+v", drift.Spans)
	}
}

func TestMeasureClipsLongSpans(t *testing.T) {
	drift := Measure("", strings.Repeat("x", 500))
	if len(drift.Spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(drift.Spans))
	}
	if len(drift.Spans[0].Text) != maxSpanText {
		t.Fatalf("span length = %d, want %d", len(drift.Spans[0].Text), maxSpanText)
	}
}
