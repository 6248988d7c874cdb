package citations

import (
	"strings"
	"testing"

	"fincite/engine/internal/llm"
)

func TestAssemblerInterleavedDeltas(t *testing.T) {
	a := NewAssembler(docIndex)
	a.AddTextDelta(0, "Revenue was up ")
	a.AddTextDelta(0, "12% this quarter")
	a.AddCitation(0, pageRaw(0, "revenue grew 12%", 3, 3))
	a.AddTextDelta(1, " and margins held.")
	a.AddCitation(1, pageRaw(1, "gross margin 41%", 7, 7))

	text, cites := a.Finalize()
	if len(cites) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(cites))
	}
	want := "Revenue was up 12% this quarter[1] and margins held.[2]"
	if text != want {
		t.Fatalf("rendered text mismatch:\n got %q\nwant %q", text, want)
	}
}

func TestAssemblerPerSegmentDedup(t *testing.T) {
	a := NewAssembler(docIndex)
	a.AddTextDelta(0, "text")
	a.AddCitation(0, pageRaw(0, "quote", 1, 1))
	a.AddCitation(0, pageRaw(0, "quote", 1, 1))
	a.AddCitation(0, pageRaw(0, "quote", 2, 2))

	text, cites := a.Finalize()
	if len(cites) != 2 {
		t.Fatalf("expected duplicate within segment to collapse, got %d", len(cites))
	}
	if !strings.HasSuffix(text, "[1][2]") {
		t.Fatalf("expected two markers after segment text, got %q", text)
	}
}

func TestAssemblerCrossSegmentDedup(t *testing.T) {
	a := NewAssembler(docIndex)
	a.AddTextDelta(0, "one ")
	a.AddCitation(0, pageRaw(0, "quote", 1, 1))
	a.AddTextDelta(1, "two")
	a.AddCitation(1, pageRaw(0, "quote", 1, 1))

	text, cites := a.Finalize()
	if len(cites) != 1 {
		t.Fatalf("expected cross-segment duplicate to collapse, got %d", len(cites))
	}
	if text != "one [1]two" {
		t.Fatalf("unexpected rendered text %q", text)
	}
}

func TestAssemblerDropsMalformedCitation(t *testing.T) {
	a := NewAssembler(docIndex)
	a.AddTextDelta(0, "text")
	a.AddCitation(0, llm.RawCitation{DocumentIndex: 0, CitedText: "no kind"})

	if a.DroppedCount() != 1 {
		t.Fatalf("expected 1 dropped citation, got %d", a.DroppedCount())
	}
	text, cites := a.Finalize()
	if len(cites) != 0 || strings.Contains(text, "[") {
		t.Fatalf("dropped citation must not produce a record or marker: %q", text)
	}
}

func TestAssemblerOutOfOrderSegmentIndexes(t *testing.T) {
	a := NewAssembler(docIndex)
	a.AddTextDelta(2, " tail")
	a.AddTextDelta(0, "head")
	a.AddTextDelta(1, " middle")

	if got := a.StreamedText(); got != "head middle tail" {
		t.Fatalf("segments must render in index order, got %q", got)
	}
}

func TestAssemblerStreamedTextExcludesMarkers(t *testing.T) {
	a := NewAssembler(docIndex)
	a.AddTextDelta(0, "partial answer")
	a.AddCitation(0, pageRaw(0, "quote", 1, 1))
	if got := a.StreamedText(); got != "partial answer" {
		t.Fatalf("in-flight text should carry no markers, got %q", got)
	}
}
