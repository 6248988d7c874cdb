package citations

import (
	"fmt"
	"sort"
	"strings"

	"fincite/engine/internal/llm"
)

// Assembler reconciles incrementally streamed text and citation events into
// the same rendered form ParseContent produces for a batch response. It is
// turn-scoped and not safe for concurrent use: a turn's events are consumed
// by a single loop in order.
type Assembler struct {
	docIndex map[int]string
	segments map[int]*segment
	dropped  int
}

type segment struct {
	text    strings.Builder
	pending []Citation
}

func NewAssembler(docIndex map[int]string) *Assembler {
	return &Assembler{
		docIndex: docIndex,
		segments: make(map[int]*segment),
	}
}

func (a *Assembler) segment(index int) *segment {
	seg, ok := a.segments[index]
	if !ok {
		seg = &segment{}
		a.segments[index] = seg
	}
	return seg
}

// AddTextDelta appends streamed text to the segment at index.
func (a *Assembler) AddTextDelta(index int, text string) {
	a.segment(index).text.WriteString(text)
}

// AddCitation parses a citation-delta for the segment at index. The record
// is kept only if no pending citation for that segment already has the same
// signature; marker order within a segment follows event arrival order.
func (a *Assembler) AddCitation(index int, raw llm.RawCitation) {
	c, ok := FromRaw(raw, a.docIndex)
	if !ok {
		a.dropped++
		return
	}
	seg := a.segment(index)
	seg.pending = append(seg.pending, Deduplicate([]Citation{c}, seg.pending)...)
}

// DroppedCount reports how many malformed citations were discarded.
func (a *Assembler) DroppedCount() int {
	return a.dropped
}

// StreamedText returns the text accumulated so far, segments in index order,
// without reference markers. It feeds the partial-answer display while the
// stream is still open.
func (a *Assembler) StreamedText() string {
	var rendered strings.Builder
	for _, index := range a.order() {
		rendered.WriteString(a.segments[index].text.String())
	}
	return rendered.String()
}

// Finalize renders the assembled response: segments in index order, each
// followed by [n] markers for its surviving citations, with duplicate
// signatures across segments collapsed. It reads the accumulated state
// without consuming it, so callers may render mid-stream and again at the
// end of the turn.
func (a *Assembler) Finalize() (string, []Citation) {
	var rendered strings.Builder
	var accepted []Citation
	marker := 0
	for _, index := range a.order() {
		seg := a.segments[index]
		rendered.WriteString(seg.text.String())
		for _, c := range Deduplicate(seg.pending, accepted) {
			accepted = append(accepted, c)
			marker++
			fmt.Fprintf(&rendered, "[%d]", marker)
		}
	}
	return rendered.String(), accepted
}

func (a *Assembler) order() []int {
	indexes := make([]int, 0, len(a.segments))
	for index := range a.segments {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	return indexes
}
