// Package citations reconciles provider response content into rendered text
// with inline reference markers and a deduplicated list of citation records.
package citations

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"fincite/engine/internal/llm"
)

// Citation kinds. Values match the provider's location taxonomy.
const (
	KindPage  = "page_location"
	KindChar  = "char_location"
	KindBlock = "content_block_location"
)

// signaturePrefixLen bounds how much cited text participates in duplicate
// detection.
const signaturePrefixLen = 100

// Rect is a pixel-space highlight rectangle on a rendered page, attached by
// a downstream layout step.
type Rect struct {
	PageNumber int     `json:"page_number"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// Citation is a reference from answer text back to a source location. It is
// a closed sum: the only implementations are PageCitation, CharCitation and
// BlockCitation.
type Citation interface {
	ID() string
	DocumentID() string
	DocumentTitle() string
	CitedText() string
	HighlightID() string
	Highlights() []Rect
	AttachHighlights(rects []Rect)
	Kind() string

	signature() string
}

type record struct {
	id          string
	documentID  string
	title       string
	citedText   string
	highlightID string
	highlights  []Rect
}

func (r *record) ID() string            { return r.id }
func (r *record) DocumentID() string    { return r.documentID }
func (r *record) DocumentTitle() string { return r.title }
func (r *record) CitedText() string     { return r.citedText }
func (r *record) HighlightID() string   { return r.highlightID }
func (r *record) Highlights() []Rect    { return r.highlights }

func (r *record) AttachHighlights(rects []Rect) {
	r.highlights = rects
}

func (r *record) signaturePrefix() string {
	text := r.citedText
	if len(text) > signaturePrefixLen {
		text = text[:signaturePrefixLen]
	}
	return text
}

// PageCitation locates cited text by page range in the source document.
type PageCitation struct {
	record
	StartPage int
	EndPage   int
}

func (c *PageCitation) Kind() string { return KindPage }

func (c *PageCitation) signature() string {
	return fmt.Sprintf("%s|%s|%s|%d-%d", c.documentID, KindPage, c.signaturePrefix(), c.StartPage, c.EndPage)
}

// CharCitation locates cited text by character offsets into the plain-text
// extraction of the source document.
type CharCitation struct {
	record
	StartChar int
	EndChar   int
}

func (c *CharCitation) Kind() string { return KindChar }

func (c *CharCitation) signature() string {
	return fmt.Sprintf("%s|%s|%s|%d-%d", c.documentID, KindChar, c.signaturePrefix(), c.StartChar, c.EndChar)
}

// BlockCitation locates cited text by indices into the document's internal
// content-block segmentation.
type BlockCitation struct {
	record
	StartBlock int
	EndBlock   int
}

func (c *BlockCitation) Kind() string { return KindBlock }

func (c *BlockCitation) signature() string {
	return fmt.Sprintf("%s|%s|%s|%d-%d", c.documentID, KindBlock, c.signaturePrefix(), c.StartBlock, c.EndBlock)
}

// FromRaw builds a citation record from a provider payload. The document
// index is resolved through the caller-supplied index map; an unknown index
// resolves to an empty document ID rather than an error. A payload without a
// recognized location kind is rejected, and that single citation is dropped.
func FromRaw(raw llm.RawCitation, docIndex map[int]string) (Citation, bool) {
	base := record{
		id:          uuid.New().String(),
		documentID:  docIndex[raw.DocumentIndex],
		title:       raw.DocumentTitle,
		citedText:   raw.CitedText,
		highlightID: uuid.New().String(),
	}
	switch raw.Type {
	case KindPage:
		return &PageCitation{record: base, StartPage: raw.StartPageNumber, EndPage: raw.EndPageNumber}, true
	case KindChar:
		return &CharCitation{record: base, StartChar: raw.StartCharIndex, EndChar: raw.EndCharIndex}, true
	case KindBlock:
		return &BlockCitation{record: base, StartBlock: raw.StartBlockIndex, EndBlock: raw.EndBlockIndex}, true
	default:
		return nil, false
	}
}

// Deduplicate returns the subset of next whose signatures appear neither in
// existing nor earlier in next, preserving input order.
func Deduplicate(next, existing []Citation) []Citation {
	seen := make(map[string]bool, len(existing)+len(next))
	for _, c := range existing {
		seen[c.signature()] = true
	}
	out := make([]Citation, 0, len(next))
	for _, c := range next {
		sig := c.signature()
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, c)
	}
	return out
}

// SameLocation reports whether two citations share a duplicate signature.
func SameLocation(a, b Citation) bool {
	return a.signature() == b.signature()
}

// ParseContent renders a complete (non-streamed) response: segment text is
// concatenated in order and each accepted citation appends a 1-based [n]
// marker immediately after its segment's text. The returned list is
// deduplicated and ordered by encounter.
func ParseContent(blocks []llm.ContentBlock, docIndex map[int]string) (string, []Citation) {
	var rendered strings.Builder
	var accepted []Citation
	marker := 0
	for _, block := range blocks {
		if block.Type != "" && block.Type != "text" {
			continue
		}
		rendered.WriteString(block.Text)
		for _, raw := range block.Citations {
			c, ok := FromRaw(raw, docIndex)
			if !ok {
				continue
			}
			if deduped := Deduplicate([]Citation{c}, accepted); len(deduped) == 0 {
				continue
			}
			accepted = append(accepted, c)
			marker++
			fmt.Fprintf(&rendered, "[%d]", marker)
		}
	}
	return rendered.String(), accepted
}
