package anthropic

import (
	"bufio"
	"bytes"
	"io"
	"sort"
	"strings"

	"fincite/engine/internal/llm"
)

type wireContentBlock struct {
	Type      string            `json:"type"`
	Text      string            `json:"text,omitempty"`
	Name      string            `json:"name,omitempty"`
	Input     map[string]any    `json:"input,omitempty"`
	Citations []llm.RawCitation `json:"citations,omitempty"`
}

type wireResponse struct {
	Content    []wireContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
}

func (r wireResponse) toMessageResponse() llm.MessageResponse {
	out := llm.MessageResponse{StopReason: r.StopReason}
	for _, block := range r.Content {
		out.Content = append(out.Content, llm.ContentBlock{
			Type:      block.Type,
			Text:      block.Text,
			Citations: block.Citations,
			ToolName:  block.Name,
			ToolInput: block.Input,
		})
	}
	return out
}

type wireDelta struct {
	Type       string           `json:"type"`
	Text       string           `json:"text,omitempty"`
	Citation   *llm.RawCitation `json:"citation,omitempty"`
	StopReason string           `json:"stop_reason,omitempty"`
}

type wireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type wireStreamFrame struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	ContentBlock *wireContentBlock `json:"content_block,omitempty"`
	Delta        *wireDelta        `json:"delta,omitempty"`
	Error        *wireError        `json:"error,omitempty"`
}

// sseScanner reads server-sent-event frames, surfacing the data payloads.
type sseScanner struct {
	scanner *bufio.Scanner
	data    []byte
}

func newSSEScanner(r io.Reader) *sseScanner {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 2*1024*1024)
	return &sseScanner{scanner: scanner}
}

func (s *sseScanner) Scan() bool {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		s.data = []byte(payload)
		return true
	}
	return false
}

func (s *sseScanner) Data() ([]byte, bool) {
	if len(s.data) == 0 {
		return nil, false
	}
	return s.data, true
}

func (s *sseScanner) Err() error {
	return s.scanner.Err()
}

// accumulator rebuilds the complete response from streamed frames so a
// caller gets the same shape a batch call returns.
type accumulator struct {
	texts      map[int]*bytes.Buffer
	citations  map[int][]llm.RawCitation
	toolNames  map[int]string
	openTools  map[int]bool
	stopReason string
}

func newAccumulator() *accumulator {
	return &accumulator{
		texts:     make(map[int]*bytes.Buffer),
		citations: make(map[int][]llm.RawCitation),
		toolNames: make(map[int]string),
		openTools: make(map[int]bool),
	}
}

func (a *accumulator) appendText(index int, text string) {
	buf, ok := a.texts[index]
	if !ok {
		buf = &bytes.Buffer{}
		a.texts[index] = buf
	}
	buf.WriteString(text)
}

func (a *accumulator) appendCitation(index int, citation llm.RawCitation) {
	a.citations[index] = append(a.citations[index], citation)
}

func (a *accumulator) startToolBlock(index int, name string) {
	a.toolNames[index] = name
	a.openTools[index] = true
}

func (a *accumulator) finishToolBlock(index int) (string, bool) {
	if !a.openTools[index] {
		return "", false
	}
	a.openTools[index] = false
	return a.toolNames[index], true
}

func (a *accumulator) response() llm.MessageResponse {
	indexes := make(map[int]bool)
	for i := range a.texts {
		indexes[i] = true
	}
	for i := range a.citations {
		indexes[i] = true
	}
	for i := range a.toolNames {
		indexes[i] = true
	}
	ordered := make([]int, 0, len(indexes))
	for i := range indexes {
		ordered = append(ordered, i)
	}
	sort.Ints(ordered)

	out := llm.MessageResponse{StopReason: a.stopReason}
	for _, i := range ordered {
		if name, ok := a.toolNames[i]; ok {
			out.Content = append(out.Content, llm.ContentBlock{Type: "tool_use", ToolName: name})
			continue
		}
		block := llm.ContentBlock{Type: "text"}
		if buf, ok := a.texts[i]; ok {
			block.Text = buf.String()
		}
		block.Citations = a.citations[i]
		out.Content = append(out.Content, block)
	}
	return out
}
