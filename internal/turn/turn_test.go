package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fincite/engine/internal/llm"
	"fincite/engine/internal/logging"
	"fincite/engine/internal/router"
)

type scriptedProvider struct {
	mu          sync.Mutex
	events      []llm.StreamEvent
	response    llm.MessageResponse
	err         error
	calls       int
	lastRequest llm.GenerateRequest
	started     chan struct{}
	release     chan struct{}
}

func (p *scriptedProvider) StreamMessage(ctx context.Context, apiKey string, request llm.GenerateRequest, onEvent func(llm.StreamEvent)) (llm.MessageResponse, error) {
	p.mu.Lock()
	p.calls++
	p.lastRequest = request
	p.mu.Unlock()
	if p.started != nil {
		close(p.started)
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return llm.MessageResponse{}, ctx.Err()
		}
	}
	for _, event := range p.events {
		onEvent(event)
	}
	return p.response, p.err
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) request() llm.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRequest
}

type fakeAttacher struct {
	mu      sync.Mutex
	handles map[string]string
	err     error
	calls   int
}

func (a *fakeAttacher) EnsureUploaded(ctx context.Context, actor, filename string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return a.handles[filename], nil
}

type fakeStore struct {
	mu     sync.Mutex
	turnID string
	result Result
	saves  int
}

func (s *fakeStore) SaveTurn(ctx context.Context, turnID string, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnID = turnID
	s.result = result
	s.saves++
	return nil
}

func (s *fakeStore) saved() (int, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves, s.result
}

func newTestRunner(provider Provider, attacher Attacher, store Persistence) *Runner {
	return NewRunner(provider, attacher, router.New(0, nil), store, "sk-test", logging.Nop(), Config{})
}

func rawPageCitation(text string) *llm.RawCitation {
	return &llm.RawCitation{
		Type:            "page_location",
		DocumentIndex:   0,
		DocumentTitle:   "Q3 Report",
		CitedText:       text,
		StartPageNumber: 2,
		EndPageNumber:   3,
	}
}

func TestRunHappyPath(t *testing.T) {
	answer := strings.Repeat("Revenue grew four percent in the third quarter. ", 3)
	provider := &scriptedProvider{
		events: []llm.StreamEvent{
			{Type: llm.EventTextDelta, BlockIndex: 0, Text: answer[:40]},
			{Type: llm.EventTextDelta, BlockIndex: 0, Text: answer[40:]},
			{Type: llm.EventCitationDelta, BlockIndex: 0, Citation: rawPageCitation("grew four percent")},
			{Type: llm.EventMessageComplete},
		},
		response: llm.MessageResponse{
			Content: []llm.ContentBlock{{
				Type:      "text",
				Text:      answer,
				Citations: []llm.RawCitation{*rawPageCitation("grew four percent")},
			}},
			StopReason: "end_turn",
		},
	}
	attacher := &fakeAttacher{handles: map[string]string{"q3.pdf": "file-abc"}}
	store := &fakeStore{}
	runner := newTestRunner(provider, attacher, store)

	var notified []string
	result, err := runner.Run(context.Background(), Request{
		TurnID:       "turn-1",
		Actor:        "user-1",
		Query:        "How did revenue do?",
		Documents:    []Document{{ID: "doc-a", Filename: "q3.pdf", Data: []byte("pdf bytes")}},
		Capabilities: []string{"document-qa"},
	}, func(event llm.StreamEvent) {
		notified = append(notified, event.Type)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Text != answer+"[1]" {
		t.Fatalf("text = %q", result.Text)
	}
	if len(result.Citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(result.Citations))
	}
	if result.Citations[0].DocumentID() != "doc-a" {
		t.Fatalf("citation document = %q", result.Citations[0].DocumentID())
	}
	if result.Decision.Tier != router.TierCheap {
		t.Fatalf("tier = %q, want cheap", result.Decision.Tier)
	}
	if result.DroppedCitations != 0 {
		t.Fatalf("dropped = %d", result.DroppedCitations)
	}

	request := provider.request()
	if request.Model != router.ModelCheapID {
		t.Fatalf("model = %q", request.Model)
	}
	if len(request.Attachments) != 1 || request.Attachments[0].Handle != "file-abc" {
		t.Fatalf("attachments = %+v", request.Attachments)
	}
	if request.Attachments[0].Title != "q3.pdf" {
		t.Fatalf("title = %q, want filename fallback", request.Attachments[0].Title)
	}
	last := request.Messages[len(request.Messages)-1]
	if last.Role != "user" || last.Content != "How did revenue do?" {
		t.Fatalf("final message = %+v", last)
	}

	want := []string{llm.EventTextDelta, llm.EventTextDelta, llm.EventCitationDelta, llm.EventMessageComplete}
	if len(notified) != len(want) {
		t.Fatalf("notified %v", notified)
	}
	for i := range want {
		if notified[i] != want[i] {
			t.Fatalf("notified[%d] = %q, want %q", i, notified[i], want[i])
		}
	}

	saves, saved := store.saved()
	if saves != 1 {
		t.Fatalf("saves = %d", saves)
	}
	if saved.Text != result.Text {
		t.Fatalf("persisted text = %q", saved.Text)
	}
}

func TestRunOrdersSegmentsByIndex(t *testing.T) {
	provider := &scriptedProvider{
		events: []llm.StreamEvent{
			{Type: llm.EventTextDelta, BlockIndex: 2, Text: "tail"},
			{Type: llm.EventTextDelta, BlockIndex: 0, Text: "head "},
			{Type: llm.EventMessageComplete},
		},
		response: llm.MessageResponse{Content: []llm.ContentBlock{
			{Type: "text", Text: "head "},
			{Type: "text", Text: "tail"},
		}},
	}
	runner := newTestRunner(provider, &fakeAttacher{}, nil)

	result, err := runner.Run(context.Background(), Request{TurnID: "turn-2", Query: "q"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "head tail" {
		t.Fatalf("text = %q", result.Text)
	}
}

func TestRunHeavyCapabilityRoutesExpensive(t *testing.T) {
	provider := &scriptedProvider{
		events:   []llm.StreamEvent{{Type: llm.EventMessageComplete}},
		response: llm.MessageResponse{Content: []llm.ContentBlock{{Type: "text", Text: "done"}}},
	}
	runner := newTestRunner(provider, &fakeAttacher{}, nil)

	result, err := runner.Run(context.Background(), Request{
		TurnID:       "turn-3",
		Query:        "q",
		Capabilities: []string{"heavy-analysis"},
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Decision.Tier != router.TierExpensive {
		t.Fatalf("tier = %q", result.Decision.Tier)
	}
	if provider.request().Model != router.ModelExpensiveID {
		t.Fatalf("model = %q", provider.request().Model)
	}
}

func TestRunGuardKeepsRichTextOverEmptiedBatch(t *testing.T) {
	rich := strings.Repeat("substantial answer text ", 5)
	provider := &scriptedProvider{
		events: []llm.StreamEvent{
			{Type: llm.EventTextDelta, BlockIndex: 0, Text: rich},
			{Type: llm.EventMessageComplete},
		},
		// Tool-use races can leave the accumulated batch content empty.
		response: llm.MessageResponse{Content: nil},
	}
	runner := newTestRunner(provider, &fakeAttacher{}, nil)

	result, err := runner.Run(context.Background(), Request{TurnID: "turn-4", Query: "q"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != rich {
		t.Fatalf("text = %q, want protected streamed text", result.Text)
	}
}

func TestRunProviderErrorAbortsTurn(t *testing.T) {
	provider := &scriptedProvider{
		events: []llm.StreamEvent{{Type: llm.EventTextDelta, BlockIndex: 0, Text: "partial"}},
		err:    llm.ErrUnavailable,
	}
	store := &fakeStore{}
	runner := newTestRunner(provider, &fakeAttacher{}, store)

	_, err := runner.Run(context.Background(), Request{TurnID: "turn-5", Query: "q"}, nil)
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if saves, _ := store.saved(); saves != 0 {
		t.Fatalf("aborted turn was persisted")
	}
}

func TestRunAttachFailureSkipsProvider(t *testing.T) {
	provider := &scriptedProvider{}
	attacher := &fakeAttacher{err: llm.ErrRejected}
	runner := newTestRunner(provider, attacher, nil)

	_, err := runner.Run(context.Background(), Request{
		TurnID:    "turn-6",
		Query:     "q",
		Documents: []Document{{ID: "doc-a", Filename: "bad.pdf", Data: []byte("x")}},
	}, nil)
	if !errors.Is(err, llm.ErrRejected) {
		t.Fatalf("err = %v", err)
	}
	if provider.callCount() != 0 {
		t.Fatalf("provider was called for a failed attachment")
	}
}

func TestRunCancellation(t *testing.T) {
	provider := &scriptedProvider{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := &fakeStore{}
	runner := newTestRunner(provider, &fakeAttacher{}, store)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := runner.Run(ctx, Request{TurnID: "turn-7", Query: "q"}, nil)
		errCh <- err
	}()

	<-provider.started
	cancel()

	select {
	case err := <-errCh:
		if !Canceled(err) {
			t.Fatalf("err = %v, want cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("turn did not stop after cancel")
	}
	if saves, _ := store.saved(); saves != 0 {
		t.Fatalf("canceled turn was persisted")
	}
}

func TestRunBoundedConcurrency(t *testing.T) {
	provider := &scriptedProvider{
		started: make(chan struct{}),
		release: make(chan struct{}),
		events:  []llm.StreamEvent{{Type: llm.EventMessageComplete}},
		response: llm.MessageResponse{
			Content: []llm.ContentBlock{{Type: "text", Text: "ok"}},
		},
	}
	runner := NewRunner(provider, &fakeAttacher{}, router.New(0, nil), nil, "sk-test", logging.Nop(), Config{MaxConcurrentTurns: 1})

	firstDone := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background(), Request{TurnID: "turn-8", Query: "q"}, nil)
		firstDone <- err
	}()
	<-provider.started

	// The only slot is taken; a second turn with a canceled context must give
	// up waiting instead of running.
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runner.Run(canceled, Request{TurnID: "turn-9", Query: "q"}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if provider.callCount() != 1 {
		t.Fatalf("second turn reached the provider")
	}

	close(provider.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first turn: %v", err)
	}
}

func TestRunDropsMalformedCitation(t *testing.T) {
	provider := &scriptedProvider{
		events: []llm.StreamEvent{
			{Type: llm.EventTextDelta, BlockIndex: 0, Text: "finding"},
			{Type: llm.EventCitationDelta, BlockIndex: 0, Citation: &llm.RawCitation{Type: "hologram_location", CitedText: "x"}},
			{Type: llm.EventMessageComplete},
		},
		response: llm.MessageResponse{Content: []llm.ContentBlock{{Type: "text", Text: "finding"}}},
	}
	runner := newTestRunner(provider, &fakeAttacher{}, nil)

	result, err := runner.Run(context.Background(), Request{TurnID: "turn-10", Query: "q"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "finding" {
		t.Fatalf("text = %q", result.Text)
	}
	if len(result.Citations) != 0 || result.DroppedCitations != 1 {
		t.Fatalf("citations = %d dropped = %d", len(result.Citations), result.DroppedCitations)
	}
}
