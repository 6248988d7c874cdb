package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fincite/engine/internal/citations"
	"fincite/engine/internal/diff"
	"fincite/engine/internal/llm"
	"fincite/engine/internal/router"
	"fincite/engine/internal/stream"
)

// Provider issues the generation call and feeds normalized events back as
// they arrive. The returned response is the accumulated batch form.
type Provider interface {
	StreamMessage(ctx context.Context, apiKey string, request llm.GenerateRequest, onEvent func(llm.StreamEvent)) (llm.MessageResponse, error)
}

// Attacher resolves a document's bytes to a provider file handle, uploading
// only when the content digest is not already cached.
type Attacher interface {
	EnsureUploaded(ctx context.Context, actor, filename string, data []byte) (string, error)
}

// Persistence receives the completed turn. Implementations own storage; the
// runner never reads results back.
type Persistence interface {
	SaveTurn(ctx context.Context, turnID string, result Result) error
}

// Notifier relays normalized stream events upward while a turn is running.
type Notifier func(event llm.StreamEvent)

// Document is an attachment supplied with a turn, identified by the caller's
// stable document id.
type Document struct {
	ID       string
	Filename string
	Title    string
	Data     []byte
}

// Request describes one user turn.
type Request struct {
	TurnID       string
	Actor        string
	Query        string
	System       string
	MaxTokens    int
	History      []llm.Message
	Documents    []Document
	Capabilities []string
}

// Result is the finalized turn output handed to persistence and the caller.
type Result struct {
	Text             string
	Citations        []citations.Citation
	Decision         llm.RoutingDecision
	DroppedCitations int
}

// Config bounds the runner's concurrency and provider timing.
type Config struct {
	MaxConcurrentTurns int
	GenerateTimeout    time.Duration
	MaxTokens          int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentTurns <= 0 {
		c.MaxConcurrentTurns = 4
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 300 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

// Runner drives turns end to end: attachment resolution, model routing, the
// streamed provider call, and citation/guard reconciliation. One runner is
// shared by all turns; per-turn state lives on the stack of Run.
type Runner struct {
	provider Provider
	attacher Attacher
	router   *router.Router
	persist  Persistence
	apiKey   string
	logger   *slog.Logger
	cfg      Config
	slots    chan struct{}
}

func NewRunner(provider Provider, attacher Attacher, r *router.Router, persist Persistence, apiKey string, logger *slog.Logger, cfg Config) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{
		provider: provider,
		attacher: attacher,
		router:   r,
		persist:  persist,
		apiKey:   apiKey,
		logger:   logger,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.MaxConcurrentTurns),
	}
}

// eventBuffer bounds how far the provider goroutine can run ahead of the
// consumer loop before backpressure applies.
const eventBuffer = 64

// Run executes one turn. It blocks while all turn slots are taken, resolves
// attachments, routes the model, then consumes the provider's event sequence
// in order, dispatching text deltas and citations to the assembler and each
// rendered candidate to the content guard. The finalized text always comes
// from the guard; citations follow whichever rendering the guard settled on.
func (r *Runner) Run(ctx context.Context, request Request, notify Notifier) (Result, error) {
	select {
	case r.slots <- struct{}{}:
		defer func() { <-r.slots }()
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	tracker := llm.NewCostTracker()
	ctx = llm.WithCostTracker(ctx, tracker)

	attachments, docIndex, err := r.resolveAttachments(ctx, request)
	if err != nil {
		return Result{}, err
	}

	modelID, _ := r.router.Choose(ctx, request.Capabilities, estimateTokens(request))

	generateRequest := llm.GenerateRequest{
		Model:       modelID,
		System:      request.System,
		MaxTokens:   request.MaxTokens,
		Messages:    append(append([]llm.Message{}, request.History...), llm.Message{Role: "user", Content: request.Query}),
		Attachments: attachments,
	}
	if generateRequest.MaxTokens <= 0 {
		generateRequest.MaxTokens = r.cfg.MaxTokens
	}

	assembler := citations.NewAssembler(docIndex)
	guard := stream.NewGuard()

	response, err := r.consume(ctx, generateRequest, assembler, guard, notify)
	if err != nil {
		return Result{}, err
	}

	streamText, streamCitations := assembler.Finalize()
	batchText, batchCitations := citations.ParseContent(response.Content, docIndex)
	r.logDrift(request.TurnID, streamText, batchText)

	finalText := guard.Finalize(streamText, batchText)
	finalCitations := streamCitations
	if finalText != streamText && finalText == batchText {
		finalCitations = batchCitations
	}

	result := Result{
		Text:             finalText,
		Citations:        finalCitations,
		Decision:         lastDecision(tracker),
		DroppedCitations: assembler.DroppedCount(),
	}
	if r.persist != nil {
		if err := r.persist.SaveTurn(ctx, request.TurnID, result); err != nil {
			r.logger.Warn("turn persistence failed", "turn_id", request.TurnID, "error", err)
		}
	}
	return result, nil
}

func (r *Runner) resolveAttachments(ctx context.Context, request Request) ([]llm.AttachmentDecl, map[int]string, error) {
	attachments := make([]llm.AttachmentDecl, 0, len(request.Documents))
	docIndex := make(map[int]string, len(request.Documents))
	for i, doc := range request.Documents {
		handle, err := r.attacher.EnsureUploaded(ctx, request.Actor, doc.Filename, doc.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("attach %s: %w", doc.Filename, err)
		}
		title := doc.Title
		if title == "" {
			title = doc.Filename
		}
		attachments = append(attachments, llm.AttachmentDecl{
			DocumentID:   doc.ID,
			Handle:       handle,
			Title:        title,
			Capabilities: request.Capabilities,
		})
		docIndex[i] = doc.ID
	}
	return attachments, docIndex, nil
}

// consume runs the provider call in its own goroutine and drains its events
// here, in arrival order. The provider goroutine never blocks past turn
// cancellation: its sends race against ctx.Done.
func (r *Runner) consume(ctx context.Context, request llm.GenerateRequest, assembler *citations.Assembler, guard *stream.Guard, notify Notifier) (llm.MessageResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.GenerateTimeout)
	defer cancel()

	events := make(chan llm.StreamEvent, eventBuffer)
	type outcome struct {
		response llm.MessageResponse
		err      error
	}
	done := make(chan outcome, 1)

	go func() {
		response, err := r.provider.StreamMessage(ctx, r.apiKey, request, func(event llm.StreamEvent) {
			select {
			case events <- event:
			case <-ctx.Done():
			}
		})
		close(events)
		done <- outcome{response: response, err: err}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				out := <-done
				if out.err != nil {
					return llm.MessageResponse{}, out.err
				}
				return out.response, nil
			}
			r.dispatch(event, assembler, guard)
			if notify != nil {
				notify(event)
			}
		case <-ctx.Done():
			<-done
			return llm.MessageResponse{}, ctx.Err()
		}
	}
}

func (r *Runner) dispatch(event llm.StreamEvent, assembler *citations.Assembler, guard *stream.Guard) {
	switch event.Type {
	case llm.EventTextDelta:
		assembler.AddTextDelta(event.BlockIndex, event.Text)
	case llm.EventCitationDelta:
		if event.Citation != nil {
			assembler.AddCitation(event.BlockIndex, *event.Citation)
		}
	case llm.EventMessageComplete:
		// Each completed message is a candidate final answer. Racing
		// completions (tool-use expansion, emptied late updates) are
		// arbitrated by the guard, not by arrival order.
		rendered, _ := assembler.Finalize()
		guard.Observe(rendered)
	}
}

func (r *Runner) logDrift(turnID, streamText, batchText string) {
	drift := diff.Measure(streamText, batchText)
	if drift.Empty() {
		return
	}
	r.logger.Debug("stream and batch renderings diverged",
		"turn_id", turnID,
		"distance", drift.Distance,
		"spans", drift.Spans,
	)
}

func lastDecision(tracker *llm.CostTracker) llm.RoutingDecision {
	decisions := tracker.Decisions()
	if len(decisions) == 0 {
		return llm.RoutingDecision{}
	}
	return decisions[len(decisions)-1]
}

// estimateTokens approximates prompt size as one token per four characters
// of conversational text. Attachment bytes are excluded: documents are
// fetched server-side by handle, not inlined into the prompt.
func estimateTokens(request Request) int {
	chars := len(request.Query) + len(request.System)
	for _, message := range request.History {
		chars += len(message.Content)
	}
	return chars / 4
}

// Canceled reports whether err is the caller aborting the turn. A provider
// timeout is not a cancellation; it surfaces as an unavailability failure.
func Canceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
