package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"fincite/engine/internal/citations"
	"fincite/engine/internal/errinfo"
	"fincite/engine/internal/llm"
	"fincite/engine/internal/turn"
)

type turnDocumentParams struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Title    string `json:"title,omitempty"`
	Data     []byte `json:"data"`
}

type turnRunParams struct {
	TurnID       string               `json:"turn_id,omitempty"`
	Actor        string               `json:"actor,omitempty"`
	Query        string               `json:"query"`
	System       string               `json:"system,omitempty"`
	MaxTokens    int                  `json:"max_tokens,omitempty"`
	History      []llm.Message        `json:"history,omitempty"`
	Capabilities []string             `json:"capabilities,omitempty"`
	Documents    []turnDocumentParams `json:"documents,omitempty"`
}

type turnCancelParams struct {
	TurnID string `json:"turn_id"`
}

// TurnRun executes one user turn end to end and returns the finalized
// answer. Stream events are pushed as TurnEvent notifications while the turn
// is in flight, tagged with the turn id so a client can multiplex turns.
func (e *Engine) TurnRun(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p turnRunParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseGenerate, "invalid params: "+err.Error())
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseGenerate, "query must not be empty")
	}
	if p.TurnID == "" {
		p.TurnID = uuid.NewString()
	}

	runCtx, errInfo := e.beginTurn(ctx, p.TurnID)
	if errInfo != nil {
		return nil, errInfo
	}
	defer e.endTurn(p.TurnID)

	request := turn.Request{
		TurnID:       p.TurnID,
		Actor:        p.Actor,
		Query:        p.Query,
		System:       p.System,
		MaxTokens:    p.MaxTokens,
		History:      p.History,
		Capabilities: p.Capabilities,
	}
	if request.System == "" {
		request.System = e.systemPrompt()
	}
	for _, doc := range p.Documents {
		request.Documents = append(request.Documents, turn.Document{
			ID:       doc.ID,
			Filename: doc.Filename,
			Title:    doc.Title,
			Data:     doc.Data,
		})
	}

	result, err := e.currentRunner().Run(runCtx, request, e.turnNotifier(p.TurnID))
	if err != nil {
		info := mapTurnError(err)
		info.TurnID = p.TurnID
		e.logger.Warn("turn.failed", "turn_id", p.TurnID, "error_code", info.ErrorCode, "detail", info.Detail)
		return nil, info
	}

	return map[string]any{
		"turn_id":           p.TurnID,
		"text":              result.Text,
		"citations":         citations.EncodeAll(result.Citations),
		"model_id":          result.Decision.ModelID,
		"tier":              result.Decision.Tier,
		"routing_reason":    result.Decision.Reason,
		"estimated_tokens":  result.Decision.EstimatedTokens,
		"dropped_citations": result.DroppedCitations,
	}, nil
}

// TurnCancel aborts an in-flight turn. Canceling an unknown or already
// finished turn is not an error.
func (e *Engine) TurnCancel(_ context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p turnCancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseGenerate, "invalid params: "+err.Error())
	}
	canceled := e.cancelTurn(p.TurnID)
	return map[string]any{"canceled": canceled}, nil
}

func (e *Engine) beginTurn(parent context.Context, turnID string) (context.Context, *errinfo.ErrorInfo) {
	runCtx, cancel := context.WithCancel(parent)
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if _, exists := e.turnRuns[turnID]; exists {
		cancel()
		return nil, errinfo.ValidationFailed(errinfo.PhaseGenerate, "turn already in progress: "+turnID)
	}
	e.turnRuns[turnID] = turnHandle{cancel: cancel}
	return runCtx, nil
}

func (e *Engine) endTurn(turnID string) {
	e.runMu.Lock()
	handle, ok := e.turnRuns[turnID]
	delete(e.turnRuns, turnID)
	e.runMu.Unlock()
	if ok {
		handle.cancel()
	}
}

func (e *Engine) cancelTurn(turnID string) bool {
	e.runMu.Lock()
	handle, ok := e.turnRuns[turnID]
	e.runMu.Unlock()
	if !ok {
		return false
	}
	handle.cancel()
	return true
}

// turnNotifier relays normalized stream events as TurnEvent notifications.
func (e *Engine) turnNotifier(turnID string) turn.Notifier {
	if e.notify == nil {
		return nil
	}
	return func(event llm.StreamEvent) {
		payload := map[string]any{
			"turn_id": turnID,
			"type":    event.Type,
		}
		switch event.Type {
		case llm.EventTextDelta:
			payload["index"] = event.BlockIndex
			payload["text"] = event.Text
		case llm.EventCitationDelta:
			payload["index"] = event.BlockIndex
			payload["citation"] = event.Citation
		case llm.EventToolStart, llm.EventToolComplete:
			payload["tool_name"] = event.ToolName
		case llm.EventMessageComplete:
			payload["stop_reason"] = stopReason(event.Response)
		case llm.EventError:
			if event.Err != nil {
				payload["error"] = event.Err.Error()
			}
		}
		e.notify("TurnEvent", payload)
	}
}

func stopReason(response *llm.MessageResponse) string {
	if response == nil {
		return ""
	}
	return response.StopReason
}

func (e *Engine) systemPrompt() string {
	cfg, err := e.settings.Load()
	if err != nil || strings.TrimSpace(cfg.SystemPrompt) == "" {
		return defaultSystemPrompt
	}
	return cfg.SystemPrompt
}
