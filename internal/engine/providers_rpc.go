package engine

import (
	"context"
	"encoding/json"
	"strings"

	"fincite/engine/internal/errinfo"
	"fincite/engine/internal/transcripts"
)

type setAPIKeyParams struct {
	APIKey string `json:"api_key"`
}

type transcriptGetParams struct {
	TurnID string `json:"turn_id"`
}

// ProviderGetStatus reports whether a provider key is configured and where
// it came from. The key itself is never returned.
func (e *Engine) ProviderGetStatus(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	e.pipeMu.Lock()
	defer e.pipeMu.Unlock()
	return map[string]any{
		"configured": e.apiKey != "",
		"source":     e.keySource,
	}, nil
}

// ProviderSetApiKey stores the key encrypted at rest and swaps the pipeline
// onto it. In-flight turns finish on the key they started with.
func (e *Engine) ProviderSetApiKey(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p setAPIKeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "invalid params: "+err.Error())
	}
	key := strings.TrimSpace(p.APIKey)
	if key == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "api_key must not be empty")
	}
	if err := e.secrets.SetProviderKey(key); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, err.Error())
	}
	if errInfo := e.swapAPIKey(key, "secrets"); errInfo != nil {
		return nil, errInfo
	}
	return map[string]any{"configured": true}, nil
}

func (e *Engine) ProviderClearApiKey(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	if err := e.secrets.ClearProviderKey(); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, err.Error())
	}
	if errInfo := e.swapAPIKey("", "none"); errInfo != nil {
		return nil, errInfo
	}
	e.pipeMu.Lock()
	configured := e.apiKey != ""
	e.pipeMu.Unlock()
	return map[string]any{"configured": configured}, nil
}

func (e *Engine) swapAPIKey(key, source string) *errinfo.ErrorInfo {
	cfg, err := e.settings.Load()
	if err != nil {
		return errinfo.ValidationFailed(errinfo.PhaseSettings, err.Error())
	}
	e.pipeMu.Lock()
	defer e.pipeMu.Unlock()
	e.apiKey = key
	e.keySource = source
	if key == "" {
		if err := e.resolveAPIKey(); err != nil {
			return errinfo.ValidationFailed(errinfo.PhaseSettings, err.Error())
		}
	}
	e.buildPipeline(cfg)
	return nil
}

func (e *Engine) TranscriptsList(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	summaries, err := e.transcripts.List()
	if err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseGenerate, err.Error())
	}
	return map[string]any{"transcripts": summaries}, nil
}

func (e *Engine) TranscriptGet(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p transcriptGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseGenerate, "invalid params: "+err.Error())
	}
	record, err := e.transcripts.Get(p.TurnID)
	if err != nil {
		if err == transcripts.ErrNotFound {
			return nil, errinfo.ValidationFailed(errinfo.PhaseGenerate, "transcript not found: "+p.TurnID)
		}
		return nil, errinfo.ValidationFailed(errinfo.PhaseGenerate, err.Error())
	}
	return record, nil
}
