// Package engine wires the response pipeline behind the RPC surface: the
// upload cache, the attachment uploader, the model router, and the turn
// runner share one engine instance per process.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fincite/engine/internal/anthropic"
	"fincite/engine/internal/appdirs"
	"fincite/engine/internal/attach"
	"fincite/engine/internal/errinfo"
	"fincite/engine/internal/llm"
	"fincite/engine/internal/logging"
	"fincite/engine/internal/router"
	"fincite/engine/internal/secrets"
	"fincite/engine/internal/settings"
	"fincite/engine/internal/transcripts"
	"fincite/engine/internal/turn"
	"fincite/engine/internal/uploadcache"
)

const (
	EngineVersion = "0.3.0"
	APIVersion    = "1"
)

const defaultSystemPrompt = "You are a financial research assistant. Answer strictly from the attached documents and cite every factual claim."

// Notifier pushes server-initiated events to the connected client.
type Notifier func(method string, params any)

// ProviderClient is the remote surface the engine needs from a provider:
// file upload plus streamed generation.
type ProviderClient interface {
	UploadFile(ctx context.Context, apiKey, filename string, data []byte) (string, error)
	StreamMessage(ctx context.Context, apiKey string, request llm.GenerateRequest, onEvent func(llm.StreamEvent)) (llm.MessageResponse, error)
}

type turnHandle struct {
	cancel context.CancelFunc
}

type Engine struct {
	dataDir     string
	settings    *settings.Store
	secrets     *secrets.Store
	transcripts *transcripts.Store
	cache       *uploadcache.Cache
	router      *router.Router
	provider    ProviderClient
	persist     turn.Persistence
	notify      Notifier
	logger      *slog.Logger
	sweeper     *cron.Cron

	// pipeMu guards the api-key-bearing parts of the pipeline, which are
	// swapped out when the stored key changes.
	pipeMu    sync.Mutex
	apiKey    string
	keySource string
	uploader  *attach.Uploader
	runner    *turn.Runner

	runMu    sync.Mutex
	turnRuns map[string]turnHandle
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithProvider(provider ProviderClient) Option {
	return func(e *Engine) {
		if provider != nil {
			e.provider = provider
		}
	}
}

func WithDataDir(dir string) Option {
	return func(e *Engine) {
		e.dataDir = dir
	}
}

func WithAPIKey(key string) Option {
	return func(e *Engine) {
		e.apiKey = key
	}
}

func WithPersistence(persist turn.Persistence) Option {
	return func(e *Engine) {
		e.persist = persist
	}
}

func New(opts ...Option) (*Engine, error) {
	engine := &Engine{
		logger:   logging.Nop(),
		turnRuns: make(map[string]turnHandle),
	}
	for _, opt := range opts {
		opt(engine)
	}
	if engine.dataDir == "" {
		dataDir, err := appdirs.DataDir()
		if err != nil {
			return nil, err
		}
		engine.dataDir = dataDir
	}
	if err := os.MkdirAll(engine.dataDir, 0o755); err != nil {
		return nil, err
	}
	engine.settings = settings.NewStore(appdirs.SettingsPath(engine.dataDir))
	engine.secrets = secrets.NewStore(
		filepath.Join(engine.dataDir, "secrets.enc"),
		filepath.Join(engine.dataDir, "master.key"),
	)
	cfg, err := engine.settings.Load()
	if err != nil {
		return nil, err
	}
	if err := engine.resolveAPIKey(); err != nil {
		return nil, err
	}
	if engine.provider == nil {
		engine.provider = anthropic.NewClient()
	}
	engine.transcripts = transcripts.NewStore(filepath.Join(engine.dataDir, "transcripts"))
	if engine.persist == nil {
		engine.persist = engine.transcripts
	}
	engine.cache = uploadcache.New(time.Duration(cfg.Uploads.CacheTTLDays) * 24 * time.Hour)
	engine.router = router.New(cfg.Routing.TokenThreshold, cfg.Routing.LightCapabilities)
	engine.buildPipeline(cfg)
	if err := engine.startSweeper(cfg.Uploads.SweepSchedule); err != nil {
		return nil, err
	}
	engine.logger.Debug("engine.init", "data_dir", engine.dataDir, "key_source", engine.keySource, "sweep_schedule", cfg.Uploads.SweepSchedule)
	return engine, nil
}

// resolveAPIKey picks the provider key: an explicit option wins, then the
// encrypted store, then the environment.
func (e *Engine) resolveAPIKey() error {
	if e.apiKey != "" {
		e.keySource = "option"
		return nil
	}
	stored, err := e.secrets.GetProviderKey()
	if err != nil {
		return err
	}
	if stored != "" {
		e.apiKey = stored
		e.keySource = "secrets"
		return nil
	}
	for _, name := range []string{"FINCITE_PROVIDER_API_KEY", "ANTHROPIC_API_KEY"} {
		if value := os.Getenv(name); value != "" {
			e.apiKey = value
			e.keySource = "env"
			return nil
		}
	}
	e.keySource = "none"
	return nil
}

// buildPipeline constructs the uploader and runner around the current api
// key. Caller holds pipeMu except during New.
func (e *Engine) buildPipeline(cfg *settings.Settings) {
	e.uploader = attach.NewUploader(
		e.provider,
		e.cache,
		&auditLogger{logger: e.logger},
		e.apiKey,
		e.logger.With("component", "uploader"),
		attach.Config{},
	)
	e.runner = turn.NewRunner(
		e.provider,
		e.uploader,
		e.router,
		e.persist,
		e.apiKey,
		e.logger.With("component", "turn"),
		turn.Config{
			MaxConcurrentTurns: cfg.Turns.MaxConcurrent,
			MaxTokens:          cfg.Turns.MaxTokens,
		},
	)
}

func (e *Engine) currentRunner() *turn.Runner {
	e.pipeMu.Lock()
	defer e.pipeMu.Unlock()
	return e.runner
}

// startSweeper schedules periodic eviction of expired cache entries.
func (e *Engine) startSweeper(schedule string) error {
	if schedule == "" {
		return nil
	}
	e.sweeper = cron.New()
	_, err := e.sweeper.AddFunc(schedule, func() {
		removed := e.cache.SweepExpired()
		if removed > 0 {
			e.logger.Debug("cache.sweep", "removed", removed)
		}
	})
	if err != nil {
		return err
	}
	e.sweeper.Start()
	return nil
}

func (e *Engine) Close() {
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
}

func (e *Engine) SetNotifier(notify Notifier) {
	e.notify = notify
}

func (e *Engine) EngineGetInfo(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{
		"engine_version": EngineVersion,
		"api_version":    APIVersion,
	}, nil
}

func (e *Engine) CacheGetStats(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return e.cache.Stats(), nil
}

func (e *Engine) CacheSweep(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{"removed": e.cache.SweepExpired()}, nil
}

func (e *Engine) RouterGetStats(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return e.router.Stats(), nil
}

// auditLogger records attachment access on the engine log. The uploader
// calls it off the request path.
type auditLogger struct {
	logger *slog.Logger
}

func (a *auditLogger) Record(accessKind, handle, actor string, byteSize int) {
	a.logger.Info("attachment.access",
		"kind", accessKind,
		"handle", handle,
		"actor", actor,
		"bytes", byteSize,
	)
}
