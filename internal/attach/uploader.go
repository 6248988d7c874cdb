// Package attach resolves remote handles for binary attachments, uploading
// each distinct content at most once.
package attach

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"fincite/engine/internal/contenthash"
	"fincite/engine/internal/llm"
	"fincite/engine/internal/logging"
	"fincite/engine/internal/uploadcache"
)

// MaxAttachmentBytes is the provider-imposed upload ceiling.
const MaxAttachmentBytes = 32 << 20

const (
	defaultMaxAttempts   = 4
	defaultInitialDelay  = 500 * time.Millisecond
	defaultUploadTimeout = 60 * time.Second
)

// Access kinds recorded on the audit trail.
const (
	AccessCacheHit = "cache-hit"
	AccessUpload   = "fresh-upload"
)

// ProviderUploader is the remote upload surface of the provider client.
type ProviderUploader interface {
	UploadFile(ctx context.Context, apiKey, filename string, data []byte) (string, error)
}

// AuditLog records attachment access for compliance tracking. Implementations
// must tolerate being called from short-lived goroutines; the upload path
// never blocks on them.
type AuditLog interface {
	Record(accessKind, handle, actor string, byteSize int)
}

// Config carries the tunables a deployment may override.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	UploadTimeout time.Duration
}

// Uploader ensures attachments have remote handles, deduplicating uploads
// through the shared content-addressed cache.
type Uploader struct {
	provider ProviderUploader
	cache    *uploadcache.Cache
	audit    AuditLog
	apiKey   string
	logger   *slog.Logger
	cfg      Config
}

func NewUploader(provider ProviderUploader, cache *uploadcache.Cache, audit AuditLog, apiKey string, logger *slog.Logger, cfg Config) *Uploader {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	return &Uploader{
		provider: provider,
		cache:    cache,
		audit:    audit,
		apiKey:   apiKey,
		logger:   logger,
		cfg:      cfg,
	}
}

// EnsureUploaded returns a remote handle for the attachment content,
// consulting the cache before performing any network call. Transient
// provider failures are retried with exponential backoff up to the attempt
// ceiling; client-side failures and oversized attachments fail immediately.
// Exactly one audit record is written per call, whatever the cache outcome.
func (u *Uploader) EnsureUploaded(ctx context.Context, actor, filename string, data []byte) (string, error) {
	if int64(len(data)) > MaxAttachmentBytes {
		return "", &llm.SizeLimitError{Filename: filename, Size: int64(len(data)), Limit: MaxAttachmentBytes}
	}

	digest := contenthash.Digest(data)
	if handle, ok := u.cache.Lookup(digest); ok {
		u.logger.Debug("attach.cache_hit", "filename", filename, "digest", digest)
		u.recordAccess(AccessCacheHit, handle, actor, len(data))
		return handle, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = u.cfg.InitialDelay
	policy.Multiplier = 2

	attempt := 0
	handle, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, u.cfg.UploadTimeout)
		defer cancel()
		handle, err := u.provider.UploadFile(attemptCtx, u.apiKey, filename, data)
		if err != nil {
			if isPermanent(err) {
				return "", backoff.Permanent(err)
			}
			u.logger.Warn("attach.upload_retry", "filename", filename, "attempt", attempt, "error", err.Error())
			return "", err
		}
		return handle, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(u.cfg.MaxAttempts)))
	if err != nil {
		u.logger.Warn("attach.upload_failed", "filename", filename, "attempts", attempt, "error", err.Error())
		return "", err
	}

	u.cache.Store(digest, handle)
	u.logger.Debug("attach.uploaded", "filename", filename, "digest", digest, "handle", handle)
	u.recordAccess(AccessUpload, handle, actor, len(data))
	return handle, nil
}

func (u *Uploader) recordAccess(kind, handle, actor string, size int) {
	if u.audit == nil {
		return
	}
	go u.audit.Record(kind, handle, actor, size)
}

// isPermanent reports whether the upload failure is client-side and must not
// be retried. Timeouts and server-side failures stay retryable.
func isPermanent(err error) bool {
	if errors.Is(err, llm.ErrUnauthorized) || errors.Is(err, llm.ErrRejected) || errors.Is(err, llm.ErrEgressBlocked) {
		return true
	}
	var sizeErr *llm.SizeLimitError
	return errors.As(err, &sizeErr)
}
