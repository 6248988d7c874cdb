package engine

import (
	"context"
	"errors"
	"net"

	"fincite/engine/internal/errinfo"
	"fincite/engine/internal/llm"
	"fincite/engine/internal/turn"
)

// mapTurnError translates pipeline failures into the structured payload the
// RPC boundary exposes. Attachment failures carry their own phase; anything
// else is attributed to generation.
func mapTurnError(err error) *errinfo.ErrorInfo {
	var sizeErr *llm.SizeLimitError
	if errors.As(err, &sizeErr) {
		return errinfo.AttachmentTooLarge(sizeErr.Filename, sizeErr.Size, sizeErr.Limit)
	}
	if turn.Canceled(err) {
		return errinfo.TurnCanceled(errinfo.PhaseGenerate)
	}
	if errors.Is(err, llm.ErrUnauthorized) {
		return errinfo.ProviderAuthFailed(errinfo.PhaseGenerate)
	}
	if errors.Is(err, llm.ErrEgressBlocked) {
		return errinfo.EgressBlocked(errinfo.PhaseGenerate, "provider endpoint not allowed")
	}
	if errors.Is(err, llm.ErrUnavailable) || errors.Is(err, llm.ErrRateLimited) {
		return errinfo.ProviderUnavailable(errinfo.PhaseGenerate, err.Error())
	}
	if errors.Is(err, llm.ErrRejected) {
		return errinfo.RequestRejected(errinfo.PhaseGenerate, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errinfo.NetworkUnavailable(errinfo.PhaseGenerate, err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errinfo.NetworkUnavailable(errinfo.PhaseGenerate, err.Error())
	}
	return errinfo.ValidationFailed(errinfo.PhaseGenerate, err.Error())
}
