package llm

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized  = errors.New("llm unauthorized")
	ErrUnavailable   = errors.New("llm unavailable")
	ErrRateLimited   = errors.New("llm rate limited")
	ErrEgressBlocked = errors.New("egress blocked")
	ErrRejected      = errors.New("llm request rejected")
)

// SizeLimitError reports an attachment exceeding the provider upload ceiling.
// Size-limit failures are permanent and are never retried.
type SizeLimitError struct {
	Filename string
	Size     int64
	Limit    int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("attachment %q is %d bytes, limit is %d", e.Filename, e.Size, e.Limit)
}
