// Package errinfo defines the structured error payload surfaced at the RPC
// boundary.
package errinfo

import "fmt"

type ErrorInfo struct {
	ErrorCode string   `json:"error_code"`
	Phase     string   `json:"phase,omitempty"`
	Retryable bool     `json:"retryable"`
	Actions   []string `json:"actions,omitempty"`
	ModelID   string   `json:"model_id,omitempty"`
	TurnID    string   `json:"turn_id,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

const (
	CodeAttachmentTooLarge  = "ATTACHMENT_TOO_LARGE"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeRequestRejected     = "REQUEST_REJECTED"
	CodeProviderAuthFailed  = "PROVIDER_AUTH_FAILED"
	CodeEgressBlocked       = "EGRESS_BLOCKED_BY_POLICY"
	CodeNetworkUnavailable  = "NETWORK_UNAVAILABLE"
	CodeTurnCanceled        = "TURN_CANCELED"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeTurnLimitReached    = "TURN_LIMIT_REACHED"
)

const (
	ActionRetry        = "retry"
	ActionOpenSettings = "open_settings"
	ActionShrinkFile   = "shrink_file"
)

const (
	PhaseAttach   = "attach"
	PhaseRoute    = "route"
	PhaseGenerate = "generate"
	PhaseSettings = "settings"
)

func AttachmentTooLarge(filename string, size, limit int64) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeAttachmentTooLarge,
		Phase:     PhaseAttach,
		Retryable: false,
		Actions:   []string{ActionShrinkFile},
		Detail:    fmt.Sprintf("attachment %q is %d bytes, limit is %d", filename, size, limit),
	}
}

func ProviderUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func RequestRejected(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeRequestRejected,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func ProviderAuthFailed(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderAuthFailed,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionOpenSettings},
	}
}

func EgressBlocked(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeEgressBlocked,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func NetworkUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeNetworkUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func TurnCanceled(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeTurnCanceled,
		Phase:     phase,
		Retryable: false,
	}
}

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeValidationFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func TurnLimitReached(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeTurnLimitReached,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}
