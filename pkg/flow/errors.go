package flow

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a flow failure. The retry wrapper and the runner dispatch
// on it instead of matching error types.
type Kind int

const (
	// KindUnknown is any failure the taxonomy does not name.
	KindUnknown Kind = iota
	// KindCaptureTimeout: the authorization URL never appeared on the
	// subprocess's stderr within its budget.
	KindCaptureTimeout
	// KindVerificationRequired: the login page demanded human verification
	// (captcha, second factor, or an unrecognized page). Never retried.
	KindVerificationRequired
	// KindNavigationMismatch: a step landed on the wrong location and
	// back-navigation retries were exhausted.
	KindNavigationMismatch
	// KindStaleWindow: a tracked browser window disappeared.
	KindStaleWindow
	// KindSubprocessExit: the credential subprocess exited non-zero.
	KindSubprocessExit
	// KindInterrupted: the shared cancellation signal was observed.
	KindInterrupted
	// KindStepTimeout: a bounded element or polling wait ran out of budget.
	KindStepTimeout
)

func (k Kind) String() string {
	switch k {
	case KindCaptureTimeout:
		return "capture-timeout"
	case KindVerificationRequired:
		return "verification-required"
	case KindNavigationMismatch:
		return "navigation-mismatch"
	case KindStaleWindow:
		return "stale-window"
	case KindSubprocessExit:
		return "subprocess-exit"
	case KindInterrupted:
		return "interrupted"
	case KindStepTimeout:
		return "step-timeout"
	default:
		return "unknown"
	}
}

// Error is a classified flow failure. Retryable is data, not a type
// hierarchy: the retry wrapper consults the flag and nothing else.
type Error struct {
	Kind      Kind
	Retryable bool
	msg       string
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the Kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the retry wrapper may run the flow again
// after err. Unknown errors default to retryable; only conditions the
// taxonomy marks terminal (and context cancellation) are exempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return true
}

func newError(kind Kind, retryable bool, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Retryable: retryable,
		msg:       fmt.Sprintf(format, args...),
		cause:     cause,
	}
}

func captureTimeoutf(format string, args ...interface{}) *Error {
	return newError(KindCaptureTimeout, true, nil, "capture-timeout: "+format, args...)
}

func verificationRequired(format string, args ...interface{}) *Error {
	return newError(KindVerificationRequired, false, nil, "verification required: "+format, args...)
}

func navigationMismatchf(format string, args ...interface{}) *Error {
	return newError(KindNavigationMismatch, true, nil, format, args...)
}

func staleWindowf(cause error, format string, args ...interface{}) *Error {
	return newError(KindStaleWindow, false, cause, format, args...)
}

func subprocessExitf(cause error, format string, args ...interface{}) *Error {
	return newError(KindSubprocessExit, false, cause, format, args...)
}

func interruptedf(format string, args ...interface{}) *Error {
	return newError(KindInterrupted, false, nil, format, args...)
}

func stepTimeoutf(format string, args ...interface{}) *Error {
	return newError(KindStepTimeout, true, nil, format, args...)
}
