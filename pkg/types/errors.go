package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for recovery decisions. Stage workers
// translate Transient into bounded retries; the orchestrator decides the rest
// based on the retry budget.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindNotFound: a referenced parent entity does not exist. Fail fast.
	KindNotFound
	// KindInvalidState: a precondition was violated, e.g. a chunk sent to a
	// terminal session. Fail fast.
	KindInvalidState
	// KindValidation: size limits, checksum mismatch, unsupported format.
	// Fatal to the operation.
	KindValidation
	// KindTransient: I/O timeout, 5xx, disconnect. Retried with backoff.
	KindTransient
	// KindExternal: a downstream service rejected the request. Recorded as a
	// warning when the operation is partial, fatal when required.
	KindExternal
	// KindFatal: exceeded retries, cancellation, corruption. Terminal.
	KindFatal
	// KindConfiguration: missing or invalid settings. The service refuses to
	// start.
	KindConfiguration
)

// String returns the lowercase kind name used in logs and error_details.
func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindExternal:
		return "external"
	case KindFatal:
		return "fatal"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// KindError attaches an ErrorKind to an underlying error. It participates in
// errors.Is/As chains through Unwrap.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	return e.Err.Error()
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// WithKind wraps err with a classification. A nil err returns nil.
func WithKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify returns the kind of the outermost KindError in err's chain, or
// KindUnknown when none is present.
func Classify(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindUnknown
}

// IsRetriable reports whether err should be retried with backoff. Only
// Transient failures qualify; unclassified errors are treated as fatal so
// that programming mistakes surface instead of looping.
func IsRetriable(err error) bool {
	return Classify(err) == KindTransient
}

// ErrCancelled marks cooperative cancellation observed by a long-running
// operation. It is Fatal for retry purposes.
var ErrCancelled = &KindError{Kind: KindFatal, Err: errors.New("operation cancelled")}
