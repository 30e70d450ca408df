package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"inferd/internal/generation"
)

// Kind classifies pipeline failures.
type Kind int

const (
	KindInternal Kind = iota
	KindContextCreation
	KindTokenize
	KindDecode
	KindTokenProcess
	KindCanceled
)

// Code returns the stable, loggable identifier of k.
func (k Kind) Code() string {
	switch k {
	case KindContextCreation:
		return "context_creation_error"
	case KindTokenize:
		return "tokenize_error"
	case KindDecode:
		return "decode_error"
	case KindTokenProcess:
		return "token_process_error"
	case KindCanceled:
		return "canceled"
	default:
		return "internal_error"
	}
}

func (k Kind) String() string { return k.Code() }

// Error is the single error type returned by Service for pipeline failures.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindContextCreation:
		return fmt.Sprintf("Failed to create LLaMA context: %v", e.Err)
	case KindTokenize:
		return fmt.Sprintf("Failed to tokenize prompt: %v", e.Err)
	case KindDecode:
		return fmt.Sprintf("Failed to decode prompt: %v", e.Err)
	case KindTokenProcess:
		return fmt.Sprintf("Failed to process token: %v", e.Err)
	case KindCanceled:
		return fmt.Sprintf("Generation canceled: %v", e.Err)
	default:
		return "Internal Server Error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code is the stable identifier of the error kind.
func (e *Error) Code() string { return e.Kind.Code() }

// StatusCode maps every pipeline failure to 500 except an expired deadline.
func (e *Error) StatusCode() int {
	if e.Kind == KindCanceled && errors.Is(e.Err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// KindOf returns the kind of err and whether err is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindInternal, false
}

// classify wraps a generation failure into the service taxonomy.
func classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var se *generation.StageError
	if !errors.As(err, &se) {
		return &Error{Kind: KindInternal, Err: err}
	}
	k := KindInternal
	switch se.Stage {
	case generation.StageContext:
		k = KindContextCreation
	case generation.StageTokenize:
		k = KindTokenize
	case generation.StageDecode:
		k = KindDecode
	case generation.StageToken:
		k = KindTokenProcess
	case generation.StageCanceled:
		k = KindCanceled
	}
	return &Error{Kind: k, Err: se.Err}
}

// panicError carries a value recovered from offloaded work.
type panicError struct{ v any }

func (e panicError) Error() string { return fmt.Sprintf("panic in generation worker: %v", e.v) }

// tooBusyError signals that no worker became free within the queue wait.
type tooBusyError struct{ workers int }

func (e tooBusyError) Error() string {
	return fmt.Sprintf("too busy: all %d workers in use", e.workers)
}

func (e tooBusyError) StatusCode() int { return http.StatusTooManyRequests }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var tb tooBusyError
	return errors.As(err, &tb)
}
