package generation

import (
	"errors"
	"fmt"
)

// Stage identifies the pipeline step that failed.
type Stage string

const (
	StageContext  Stage = "context"
	StageTokenize Stage = "tokenize"
	StageDecode   Stage = "decode"
	StageToken    Stage = "token"
	StageCanceled Stage = "canceled"
)

// StageError wraps a runtime failure with the step it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(s Stage, err error) error { return &StageError{Stage: s, Err: err} }

// StageOf returns the failing stage of err, or "" when err is not a StageError.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

var (
	ErrMissingCue    = errors.New("prompt does not end with the assistant generation cue")
	ErrEmptyPrompt   = errors.New("prompt produced no tokens")
	ErrPromptTooLong = errors.New("prompt does not fit the context window")
	ErrNoLogits      = errors.New("runtime returned no logits")
)
