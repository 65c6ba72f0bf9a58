package pipeline

import (
	"context"
	"errors"
	"fmt"

	"safety-proxy/api/internal/ai"
	"safety-proxy/api/internal/media"
	"safety-proxy/api/internal/normalize"
)

type Stage string

const (
	StageReduce   Stage = "reduce"
	StageGenerate Stage = "generate"
	StageResponse Stage = "response"
	StageParse    Stage = "parse"
	StageCoerce   Stage = "coerce"
)

var (
	// ErrEmptyResponse means the AI call succeeded but returned no usable text.
	ErrEmptyResponse = errors.New("pipeline: empty response from ai")
	ErrInvalidJob    = errors.New("pipeline: invalid job")
)

// StageError tags a failure with the stage it came from. The cause is kept
// unchanged and reachable through errors.Is/As.
type StageError struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func wrap(kind Kind, stage Stage, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// StageOf returns the stage a pipeline error was tagged with.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Retryable reports whether re-invoking with the same input may succeed.
// Undecodable media and unrecognized shapes are final; an empty or
// unparseable reply may be fixed by asking again.
func Retryable(err error) bool {
	var pf *normalize.ParseFailure
	switch {
	case err == nil:
		return false
	case errors.Is(err, media.ErrDecode), errors.Is(err, normalize.ErrSchemaMismatch):
		return false
	case errors.Is(err, ErrEmptyResponse), errors.As(err, &pf):
		return true
	}
	if st, ok := StageOf(err); ok && st == StageGenerate {
		return !errors.Is(err, ai.ErrPermanent) && !errors.Is(err, context.Canceled)
	}
	return false
}
