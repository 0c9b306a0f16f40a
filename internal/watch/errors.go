package watch

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step a cycle failed in.
type Stage string

// Pipeline stages that can abandon a cycle.
const (
	StageFetch    Stage = "fetch"
	StageParse    Stage = "parse"
	StageClassify Stage = "classify"
	StageWrite    Stage = "write"
)

// CycleError tags a cycle failure with the stage that produced it.
type CycleError struct {
	Stage Stage
	Err   error
}

// NewCycleError wraps err for stage. A nil err yields nil.
func NewCycleError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &CycleError{Stage: stage, Err: err}
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// Outcome maps the stage onto the cycle outcome label.
func (e *CycleError) Outcome() Outcome {
	switch e.Stage {
	case StageFetch:
		return OutcomeFetchFailed
	case StageParse:
		return OutcomeParseFailed
	case StageClassify:
		return OutcomeClassifyFailed
	default:
		return OutcomeWriteFailed
	}
}

// StageOf returns the stage recorded in err, if any.
func StageOf(err error) (Stage, bool) {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Stage, true
	}
	return "", false
}
