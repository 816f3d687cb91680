package engine

import (
	"errors"
	"fmt"
)

// ErrAborted is returned by Run when the context expires or is canceled.
// The abort happens at an iteration boundary, so the fact store holds
// exactly the state of the last fully completed iteration: a sound subset
// of the full fixpoint.
var ErrAborted = errors.New("evaluation stopped at iteration boundary")

func newAbortError(cause error) error {
	return fmt.Errorf("%w: %v", ErrAborted, cause)
}

type ErrProgram = error

// NewProgramError reports a structurally invalid program definition.
func NewProgramError(ruleName, message string) ErrProgram {
	if ruleName == "" {
		return fmt.Errorf("invalid program: %s", message)
	}
	return fmt.Errorf("invalid program: rule %s: %s", ruleName, message)
}

type ErrEval = error

// NewEvalError reports a fatal evaluation failure, typically a
// caller-supplied function (join, aggregator, generator, filter, head
// expression) that failed. The run is not retried and no partial result of
// the failing iteration is committed.
func NewEvalError(ruleName string, err error) ErrEval {
	return fmt.Errorf("failed to evaluate rule %s: %w", ruleName, err)
}
