package organizer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfirmed is returned when an apply is attempted without explicit confirmation.
var ErrNotConfirmed = errors.New("apply requires explicit confirmation")

type DirectoryNotFoundError struct {
	Path   string
	Reason string
}

func (e *DirectoryNotFoundError) Error() string {
	return fmt.Sprintf("directory not found: %s: %s", e.Path, e.Reason)
}

type EmptyInventoryError struct {
	Root string
}

func (e *EmptyInventoryError) Error() string {
	return fmt.Sprintf("nothing to organize: no files found in %s", e.Root)
}

// ProviderUnavailableError reports a network, authentication or protocol failure
// talking to a provider. Only transient failures are retried.
type ProviderUnavailableError struct {
	Provider   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProviderUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s unavailable (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

type ProviderTimeoutError struct {
	Provider string
	Err      error
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out: %v", e.Provider, e.Err)
}

func (e *ProviderTimeoutError) Unwrap() error { return e.Err }

type PlanValidationError struct {
	Reason   string
	Rejected []SkippedInstruction
}

func (e *PlanValidationError) Error() string {
	if len(e.Rejected) == 0 {
		return "invalid plan: " + e.Reason
	}
	var b strings.Builder
	fmt.Fprintf(&b, "invalid plan: %s", e.Reason)
	for _, r := range e.Rejected {
		fmt.Fprintf(&b, "\n  %s -> %s: %s", r.Instruction.Source, r.Instruction.Destination, r.Reason)
	}
	return b.String()
}

// PartialApplyError is returned when a move failed part way through a plan.
// Result holds the final state of every instruction.
type PartialApplyError struct {
	Failed MoveInstruction
	Err    error
	Result *ApplyResult
}

func (e *PartialApplyError) Error() string {
	msg := fmt.Sprintf("apply halted at %s -> %s: %v (reversed %d, unreached %d",
		e.Failed.Source, e.Failed.Destination, e.Err,
		e.Result.Count(StateReversed), e.Result.Count(StateUnreached))
	if n := e.Result.Count(StateUnrecovered); n > 0 {
		msg += fmt.Sprintf(", UNRECOVERED %d", n)
	}
	return msg + ")"
}

func (e *PartialApplyError) Unwrap() error { return e.Err }

// Unrecovered reports whether any rollback failed and the tree needs manual repair.
func (e *PartialApplyError) Unrecovered() bool {
	return e.Result.Count(StateUnrecovered) > 0
}

const (
	ExitOK          = 0
	ExitError       = 1
	ExitRolledBack  = 2
	ExitUnrecovered = 3
)

// ExitCode maps an error returned by RunCmd to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var partial *PartialApplyError
	if errors.As(err, &partial) {
		if partial.Unrecovered() {
			return ExitUnrecovered
		}
		return ExitRolledBack
	}
	return ExitError
}
