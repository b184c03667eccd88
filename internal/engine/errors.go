package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates a request that cannot be run.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates a cache entry was not found.
	ErrNotFound = errors.New("not found")
)

// Step names the stage of a run that failed.
type Step string

const (
	StepCheckout         Step = "checkout"
	StepRuntimeProvision Step = "runtime-provision"
	StepCacheRestore     Step = "cache-restore"
	StepLockfileDigest   Step = "lockfile-digest"
	StepInstall          Step = "install"
)

// StepError attributes a fatal error to the step that produced it.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep returns the step err is attributed to, or "" when it carries none.
func FailedStep(err error) Step {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return ""
}

func stepError(step Step, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}
