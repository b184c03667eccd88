package planner

import (
	"errors"
	"fmt"
)

var (
	// ErrLockfileMissing indicates no lockfile was found in the working tree.
	ErrLockfileMissing = errors.New("no lockfile found")

	// ErrInstallFailed indicates the package manager exited nonzero.
	ErrInstallFailed = errors.New("dependency install failed")

	// ErrTimeout indicates the install was aborted by cancellation or deadline.
	ErrTimeout = errors.New("dependency install timed out")
)

// InstallError carries the exit code of a failed install.
type InstallError struct {
	Dir      string
	ExitCode int
	Err      error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s in %s (exit code %d): %v", ErrInstallFailed, e.Dir, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s in %s (exit code %d)", ErrInstallFailed, e.Dir, e.ExitCode)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// Is matches ErrInstallFailed.
func (e *InstallError) Is(target error) bool {
	return target == ErrInstallFailed
}

// CacheRestoreError is a failed restore. The run continues as a cache miss.
type CacheRestoreError struct {
	Key string
	Err error
}

func (e *CacheRestoreError) Error() string {
	return fmt.Sprintf("cache restore for %s failed: %v", e.Key, e.Err)
}

func (e *CacheRestoreError) Unwrap() error {
	return e.Err
}

// CacheSaveError is a failed save. The run still succeeds.
type CacheSaveError struct {
	Key string
	Err error
}

func (e *CacheSaveError) Error() string {
	return fmt.Sprintf("cache save for %s failed: %v", e.Key, e.Err)
}

func (e *CacheSaveError) Unwrap() error {
	return e.Err
}
