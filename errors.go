package bundletest

import (
	"errors"
	"fmt"
	"path/filepath"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, build errors, file system failures, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError is returned when a test run reported failed tests (exit code 1)
type TestFailureError struct {
	Failures int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("tests failed: %d", e.Failures)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(failures int) *TestFailureError {
	return &TestFailureError{Failures: failures}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// UnsafeRemovalError is returned when asked to delete a file outside of the
// output directory without forcing it.
type UnsafeRemovalError struct {
	File string
	Dir  string
}

func (e *UnsafeRemovalError) Error() string {
	return fmt.Sprintf("file %q is outside of the output directory %q and cannot be removed.\n"+
		"\nFile: %q"+
		"\nDirectory: %q", filepath.Base(e.File), e.Dir, e.File, e.Dir)
}

// IsUnsafeRemovalError checks if the error is or wraps an UnsafeRemovalError
func IsUnsafeRemovalError(err error) bool {
	var removalErr *UnsafeRemovalError
	return err != nil && errors.As(err, &removalErr)
}
