// Package errors provides centralized error definitions and error handling
// utilities for triald. It defines the supervision error taxonomy, error
// constructors with context wrapping, and classification helpers.
//
// # Error Types
//
// Supervision errors are terminal for the task that produced them and are
// surfaced through the task's event stream rather than returned to callers:
//   - LaunchError: the trial process could not be started
//   - TimeoutError: the trial exceeded its wall-clock deadline
//   - ProcessFailureError: the trial exited with a non-zero code
//   - SupervisionError: an unexpected failure while reading or classifying
//
// NotFoundError is the only error returned synchronously from the lifecycle
// API, when an unknown task id is queried.
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewLaunchError("spawn failed", cause).WithCommand("python")
//	err := errors.NewNotFoundError("task", "a1b2c3")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrDeadlineExceeded) { ... }
//
//	var launchErr *errors.LaunchError
//	if errors.As(err, &launchErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrLaunchFailed indicates that a trial process could not be started.
	ErrLaunchFailed = New("trial launch failed")
	// ErrDeadlineExceeded indicates that a trial ran past its deadline.
	ErrDeadlineExceeded = New("trial deadline exceeded")
	// ErrProcessFailed indicates that a trial exited with a non-zero code.
	ErrProcessFailed = New("trial process failed")
	// ErrTaskNotFound indicates that a task id is unknown to the registry.
	ErrTaskNotFound = New("task not found")
	// ErrTaskTerminal indicates an operation on a task that already reached
	// a terminal status.
	ErrTaskTerminal = New("task already terminal")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message string
	cause   error
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// Supervision Errors
// -----------------------------------------------------------------------------

// LaunchError represents a trial process that could not be started
// (command not found, permission denied, bad working directory).
//
// Example:
//
//	err := errors.NewLaunchError("spawn failed", cause).WithCommand("python -m quantaalpha.cli")
type LaunchError struct {
	baseError
	Command string
	WorkDir string
}

// NewLaunchError creates a new LaunchError.
func NewLaunchError(message string, cause error) *LaunchError {
	return &LaunchError{baseError: baseError{message: message, cause: cause}}
}

// WithCommand adds the attempted command line to the error context.
func (e *LaunchError) WithCommand(command string) *LaunchError {
	e.Command = command
	return e
}

// WithWorkDir adds the working directory to the error context.
func (e *LaunchError) WithWorkDir(dir string) *LaunchError {
	e.WorkDir = dir
	return e
}

// Error returns the formatted error message.
func (e *LaunchError) Error() string {
	var parts []string
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("command=%s", e.Command))
	}
	if e.WorkDir != "" {
		parts = append(parts, fmt.Sprintf("workdir=%s", e.WorkDir))
	}

	prefix := "launch error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("launch error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *LaunchError) Is(target error) bool {
	if _, ok := target.(*LaunchError); ok {
		return true
	}
	if errors.Is(target, ErrLaunchFailed) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents a trial that exceeded its wall-clock deadline
// and was hard-terminated.
//
// Example:
//
//	err := errors.NewTimeoutError("mining trial", 2*time.Hour)
//	fmt.Println(err) // "timeout error: mining trial (deadline: 2h0m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Deadline  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, deadline time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{message: operation},
		Operation: operation,
		Deadline:  deadline,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (deadline: %s)", e.Operation, e.Deadline)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrDeadlineExceeded) {
		return true
	}
	return e.baseError.Is(target)
}

// ProcessFailureError represents a trial process that exited with a
// non-zero code.
type ProcessFailureError struct {
	baseError
	ExitCode int
}

// NewProcessFailureError creates a new ProcessFailureError.
func NewProcessFailureError(message string, exitCode int) *ProcessFailureError {
	return &ProcessFailureError{
		baseError: baseError{message: message},
		ExitCode:  exitCode,
	}
}

// WithCause adds a cause to the error.
func (e *ProcessFailureError) WithCause(cause error) *ProcessFailureError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ProcessFailureError) Error() string {
	base := fmt.Sprintf("process failure [exit=%d]: %s", e.ExitCode, e.message)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *ProcessFailureError) Is(target error) bool {
	if _, ok := target.(*ProcessFailureError); ok {
		return true
	}
	if errors.Is(target, ErrProcessFailed) {
		return true
	}
	return e.baseError.Is(target)
}

// SupervisionError represents an unexpected failure in the supervising
// routine itself, outside the trial process (read failure, classification
// panic, broken pipe).
type SupervisionError struct {
	baseError
	TaskID string
	Branch int
}

// NewSupervisionError creates a new SupervisionError.
func NewSupervisionError(message string, cause error) *SupervisionError {
	return &SupervisionError{
		baseError: baseError{message: message, cause: cause},
		Branch:    -1, // -1 indicates not set
	}
}

// WithTaskID adds a task id to the error context.
func (e *SupervisionError) WithTaskID(id string) *SupervisionError {
	e.TaskID = id
	return e
}

// WithBranch adds a branch index to the error context.
func (e *SupervisionError) WithBranch(idx int) *SupervisionError {
	e.Branch = idx
	return e
}

// Error returns the formatted error message.
func (e *SupervisionError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Branch >= 0 {
		parts = append(parts, fmt.Sprintf("branch=%d", e.Branch))
	}

	prefix := "supervision error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("supervision error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SupervisionError) Is(target error) bool {
	if _, ok := target.(*SupervisionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("task", "a1b2c3")
//	fmt.Println(err) // "task 'a1b2c3' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message: fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if e.ResourceType == "task" && errors.Is(target, ErrTaskNotFound) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsTerminal returns true if the error ends the task it belongs to.
// All supervision errors are terminal; NotFoundError is not (it never
// belongs to a task in the first place).
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}

	var launchErr *LaunchError
	var timeoutErr *TimeoutError
	var processErr *ProcessFailureError
	var supervisionErr *SupervisionError

	return As(err, &launchErr) || As(err, &timeoutErr) ||
		As(err, &processErr) || As(err, &supervisionErr)
}

// IsNotFound returns true if the error is a NotFoundError or wraps
// ErrTaskNotFound.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var notFound *NotFoundError
	return As(err, &notFound) || Is(err, ErrTaskNotFound)
}

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to supervise branch")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
