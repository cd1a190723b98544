package errors

import (
	stdErrors "errors"
	"fmt"
)

// Operation identifies the logical operation producing a contextual error.
type Operation string

const (
	// OperationManifestLoad denotes reading and validating the deploy manifest.
	OperationManifestLoad Operation = "manifest.load"
	// OperationTaskInvoke denotes dispatching a task with its hooks.
	OperationTaskInvoke Operation = "task.invoke"
	// OperationStepExecute denotes running one task step.
	OperationStepExecute Operation = "task.step"
	// OperationVariableResolve denotes interpolating configuration variables.
	OperationVariableResolve Operation = "variables.resolve"
	// OperationRemoteCommand denotes a command executed over SSH.
	OperationRemoteCommand Operation = "remote.command"
	// OperationLocalCommand denotes a command executed on the deploying workstation.
	OperationLocalCommand Operation = "local.command"
	// OperationReleaseLifecycle denotes release directory management.
	OperationReleaseLifecycle Operation = "deploy.releases"
)

// Sentinel describes a stable error code shared across the engine.
type Sentinel string

// Error returns the sentinel code string.
func (sentinel Sentinel) Error() string {
	return string(sentinel)
}

// Code exposes the sentinel code string.
func (sentinel Sentinel) Code() string {
	return string(sentinel)
}

// OperationError annotates an error with the operation and subject (task name or host) that produced it.
type OperationError struct {
	operation Operation
	subject   string
	err       error
	message   string
}

// Error implements the error interface.
func (operationError OperationError) Error() string {
	if len(operationError.message) > 0 {
		if len(operationError.subject) == 0 {
			return fmt.Sprintf("%s: %s", operationError.operation, operationError.message)
		}
		return fmt.Sprintf("%s[%s]: %s", operationError.operation, operationError.subject, operationError.message)
	}
	if len(operationError.subject) == 0 {
		return fmt.Sprintf("%s: %v", operationError.operation, operationError.err)
	}
	return fmt.Sprintf("%s[%s]: %v", operationError.operation, operationError.subject, operationError.err)
}

// Unwrap exposes the underlying error chain.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the originating operation identifier.
func (operationError OperationError) Operation() Operation {
	return operationError.operation
}

// Subject returns the task name or host related to the error.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code surfaces the sentinel code of the wrapped error when present.
func (operationError OperationError) Code() string {
	if sentinel, found := findSentinel(operationError.err); found {
		return sentinel.Code()
	}
	return ""
}

// Message exposes the formatted message when provided via WrapMessage.
func (operationError OperationError) Message() string {
	return operationError.message
}

// Wrap constructs an OperationError combining the provided metadata with the base sentinel.
func Wrap(operation Operation, subject string, sentinel Sentinel, detail error) error {
	if len(sentinel) == 0 {
		return OperationError{operation: operation, subject: subject, err: detail}
	}
	baseError := error(sentinel)
	if detail != nil {
		baseError = fmt.Errorf("%w: %w", sentinel, detail)
	}
	return OperationError{operation: operation, subject: subject, err: baseError}
}

// WrapMessage constructs an OperationError combining the provided metadata with a formatted message.
func WrapMessage(operation Operation, subject string, sentinel Sentinel, message string) error {
	if len(message) == 0 {
		return Wrap(operation, subject, sentinel, nil)
	}
	return OperationError{operation: operation, subject: subject, err: fmt.Errorf("%w: %s", sentinel, message), message: message}
}

// CodeOf returns the first sentinel code found in the error chain.
func CodeOf(err error) string {
	if sentinel, found := findSentinel(err); found {
		return sentinel.Code()
	}
	return ""
}

func findSentinel(err error) (Sentinel, bool) {
	if err == nil {
		return "", false
	}
	var sentinel Sentinel
	if stdErrors.As(err, &sentinel) {
		return sentinel, true
	}
	return "", false
}

var (
	// ErrTaskNotFound indicates a task name that is neither built in nor declared.
	ErrTaskNotFound Sentinel = "task_not_found"
	// ErrHookTaskUnknown indicates a hook binding that references an undeclared task.
	ErrHookTaskUnknown Sentinel = "hook_task_unknown"
	// ErrManifestInvalid indicates a manifest that failed validation.
	ErrManifestInvalid Sentinel = "manifest_invalid"
	// ErrVariableUndefined indicates a template referenced a variable that was never set.
	ErrVariableUndefined Sentinel = "variable_undefined"
	// ErrVariableCycle indicates variables that reference each other.
	ErrVariableCycle Sentinel = "variable_cycle"
	// ErrNoMatchingHosts indicates a task whose host filter selected nothing.
	ErrNoMatchingHosts Sentinel = "no_matching_hosts"
	// ErrRemoteCommandFailed indicates a command exited non-zero on a host.
	ErrRemoteCommandFailed Sentinel = "remote_command_failed"
	// ErrLocalCommandFailed indicates a command exited non-zero on the workstation.
	ErrLocalCommandFailed Sentinel = "local_command_failed"
	// ErrRunHalted indicates a task deliberately stopped the run.
	ErrRunHalted Sentinel = "run_halted"
	// ErrRollbackUnavailable indicates fewer than two releases exist.
	ErrRollbackUnavailable Sentinel = "rollback_unavailable"
	// ErrUnknownAction indicates a step action type the engine does not implement.
	ErrUnknownAction Sentinel = "unknown_action"
	// ErrStepOptionMissing indicates a step omitted a required option.
	ErrStepOptionMissing Sentinel = "step_option_missing"
	// ErrTransportUnavailable indicates a missing SSH transport dependency.
	ErrTransportUnavailable Sentinel = "transport_unavailable"
	// ErrTaskRecursion indicates a task that invokes itself through steps or hooks.
	ErrTaskRecursion Sentinel = "task_recursion"
	// ErrStepOptionInvalid indicates a step option with the wrong shape or value.
	ErrStepOptionInvalid Sentinel = "step_option_invalid"
)
