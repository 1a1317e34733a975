package tools

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("tool not found")
	ErrInvalidArguments = errors.New("invalid tool arguments")
	ErrExecution        = errors.New("tool execution failed")
)

// NotFoundError reports an unknown qualified name together with every name
// the registry does know.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Tool '%s' not found. Available tools: [%s]", e.Name, strings.Join(e.Available, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type InvalidArgumentsError struct {
	Name   string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("Invalid arguments for tool %s: %s", e.Name, e.Reason)
}

func (e *InvalidArgumentsError) Unwrap() error { return ErrInvalidArguments }

// ExecutionError wraps an error returned by a handler. Its message keeps
// the handler's text so callers can still match on it.
type ExecutionError struct {
	Name string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("Tool %s execution failed: %v", e.Name, e.Err)
}

func (e *ExecutionError) Unwrap() []error { return []error{ErrExecution, e.Err} }
