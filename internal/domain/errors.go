// Package domain defines core types, interfaces, and errors for documentation propagation.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// TemplateResolutionError indicates an engine clause placeholder that could
// not be substituted.
type TemplateResolutionError struct {
	Template    string
	Placeholder string
	Reason      string
}

func (e *TemplateResolutionError) Error() string {
	return fmt.Sprintf("resolve engine clause %q: placeholder {%s} %s", e.Template, e.Placeholder, e.Reason)
}

// UnknownClusterError indicates a cluster name with no configured topology.
type UnknownClusterError struct {
	Cluster string
}

func (e *UnknownClusterError) Error() string {
	return fmt.Sprintf("unknown cluster %q", e.Cluster)
}

// NodeConnectionError is a transient failure to reach a node. It is the only
// node-level error kind that may be retried.
type NodeConnectionError struct {
	Node  Node
	Cause error
}

func (e *NodeConnectionError) Error() string {
	return fmt.Sprintf("node %s: connection: %v", e.Node, e.Cause)
}

func (e *NodeConnectionError) Unwrap() error { return e.Cause }

// NodeExecutionError means the engine on a node rejected a statement.
type NodeExecutionError struct {
	Node      Node
	Statement string
	Cause     error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s: execute %q: %v", e.Node, truncate(e.Statement, 120), e.Cause)
}

func (e *NodeExecutionError) Unwrap() error { return e.Cause }

// VerificationTimeout means a node did not answer a verification read within
// its budget.
type VerificationTimeout struct {
	Node    Node
	Timeout time.Duration
}

func (e *VerificationTimeout) Error() string {
	return fmt.Sprintf("node %s: no verification response within %s", e.Node, e.Timeout)
}

// IsRetryable reports whether err (or anything it wraps) is a transient
// connection failure.
func IsRetryable(err error) bool {
	var ce *NodeConnectionError
	return errors.As(err, &ce)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
