package engine

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/ClickHouse/clickhouse-go/v2"

	"chdocs/internal/domain"
)

// ClassifyError turns a driver error into a *domain.NodeConnectionError
// (transient, retryable) or a *domain.NodeExecutionError (terminal).
// Errors that are already classified pass through unchanged.
func ClassifyError(node domain.Node, stmt string, err error) error {
	if err == nil {
		return nil
	}
	var connErr *domain.NodeConnectionError
	var execErr *domain.NodeExecutionError
	if errors.As(err, &connErr) || errors.As(err, &execErr) {
		return err
	}

	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		return &domain.NodeExecutionError{Node: node, Statement: stmt, Cause: err}
	}
	if isConnectionError(err) {
		return &domain.NodeConnectionError{Node: node, Cause: err}
	}
	return &domain.NodeExecutionError{Node: node, Statement: stmt, Cause: err}
}

func isConnectionError(err error) bool {
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
