package graph

import (
	"errors"
	"fmt"
)

// Error represents a failed graph operation.
//
// Graph errors include:
//   - Access denied: the permission oracle rejected the operation
//   - Not found: no node (real or virtual) exists at the path
//   - Type conflict: an existing node's type is incompatible
//   - Virtual: the operation needs a real node
//
// Error includes structured fields for diagnostics.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Path is the location the operation addressed.
	Path string

	// Owner is the session owner that issued the operation.
	Owner string

	// Op is the operation checked against the oracle (access errors only).
	Op Operation
}

// ErrorCode categorizes graph errors.
type ErrorCode string

const (
	// ErrCodeAccessDenied indicates the oracle denied the operation.
	ErrCodeAccessDenied ErrorCode = "ACCESS_DENIED"

	// ErrCodeNotFound indicates no node exists at the path.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeTypeConflict indicates an existing node has an incompatible type.
	ErrCodeTypeConflict ErrorCode = "TYPE_CONFLICT"

	// ErrCodeInvalidPath indicates a malformed path.
	ErrCodeInvalidPath ErrorCode = "INVALID_PATH"

	// ErrCodeVirtual indicates the node exists only as a placeholder.
	ErrCodeVirtual ErrorCode = "VIRTUAL"

	// ErrCodeClosed indicates the graph has been closed.
	ErrCodeClosed ErrorCode = "CLOSED"

	// ErrCodeInvalidArgument indicates an argument the operation cannot accept.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Owner != "" && e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s, owner=%s)", e.Code, e.Message, e.Path, e.Owner)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code ErrorCode) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code == code
	}
	return false
}

// IsAccessDenied returns true if the oracle denied the operation.
// Uses errors.As to handle wrapped errors.
func IsAccessDenied(err error) bool { return hasCode(err, ErrCodeAccessDenied) }

// IsNotFound returns true if the addressed node does not exist.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsTypeConflict returns true if the error is a type conflict.
func IsTypeConflict(err error) bool { return hasCode(err, ErrCodeTypeConflict) }

// IsInvalidPath returns true if the path was malformed.
func IsInvalidPath(err error) bool { return hasCode(err, ErrCodeInvalidPath) }

// IsVirtual returns true if the operation needed a real node.
func IsVirtual(err error) bool { return hasCode(err, ErrCodeVirtual) }

// IsClosed returns true if the graph was closed.
func IsClosed(err error) bool { return hasCode(err, ErrCodeClosed) }

// IsInvalidArgument returns true if an argument was rejected.
func IsInvalidArgument(err error) bool { return hasCode(err, ErrCodeInvalidArgument) }

func errAccessDenied(owner, path string, op Operation) *Error {
	return &Error{
		Code:    ErrCodeAccessDenied,
		Message: fmt.Sprintf("%s not permitted", op),
		Path:    path,
		Owner:   owner,
		Op:      op,
	}
}

func errNotFound(path string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: "no such node", Path: path}
}

func errVirtual(path string) *Error {
	return &Error{Code: ErrCodeVirtual, Message: "node is virtual", Path: path}
}

func errTypeConflict(path, have, want string) *Error {
	return &Error{
		Code:    ErrCodeTypeConflict,
		Message: fmt.Sprintf("node has type %q, %q requested", have, want),
		Path:    path,
	}
}

func errInvalidPath(path, reason string) *Error {
	return &Error{Code: ErrCodeInvalidPath, Message: reason, Path: path}
}

func errInvalidArgument(path, reason string) *Error {
	return &Error{Code: ErrCodeInvalidArgument, Message: reason, Path: path}
}

var errClosed = &Error{Code: ErrCodeClosed, Message: "graph is closed"}
