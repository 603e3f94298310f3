package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a FamError into one of the user-visible error kinds
// named in §7. It is a kind, not a Go type: every internal failure is
// translated into one of these before crossing an RPC boundary.
type Kind string

const (
	AlreadyExists   Kind = "ALREADY_EXISTS"
	NotFound        Kind = "NOT_FOUND"
	NoPermission    Kind = "NO_PERMISSION"
	OutOfRange      Kind = "OUT_OF_RANGE"
	NullPointer     Kind = "NULL_POINTER"
	Unimplemented   Kind = "UNIMPLEMENTED"
	Resource        Kind = "RESOURCE"
	FamRPC          Kind = "FAM_RPC"
	InvalidArgument Kind = "INVALID_ARGUMENT"
)

// Internal allocator/registration error codes (§7), classified into a
// Kind by NewCodedError's callers.
const (
	NoFreePoolID            = "NO_FREE_POOLID"
	HeapNotCreated          = "HEAP_NOT_CREATED"
	HeapNotOpened           = "HEAP_NOT_OPENED"
	HeapMapInsertFailed     = "HEAPMAP_INSERT_FAILED"
	HeapAllocateFailed      = "HEAP_ALLOCATE_FAILED"
	ItemDeregistrationFailed = "ITEM_DEREGISTRATION_FAILED"
	ATLQueueFull            = "ATL_QUEUE_FULL"
	ATLNotEnabled           = "ATL_NOT_ENABLED"
)

// FamError carries (kind, message) plus an optional wrapped cause, the way
// §7 "Propagation" describes: internal components raise a typed error,
// RPC handlers catch it and translate it into (errorcode, errormsg).
type FamError struct {
	Kind    Kind
	Code    string // internal error code, e.g. HeapAllocateFailed; empty if not applicable
	Message string
	cause   error
}

func (e *FamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FamError) Unwrap() error { return e.cause }

// NewError builds a FamError of the given kind.
func NewError(kind Kind, format string, args ...interface{}) *FamError {
	return &FamError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewCodedError builds a FamError carrying one of the internal codes
// (§7), classified to kind by the caller per the table in §7.
func NewCodedError(kind Kind, code, format string, args ...interface{}) *FamError {
	return &FamError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a causal chain using pkg/errors, preserving the original
// error's stack for diagnostics while still exposing a FamError kind to
// RPC handlers.
func Wrap(cause error, kind Kind, format string, args ...interface{}) *FamError {
	return &FamError{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// Cause returns the deepest wrapped error, mirroring pkg/errors.Cause.
func Cause(err error) error { return errors.Cause(err) }

// KindOf extracts the Kind of err if it is a *FamError (recursively
// unwrapping), or Resource as a conservative default for unclassified
// internal failures.
func KindOf(err error) Kind {
	var fe *FamError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Resource
}
