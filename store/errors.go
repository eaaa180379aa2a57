package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a document doesn't exist or is deleted (has TTL <= now).
	ErrNotFound = errors.New("docshape: document not found")

	// ErrAlreadyExists is returned when inserting a document with an existing _id.
	ErrAlreadyExists = errors.New("docshape: document already exists")

	// ErrDuplicateValue is returned when a unique index is violated.
	ErrDuplicateValue = errors.New("docshape: duplicate value for unique field")

	// ErrAlreadyDeleted is returned when deleting a document that is already deleted.
	ErrAlreadyDeleted = errors.New("docshape: document is already deleted")

	// ErrModelExists is returned when a model name is registered twice.
	ErrModelExists = errors.New("docshape: model already registered")

	// ErrUnknownModel is returned for documents of schemas no model was registered with.
	ErrUnknownModel = errors.New("docshape: unknown model")

	// ErrNoID is returned for schemas without an _id path and documents without an _id.
	ErrNoID = errors.New("docshape: document has no _id")

	// ErrUnsupportedIndex is returned for index directives the table cannot express.
	ErrUnsupportedIndex = errors.New("docshape: unsupported index")

	// ErrIndexTimeout is returned when an index did not become ACTIVE in time.
	ErrIndexTimeout = errors.New("docshape: index build timed out")
)

// IndexBuildError reports one failed index directive.
type IndexBuildError struct {
	Model string
	Index string
	Kind  string
	Err   error
}

func (e *IndexBuildError) Error() string {
	return fmt.Sprintf("docshape: model %q: %s index %s: %v", e.Model, e.Kind, e.Index, e.Err)
}

func (e *IndexBuildError) Unwrap() error { return e.Err }

// IndexBuildErrors is the terminal result of an index build in which at
// least one directive failed. Errors are in directive order.
type IndexBuildErrors struct {
	Model  string
	Errors []*IndexBuildError
}

func (e *IndexBuildErrors) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Index + ": " + err.Err.Error()
	}
	return fmt.Sprintf("docshape: model %q: %d index builds failed: %s",
		e.Model, len(e.Errors), strings.Join(parts, "; "))
}

func (e *IndexBuildErrors) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err
	}
	return out
}
