package document

import (
	"errors"
	"fmt"
)

var (
	// ErrNotObject is returned when an object value was expected.
	ErrNotObject = errors.New("docshape: value is not an object")

	// ErrNoElement is returned when a path addresses a missing document array element.
	ErrNoElement = errors.New("docshape: no array element at index")

	// ErrVersionConflict is matched by every *VersionConflictError.
	ErrVersionConflict = errors.New("docshape: version conflict")
)

// VersionConflictError reports a persist whose read revision no longer
// matches the stored revision. The document's state is left unchanged.
type VersionConflictError struct {
	Model    string
	ID       string
	Expected int64
}

func (e *VersionConflictError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("docshape: no matching document for id %q at version %d", e.ID, e.Expected)
	}
	return fmt.Sprintf("docshape: no matching %s document for id %q at version %d", e.Model, e.ID, e.Expected)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }
