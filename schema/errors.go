package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownType is returned when a declaration names a type token that is not registered.
	ErrUnknownType = errors.New("docshape: unknown schema type")

	// ErrInvalidDeclaration is returned when a declaration value cannot be compiled.
	ErrInvalidDeclaration = errors.New("docshape: invalid schema declaration")

	// ErrPathConflict is returned when a path is declared both as a stored path and a virtual.
	ErrPathConflict = errors.New("docshape: path is already declared")

	// ErrUnknownPath is matched by every *UnknownPathError.
	ErrUnknownPath = errors.New("docshape: path is not in schema")

	// ErrValidatorFailed is returned by boolean custom validators that reject a value.
	ErrValidatorFailed = errors.New("docshape: validator failed")
)

// PathError is an error bound to a single document path.
type PathError interface {
	error
	FieldPath() string
}

// CastError reports a value that could not be coerced to the declared type.
type CastError struct {
	Path   string
	Type   Type
	Value  any
	Reason error
}

func (e *CastError) Error() string {
	msg := fmt.Sprintf("docshape: cast to %s failed for value %s at path %q", e.Type, describe(e.Value), e.Path)
	if e.Reason != nil {
		msg += ": " + e.Reason.Error()
	}
	return msg
}

func (e *CastError) Unwrap() error     { return e.Reason }
func (e *CastError) FieldPath() string { return e.Path }

// CastErrors aggregates the cast failures of one assignment batch in first-seen order.
type CastErrors []*CastError

func (ce CastErrors) Error() string {
	parts := make([]string, 0, len(ce))
	for _, e := range ce {
		parts = append(parts, fmt.Sprintf("%s (%s)", e.Path, e.Type))
	}
	return summarize("cast failed", parts)
}

// ValidatorError is the first failing validation rule for a path.
type ValidatorError struct {
	Path    string
	Rule    string
	Message string
	Value   any
}

func (e *ValidatorError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("docshape: validator %q failed for path %q with value %s", e.Rule, e.Path, describe(e.Value))
}

func (e *ValidatorError) FieldPath() string { return e.Path }

// ValidationError is returned when a document has at least one invalid path.
// Errors holds exactly one entry per invalid path: a *CastError or a *ValidatorError.
type ValidationError struct {
	Errors []PathError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, pe := range e.Errors {
		parts = append(parts, pe.FieldPath())
	}
	return summarize("validation failed", parts)
}

// Get returns the entry recorded for path, or nil.
func (e *ValidationError) Get(path string) PathError {
	for _, pe := range e.Errors {
		if pe.FieldPath() == path {
			return pe
		}
	}
	return nil
}

// Paths lists invalid paths in report order.
func (e *ValidationError) Paths() []string {
	out := make([]string, len(e.Errors))
	for i, pe := range e.Errors {
		out[i] = pe.FieldPath()
	}
	return out
}

// UnknownPathError reports an assignment to a path the schema does not declare
// while strict mode forbids it.
type UnknownPathError struct {
	Path  string
	Value any
}

func (e *UnknownPathError) Error() string {
	return fmt.Sprintf("docshape: field %q is not in schema and strict mode is set to throw", e.Path)
}

func (e *UnknownPathError) Is(target error) bool { return target == ErrUnknownPath }
func (e *UnknownPathError) FieldPath() string    { return e.Path }

// AsValidationError extracts a *ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func summarize(prefix string, parts []string) string {
	const maxShown = 3
	b := &strings.Builder{}
	b.WriteString("docshape: ")
	b.WriteString(prefix)
	b.WriteString(": ")
	lim := len(parts)
	if lim > maxShown {
		lim = maxShown
	}
	b.WriteString(strings.Join(parts[:lim], ", "))
	if len(parts) > lim {
		fmt.Fprintf(b, ", ... (total %d)", len(parts))
	}
	return b.String()
}

func describe(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}
