package schema

import (
	"regexp"
)

// Getter transforms a stored value for presentation.
type Getter func(v any) any

// Setter transforms an assigned value before it is cast.
type Setter func(v any) any

// Validator is a named validation rule. Check returns a non-nil error when v is invalid.
type Validator struct {
	Rule    string
	Message string
	Check   func(v any) error
}

// FieldOptions are the directives declared on a path.
type FieldOptions struct {
	Required        bool
	RequiredMessage string

	// Default is a value or a func() any evaluated on every document construction.
	Default    any
	HasDefault bool

	// Index holds the raw index directive: true, 1, -1, a kind string or an option record.
	Index   any
	Unique  bool
	Sparse  bool
	Expires int64

	Enum      []any
	Min       any
	Max       any
	Match     *regexp.Regexp
	MinLength *int
	MaxLength *int
	Lowercase bool
	Uppercase bool
	Trim      bool

	// Extra keeps directives this package does not interpret.
	Extra map[string]any
}

// Path is one entry of the compiled path table.
type Path struct {
	Name    string
	Type    Type
	Options FieldOptions

	// Elem is the element path of a scalar array.
	Elem *Path

	// Schema is the element schema of a document array.
	Schema *Schema

	Getters    []Getter
	Setters    []Setter
	Validators []Validator

	// Managed paths are maintained by the engine (revision and timestamps).
	Managed bool
}

// IsArray reports whether the path holds a list.
func (p *Path) IsArray() bool { return p.Type == Array }

// IsDocumentArray reports whether the path holds a list of subdocuments.
func (p *Path) IsDocumentArray() bool { return p.Type == Array && p.Schema != nil }

// HasIndex reports whether any index directive was declared on the path.
func (p *Path) HasIndex() bool {
	o := p.Options
	return indexEnabled(o.Index) || o.Unique || o.Sparse || o.Expires > 0
}

// DefaultValue evaluates the default supplier. ok is false when no default is declared.
func (p *Path) DefaultValue() (v any, ok bool) {
	if !p.Options.HasDefault {
		return nil, false
	}
	if fn, isFn := p.Options.Default.(func() any); isFn {
		return fn(), true
	}
	return p.Options.Default, true
}

// ApplyGetters runs the getter chain in registration order.
func (p *Path) ApplyGetters(v any) any {
	for _, g := range p.Getters {
		v = g(v)
	}
	return v
}

// ApplySetters runs the setter chain in registration order.
func (p *Path) ApplySetters(v any) any {
	for _, s := range p.Setters {
		v = s(v)
	}
	return v
}

func (p *Path) clone(name string) *Path {
	c := *p
	c.Name = name
	if p.Elem != nil {
		c.Elem = p.Elem.clone(name)
	}
	return &c
}
