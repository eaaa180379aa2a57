package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// PathKind classifies a dotted path against a schema.
type PathKind int

const (
	PathUnknown PathKind = iota
	PathReal
	PathVirtual
	PathNested
)

func (k PathKind) String() string {
	switch k {
	case PathReal:
		return "real"
	case PathVirtual:
		return "virtual"
	case PathNested:
		return "nested"
	default:
		return "adhocOrUndefined"
	}
}

// Schema is a compiled declaration. The path table is never modified after
// New returns; Add and WithOptions produce new schemas. Virtuals and
// schema-level indexes are registered during setup, before documents use it.
type Schema struct {
	opts Options
	root bool
	decl D

	paths  map[string]*Path
	order  []string
	nested map[string]bool

	virtuals     map[string]*Virtual
	virtualOrder []string

	indexes []IndexDirective
}

// New compiles a root schema. decl is a D, a map[string]any or nil.
func New(decl any, opts Options) (*Schema, error) {
	return compile(decl, opts, true)
}

// MustNew is New that panics on error, for package level schema variables.
func MustNew(decl any, opts Options) *Schema {
	s, err := New(decl, opts)
	if err != nil {
		panic(err)
	}
	return s
}

func compile(decl any, opts Options, root bool) (*Schema, error) {
	opts.validate()
	var d D
	if decl != nil {
		entries, ok := Entries(decl)
		if !ok {
			return nil, fmt.Errorf("%w: schema declaration must be an object, got %T", ErrInvalidDeclaration, decl)
		}
		d = entries
	}
	s := &Schema{
		opts:     opts,
		root:     root,
		decl:     append(D(nil), d...),
		paths:    make(map[string]*Path),
		nested:   make(map[string]bool),
		virtuals: make(map[string]*Virtual),
	}
	if root && opts.IDField {
		if _, declared := d.Get("_id"); !declared {
			s.addPath(&Path{
				Name: "_id",
				Type: ObjectIDType,
				Options: FieldOptions{
					Default:    func() any { return NewObjectID() },
					HasDefault: true,
				},
			})
		}
	}
	if err := s.walk("", d); err != nil {
		return nil, err
	}
	if root {
		s.addManaged()
	}
	return s, nil
}

func (s *Schema) addManaged() {
	if s.opts.Versioning {
		if _, ok := s.paths[s.opts.VersionKey]; !ok {
			s.addPath(&Path{Name: s.opts.VersionKey, Type: Number, Managed: true})
		}
	}
	if ts := s.opts.Timestamps; ts != nil {
		for _, name := range []string{ts.CreatedAt, ts.UpdatedAt} {
			if _, ok := s.paths[name]; !ok {
				s.addPath(&Path{Name: name, Type: Date, Managed: true})
			}
		}
	}
	if s.opts.ID && s.paths["id"] == nil && s.paths["_id"] != nil {
		s.virtuals["id"] = &Virtual{Name: "id", getters: []VirtualGetter{idGetter}, auto: true}
		s.virtualOrder = append(s.virtualOrder, "id")
	}
}

// childOptions derives the options of a schema compiled from a nested declaration.
func (s *Schema) childOptions() Options {
	o := s.opts
	o.IDField = false
	o.ID = false
	o.Versioning = false
	o.Timestamps = nil
	o.Collection = ""
	return o
}

func (s *Schema) walk(prefix string, d D) error {
	for _, e := range d {
		if e.Key == "" {
			return fmt.Errorf("%w: empty field name under %q", ErrInvalidDeclaration, prefix)
		}
		name := prefix + e.Key
		if e.Value == nil {
			return fmt.Errorf("%w: invalid value for schema path %q", ErrInvalidDeclaration, name)
		}
		if child, ok := e.Value.(*Schema); ok {
			s.inline(name, child)
			continue
		}
		if children, isNested := s.classify(name, e.Value); isNested {
			s.setNested(name)
			if err := s.walk(name+".", children); err != nil {
				return err
			}
			continue
		}
		p, err := s.buildPath(name, e.Value)
		if err != nil {
			return err
		}
		s.addPath(p)
	}
	return nil
}

// classify decides between the two declaration variants: a type declaration
// (leaf) or a nested schema. Objects are type declarations iff they carry the
// type key. An object whose type key value is itself a type declaration
// describes a nested field literally named after the type key.
func (s *Schema) classify(name string, v any) (D, bool) {
	entries, ok := Entries(v)
	if !ok || len(entries) == 0 {
		return nil, false
	}
	if t, has := entries.Get(s.opts.TypeKey); has {
		inner, isObj := Entries(t)
		if !isObj {
			return nil, false
		}
		if _, nestedType := inner.Get(s.opts.TypeKey); !nestedType {
			return nil, false
		}
		return entries, true
	}
	if s.root && name == "_id" {
		return nil, false
	}
	return entries, true
}

func (s *Schema) buildPath(name string, v any) (*Path, error) {
	switch t := v.(type) {
	case Type:
		return s.tokenPath(name, t)
	case string:
		return s.tokenPath(name, Type(t))
	case *Schema:
		return nil, fmt.Errorf("%w: schema at path %q must be declared directly or as an array element", ErrInvalidDeclaration, name)
	case []byte:
		return nil, fmt.Errorf("%w: invalid value for schema path %q", ErrInvalidDeclaration, name)
	}
	if entries, ok := Entries(v); ok {
		if len(entries) == 0 {
			if s.root && name == "_id" {
				return &Path{Name: name, Type: ObjectIDType}, nil
			}
			return &Path{Name: name, Type: Mixed}, nil
		}
		t, has := entries.Get(s.opts.TypeKey)
		if !has {
			if !s.root || name != "_id" {
				// an object used as a type is untyped
				return &Path{Name: name, Type: Mixed}, nil
			}
			t = ObjectIDType
		}
		if t == nil {
			return nil, fmt.Errorf("%w: invalid type for schema path %q", ErrInvalidDeclaration, name)
		}
		p, err := s.buildPath(name, t)
		if err != nil {
			return nil, err
		}
		if err := s.applyDirectives(p, entries); err != nil {
			return nil, err
		}
		return p, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return s.arrayPath(name, rv)
	}
	return nil, fmt.Errorf("%w: invalid value %v (%T) for schema path %q", ErrInvalidDeclaration, v, v, name)
}

func (s *Schema) tokenPath(name string, t Type) (*Path, error) {
	def, ok := s.opts.Registry.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("%w: %q at path %q", ErrUnknownType, t, name)
	}
	if def.Name == Array {
		return &Path{Name: name, Type: Array, Elem: &Path{Name: name, Type: Mixed}}, nil
	}
	return &Path{Name: name, Type: def.Name}, nil
}

func (s *Schema) arrayPath(name string, rv reflect.Value) (*Path, error) {
	if rv.Len() == 0 {
		return &Path{Name: name, Type: Array, Elem: &Path{Name: name, Type: Mixed}}, nil
	}
	elem := rv.Index(0).Interface()
	if elem == nil {
		return &Path{Name: name, Type: Array, Elem: &Path{Name: name, Type: Mixed}}, nil
	}
	if child, ok := elem.(*Schema); ok {
		return &Path{Name: name, Type: Array, Schema: child}, nil
	}
	if entries, ok := Entries(elem); ok && len(entries) > 0 {
		if _, typed := entries.Get(s.opts.TypeKey); !typed {
			child, err := compile(entries, s.childOptions(), false)
			if err != nil {
				return nil, fmt.Errorf("path %q: %w", name, err)
			}
			return &Path{Name: name, Type: Array, Schema: child}, nil
		}
	}
	ep, err := s.buildPath(name, elem)
	if err != nil {
		return nil, err
	}
	return &Path{Name: name, Type: Array, Elem: ep}, nil
}

// inline copies a compiled schema's paths under name.
func (s *Schema) inline(name string, child *Schema) {
	s.setNested(name)
	for _, n := range child.order {
		if p := child.paths[n]; !p.Managed {
			s.addPath(p.clone(name + "." + n))
		}
	}
	for n := range child.nested {
		s.nested[name+"."+n] = true
	}
}

func (s *Schema) setNested(name string) {
	if _, isPath := s.paths[name]; isPath {
		s.removePath(name)
	}
	s.markParents(name)
	s.nested[name] = true
}

// addPath stores p, replacing an earlier declaration in place (last write wins).
func (s *Schema) addPath(p *Path) {
	if s.nested[p.Name] {
		delete(s.nested, p.Name)
		prefix := p.Name + "."
		for n := range s.nested {
			if strings.HasPrefix(n, prefix) {
				delete(s.nested, n)
			}
		}
		for _, n := range append([]string(nil), s.order...) {
			if strings.HasPrefix(n, prefix) {
				s.removePath(n)
			}
		}
	}
	s.markParents(p.Name)
	if _, exists := s.paths[p.Name]; !exists {
		s.order = append(s.order, p.Name)
	}
	s.paths[p.Name] = p
}

func (s *Schema) removePath(name string) {
	delete(s.paths, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Schema) markParents(name string) {
	segs := strings.Split(name, ".")
	for i := 1; i < len(segs); i++ {
		parent := strings.Join(segs[:i], ".")
		if _, isPath := s.paths[parent]; !isPath {
			s.nested[parent] = true
		}
	}
}

// Options returns a copy of the compiled options.
func (s *Schema) Options() Options { return s.opts }

// Registry returns the type registry the schema was compiled with.
func (s *Schema) Registry() *Registry { return s.opts.Registry }

// IsRoot reports whether s was compiled as a root (model) schema.
func (s *Schema) IsRoot() bool { return s.root }

// Path returns the path declared exactly as name.
func (s *Schema) Path(name string) *Path { return s.paths[name] }

// Paths returns every path in declaration order.
func (s *Schema) Paths() []*Path {
	out := make([]*Path, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.paths[n])
	}
	return out
}

// PathNames returns every path name in declaration order.
func (s *Schema) PathNames() []string { return append([]string(nil), s.order...) }

// IsNested reports whether name is an object declared without a type.
func (s *Schema) IsNested(name string) bool { return s.nested[name] }

// Lookup resolves a dotted path, following numeric array indices into scalar
// array elements and document-array sub-schemas. Sub-paths of Mixed paths
// resolve to the Mixed path.
func (s *Schema) Lookup(name string) *Path {
	if p, ok := s.paths[name]; ok {
		return p
	}
	segs := strings.Split(name, ".")
	for i := 1; i < len(segs); i++ {
		p, ok := s.paths[strings.Join(segs[:i], ".")]
		if !ok {
			continue
		}
		rest := segs[i:]
		switch {
		case p.Type == Mixed:
			return p
		case !p.IsArray():
			return nil
		}
		if isIndex(rest[0]) {
			rest = rest[1:]
			if len(rest) == 0 {
				return p.Elem
			}
		}
		if p.Schema != nil {
			return p.Schema.Lookup(strings.Join(rest, "."))
		}
		if p.Elem != nil && p.Elem.Type == Mixed {
			return p.Elem
		}
		return nil
	}
	return nil
}

// PathType classifies name.
func (s *Schema) PathType(name string) PathKind {
	if _, ok := s.paths[name]; ok {
		return PathReal
	}
	if _, ok := s.virtuals[name]; ok {
		return PathVirtual
	}
	if s.nested[name] {
		return PathNested
	}
	if s.Lookup(name) != nil {
		return PathReal
	}
	return PathUnknown
}

// Virtual returns the virtual registered as name, creating it when absent.
func (s *Schema) Virtual(name string) (*Virtual, error) {
	if v, ok := s.virtuals[name]; ok {
		return v, nil
	}
	if _, ok := s.paths[name]; ok || s.nested[name] {
		return nil, fmt.Errorf("%w: %q is a schema path and cannot be a virtual", ErrPathConflict, name)
	}
	v := &Virtual{Name: name}
	s.virtuals[name] = v
	s.virtualOrder = append(s.virtualOrder, name)
	return v, nil
}

// LookupVirtual returns the virtual registered as name.
func (s *Schema) LookupVirtual(name string) (*Virtual, bool) {
	v, ok := s.virtuals[name]
	return v, ok
}

// Virtuals returns virtuals in registration order.
func (s *Schema) Virtuals() []*Virtual {
	out := make([]*Virtual, 0, len(s.virtualOrder))
	for _, n := range s.virtualOrder {
		out = append(out, s.virtuals[n])
	}
	return out
}

// Add returns a new schema compiled from the retained declaration followed by decl.
func (s *Schema) Add(decl any) (*Schema, error) {
	entries, ok := Entries(decl)
	if !ok {
		return nil, fmt.Errorf("%w: added declaration must be an object, got %T", ErrInvalidDeclaration, decl)
	}
	merged := append(append(D(nil), s.decl...), entries...)
	return s.recompile(merged, s.opts)
}

// WithOptions returns a new schema compiled from the retained declaration
// under opts. Type-key changes re-run the type/nested disambiguation.
func (s *Schema) WithOptions(opts Options) (*Schema, error) {
	return s.recompile(s.decl, opts)
}

func (s *Schema) recompile(d D, opts Options) (*Schema, error) {
	next, err := compile(d, opts, s.root)
	if err != nil {
		return nil, err
	}
	for _, n := range s.virtualOrder {
		v := s.virtuals[n]
		if v.auto {
			continue
		}
		if _, conflict := next.paths[n]; conflict || next.nested[n] {
			return nil, fmt.Errorf("%w: %q is already a virtual", ErrPathConflict, n)
		}
		if _, exists := next.virtuals[n]; !exists {
			next.virtualOrder = append(next.virtualOrder, n)
		}
		next.virtuals[n] = v.clone()
	}
	next.indexes = append(next.indexes, s.indexes...)
	return next, nil
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	_, err := strconv.Atoi(seg)
	return err == nil
}
