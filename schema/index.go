package schema

import (
	"fmt"
	"strings"
)

// IndexKey is one key of an index specification. Kind is set for special
// index types (for example "hashed" or "text") instead of a direction.
type IndexKey struct {
	Path      string
	Direction int
	Kind      string
}

// IndexOptions is the option bag of an index directive.
type IndexOptions struct {
	Name               string
	Unique             bool
	Sparse             bool
	Background         bool
	ExpireAfterSeconds int64
}

// IndexDirective is a declared intent to build a secondary index.
type IndexDirective struct {
	Keys    []IndexKey
	Options IndexOptions
}

// Paths returns the key paths in order.
func (d IndexDirective) Paths() []string {
	out := make([]string, len(d.Keys))
	for i, k := range d.Keys {
		out[i] = k.Path
	}
	return out
}

func (d IndexDirective) String() string {
	parts := make([]string, len(d.Keys))
	for i, k := range d.Keys {
		if k.Kind != "" {
			parts[i] = k.Path + ":" + k.Kind
		} else {
			parts[i] = fmt.Sprintf("%s:%d", k.Path, k.Direction)
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (d IndexDirective) prefixed(prefix string) IndexDirective {
	if prefix == "" {
		return d
	}
	keys := make([]IndexKey, len(d.Keys))
	for i, k := range d.Keys {
		k.Path = prefix + k.Path
		keys[i] = k
	}
	return IndexDirective{Keys: keys, Options: d.Options}
}

// Index declares a schema level (usually compound) index. keys is a D or a
// map of path to 1, -1 or an index kind string.
func (s *Schema) Index(keys any, opts IndexOptions) error {
	entries, ok := Entries(keys)
	if !ok || len(entries) == 0 {
		return fmt.Errorf("%w: index keys must be a non-empty object", ErrInvalidDeclaration)
	}
	d := IndexDirective{Options: opts}
	for _, e := range entries {
		k, err := indexKey(e.Key, e.Value)
		if err != nil {
			return err
		}
		d.Keys = append(d.Keys, k)
	}
	s.indexes = append(s.indexes, d)
	return nil
}

// Indexes materializes every index directive: field level directives in
// declaration order (document array paths prefixed), then schema level
// directives in call order.
func (s *Schema) Indexes() []IndexDirective {
	fields, schemaLevel := s.collect("")
	return append(fields, schemaLevel...)
}

func (s *Schema) collect(prefix string) (fields, schemaLevel []IndexDirective) {
	var nested []IndexDirective
	for _, n := range s.order {
		p := s.paths[n]
		switch {
		case p.HasIndex():
			fields = append(fields, fieldIndex(prefix+n, p))
		case p.Elem != nil && p.Elem.HasIndex():
			fields = append(fields, fieldIndex(prefix+n, p.Elem))
		}
		if p.Schema != nil {
			f, sl := p.Schema.collect(prefix + n + ".")
			fields = append(fields, f...)
			nested = append(nested, sl...)
		}
	}
	for _, d := range s.indexes {
		schemaLevel = append(schemaLevel, d.prefixed(prefix))
	}
	return fields, append(schemaLevel, nested...)
}

func fieldIndex(name string, p *Path) IndexDirective {
	o := p.Options
	key := IndexKey{Path: name, Direction: 1}
	opts, _ := fieldIndexOptions(o.Index)
	switch t := o.Index.(type) {
	case string:
		key = IndexKey{Path: name, Kind: t}
	default:
		if f, ok := toFloat(t); ok && f < 0 {
			key.Direction = -1
		}
	}
	if rec, ok := Entries(o.Index); ok {
		if kind, has := rec.Get("type"); has {
			if ks, isStr := kind.(string); isStr {
				key = IndexKey{Path: name, Kind: ks}
			}
		}
	}
	opts.Unique = opts.Unique || o.Unique
	opts.Sparse = opts.Sparse || o.Sparse
	if o.Expires > 0 {
		opts.ExpireAfterSeconds = o.Expires
	}
	return IndexDirective{Keys: []IndexKey{key}, Options: opts}
}

// fieldIndexOptions parses the option bag of an index directive value.
// Field level indexes build in the background unless told otherwise.
func fieldIndexOptions(v any) (IndexOptions, error) {
	opts := IndexOptions{Background: true}
	switch v.(type) {
	case nil, bool, string:
		return opts, nil
	}
	if _, ok := toFloat(v); ok {
		return opts, nil
	}
	rec, ok := Entries(v)
	if !ok {
		return opts, fmt.Errorf("unsupported index directive %T", v)
	}
	for _, e := range rec {
		var err error
		switch e.Key {
		case "unique":
			opts.Unique, err = asBool(e.Value)
		case "sparse":
			opts.Sparse, err = asBool(e.Value)
		case "background":
			opts.Background, err = asBool(e.Value)
		case "name":
			opts.Name = fmt.Sprint(e.Value)
		case "expires", "expireAfterSeconds":
			opts.ExpireAfterSeconds, err = parseExpires(e.Value)
		}
		if err != nil {
			return opts, fmt.Errorf("index option %q: %v", e.Key, err)
		}
	}
	return opts, nil
}

func indexEnabled(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	_, ok := Entries(v)
	return ok
}

func indexKey(path string, v any) (IndexKey, error) {
	if s, ok := v.(string); ok {
		return IndexKey{Path: path, Kind: s}, nil
	}
	f, ok := toFloat(v)
	if !ok || (f != 1 && f != -1) {
		return IndexKey{}, fmt.Errorf("%w: index direction for %q must be 1, -1 or a kind", ErrInvalidDeclaration, path)
	}
	return IndexKey{Path: path, Direction: int(f)}, nil
}
