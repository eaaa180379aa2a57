package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// A schema document has three optional top-level sections:
//
//	fields:    the ordered declaration
//	options:   schema options, applied over the base options
//	indexes:   schema level indexes, each {keys: {...}, options: {...}}
//
// Field order is preserved exactly as written.

// ParseYAML compiles a YAML schema document.
func ParseYAML(data []byte, base Options) (*Schema, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDeclaration, err)
	}
	if root.Kind == 0 {
		return New(nil, base)
	}
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = *root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: schema document must be a mapping", ErrInvalidDeclaration)
	}

	var fields D
	var indexes []any
	opts := base
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i].Value, root.Content[i+1]
		switch key {
		case "fields":
			v, err := yamlValue(val)
			if err != nil {
				return nil, err
			}
			d, ok := v.(D)
			if !ok && v != nil {
				return nil, fmt.Errorf("%w: fields must be a mapping", ErrInvalidDeclaration)
			}
			fields = d
		case "options":
			if err := val.Decode(&opts); err != nil {
				return nil, fmt.Errorf("%w: options: %v", ErrInvalidDeclaration, err)
			}
		case "indexes":
			v, err := yamlValue(val)
			if err != nil {
				return nil, err
			}
			list, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: indexes must be a list", ErrInvalidDeclaration)
			}
			indexes = list
		default:
			return nil, fmt.Errorf("%w: unknown section %q", ErrInvalidDeclaration, key)
		}
	}
	return build(fields, opts, indexes)
}

func yamlValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.MappingNode:
		d := make(D, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := yamlValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			d = append(d, E{Key: n.Content[i].Value, Value: v})
		}
		return d, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := yamlValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.AliasNode:
		return yamlValue(n.Alias)
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidDeclaration, n.Line, err)
		}
		return v, nil
	}
}

// ParseJSON compiles a JSON schema document with the same layout as ParseYAML.
func ParseJSON(data []byte, base Options) (*Schema, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := jsonValue(dec)
	if errors.Is(err, io.EOF) {
		return New(nil, base)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDeclaration, err)
	}
	doc, ok := v.(D)
	if !ok {
		return nil, fmt.Errorf("%w: schema document must be an object", ErrInvalidDeclaration)
	}

	var fields D
	var indexes []any
	opts := base
	for _, e := range doc {
		switch e.Key {
		case "fields":
			d, ok := e.Value.(D)
			if !ok {
				return nil, fmt.Errorf("%w: fields must be an object", ErrInvalidDeclaration)
			}
			fields = d
		case "options":
			d, ok := e.Value.(D)
			if !ok {
				return nil, fmt.Errorf("%w: options must be an object", ErrInvalidDeclaration)
			}
			// options carry yaml tags; route them through the YAML decoder
			raw, err := yaml.Marshal(plainValue(d))
			if err != nil {
				return nil, err
			}
			if err := yaml.Unmarshal(raw, &opts); err != nil {
				return nil, fmt.Errorf("%w: options: %v", ErrInvalidDeclaration, err)
			}
		case "indexes":
			list, ok := e.Value.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: indexes must be a list", ErrInvalidDeclaration)
			}
			indexes = list
		default:
			return nil, fmt.Errorf("%w: unknown section %q", ErrInvalidDeclaration, e.Key)
		}
	}
	return build(fields, opts, indexes)
}

func jsonValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			var d D
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", kt)
				}
				v, err := jsonValue(dec)
				if err != nil {
					return nil, err
				}
				d = append(d, E{Key: key, Value: v})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			if d == nil {
				d = D{}
			}
			return d, nil
		case '[':
			out := []any{}
			for dec.More() {
				v, err := jsonValue(dec)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return out, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		return t.Float64()
	default:
		return t, nil
	}
}

// plainValue turns D values back into maps for re-encoding.
func plainValue(v any) any {
	switch t := v.(type) {
	case D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plainValue(e.Value)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	}
	return v
}

func build(fields D, opts Options, indexes []any) (*Schema, error) {
	s, err := New(fields, opts)
	if err != nil {
		return nil, err
	}
	for i, raw := range indexes {
		rec, ok := raw.(D)
		if !ok {
			return nil, fmt.Errorf("%w: index %d must be a mapping", ErrInvalidDeclaration, i)
		}
		keys, _ := rec.Get("keys")
		var idx IndexOptions
		if o, has := rec.Get("options"); has {
			if idx, err = fieldIndexOptions(o); err != nil {
				return nil, fmt.Errorf("%w: index %d: %v", ErrInvalidDeclaration, i, err)
			}
		}
		if err := s.Index(keys, idx); err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
	}
	return s, nil
}

// ParseFile compiles a schema document, choosing the decoder by extension.
func ParseFile(path string, base Options) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data, base)
	case ".yaml", ".yml":
		return ParseYAML(data, base)
	}
	return nil, fmt.Errorf("%w: unsupported schema file %q", ErrInvalidDeclaration, path)
}
