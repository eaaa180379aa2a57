package document

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jacentio/docshape/schema"
)

// SetOptions tune a single assignment call.
type SetOptions struct {
	// Strict overrides the document's unknown path policy for this call.
	// StrictThrow turns silently dropped paths into *schema.UnknownPathError.
	Strict *schema.Strict
}

// batch collects the outcome of one assignment call. Cast failures do not
// stop the batch; an unknown path under strict throw does.
type batch struct {
	root   *Document
	strict schema.Strict
	init   bool

	errs  schema.CastErrors
	abort error
}

func (b *batch) fail(err error) {
	var ce *schema.CastError
	if !errors.As(err, &ce) {
		b.abort = err
		return
	}
	b.errs = append(b.errs, ce)
	b.root.recordCastErr(ce)
}

func (b *batch) wrote(full string) {
	b.root.clearCastErr(full)
	if !b.init {
		b.root.markModified(full)
	}
}

func (b *batch) result() error {
	if b.abort != nil {
		return b.abort
	}
	if len(b.errs) > 0 {
		return b.errs
	}
	return nil
}

// Set assigns v at path. An empty path assigns every key of v.
// The returned error is a schema.CastErrors holding this call's cast failures,
// a *schema.UnknownPathError, or an error from a virtual setter.
func (d *Document) Set(path string, v any) error {
	return d.SetWith(path, v, SetOptions{})
}

// SetWith is Set with per-call options.
func (d *Document) SetWith(path string, v any, opts SetOptions) error {
	b := &batch{root: d.root, strict: d.strict}
	if opts.Strict != nil {
		b.strict = *opts.Strict
	}
	if path != "" {
		d.assign(b, path, v)
		return b.result()
	}
	entries, ok := schema.Entries(v)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotObject, v)
	}
	for _, e := range entries {
		d.assign(b, e.Key, e.Value)
		if b.abort != nil {
			break
		}
	}
	return b.result()
}

// Merge assigns every key of obj as one batch.
func (d *Document) Merge(obj any) error { return d.Set("", obj) }

func (d *Document) assign(b *batch, path string, v any) {
	if b.abort != nil {
		return
	}
	s := d.schema
	if vt, ok := s.LookupVirtual(path); ok {
		if b.init {
			return
		}
		if err := vt.ApplySetters(v, d); err != nil {
			var ce schema.CastErrors
			if errors.As(err, &ce) {
				b.errs = append(b.errs, ce...)
				return
			}
			b.abort = fmt.Errorf("virtual %q: %w", d.prefix+path, err)
		}
		return
	}
	if p := s.Path(path); p != nil {
		d.assignPath(b, p, v)
		return
	}
	if s.IsNested(path) {
		d.assignNested(b, path, v)
		return
	}
	segs := split(path)
	for i := len(segs) - 1; i > 0; i-- {
		if p := s.Path(strings.Join(segs[:i], ".")); p != nil {
			d.assignInto(b, p, segs[i:], v)
			return
		}
	}
	d.assignUnknown(b, path, v)
}

func (d *Document) assignPath(b *batch, p *schema.Path, v any) {
	full := d.prefix + p.Name
	out, ok := d.cast(b, full, p, v)
	if !ok {
		if b.init {
			assignIn(d.data, split(p.Name), v)
		}
		return
	}
	assignIn(d.data, split(p.Name), out)
	b.wrote(full)
}

// assignNested replaces a nested container and assigns its keys.
func (d *Document) assignNested(b *batch, path string, v any) {
	full := d.prefix + path
	if v == nil {
		assignIn(d.data, split(path), nil)
		b.wrote(full)
		return
	}
	entries, ok := schema.Entries(v)
	if !ok {
		b.fail(&schema.CastError{Path: full, Type: "Object", Value: v, Reason: ErrNotObject})
		return
	}
	assignIn(d.data, split(path), make(map[string]any))
	b.wrote(full)
	for _, e := range entries {
		d.assign(b, path+"."+e.Key, e.Value)
	}
}

// assignInto handles paths below a declared path: Mixed sub-paths, array
// elements and document array members.
func (d *Document) assignInto(b *batch, p *schema.Path, rest []string, v any) {
	full := d.prefix + p.Name + "." + strings.Join(rest, ".")
	switch {
	case p.Type == schema.Mixed:
		assignIn(d.data, split(p.Name+"."+strings.Join(rest, ".")), cloneValue(v))
		b.wrote(d.prefix + p.Name)
		return
	case !p.IsArray():
		d.assignUnknown(b, p.Name+"."+strings.Join(rest, "."), v)
		return
	}
	idx, err := strconv.Atoi(rest[0])
	if err != nil || idx < 0 {
		d.assignUnknown(b, p.Name+"."+strings.Join(rest, "."), v)
		return
	}
	list, _ := lookup(d.data, split(p.Name))
	items, _ := list.([]any)
	elemPath := fmt.Sprintf("%s%s.%d", d.prefix, p.Name, idx)

	if p.IsDocumentArray() {
		if len(rest) > 1 {
			if idx >= len(items) {
				b.fail(&schema.CastError{Path: full, Type: "Embedded", Value: v, Reason: ErrNoElement})
				return
			}
			elem, ok := items[idx].(*Document)
			if !ok {
				b.fail(&schema.CastError{Path: full, Type: "Embedded", Value: v, Reason: ErrNoElement})
				return
			}
			elem.assign(b, strings.Join(rest[1:], "."), v)
			return
		}
		elem, ok := d.castElement(b, elemPath, p.Schema, v)
		if !ok {
			return
		}
		d.storeElement(p, items, idx, elem)
		b.wrote(elemPath)
		return
	}

	if len(rest) > 1 {
		if p.Elem != nil && p.Elem.Type == schema.Mixed && idx < len(items) {
			node, ok := items[idx].(map[string]any)
			if !ok {
				node = make(map[string]any)
				items[idx] = node
			}
			assignIn(node, rest[1:], cloneValue(v))
			b.wrote(d.prefix + p.Name)
			return
		}
		d.assignUnknown(b, p.Name+"."+strings.Join(rest, "."), v)
		return
	}
	out, ok := d.castScalar(b, elemPath, p.Elem, v)
	if !ok {
		return
	}
	d.storeElement(p, items, idx, out)
	b.wrote(elemPath)
}

func (d *Document) storeElement(p *schema.Path, items []any, idx int, v any) {
	for len(items) <= idx {
		items = append(items, nil)
	}
	items[idx] = v
	assignIn(d.data, split(p.Name), items)
}

func (d *Document) assignUnknown(b *batch, path string, v any) {
	full := d.prefix + path
	if b.init {
		assignIn(d.data, split(path), cloneValue(v))
		return
	}
	switch b.strict {
	case schema.StrictOff:
		assignIn(d.data, split(path), cloneValue(v))
		b.wrote(full)
	case schema.StrictThrow:
		b.abort = &schema.UnknownPathError{Path: full, Value: v}
	}
}

// cast runs setters and casts v for p. ok is false when a failure was
// recorded on b.
func (d *Document) cast(b *batch, full string, p *schema.Path, v any) (any, bool) {
	if !p.IsArray() {
		return d.castScalar(b, full, p, v)
	}
	if !b.init {
		v = p.ApplySetters(v)
	}
	raw, err := d.schema.Registry().Cast(full, schema.Array, v)
	if err != nil {
		b.fail(err)
		return nil, false
	}
	if raw == nil {
		return nil, true
	}
	list := raw.([]any)
	out := make([]any, len(list))
	ok := true
	for i, e := range list {
		elemPath := full + "." + strconv.Itoa(i)
		var good bool
		if p.IsDocumentArray() {
			out[i], good = d.castElement(b, elemPath, p.Schema, e)
		} else {
			out[i], good = d.castScalar(b, elemPath, p.Elem, e)
		}
		ok = ok && good
	}
	return out, ok
}

func (d *Document) castScalar(b *batch, full string, p *schema.Path, v any) (any, bool) {
	if !b.init {
		v = p.ApplySetters(v)
	}
	out, err := d.schema.Registry().Cast(full, p.Type, v)
	if err != nil {
		b.fail(err)
		return nil, false
	}
	if p.Type == schema.Mixed {
		return cloneValue(out), true
	}
	if s, ok := out.(string); ok {
		o := p.Options
		if o.Trim {
			s = strings.TrimSpace(s)
		}
		if o.Lowercase {
			s = strings.ToLower(s)
		}
		if o.Uppercase {
			s = strings.ToUpper(s)
		}
		out = s
	}
	return out, true
}

// castElement builds a document array member from an object.
func (d *Document) castElement(b *batch, full string, s *schema.Schema, v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case *Document:
		// Elements are owned by one slot of one document.
		if t.schema == s && t.root == d.root && t.prefix == full+"." {
			return t, true
		}
		v = cloneValue(t.data)
	}
	entries, ok := schema.Entries(v)
	if !ok {
		b.fail(&schema.CastError{Path: full, Type: "Embedded", Value: v, Reason: ErrNotObject})
		return nil, false
	}
	elem := d.newEmbedded(s, full+".")
	if !b.init {
		elem.applyDefaults()
	}
	for _, e := range entries {
		elem.assign(b, e.Key, e.Value)
	}
	return elem, true
}
