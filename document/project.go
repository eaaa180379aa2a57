package document

import (
	"github.com/goccy/go-json"

	"github.com/jacentio/docshape/schema"
)

// Mode selects the projection performed by Project.
type Mode int

const (
	// ModeInternal returns a copy of the stored values with no transformation.
	ModeInternal Mode = iota
	// ModeObject applies the schema's toObject options.
	ModeObject
	// ModeJSON applies the schema's toJSON options.
	ModeJSON
	// ModeStorage returns a copy of the stored values, minimized when the
	// schema's minimize option is set.
	ModeStorage
)

// ProjectOptions override the schema level export options for one call.
// Nil fields inherit.
type ProjectOptions struct {
	Getters    *bool
	Virtuals   *bool
	Minimize   *bool
	VersionKey *bool
	Transform  func(ret map[string]any) map[string]any
}

// Bool returns a pointer to v, for ProjectOptions fields.
func Bool(v bool) *bool { return &v }

type exportOptions struct {
	getters    bool
	virtuals   bool
	minimize   bool
	versionKey bool
	transform  func(map[string]any) map[string]any
}

// Project materializes the document as a plain tree.
func (d *Document) Project(mode Mode, opts *ProjectOptions) map[string]any {
	switch mode {
	case ModeInternal:
		return cloneValue(d.data).(map[string]any)
	case ModeStorage:
		out := cloneValue(d.data).(map[string]any)
		if d.schema.Options().Minimize {
			minimize(out)
		}
		return out
	}
	return d.export(d.exportOptions(mode, opts))
}

// ToObject is Project(ModeObject, opts).
func (d *Document) ToObject(opts *ProjectOptions) map[string]any {
	return d.Project(ModeObject, opts)
}

// ToJSON is Project(ModeJSON, opts).
func (d *Document) ToJSON(opts *ProjectOptions) map[string]any {
	return d.Project(ModeJSON, opts)
}

// MarshalJSON encodes the toJSON projection.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.ToJSON(nil))
}

func (d *Document) exportOptions(mode Mode, opts *ProjectOptions) exportOptions {
	so := d.schema.Options()
	base := so.ToObject
	if mode == ModeJSON {
		base = so.ToJSON
	}
	eo := exportOptions{
		getters:    base.Getters,
		virtuals:   base.Virtuals,
		minimize:   so.Minimize,
		versionKey: base.VersionKey,
		transform:  base.Transform,
	}
	if base.Minimize != nil {
		eo.minimize = *base.Minimize
	}
	if opts == nil {
		return eo
	}
	if opts.Getters != nil {
		eo.getters = *opts.Getters
	}
	if opts.Virtuals != nil {
		eo.virtuals = *opts.Virtuals
	}
	if opts.Minimize != nil {
		eo.minimize = *opts.Minimize
	}
	if opts.VersionKey != nil {
		eo.versionKey = *opts.VersionKey
	}
	if opts.Transform != nil {
		eo.transform = opts.Transform
	}
	return eo
}

func (d *Document) export(eo exportOptions) map[string]any {
	out := make(map[string]any, len(d.data))
	sub := eo
	sub.transform = nil
	for k, v := range d.data {
		out[k] = exportValue(v, sub)
	}
	if eo.getters {
		for _, p := range d.schema.Paths() {
			if len(p.Getters) == 0 {
				continue
			}
			segs := split(p.Name)
			if raw, ok := lookup(d.data, segs); ok {
				assignIn(out, segs, exportValue(p.ApplyGetters(raw), sub))
			}
		}
	}
	if eo.virtuals {
		for _, v := range d.schema.Virtuals() {
			if !v.HasGetters() {
				continue
			}
			if val := v.ApplyGetters(d); val != nil {
				assignIn(out, split(v.Name), exportValue(val, sub))
			}
		}
	}
	if so := d.schema.Options(); d.root == d && so.Versioning && !eo.versionKey {
		delete(out, so.VersionKey)
	}
	if eo.minimize {
		minimize(out)
	}
	if eo.transform != nil {
		out = eo.transform(out)
	}
	return out
}

func exportValue(v any, eo exportOptions) any {
	switch t := v.(type) {
	case *Document:
		return t.export(eo)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = exportValue(e, eo)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = exportValue(e, eo)
		}
		return out
	case schema.D, []byte:
		return cloneValue(t)
	}
	return v
}
