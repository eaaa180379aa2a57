package document

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jacentio/docshape/schema"
)

// State is the revision state of a document.
type State int

const (
	// Unversioned documents belong to schemas compiled without versioning.
	Unversioned State = iota
	// Clean documents have no unsaved mutation that requires a revision bump.
	Clean
	// Dirty documents carry a mutation that requires a revision bump on save.
	Dirty
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	default:
		return "unversioned"
	}
}

// Document is a mutable instance of a compiled schema. A document must not be
// mutated by more than one goroutine at a time; documents sharing a schema are
// independent.
type Document struct {
	schema *schema.Schema
	root   *Document
	prefix string

	data   map[string]any
	strict schema.Strict
	isNew  bool

	modified map[string]bool
	modOrder []string

	revision int64
	state    State

	castErrs  map[string]*schema.CastError
	castOrder []string
}

// Option configures a document at construction.
type Option func(*Document)

// WithStrict overrides the schema's strict mode for one document.
func WithStrict(s schema.Strict) Option {
	return func(d *Document) { d.strict = s }
}

// New constructs a new document: defaults are applied to absent paths and obj
// (a D, a map or nil) is assigned as one batch. Cast failures are recorded
// and reported by Validate; only strict throw violations fail construction.
func New(s *schema.Schema, obj any, opts ...Option) (*Document, error) {
	d := newDocument(s)
	for _, opt := range opts {
		opt(d)
	}
	d.isNew = true
	d.applyDefaults()
	if obj != nil {
		if err := d.Set("", obj); err != nil {
			var ce schema.CastErrors
			if !errors.As(err, &ce) {
				return nil, err
			}
		}
	}
	if d.state == Dirty {
		d.state = Clean
	}
	return d, nil
}

// Hydrate builds a document from persisted data. Nothing is marked modified.
func Hydrate(s *schema.Schema, raw any, opts ...Option) (*Document, error) {
	d := newDocument(s)
	for _, opt := range opts {
		opt(d)
	}
	if err := d.Init(raw); err != nil {
		return nil, err
	}
	return d, nil
}

func newDocument(s *schema.Schema) *Document {
	d := &Document{
		schema:   s,
		data:     make(map[string]any),
		strict:   s.Options().Strict,
		modified: make(map[string]bool),
		castErrs: make(map[string]*schema.CastError),
	}
	d.root = d
	if s.Options().Versioning {
		d.state = Clean
	}
	return d
}

// newEmbedded creates an element of a document array.
func (d *Document) newEmbedded(s *schema.Schema, prefix string) *Document {
	return &Document{
		schema: s,
		root:   d.root,
		prefix: prefix,
		data:   make(map[string]any),
		strict: d.root.strict,
	}
}

// Init replaces the document's state with persisted data. Values are cast
// without setters; unknown fields are kept regardless of strict mode.
func (d *Document) Init(raw any) error {
	entries, ok := schema.Entries(raw)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotObject, raw)
	}
	d.data = make(map[string]any, len(entries))
	d.modified = make(map[string]bool)
	d.modOrder = nil
	d.castErrs = make(map[string]*schema.CastError)
	d.castOrder = nil
	b := &batch{root: d, strict: schema.StrictOff, init: true}
	for _, e := range entries {
		d.assign(b, e.Key, e.Value)
	}
	d.isNew = false
	d.revision = 0
	opts := d.schema.Options()
	if opts.Versioning {
		if f, ok := toInt(d.data[opts.VersionKey]); ok {
			d.revision = f
		}
		d.state = Clean
	}
	return nil
}

func (d *Document) applyDefaults() {
	b := &batch{root: d.root, strict: schema.StrictOff, init: true}
	for _, p := range d.schema.Paths() {
		if p.Managed {
			continue
		}
		v, ok := p.DefaultValue()
		if !ok {
			continue
		}
		if _, present := lookup(d.data, split(p.Name)); present {
			continue
		}
		if out, ok := d.cast(b, d.prefix+p.Name, p, v); ok {
			assignIn(d.data, split(p.Name), out)
		}
	}
}

// Schema returns the compiled schema of the document.
func (d *Document) Schema() *schema.Schema { return d.schema }

// IsNew reports whether the document has not been persisted yet.
func (d *Document) IsNew() bool { return d.root.isNew }

// Strict returns the unknown path policy of the document.
func (d *Document) Strict() schema.Strict { return d.strict }

// Revision returns the last read or written revision.
func (d *Document) Revision() int64 { return d.root.revision }

// State returns the versioning state.
func (d *Document) State() State { return d.root.state }

// Get returns the value at path with schema getters applied. Virtual paths
// evaluate their getter chain.
func (d *Document) Get(path string) any {
	if v, ok := d.schema.LookupVirtual(path); ok {
		return v.ApplyGetters(d)
	}
	raw, _ := lookup(d.data, split(path))
	if p := d.schema.Lookup(path); p != nil && len(p.Getters) > 0 {
		return p.ApplyGetters(raw)
	}
	return raw
}

// Raw returns the stored value at path.
func (d *Document) Raw(path string) any {
	v, _ := lookup(d.data, split(path))
	return v
}

// Has reports whether a value is stored at path.
func (d *Document) Has(path string) bool {
	_, ok := lookup(d.data, split(path))
	return ok
}

// ID returns the hex form of _id, or "" when the document has none.
func (d *Document) ID() string {
	switch id := d.Raw("_id").(type) {
	case schema.ObjectID:
		return id.Hex()
	case nil:
		return ""
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

// IsModified reports whether path, one of its parents or one of its children
// was assigned since the document was loaded or saved.
func (d *Document) IsModified(path string) bool {
	root := d.root
	path = d.prefix + path
	for _, m := range root.modOrder {
		if m == path || strings.HasPrefix(m, path+".") || strings.HasPrefix(path, m+".") {
			return true
		}
	}
	return false
}

// ModifiedPaths returns assigned paths in assignment order.
func (d *Document) ModifiedPaths() []string {
	return append([]string(nil), d.root.modOrder...)
}

// MarkModified flags path as changed, for in-place edits of Mixed values.
func (d *Document) MarkModified(path string) {
	d.root.markModified(d.prefix + path)
}

// CastErrors returns the recorded cast failures in first-seen order.
func (d *Document) CastErrors() schema.CastErrors {
	root := d.root
	out := make(schema.CastErrors, 0, len(root.castOrder))
	for _, p := range root.castOrder {
		out = append(out, root.castErrs[p])
	}
	return out
}

// ApplyTimestamps writes the managed timestamp fields: both on new documents,
// the update field on modified ones. Managed writes never change the
// versioning state. The returned func puts the fields and their modified
// flags back as they were.
func (d *Document) ApplyTimestamps(now time.Time) (undo func()) {
	undo = func() {}
	ts := d.schema.Options().Timestamps
	if ts == nil || d.root != d {
		return undo
	}
	var fields []string
	if d.isNew {
		if v, ok := lookup(d.data, split(ts.CreatedAt)); !ok || v == nil {
			fields = append(fields, ts.CreatedAt)
		}
		fields = append(fields, ts.UpdatedAt)
	} else if len(d.modOrder) > 0 {
		fields = append(fields, ts.UpdatedAt)
	}
	if len(fields) == 0 {
		return undo
	}

	undo = d.snapshot(fields)
	for _, f := range fields {
		d.setManaged(f, now)
	}
	return undo
}

// snapshot records the top-level fields holding paths and the modified
// flags of paths.
func (d *Document) snapshot(paths []string) func() {
	type saved struct {
		v       any
		present bool
	}
	tops := make(map[string]saved)
	flags := make(map[string]bool, len(paths))
	for _, p := range paths {
		top := split(p)[0]
		if _, ok := tops[top]; !ok {
			v, present := d.data[top]
			tops[top] = saved{v: cloneValue(v), present: present}
		}
		flags[p] = d.modified[p]
	}
	order := len(d.modOrder)
	return func() {
		for top, s := range tops {
			if s.present {
				d.data[top] = s.v
			} else {
				delete(d.data, top)
			}
		}
		for p, was := range flags {
			if !was {
				delete(d.modified, p)
			}
		}
		d.modOrder = d.modOrder[:order]
	}
}

func (d *Document) setManaged(path string, v any) {
	assignIn(d.data, split(path), v)
	if !d.modified[path] {
		d.modified[path] = true
		d.modOrder = append(d.modOrder, path)
	}
}

func (d *Document) markModified(full string) {
	if !d.modified[full] {
		d.modified[full] = true
		d.modOrder = append(d.modOrder, full)
	}
	if d.state != Clean || d.skipsVersion(full) {
		return
	}
	if p := d.schema.Path(full); p != nil && p.Managed {
		return
	}
	d.state = Dirty
}

// skipsVersion matches full against skipVersioning entries on dotted segment
// boundaries. Array indices are ignored.
func (d *Document) skipsVersion(full string) bool {
	skip := d.schema.Options().SkipVersioning
	if len(skip) == 0 {
		return false
	}
	segs := split(full)
	kept := segs[:0:0]
	for _, s := range segs {
		if _, err := strconv.Atoi(s); err != nil {
			kept = append(kept, s)
		}
	}
	path := strings.Join(kept, ".")
	for _, s := range skip {
		if path == s || strings.HasPrefix(path, s+".") {
			return true
		}
	}
	return false
}

func (d *Document) recordCastErr(ce *schema.CastError) {
	if _, seen := d.castErrs[ce.Path]; seen {
		return
	}
	d.castErrs[ce.Path] = ce
	d.castOrder = append(d.castOrder, ce.Path)
}

// clearCastErr drops recorded failures at full and below it.
func (d *Document) clearCastErr(full string) {
	if len(d.castOrder) == 0 {
		return
	}
	kept := d.castOrder[:0]
	for _, p := range d.castOrder {
		if p == full || strings.HasPrefix(p, full+".") {
			delete(d.castErrs, p)
			continue
		}
		kept = append(kept, p)
	}
	d.castOrder = kept
}

// finishSave advances the revision after a persisted write.
func (d *Document) finishSave(increment bool) {
	opts := d.schema.Options()
	if opts.Versioning {
		if increment {
			d.revision++
		}
		d.data[opts.VersionKey] = float64(d.revision)
		d.state = Clean
	}
	d.isNew = false
	d.modified = make(map[string]bool)
	d.modOrder = nil
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	}
	return 0, false
}
