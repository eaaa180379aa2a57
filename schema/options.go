package schema

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Strict is the unknown-path policy applied on assignment.
type Strict int

const (
	// StrictOn silently drops assignments to undeclared paths.
	StrictOn Strict = iota
	// StrictOff stores undeclared paths untyped.
	StrictOff
	// StrictThrow rejects assignments to undeclared paths.
	StrictThrow
)

func (s Strict) String() string {
	switch s {
	case StrictOff:
		return "false"
	case StrictThrow:
		return "throw"
	default:
		return "true"
	}
}

// ParseStrict accepts true, false and "throw".
func ParseStrict(v any) (Strict, error) {
	switch t := v.(type) {
	case Strict:
		return t, nil
	case bool:
		if t {
			return StrictOn, nil
		}
		return StrictOff, nil
	case string:
		switch t {
		case "throw":
			return StrictThrow, nil
		case "true", "":
			return StrictOn, nil
		case "false":
			return StrictOff, nil
		}
	}
	return StrictOn, fmt.Errorf("%w: strict must be true, false or \"throw\", got %v", ErrInvalidDeclaration, v)
}

func (s *Strict) UnmarshalYAML(n *yaml.Node) error {
	var v any
	if err := n.Decode(&v); err != nil {
		return err
	}
	parsed, err := ParseStrict(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TransformOptions configures one export mode (toObject or toJSON).
type TransformOptions struct {
	// Getters applies schema getters to stored values.
	Getters bool `yaml:"getters"`

	// Virtuals includes virtual paths, including the id virtual.
	Virtuals bool `yaml:"virtuals"`

	// Minimize overrides the schema level minimize option when set.
	Minimize *bool `yaml:"minimize"`

	// VersionKey includes the revision field.
	VersionKey bool `yaml:"versionKey"`

	// Transform post-processes the projected object.
	Transform func(ret map[string]any) map[string]any `yaml:"-"`
}

// Capped marks the backing collection as fixed size. Passed through to the store.
type Capped struct {
	Size        int64 `yaml:"size"`
	Max         int64 `yaml:"max"`
	AutoIndexID *bool `yaml:"autoIndexId"`
}

// WriteConcern holds write acknowledgement requirements. Passed through to the store.
type WriteConcern struct {
	W        string        `yaml:"w"`
	J        bool          `yaml:"j"`
	WTimeout time.Duration `yaml:"wtimeout"`
}

// Timestamps enables managed creation and update time fields.
type Timestamps struct {
	CreatedAt string `yaml:"createdAt"`
	UpdatedAt string `yaml:"updatedAt"`
}

// Options holds every schema level toggle.
type Options struct {
	// AutoIndex builds index directives when a model is registered.
	AutoIndex bool `yaml:"autoIndex"`

	// BufferCommands is owned by the connection collaborator.
	BufferCommands bool `yaml:"bufferCommands"`

	Capped *Capped `yaml:"capped"`

	// Collection overrides the default collection (table) name.
	Collection string `yaml:"collection"`

	// EmitIndexErrors raises one signal per failed index directive.
	EmitIndexErrors bool `yaml:"emitIndexErrors"`

	// ID registers the read-only id virtual.
	ID bool `yaml:"id"`

	// IDField injects an ObjectId _id path into root schemas.
	IDField bool `yaml:"_id"`

	// Minimize prunes empty objects from exports.
	Minimize bool `yaml:"minimize"`

	// Read is the default read preference, passed through to the query collaborator.
	Read string `yaml:"read"`

	WriteConcern *WriteConcern `yaml:"writeConcern"`

	// Safe is the legacy spelling of WriteConcern.
	Safe *WriteConcern `yaml:"safe"`

	ShardKey []string `yaml:"shardKey"`

	Strict Strict `yaml:"strict"`

	ToJSON   TransformOptions `yaml:"toJSON"`
	ToObject TransformOptions `yaml:"toObject"`

	// TypeKey is the marker key that makes an object a type declaration.
	// Default: "type"
	TypeKey string `yaml:"typeKey"`

	ValidateBeforeSave bool `yaml:"validateBeforeSave"`

	// Versioning enables the revision field named by VersionKey.
	Versioning bool `yaml:"versioning"`

	// VersionKey is the revision field name.
	// Default: "__v"
	VersionKey string `yaml:"versionKey"`

	// SkipVersioning lists paths whose mutation does not bump the revision.
	SkipVersioning []string `yaml:"skipVersioning"`

	Timestamps *Timestamps `yaml:"timestamps"`

	// Registry resolves type tokens. A fresh registry of built-ins is used when nil.
	Registry *Registry `yaml:"-"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		AutoIndex:          true,
		BufferCommands:     true,
		ID:                 true,
		IDField:            true,
		Minimize:           true,
		Strict:             StrictOn,
		ToJSON:             TransformOptions{VersionKey: true},
		ToObject:           TransformOptions{VersionKey: true},
		TypeKey:            "type",
		ValidateBeforeSave: true,
		Versioning:         true,
		VersionKey:         "__v",
	}
}

// validate normalizes empty values to their defaults.
func (o *Options) validate() {
	if o.TypeKey == "" {
		o.TypeKey = "type"
	}
	if o.VersionKey == "" {
		o.VersionKey = "__v"
	}
	if o.WriteConcern == nil && o.Safe != nil {
		o.WriteConcern = o.Safe
	}
	if o.Timestamps != nil {
		ts := *o.Timestamps
		if ts.CreatedAt == "" {
			ts.CreatedAt = "createdAt"
		}
		if ts.UpdatedAt == "" {
			ts.UpdatedAt = "updatedAt"
		}
		o.Timestamps = &ts
	}
	if o.Registry == nil {
		o.Registry = NewRegistry()
	}
}

// UnmarshalYAML decodes options on top of the receiver's current values, so
// decoding into DefaultOptions() keeps defaults for absent keys. It also
// accepts the shorthand forms versionKey: false, timestamps: true and capped: <size>.
func (o *Options) UnmarshalYAML(n *yaml.Node) error {
	type plain Options
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: options must be a mapping", ErrInvalidDeclaration)
	}
	rest := &yaml.Node{Kind: yaml.MappingNode, Tag: n.Tag}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		switch {
		case key.Value == "versionKey" && val.ShortTag() == "!!bool":
			on, _ := strconv.ParseBool(val.Value)
			o.Versioning = on
			continue
		case key.Value == "timestamps" && val.ShortTag() == "!!bool":
			on, _ := strconv.ParseBool(val.Value)
			if on {
				o.Timestamps = &Timestamps{}
			} else {
				o.Timestamps = nil
			}
			continue
		case key.Value == "capped" && val.ShortTag() == "!!int":
			size, err := strconv.ParseInt(val.Value, 10, 64)
			if err != nil {
				return fmt.Errorf("capped: %w", err)
			}
			o.Capped = &Capped{Size: size}
			continue
		}
		rest.Content = append(rest.Content, key, val)
	}
	return rest.Decode((*plain)(o))
}
