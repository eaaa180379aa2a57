package schema

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// CastFunc coerces a raw value to the representation of a type.
type CastFunc func(v any) (any, error)

// ValidateFunc checks an already cast value.
type ValidateFunc func(v any) error

// TypeDef pairs a caster with a validator under a type token.
type TypeDef struct {
	Name     Type
	Cast     CastFunc
	Validate ValidateFunc
}

// Registry maps type tokens to caster and validator pairs.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[Type]TypeDef
}

// NewRegistry returns a registry holding the built-in types.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[Type]TypeDef)}
	for _, def := range builtinTypes() {
		r.defs[def.Name] = def
	}
	return r
}

// Register adds or replaces a type.
func (r *Registry) Register(def TypeDef) error {
	if def.Name == "" {
		return fmt.Errorf("%w: empty type name", ErrInvalidDeclaration)
	}
	if def.Cast == nil {
		return fmt.Errorf("%w: type %s has no cast function", ErrInvalidDeclaration, def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	return nil
}

// Lookup resolves a token, accepting aliases and case variants of built-ins.
func (r *Registry) Lookup(t Type) (TypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.defs[t]; ok {
		return def, true
	}
	def, ok := r.defs[normalizeType(string(t))]
	return def, ok
}

// Cast coerces v for the path. The returned error is always a *CastError.
func (r *Registry) Cast(path string, t Type, v any) (any, error) {
	def, ok := r.Lookup(t)
	if !ok {
		return nil, &CastError{Path: path, Type: t, Value: v, Reason: ErrUnknownType}
	}
	out, err := def.Cast(v)
	if err != nil {
		return nil, &CastError{Path: path, Type: def.Name, Value: v, Reason: err}
	}
	return out, nil
}

// Validate runs the type validator, if any.
func (r *Registry) Validate(t Type, v any) error {
	def, ok := r.Lookup(t)
	if !ok || def.Validate == nil {
		return nil
	}
	return def.Validate(v)
}

var errNotConvertible = errors.New("value is not convertible")

func builtinTypes() []TypeDef {
	return []TypeDef{
		{Name: String, Cast: castString},
		{Name: Number, Cast: castNumber, Validate: validateNumber},
		{Name: Date, Cast: castDate},
		{Name: Buffer, Cast: castBuffer},
		{Name: Boolean, Cast: castBoolean},
		{Name: Mixed, Cast: func(v any) (any, error) { return v, nil }},
		{Name: ObjectIDType, Cast: castObjectID},
		{Name: Array, Cast: castArray},
		{Name: UUID, Cast: castUUID},
	}
}

func castString(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case ObjectID:
		return t.Hex(), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return nil, errNotConvertible
}

func castNumber(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errNotConvertible
		}
		return f, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, errNotConvertible
		}
		return f, nil
	}
	if f, ok := toFloat(v); ok {
		return f, nil
	}
	return nil, errNotConvertible
}

func validateNumber(v any) error {
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return errors.New("number is not finite")
	}
	return nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func castDate(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		return nil, errNotConvertible
	}
	if f, ok := toFloat(v); ok {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	return nil, errNotConvertible
}

func castBuffer(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	case ObjectID:
		return t[:], nil
	case []any:
		out := make([]byte, len(t))
		for i, e := range t {
			f, ok := toFloat(e)
			if !ok || f < 0 || f > 255 || f != math.Trunc(f) {
				return nil, errNotConvertible
			}
			out[i] = byte(f)
		}
		return out, nil
	}
	return nil, errNotConvertible
}

func castBoolean(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off", "":
			return false, nil
		}
		return nil, errNotConvertible
	}
	if f, ok := toFloat(v); ok {
		return f != 0, nil
	}
	return nil, errNotConvertible
}

func castObjectID(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case ObjectID:
		return t, nil
	case *ObjectID:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case [12]byte:
		return ObjectID(t), nil
	case []byte:
		if len(t) != 12 {
			return nil, errNotConvertible
		}
		var id ObjectID
		copy(id[:], t)
		return id, nil
	case string:
		id, err := ObjectIDFromHex(t)
		if err != nil {
			return nil, err
		}
		return id, nil
	case fmt.Stringer:
		id, err := ObjectIDFromHex(t.String())
		if err != nil {
			return nil, err
		}
		return id, nil
	}
	return nil, errNotConvertible
}

// castArray only normalizes the container; elements are cast by the caller
// against the declared element type.
func castArray(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if list, ok := v.([]any); ok {
		return list, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if _, isBytes := v.([]byte); !isBytes {
			out := make([]any, rv.Len())
			for i := range out {
				out[i] = rv.Index(i).Interface()
			}
			return out, nil
		}
	}
	return []any{v}, nil
}

func castUUID(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		return t, nil
	case string:
		return uuid.Parse(t)
	case []byte:
		return uuid.FromBytes(t)
	}
	return nil, errNotConvertible
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	}
	return 0, false
}
