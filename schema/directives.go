package schema

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// applyDirectives interprets every key of an explicit type record except the
// type key. Built-in rules become validators in declaration order; required
// always runs first.
func (s *Schema) applyDirectives(p *Path, rec D) error {
	o := &p.Options
	var validators []Validator
	for _, e := range rec {
		if e.Key == s.opts.TypeKey {
			continue
		}
		var err error
		switch e.Key {
		case "required":
			err = applyRequired(p, e.Value)
		case "default":
			o.Default = e.Value
			o.HasDefault = true
		case "index":
			o.Index = e.Value
			_, err = fieldIndexOptions(e.Value)
		case "unique":
			o.Unique, err = asBool(e.Value)
		case "sparse":
			o.Sparse, err = asBool(e.Value)
		case "expires":
			o.Expires, err = parseExpires(e.Value)
		case "get":
			err = appendTransforms(e.Value, func(fn func(any) any) { p.Getters = append(p.Getters, fn) })
		case "set":
			err = appendTransforms(e.Value, func(fn func(any) any) { p.Setters = append(p.Setters, fn) })
		case "validate":
			var vs []Validator
			vs, err = parseValidators(e.Value)
			validators = append(validators, vs...)
		case "enum":
			o.Enum, err = s.castEnum(p, e.Value)
			if err == nil {
				validators = append(validators, enumValidator(p.Name, o.Enum))
			}
		case "min", "max":
			var bound any
			bound, err = s.castBound(p, e.Value)
			if err == nil {
				if e.Key == "min" {
					o.Min = bound
				} else {
					o.Max = bound
				}
				validators = append(validators, boundValidator(p.Name, e.Key, bound))
			}
		case "match":
			o.Match, err = asRegexp(e.Value)
			if err == nil {
				validators = append(validators, matchValidator(p.Name, o.Match))
			}
		case "minlength", "maxlength":
			var n int
			n, err = asInt(e.Value)
			if err == nil {
				if e.Key == "minlength" {
					o.MinLength = &n
				} else {
					o.MaxLength = &n
				}
				validators = append(validators, lengthValidator(p.Name, e.Key, n))
			}
		case "lowercase":
			o.Lowercase, err = asBool(e.Value)
		case "uppercase":
			o.Uppercase, err = asBool(e.Value)
		case "trim":
			o.Trim, err = asBool(e.Value)
		default:
			if o.Extra == nil {
				o.Extra = make(map[string]any)
			}
			o.Extra[e.Key] = e.Value
		}
		if err != nil {
			return fmt.Errorf("%w: directive %q on path %q: %v", ErrInvalidDeclaration, e.Key, p.Name, err)
		}
	}
	p.Validators = append(p.Validators, validators...)
	if e := p.Elem; e != nil {
		// String transforms of a scalar array run on its elements.
		e.Options.Lowercase = e.Options.Lowercase || o.Lowercase
		e.Options.Uppercase = e.Options.Uppercase || o.Uppercase
		e.Options.Trim = e.Options.Trim || o.Trim
	}
	return nil
}

func applyRequired(p *Path, v any) error {
	switch t := v.(type) {
	case bool:
		p.Options.Required = t
	case string:
		p.Options.Required = true
		p.Options.RequiredMessage = t
	case []any:
		if len(t) == 0 {
			return errors.New("empty required directive")
		}
		on, err := asBool(t[0])
		if err != nil {
			return err
		}
		p.Options.Required = on
		if len(t) > 1 {
			p.Options.RequiredMessage = fmt.Sprint(t[1])
		}
	default:
		return fmt.Errorf("expected bool or message, got %T", v)
	}
	return nil
}

// CheckRequired reports whether v satisfies the required rule for p.
func (p *Path) CheckRequired(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return p.Type != String || t != ""
	case []any:
		return !p.IsArray() || len(t) > 0
	case ObjectID:
		return !t.IsZero()
	}
	return true
}

// castEnum casts enum members to the path's element type so they compare
// equal to cast values.
func (s *Schema) castEnum(p *Path, v any) ([]any, error) {
	list, err := asList(v)
	if err != nil {
		return nil, err
	}
	t := p.Type
	if p.Elem != nil {
		t = p.Elem.Type
	}
	if t == Mixed || t == Array {
		return list, nil
	}
	for i, e := range list {
		if list[i], err = s.opts.Registry.Cast(p.Name, t, e); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *Schema) castBound(p *Path, v any) (any, error) {
	switch p.Type {
	case Number, Date:
		out, err := s.opts.Registry.Cast(p.Name, p.Type, v)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("min/max only apply to %s and %s paths", Number, Date)
}

func enumValidator(path string, values []any) Validator {
	return Validator{
		Rule: "enum",
		Check: func(v any) error {
			return eachElem(v, func(e any) error {
				if e == nil {
					return nil
				}
				for _, allowed := range values {
					if reflect.DeepEqual(e, allowed) {
						return nil
					}
				}
				return fmt.Errorf("`%v` is not a valid enum value for path `%s`", e, path)
			})
		},
	}
}

func boundValidator(path, rule string, bound any) Validator {
	return Validator{
		Rule: rule,
		Check: func(v any) error {
			c, ok := compare(v, bound)
			if !ok {
				return nil
			}
			if rule == "min" && c < 0 {
				return fmt.Errorf("path `%s` (%v) is less than minimum allowed value (%v)", path, v, bound)
			}
			if rule == "max" && c > 0 {
				return fmt.Errorf("path `%s` (%v) is more than maximum allowed value (%v)", path, v, bound)
			}
			return nil
		},
	}
}

func matchValidator(path string, re *regexp.Regexp) Validator {
	return Validator{
		Rule: "regexp",
		Check: func(v any) error {
			return eachElem(v, func(e any) error {
				s, ok := e.(string)
				if !ok || s == "" || re.MatchString(s) {
					return nil
				}
				return fmt.Errorf("path `%s` is invalid (%s)", path, s)
			})
		},
	}
}

func lengthValidator(path, rule string, n int) Validator {
	return Validator{
		Rule: rule,
		Check: func(v any) error {
			s, ok := v.(string)
			if !ok {
				return nil
			}
			l := utf8.RuneCountInString(s)
			if rule == "minlength" && l < n {
				return fmt.Errorf("path `%s` (`%s`) is shorter than the minimum allowed length (%d)", path, s, n)
			}
			if rule == "maxlength" && l > n {
				return fmt.Errorf("path `%s` (`%s`) is longer than the maximum allowed length (%d)", path, s, n)
			}
			return nil
		},
	}
}

func parseValidators(v any) ([]Validator, error) {
	switch t := v.(type) {
	case Validator:
		if t.Check == nil {
			return nil, errors.New("validator has no check")
		}
		if t.Rule == "" {
			t.Rule = "user defined"
		}
		return []Validator{t}, nil
	case *Validator:
		return parseValidators(*t)
	case func(any) bool:
		return []Validator{{Rule: "user defined", Check: func(x any) error {
			if t(x) {
				return nil
			}
			return ErrValidatorFailed
		}}}, nil
	case func(any) error:
		return []Validator{{Rule: "user defined", Check: t}}, nil
	case []Validator:
		var out []Validator
		for _, vv := range t {
			parsed, err := parseValidators(vv)
			if err != nil {
				return nil, err
			}
			out = append(out, parsed...)
		}
		return out, nil
	case []any:
		var out []Validator
		for _, vv := range t {
			parsed, err := parseValidators(vv)
			if err != nil {
				return nil, err
			}
			out = append(out, parsed...)
		}
		return out, nil
	}
	if rec, ok := Entries(v); ok {
		fn, _ := rec.Get("validator")
		parsed, err := parseValidators(fn)
		if err != nil {
			return nil, err
		}
		msg, hasMsg := rec.Get("message")
		if !hasMsg {
			msg, hasMsg = rec.Get("msg")
		}
		if hasMsg {
			for i := range parsed {
				parsed[i].Message = fmt.Sprint(msg)
			}
		}
		return parsed, nil
	}
	return nil, fmt.Errorf("unsupported validator %T", v)
}

func appendTransforms(v any, add func(func(any) any)) error {
	switch t := v.(type) {
	case Getter:
		add(t)
	case Setter:
		add(t)
	case func(any) any:
		add(t)
	case []any:
		for _, e := range t {
			if err := appendTransforms(e, add); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("expected func(any) any, got %T", v)
	}
	return nil
}

func parseExpires(v any) (int64, error) {
	switch t := v.(type) {
	case time.Duration:
		return int64(t / time.Second), nil
	case string:
		if d, err := time.ParseDuration(t); err == nil {
			return int64(d / time.Second), nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid expiry %q", t)
		}
		return n, nil
	}
	if f, ok := toFloat(v); ok {
		return int64(f), nil
	}
	return 0, fmt.Errorf("invalid expiry %v", v)
}

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

func asInt(v any) (int, error) {
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	return int(f), nil
}

func asList(v any) ([]any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func asRegexp(v any) (*regexp.Regexp, error) {
	switch t := v.(type) {
	case *regexp.Regexp:
		return t, nil
	case string:
		return regexp.Compile(t)
	}
	return nil, fmt.Errorf("expected pattern, got %T", v)
}

func eachElem(v any, fn func(any) error) error {
	if list, ok := v.([]any); ok {
		for _, e := range list {
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	}
	return fn(v)
}

// compare orders two numbers or two times.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}
