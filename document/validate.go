package document

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jacentio/docshape/schema"
)

// Validate checks every declared path and returns a *schema.ValidationError
// with one entry per invalid path, in declaration order. A recorded cast
// failure takes precedence over the path's validators. Failures recorded for
// paths outside the schema table follow in first-seen order.
func (d *Document) Validate() error {
	root := d.root
	reported := make(map[string]bool)
	var errs []schema.PathError
	d.validate(&errs, reported)
	for _, p := range root.castOrder {
		if !reported[p] {
			errs = append(errs, root.castErrs[p])
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &schema.ValidationError{Errors: errs}
}

func (d *Document) validate(errs *[]schema.PathError, reported map[string]bool) {
	reg := d.schema.Registry()
	for _, p := range d.schema.Paths() {
		full := d.prefix + p.Name
		if ce := d.root.castErrFor(full, !p.IsDocumentArray()); ce != nil {
			*errs = append(*errs, ce)
			reported[ce.Path] = true
			continue
		}
		v, _ := lookup(d.data, split(p.Name))
		if ve := validatePath(reg, full, p, v); ve != nil {
			*errs = append(*errs, ve)
			continue
		}
		if !p.IsDocumentArray() {
			continue
		}
		items, _ := v.([]any)
		for _, e := range items {
			if sub, ok := e.(*Document); ok {
				sub.validate(errs, reported)
			}
		}
	}
}

// castErrFor returns the first recorded failure at full, or below it when
// deep is set.
func (d *Document) castErrFor(full string, deep bool) *schema.CastError {
	for _, p := range d.castOrder {
		if p == full || (deep && strings.HasPrefix(p, full+".")) {
			return d.castErrs[p]
		}
	}
	return nil
}

func validatePath(reg *schema.Registry, full string, p *schema.Path, v any) *schema.ValidatorError {
	if p.Options.Required && !p.CheckRequired(v) {
		msg := p.Options.RequiredMessage
		if msg == "" {
			msg = fmt.Sprintf("path `%s` is required", full)
		}
		return &schema.ValidatorError{Path: full, Rule: "required", Message: expand(msg, full, v), Value: v}
	}
	if v == nil {
		return nil
	}
	if p.IsArray() {
		items, _ := v.([]any)
		if p.Elem != nil {
			for i, e := range items {
				if e == nil {
					continue
				}
				elemPath := full + "." + strconv.Itoa(i)
				if ve := checkValue(reg, elemPath, p.Elem, e); ve != nil {
					return ve
				}
			}
		}
	} else if err := reg.Validate(p.Type, v); err != nil {
		return &schema.ValidatorError{Path: full, Rule: string(p.Type), Message: err.Error(), Value: v}
	}
	for _, rule := range p.Validators {
		if err := rule.Check(v); err != nil {
			return ruleError(full, rule, v, err)
		}
	}
	return nil
}

// checkValue validates one scalar array element against the element path.
func checkValue(reg *schema.Registry, full string, p *schema.Path, v any) *schema.ValidatorError {
	if err := reg.Validate(p.Type, v); err != nil {
		return &schema.ValidatorError{Path: full, Rule: string(p.Type), Message: err.Error(), Value: v}
	}
	for _, rule := range p.Validators {
		if err := rule.Check(v); err != nil {
			return ruleError(full, rule, v, err)
		}
	}
	return nil
}

func ruleError(full string, rule schema.Validator, v any, err error) *schema.ValidatorError {
	msg := rule.Message
	switch {
	case msg != "":
	case errors.Is(err, schema.ErrValidatorFailed):
		msg = fmt.Sprintf("validator failed for path `%s` with value `%v`", full, v)
	default:
		msg = err.Error()
	}
	return &schema.ValidatorError{Path: full, Rule: rule.Rule, Message: expand(msg, full, v), Value: v}
}

// expand fills the {PATH} and {VALUE} placeholders of a message template.
func expand(msg, path string, v any) string {
	if !strings.Contains(msg, "{") {
		return msg
	}
	return strings.NewReplacer("{PATH}", path, "{VALUE}", fmt.Sprint(v)).Replace(msg)
}
