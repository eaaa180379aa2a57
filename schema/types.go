package schema

import (
	"sort"
	"strings"
)

// Type is a declared type token.
type Type string

const (
	String       Type = "String"
	Number       Type = "Number"
	Date         Type = "Date"
	Buffer       Type = "Buffer"
	Boolean      Type = "Boolean"
	Mixed        Type = "Mixed"
	ObjectIDType Type = "ObjectId"
	Array        Type = "Array"
	UUID         Type = "UUID"
)

var typeAliases = map[string]Type{
	"string":     String,
	"text":       String,
	"number":     Number,
	"numeric":    Number,
	"date":       Date,
	"timestamp":  Date,
	"buffer":     Buffer,
	"binary":     Buffer,
	"boolean":    Boolean,
	"bool":       Boolean,
	"mixed":      Mixed,
	"generic":    Mixed,
	"objectid":   ObjectIDType,
	"identifier": ObjectIDType,
	"array":      Array,
	"list":       Array,
	"uuid":       UUID,
}

// normalizeType maps aliases and case variants to the canonical token.
// Unknown names are returned unchanged so custom registrations resolve.
func normalizeType(name string) Type {
	if t, ok := typeAliases[strings.ToLower(name)]; ok {
		return t
	}
	return Type(name)
}

// E is a single ordered declaration entry.
type E struct {
	Key   string
	Value any
}

// D is an ordered declaration. Use D instead of map[string]any whenever
// declaration order matters (index directives, validation order, projections).
type D []E

// Get returns the value stored under key.
func (d D) Get(key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Map converts d into an unordered map. Later keys win.
func (d D) Map() map[string]any {
	m := make(map[string]any, len(d))
	for _, e := range d {
		m[e.Key] = e.Value
	}
	return m
}

// Entries returns the ordered entries of an object-like value: D, map[string]any
// (keys sorted) or map[string]Type. ok is false for any other value.
func Entries(v any) (D, bool) {
	switch t := v.(type) {
	case D:
		return t, true
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := make(D, 0, len(keys))
		for _, k := range keys {
			d = append(d, E{Key: k, Value: t[k]})
		}
		return d, true
	case map[string]Type:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := make(D, 0, len(keys))
		for _, k := range keys {
			d = append(d, E{Key: k, Value: t[k]})
		}
		return d, true
	}
	return nil, false
}
