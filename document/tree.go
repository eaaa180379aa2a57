package document

import (
	"strconv"
	"strings"

	"github.com/jacentio/docshape/schema"
)

func split(path string) []string { return strings.Split(path, ".") }

// lookup walks a tree of maps, lists and embedded documents.
func lookup(node any, segs []string) (any, bool) {
	for _, seg := range segs {
		if sub, ok := node.(*Document); ok {
			node = sub.data
		}
		switch t := node.(type) {
		case map[string]any:
			v, ok := t[seg]
			if !ok {
				return nil, false
			}
			node = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			node = t[i]
		default:
			return nil, false
		}
	}
	return node, true
}

// assignIn stores v at segs, creating intermediate objects. Intermediate
// scalars are replaced.
func assignIn(m map[string]any, segs []string, v any) {
	node := m
	for _, seg := range segs[:len(segs)-1] {
		switch t := node[seg].(type) {
		case map[string]any:
			node = t
		case *Document:
			node = t.data
		default:
			next := make(map[string]any)
			node[seg] = next
			node = next
		}
	}
	node[segs[len(segs)-1]] = v
}

// cloneValue deep copies maps and lists. Embedded documents become plain
// maps of their stored values.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case schema.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = cloneValue(e.Value)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	case *Document:
		return cloneValue(t.data)
	}
	return v
}

// minimize drops empty objects recursively. List elements are kept.
func minimize(m map[string]any) {
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			minimize(t)
			if len(t) == 0 {
				delete(m, k)
			}
		case []any:
			for _, e := range t {
				if sub, ok := e.(map[string]any); ok {
					minimize(sub)
				}
			}
		}
	}
}
