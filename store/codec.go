package store

import (
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jacentio/docshape/schema"
)

// dateLayout is fixed width so that stored dates sort lexicographically.
const dateLayout = "2006-01-02T15:04:05.000000000Z"

// plain converts document values to types attributevalue encodes the way
// they are read back: ObjectIDs and UUIDs as strings, dates as UTC strings.
func plain(v any) any {
	switch t := v.(type) {
	case schema.ObjectID:
		return t.Hex()
	case time.Time:
		return t.UTC().Format(dateLayout)
	case uuid.UUID:
		return t.String()
	case schema.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	}
	return v
}

// marshalValue encodes a single document value as an attribute value.
func marshalValue(v any) (types.AttributeValue, error) {
	return attributevalue.Marshal(plain(v))
}

// unmarshalTree decodes an item into a raw tree, dropping store managed
// attributes.
func unmarshalTree(item map[string]types.AttributeValue) (map[string]any, error) {
	clean := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		if k == TTLAttribute || k == UniqueAttribute {
			continue
		}
		clean[k] = v
	}
	out := map[string]any{}
	if err := attributevalue.UnmarshalMap(clean, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// valueAt reads a dotted path from a plain tree.
func valueAt(tree map[string]any, path string) (any, bool) {
	var cur any = tree
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// uniqueValue is the canonical string form of a unique key value.
func uniqueValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
