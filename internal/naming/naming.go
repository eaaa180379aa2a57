// Package naming derives DynamoDB resource names and keys from model metadata.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// MaxIndexName is the longest global secondary index name DynamoDB accepts.
const MaxIndexName = 255

// IndexKey is one component of an index name.
type IndexKey struct {
	Path  string
	Value string
}

// IndexName builds the conventional name of an index from its keys, e.g.
// "name_1_age_-1". Characters DynamoDB rejects are replaced with '_'. Names
// longer than MaxIndexName are cut and suffixed with a hash of the full name.
func IndexName(keys []IndexKey) string {
	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		parts = append(parts, k.Path, k.Value)
	}
	name := sanitize(strings.Join(parts, "_"))
	for len(name) < 3 {
		name += "_"
	}
	if len(name) <= MaxIndexName {
		return name
	}
	h := sha256.Sum256([]byte(name))
	suffix := hex.EncodeToString(h[:8])
	return name[:MaxIndexName-len(suffix)-1] + "_" + suffix
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_' || r == '.' || r == '-':
			return r
		}
		return '_'
	}, s)
}

// UniqueConstraintPK computes a hash-distributed partition key for a unique
// value of field within table.
func UniqueConstraintPK(table, field, value string) string {
	data := fmt.Sprintf("%s#%s#%s", table, field, value)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16])
}
