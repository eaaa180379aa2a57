package store_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docshape/store"
)

func TestIsDeleted(t *testing.T) {
	tests := []struct {
		name     string
		item     map[string]types.AttributeValue
		expected bool
	}{
		{
			name:     "no TTL attribute",
			item:     map[string]types.AttributeValue{},
			expected: false,
		},
		{
			name: "TTL in past",
			item: map[string]types.AttributeValue{
				"ttl": &types.AttributeValueMemberN{Value: "1000000000"}, // 2001
			},
			expected: true,
		},
		{
			name: "TTL in future",
			item: map[string]types.AttributeValue{
				"ttl": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Unix()+3600)},
			},
			expected: false,
		},
		{
			name: "TTL not a number",
			item: map[string]types.AttributeValue{
				"ttl": &types.AttributeValueMemberS{Value: "1000000000"},
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := store.IsDeleted(tt.item)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestTTLFilterExpr(t *testing.T) {
	expr := store.TTLFilterExpr()
	if !strings.Contains(expr, "#ttl") {
		t.Error("expected TTL filter to reference #ttl")
	}
	if !strings.Contains(expr, ":now") {
		t.Error("expected TTL filter to reference :now")
	}
}

func TestTTLFilterNames(t *testing.T) {
	names := store.TTLFilterNames()
	if names["#ttl"] != store.TTLAttribute {
		t.Errorf("expected #ttl -> ttl, got %q", names["#ttl"])
	}
}

func TestTTLFilterValues(t *testing.T) {
	values := store.TTLFilterValues()
	if _, ok := values[":now"]; !ok {
		t.Error("expected :now value")
	}
}

func TestActiveCondition(t *testing.T) {
	cond := store.ActiveCondition()
	if !strings.HasPrefix(cond, "attribute_exists(#id)") {
		t.Errorf("expected condition to check #id, got %q", cond)
	}
	if !strings.Contains(cond, store.TTLFilterExpr()) {
		t.Errorf("expected condition to include the TTL filter, got %q", cond)
	}
}

func BenchmarkIsDeleted(b *testing.B) {
	item := map[string]types.AttributeValue{
		"ttl": &types.AttributeValueMemberN{Value: "1000000000"},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.IsDeleted(item)
	}
}
