package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// TTLAttribute holds the epoch second at which an item expires. Soft
	// deletes set it to now; expiring indexes set it from a date path.
	TTLAttribute = "ttl"

	// UniqueAttribute maps each unique path of an item to the partition key
	// of its constraint record.
	UniqueAttribute = "_unique"
)

// IsDeleted checks if an item has an expired TTL (is marked for deletion).
func IsDeleted(item map[string]types.AttributeValue) bool {
	return isExpired(item, time.Now().Unix())
}

func isExpired(item map[string]types.AttributeValue, now int64) bool {
	ttl, ok := ttlOf(item)
	return ok && ttl <= now
}

func ttlOf(item map[string]types.AttributeValue) (int64, bool) {
	ttlAttr, exists := item[TTLAttribute]
	if !exists {
		return 0, false
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return ttl, true
}

// TTLFilterExpr returns the filter expression to exclude deleted items.
// Use this when building custom queries that need TTL filtering.
func TTLFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

// TTLFilterNames returns expression attribute names for TTL filter.
// Use with TTLFilterExpr() when building custom queries.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": TTLAttribute}
}

// TTLFilterValues returns expression attribute values for TTL filter.
// Use with TTLFilterExpr() when building custom queries.
func TTLFilterValues() map[string]types.AttributeValue {
	return ttlFilterValues(time.Now())
}

func ttlFilterValues(now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(now.Unix(), 10),
		},
	}
}

// ActiveCondition returns the condition expression matching an existing,
// not deleted document. It uses #id, #ttl and :now.
func ActiveCondition() string {
	return "attribute_exists(#id) AND (" + TTLFilterExpr() + ")"
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
