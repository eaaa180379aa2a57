package store_test

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docshape/store"
)

type item = map[string]types.AttributeValue

// fakeDynamo is an in-memory API that understands the expressions the
// store writes.
type fakeDynamo struct {
	mu     sync.Mutex
	tables map[string]*fakeTable
	calls  []string
}

type fakeTable struct {
	items    map[string]item
	gsis     []types.GlobalSecondaryIndexDescription
	ttl      string
	created  bool
	keySpec  []types.KeySchemaElement
	attrDefs []types.AttributeDefinition
}

var _ store.API = (*fakeDynamo)(nil)

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: make(map[string]*fakeTable)}
}

func (f *fakeDynamo) table(name string) *fakeTable {
	t, ok := f.tables[name]
	if !ok {
		t = &fakeTable{items: make(map[string]item)}
		f.tables[name] = t
	}
	return t
}

func (f *fakeDynamo) record(op string) {
	f.calls = append(f.calls, op)
}

// Calls returns the operations received so far.
func (f *fakeDynamo) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Item returns a stored item by its key value (_id or pk).
func (f *fakeDynamo) Item(table, key string) item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyItem(f.table(table).items[key])
}

// Len returns the number of items in table.
func (f *fakeDynamo) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.table(table).items)
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetItem")
	return &dynamodb.GetItemOutput{Item: copyItem(f.table(aws.ToString(in.TableName)).items[keyOf(in.Key)])}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PutItem")
	t := f.table(aws.ToString(in.TableName))
	k := keyOf(in.Item)
	if !holds(aws.ToString(in.ConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[k]) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("conditional check failed")}
	}
	t.items[k] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateItem")
	t := f.table(aws.ToString(in.TableName))
	k := keyOf(in.Key)
	cur := t.items[k]
	if !holds(aws.ToString(in.ConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues, cur) {
		e := &types.ConditionalCheckFailedException{Message: aws.String("conditional check failed")}
		if in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
			e.Item = copyItem(cur)
		}
		return nil, e
	}
	t.items[k] = applyUpdate(cur, in.Key, aws.ToString(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("TransactWriteItems")

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i].Code = aws.String("None")
		switch {
		case ti.Put != nil:
			cur := f.table(aws.ToString(ti.Put.TableName)).items[keyOf(ti.Put.Item)]
			if !holds(aws.ToString(ti.Put.ConditionExpression), ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues, cur) {
				reasons[i].Code = aws.String("ConditionalCheckFailed")
				failed = true
			}
		case ti.Update != nil:
			cur := f.table(aws.ToString(ti.Update.TableName)).items[keyOf(ti.Update.Key)]
			if !holds(aws.ToString(ti.Update.ConditionExpression), ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues, cur) {
				reasons[i].Code = aws.String("ConditionalCheckFailed")
				if ti.Update.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
					reasons[i].Item = copyItem(cur)
				}
				failed = true
			}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.table(aws.ToString(ti.Put.TableName)).items[keyOf(ti.Put.Item)] = copyItem(ti.Put.Item)
		case ti.Update != nil:
			t := f.table(aws.ToString(ti.Update.TableName))
			k := keyOf(ti.Update.Key)
			t.items[k] = applyUpdate(t.items[k], ti.Update.Key, aws.ToString(ti.Update.UpdateExpression),
				ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues)
		case ti.Delete != nil:
			delete(f.table(aws.ToString(ti.Delete.TableName)).items, keyOf(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Query")
	t := f.table(aws.ToString(in.TableName))
	if !t.hasIndex(aws.ToString(in.IndexName)) {
		return nil, &types.ResourceNotFoundException{Message: aws.String("index not found")}
	}

	attr := in.ExpressionAttributeNames["#key"]
	want := avString(in.ExpressionAttributeValues[":key"])
	now, _ := numberOf(in.ExpressionAttributeValues[":now"])

	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &dynamodb.QueryOutput{}
	for _, k := range keys {
		it := t.items[k]
		if avString(it[attr]) != want {
			continue
		}
		if ttl, ok := numberOf(it[store.TTLAttribute]); ok && ttl <= now {
			continue
		}
		out.Items = append(out.Items, copyItem(it))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateTable")
	t := f.table(aws.ToString(in.TableName))
	if t.created {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}
	t.created = true
	t.keySpec = in.KeySchema
	t.attrDefs = in.AttributeDefinitions
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeTable")
	t, ok := f.tables[aws.ToString(in.TableName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:              in.TableName,
		TableStatus:            types.TableStatusActive,
		KeySchema:              t.keySpec,
		AttributeDefinitions:   t.attrDefs,
		GlobalSecondaryIndexes: append([]types.GlobalSecondaryIndexDescription(nil), t.gsis...),
	}}, nil
}

func (f *fakeDynamo) UpdateTable(_ context.Context, in *dynamodb.UpdateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateTable")
	t, ok := f.tables[aws.ToString(in.TableName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	t.attrDefs = append(t.attrDefs, in.AttributeDefinitions...)
	for _, u := range in.GlobalSecondaryIndexUpdates {
		if u.Create == nil {
			continue
		}
		t.gsis = append(t.gsis, types.GlobalSecondaryIndexDescription{
			IndexName:   u.Create.IndexName,
			KeySchema:   u.Create.KeySchema,
			Projection:  u.Create.Projection,
			IndexStatus: types.IndexStatusActive,
		})
	}
	return &dynamodb.UpdateTableOutput{}, nil
}

func (f *fakeDynamo) DescribeTimeToLive(_ context.Context, in *dynamodb.DescribeTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTimeToLiveOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeTimeToLive")
	t, ok := f.tables[aws.ToString(in.TableName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	desc := &types.TimeToLiveDescription{TimeToLiveStatus: types.TimeToLiveStatusDisabled}
	if t.ttl != "" {
		desc = &types.TimeToLiveDescription{AttributeName: aws.String(t.ttl), TimeToLiveStatus: types.TimeToLiveStatusEnabled}
	}
	return &dynamodb.DescribeTimeToLiveOutput{TimeToLiveDescription: desc}, nil
}

func (f *fakeDynamo) UpdateTimeToLive(_ context.Context, in *dynamodb.UpdateTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateTimeToLive")
	t, ok := f.tables[aws.ToString(in.TableName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	t.ttl = aws.ToString(in.TimeToLiveSpecification.AttributeName)
	return &dynamodb.UpdateTimeToLiveOutput{}, nil
}

func (t *fakeTable) hasIndex(name string) bool {
	if name == "" {
		return true
	}
	for _, g := range t.gsis {
		if aws.ToString(g.IndexName) == name {
			return true
		}
	}
	return false
}

// holds evaluates the condition expressions written by the store.
func holds(cond string, names map[string]string, values map[string]types.AttributeValue, cur item) bool {
	if rest, ok := strings.CutPrefix(cond, "#version = :expected_version AND "); ok {
		if cur == nil || avString(cur[names["#version"]]) != avString(values[":expected_version"]) {
			return false
		}
		cond = rest
	}
	now, _ := numberOf(values[":now"])
	ttl, hasTTL := numberOf(cur[store.TTLAttribute])
	switch cond {
	case "":
		return true
	case "attribute_not_exists(#id)":
		return cur == nil
	case "attribute_not_exists(pk) OR #ttl <= :now":
		return cur == nil || (hasTTL && ttl <= now)
	case "attribute_exists(pk) AND attribute_not_exists(#ttl)":
		return cur != nil && !hasTTL
	case store.ActiveCondition():
		return cur != nil && (!hasTTL || ttl > now)
	}
	panic("fake dynamo: unsupported condition " + cond)
}

// applyUpdate applies "SET a = :v, b = b + :one REMOVE c" style expressions.
func applyUpdate(cur item, key item, expr string, names map[string]string, values map[string]types.AttributeValue) item {
	out := copyItem(cur)
	if out == nil {
		out = copyItem(key)
	}
	var removePart string
	if i := strings.Index(expr, "REMOVE "); i >= 0 {
		removePart = expr[i+len("REMOVE "):]
		expr = strings.TrimSpace(expr[:i])
	}
	if setPart := strings.TrimPrefix(expr, "SET "); setPart != "" {
		for _, clause := range strings.Split(setPart, ", ") {
			lhs, rhs, _ := strings.Cut(clause, " = ")
			attr := names[lhs]
			if a, b, ok := strings.Cut(rhs, " + "); ok {
				x, _ := numberOf(out[names[a]])
				y, _ := numberOf(values[b])
				out[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(x+y, 10)}
				continue
			}
			out[attr] = values[rhs]
		}
	}
	if removePart != "" {
		for _, n := range strings.Split(removePart, ", ") {
			delete(out, names[n])
		}
	}
	return out
}

func keyOf(it item) string {
	if pk, ok := it["pk"]; ok {
		return avString(pk)
	}
	return avString(it["_id"])
}

func avString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return string(v.Value)
	}
	return ""
}

func numberOf(av types.AttributeValue) (int64, bool) {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	return v, err == nil
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

// createTable registers an existing table keyed by _id.
func (f *fakeDynamo) createTable(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.table(name)
	t.created = true
	t.keySpec = []types.KeySchemaElement{{AttributeName: aws.String("_id"), KeyType: types.KeyTypeHash}}
}
