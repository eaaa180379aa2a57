package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docshape/document"
	"github.com/jacentio/docshape/internal/naming"
	"github.com/jacentio/docshape/schema"
)

// Model binds a schema to a table.
type Model struct {
	store     *Store
	name      string
	table     string
	schema    *schema.Schema
	versioner document.Versioner

	uniques []uniqueIndex
	expiry  *expiry

	built     chan error
	builtOnce sync.Once
}

type uniqueIndex struct {
	field  string
	paths  []string
	sparse bool
}

// expiry derives the TTL attribute from a date path.
type expiry struct {
	path  string
	after int64
}

// constraint is one unique value claimed by a document.
type constraint struct {
	field string
	value string
	pk    string
}

func newModel(s *Store, name string, sch *schema.Schema) (*Model, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty model name", schema.ErrInvalidDeclaration)
	}
	if sch.Path("_id") == nil {
		return nil, fmt.Errorf("%w: model %s", ErrNoID, name)
	}
	table := sch.Options().Collection
	if table == "" {
		table = name
	}
	m := &Model{
		store:  s,
		name:   name,
		table:  table,
		schema: sch,
		built:  make(chan error, 1),
	}
	for _, d := range sch.Indexes() {
		if d.Options.ExpireAfterSeconds > 0 && m.expiry == nil && len(d.Keys) == 1 {
			m.expiry = &expiry{path: d.Keys[0].Path, after: d.Options.ExpireAfterSeconds}
		}
		if d.Options.Unique {
			m.uniques = append(m.uniques, uniqueIndex{
				field:  strings.Join(d.Paths(), ","),
				paths:  d.Paths(),
				sparse: d.Options.Sparse,
			})
		}
	}
	return m, nil
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Table returns the DynamoDB table holding the model's documents.
func (m *Model) Table() string { return m.table }

// Schema returns the compiled schema.
func (m *Model) Schema() *schema.Schema { return m.schema }

// IndexesBuilt delivers the result of the first index build of the model:
// nil or an *IndexBuildErrors. Exactly one value is ever sent.
func (m *Model) IndexesBuilt() <-chan error { return m.built }

func (m *Model) finishBuild(err error) {
	m.builtOnce.Do(func() { m.built <- err })
}

// New creates an unsaved document of the model.
func (m *Model) New(obj any, opts ...document.Option) (*document.Document, error) {
	return document.New(m.schema, obj, opts...)
}

// Hydrate loads a stored item into a clean document.
func (m *Model) Hydrate(item map[string]types.AttributeValue) (*document.Document, error) {
	tree, err := unmarshalTree(item)
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s item: %w", m.name, err)
	}
	return document.Hydrate(m.schema, tree)
}

// Save persists doc. New documents are inserted; loaded documents write
// their modified top-level fields under a revision check. On any error the
// document keeps its state and may be saved again.
func (m *Model) Save(ctx context.Context, doc *document.Document) (err error) {
	start := time.Now()
	defer func() { m.store.metrics.ObserveOperation(m.name, "save", start, err) }()

	if doc.Schema() != m.schema {
		return fmt.Errorf("%w: document does not belong to model %s", ErrUnknownModel, m.name)
	}
	if m.schema.Options().ValidateBeforeSave {
		if verr := doc.Validate(); verr != nil {
			m.store.metrics.ValidationFailure(m.name)
			return verr
		}
	}

	now := m.store.now()
	undo := doc.ApplyTimestamps(now)
	plan := m.versioner.Plan(doc)
	if plan.Insert {
		err = m.insert(ctx, doc, plan, now)
	} else {
		err = m.update(ctx, doc, plan, now)
	}
	if err != nil {
		undo()
		if errors.Is(err, document.ErrVersionConflict) {
			m.store.metrics.VersionConflict(m.name)
		}
		m.store.logger.Debug().Err(err).
			Str("model", m.name).
			Str("id", doc.ID()).
			Msg("save failed")
		return err
	}

	m.versioner.Commit(doc, plan)
	return nil
}

func (m *Model) encode(doc *document.Document) (map[string]any, map[string]types.AttributeValue, error) {
	if doc.Raw("_id") == nil {
		return nil, nil, fmt.Errorf("%w: model %s", ErrNoID, m.name)
	}
	tree := plain(doc.Project(document.ModeStorage, nil)).(map[string]any)
	item, err := attributevalue.MarshalMap(tree)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal %s %s: %w", m.name, doc.ID(), err)
	}
	return tree, item, nil
}

// insert writes a new document, claiming its unique values in the same
// transaction.
func (m *Model) insert(ctx context.Context, doc *document.Document, plan document.WritePlan, now time.Time) error {
	tree, item, err := m.encode(doc)
	if err != nil {
		return err
	}
	if plan.Field != "" {
		item[plan.Field] = numberValue(0)
	}
	if ttl, ok := m.expiryOf(doc); ok {
		item[TTLAttribute] = numberValue(ttl)
	}

	cons := m.constraints(tree)
	if len(cons) == 0 {
		_, err = m.store.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(m.table),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_not_exists(#id)"),
			ExpressionAttributeNames: map[string]string{"#id": "_id"},
		})
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: %s %s", ErrAlreadyExists, m.name, doc.ID())
		}
		return err
	}

	claimed := make(map[string]types.AttributeValue, len(cons))
	items := make([]types.TransactWriteItem, 0, len(cons)+1)
	fields := make([]string, 0, len(cons))
	for _, c := range cons {
		claimed[c.field] = &types.AttributeValueMemberS{Value: c.pk}
		items = append(items, m.claim(c, doc.ID(), now))
		fields = append(fields, c.field)
	}
	item[UniqueAttribute] = &types.AttributeValueMemberM{Value: claimed}

	entityIndex := len(items)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:                aws.String(m.table),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_not_exists(#id)"),
			ExpressionAttributeNames: map[string]string{"#id": "_id"},
		},
	})

	_, err = m.store.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return m.mapTransactionError(err, doc, entityIndex, true, fields)
}

// update writes the modified top-level fields of a loaded document.
func (m *Model) update(ctx context.Context, doc *document.Document, plan document.WritePlan, now time.Time) error {
	fields := m.changedFields(doc)
	if len(fields) == 0 && !plan.Increment {
		return nil
	}
	tree, item, err := m.encode(doc)
	if err != nil {
		return err
	}

	expr := newUpdateExpr(now)
	for _, f := range fields {
		if av, ok := item[f]; ok {
			expr.set(f, av)
		} else {
			expr.remove(f)
		}
	}
	if m.expiry != nil && doc.IsModified(m.expiry.path) {
		if ttl, ok := m.expiryOf(doc); ok {
			expr.set(TTLAttribute, numberValue(ttl))
		} else {
			expr.remove(TTLAttribute)
		}
	}
	if plan.Check {
		expr.names["#version"] = plan.Field
		expr.values[":expected_version"] = numberValue(plan.Expected)
		expr.condition = "#version = :expected_version AND " + expr.condition
	}
	if plan.Increment {
		expr.names["#version"] = plan.Field
		expr.values[":one"] = numberValue(1)
		expr.sets = append(expr.sets, "#version = #version + :one")
	}

	uniqueItems, fieldsByIndex, err := m.reclaim(ctx, doc, tree, expr, now)
	if err != nil {
		return err
	}
	if len(uniqueItems) == 0 {
		_, err = m.store.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                           aws.String(m.table),
			Key:                                 map[string]types.AttributeValue{"_id": item["_id"]},
			UpdateExpression:                    aws.String(expr.String()),
			ConditionExpression:                 aws.String(expr.condition),
			ExpressionAttributeNames:            expr.names,
			ExpressionAttributeValues:           expr.values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		})
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return m.conditionFailed(doc, condErr.Item)
		}
		return err
	}

	entityIndex := len(uniqueItems)
	items := append(uniqueItems, types.TransactWriteItem{
		Update: &types.Update{
			TableName:                           aws.String(m.table),
			Key:                                 map[string]types.AttributeValue{"_id": item["_id"]},
			UpdateExpression:                    aws.String(expr.String()),
			ConditionExpression:                 aws.String(expr.condition),
			ExpressionAttributeNames:            expr.names,
			ExpressionAttributeValues:           expr.values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	})
	_, err = m.store.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return m.mapTransactionError(err, doc, entityIndex, false, fieldsByIndex)
}

// reclaim moves the constraint records of modified unique paths to their
// new values. The old claims are read from the stored item.
func (m *Model) reclaim(ctx context.Context, doc *document.Document, tree map[string]any, expr *updateExpr, now time.Time) ([]types.TransactWriteItem, []string, error) {
	var changed []uniqueIndex
	for _, u := range m.uniques {
		for _, p := range u.paths {
			if doc.IsModified(p) {
				changed = append(changed, u)
				break
			}
		}
	}
	if len(changed) == 0 {
		return nil, nil, nil
	}

	key, err := m.key(doc.Raw("_id"))
	if err != nil {
		return nil, nil, err
	}
	current, err := m.store.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(m.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, nil, err
	}
	if current.Item == nil || isExpired(current.Item, now.Unix()) {
		return nil, nil, fmt.Errorf("%w: %s %s", ErrNotFound, m.name, doc.ID())
	}

	claimed := make(map[string]types.AttributeValue)
	if prev, ok := current.Item[UniqueAttribute].(*types.AttributeValueMemberM); ok {
		for k, v := range prev.Value {
			claimed[k] = v
		}
	}
	next := make(map[string]constraint)
	for _, c := range m.constraints(tree) {
		next[c.field] = c
	}

	var items []types.TransactWriteItem
	var fields []string
	for _, u := range changed {
		var oldPK string
		if s, ok := claimed[u.field].(*types.AttributeValueMemberS); ok {
			oldPK = s.Value
		}
		c, has := next[u.field]
		if has && c.pk == oldPK {
			continue
		}
		if oldPK != "" {
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(m.store.config.UniqueTable),
					Key:       constraintKey(oldPK),
				},
			})
			fields = append(fields, u.field)
			delete(claimed, u.field)
		}
		if has {
			items = append(items, m.claim(c, doc.ID(), now))
			fields = append(fields, u.field)
			claimed[u.field] = &types.AttributeValueMemberS{Value: c.pk}
		}
	}
	if len(items) > 0 {
		expr.set(UniqueAttribute, &types.AttributeValueMemberM{Value: claimed})
	}
	return items, fields, nil
}

// claim builds the put of a constraint record. Records released by a soft
// delete are taken over once their TTL has passed.
func (m *Model) claim(c constraint, id string, now time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(m.store.config.UniqueTable),
			Item: map[string]types.AttributeValue{
				"pk":          &types.AttributeValueMemberS{Value: c.pk},
				"sk":          &types.AttributeValueMemberS{Value: "CONSTRAINT"},
				"table":       &types.AttributeValueMemberS{Value: m.table},
				"field_name":  &types.AttributeValueMemberS{Value: c.field},
				"field_value": &types.AttributeValueMemberS{Value: c.value},
				"doc_id":      &types.AttributeValueMemberS{Value: id},
			},
			// Fails if another document already holds this unique value
			ConditionExpression:       aws.String("attribute_not_exists(pk) OR #ttl <= :now"),
			ExpressionAttributeNames:  map[string]string{"#ttl": TTLAttribute},
			ExpressionAttributeValues: map[string]types.AttributeValue{":now": numberValue(now.Unix())},
		},
	}
}

// constraints computes the unique values of a plain document tree in
// directive order. Sparse indexes skip documents without a value.
func (m *Model) constraints(tree map[string]any) []constraint {
	var out []constraint
	for _, u := range m.uniques {
		vals := make([]any, len(u.paths))
		present := false
		for i, p := range u.paths {
			if v, ok := valueAt(tree, p); ok && v != nil {
				vals[i] = v
				present = true
			}
		}
		if !present && u.sparse {
			continue
		}
		var value string
		if len(vals) == 1 {
			value = uniqueValue(vals[0])
		} else {
			value = uniqueValue(vals)
		}
		out = append(out, constraint{
			field: u.field,
			value: value,
			pk:    naming.UniqueConstraintPK(m.table, u.field, value),
		})
	}
	return out
}

// changedFields returns the modified top-level fields in modification
// order, without _id and the revision field.
func (m *Model) changedFields(doc *document.Document) []string {
	opts := m.schema.Options()
	seen := make(map[string]bool)
	var out []string
	for _, p := range doc.ModifiedPaths() {
		f := p
		if i := strings.IndexByte(p, '.'); i >= 0 {
			f = p[:i]
		}
		if f == "_id" || (opts.Versioning && f == opts.VersionKey) || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func (m *Model) expiryOf(doc *document.Document) (int64, bool) {
	if m.expiry == nil {
		return 0, false
	}
	t, ok := doc.Raw(m.expiry.path).(time.Time)
	if !ok {
		return 0, false
	}
	return t.Unix() + m.expiry.after, true
}

func (m *Model) conditionFailed(doc *document.Document, old map[string]types.AttributeValue) error {
	if len(old) == 0 || isExpired(old, m.store.now().Unix()) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, m.name, doc.ID())
	}
	return m.versioner.Conflict(doc, m.name)
}

// mapTransactionError maps DynamoDB transaction errors of Save.
// entityIndex is the index of the document write; fields names the unique
// field of every item before it.
func (m *Model) mapTransactionError(err error, doc *document.Document, entityIndex int, insert bool, fields []string) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
				continue
			}
			if i == entityIndex {
				if insert {
					return fmt.Errorf("%w: %s %s", ErrAlreadyExists, m.name, doc.ID())
				}
				return m.conditionFailed(doc, reason.Item)
			}
			if i < len(fields) {
				return fmt.Errorf("%w: %s.%s", ErrDuplicateValue, m.name, fields[i])
			}
			return ErrDuplicateValue
		}
	}

	return err
}

// FindByID loads the document with the given _id. The id is cast to the
// declared _id type first.
func (m *Model) FindByID(ctx context.Context, id any) (doc *document.Document, err error) {
	start := time.Now()
	defer func() { m.store.metrics.ObserveOperation(m.name, "find", start, err) }()

	key, err := m.key(id)
	if err != nil {
		return nil, err
	}
	result, err := m.store.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(m.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil || isExpired(result.Item, m.store.now().Unix()) {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, m.name, id)
	}
	return m.Hydrate(result.Item)
}

// FindBy returns the documents whose path equals value, using the global
// secondary index built for an index directive led by path.
func (m *Model) FindBy(ctx context.Context, path string, value any) (docs []*document.Document, err error) {
	start := time.Now()
	defer func() { m.store.metrics.ObserveOperation(m.name, "query", start, err) }()

	d, ok := m.queryIndex(path)
	if !ok {
		return nil, fmt.Errorf("%w: no index on %s.%s", ErrUnsupportedIndex, m.name, path)
	}
	p := m.schema.Path(path)
	if p == nil {
		return nil, fmt.Errorf("%w: %s.%s is not declared", ErrUnsupportedIndex, m.name, path)
	}
	v, err := m.schema.Registry().Cast(path, p.Type, value)
	if err != nil {
		return nil, err
	}
	av, err := marshalValue(v)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(m.table),
		IndexName:                 aws.String(indexName(d)),
		KeyConditionExpression:    aws.String("#key = :key"),
		FilterExpression:          aws.String(TTLFilterExpr()),
		ExpressionAttributeNames:  mergeExprNames(TTLFilterNames(), map[string]string{"#key": path}),
		ExpressionAttributeValues: mergeExprValues(ttlFilterValues(m.store.now()), map[string]types.AttributeValue{":key": av}),
	}

	// Paginate through all results
	paginator := dynamodb.NewQueryPaginator(m.store.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			doc, err := m.Hydrate(raw)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (m *Model) queryIndex(path string) (schema.IndexDirective, bool) {
	for _, d := range m.schema.Indexes() {
		if isGlobalIndex(d) && d.Keys[0].Path == path {
			return d, true
		}
	}
	return schema.IndexDirective{}, false
}

// Delete soft deletes doc by setting its TTL to now.
func (m *Model) Delete(ctx context.Context, doc *document.Document) error {
	return m.DeleteByID(ctx, doc.Raw("_id"))
}

// DeleteByID soft deletes the document with the given _id. The revision
// is incremented so concurrent saves fail.
func (m *Model) DeleteByID(ctx context.Context, id any) (err error) {
	start := time.Now()
	defer func() { m.store.metrics.ObserveOperation(m.name, "delete", start, err) }()

	key, err := m.key(id)
	if err != nil {
		return err
	}
	opts := m.schema.Options()
	update := "SET #ttl = :now"
	names := map[string]string{"#id": "_id", "#ttl": TTLAttribute}
	values := map[string]types.AttributeValue{":now": numberValue(m.store.now().Unix())}
	if opts.Versioning {
		update += ", #version = #version + :one"
		names["#version"] = opts.VersionKey
		values[":one"] = numberValue(1)
	}

	_, err = m.store.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(m.table),
		Key:                                 key,
		UpdateExpression:                    aws.String(update),
		ConditionExpression:                 aws.String(ActiveCondition()),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if len(condErr.Item) == 0 {
			return fmt.Errorf("%w: %s %v", ErrNotFound, m.name, id)
		}
		return fmt.Errorf("%w: %s %v", ErrAlreadyDeleted, m.name, id)
	}
	if err == nil {
		m.store.logger.Info().Str("model", m.name).Str("id", fmt.Sprint(plain(id))).Msg("document deleted")
	}
	return err
}

// key builds the primary key for id cast to the declared _id type.
func (m *Model) key(id any) (map[string]types.AttributeValue, error) {
	p := m.schema.Path("_id")
	v, err := m.schema.Registry().Cast("_id", p.Type, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: model %s", ErrNoID, m.name)
	}
	av, err := marshalValue(v)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{"_id": av}, nil
}

// updateExpr accumulates the clauses of an UpdateItem expression. The
// condition starts as ActiveCondition.
type updateExpr struct {
	sets      []string
	removes   []string
	condition string
	names     map[string]string
	values    map[string]types.AttributeValue
	n         int
}

func newUpdateExpr(now time.Time) *updateExpr {
	return &updateExpr{
		condition: ActiveCondition(),
		names:     map[string]string{"#id": "_id", "#ttl": TTLAttribute},
		values:    map[string]types.AttributeValue{":now": numberValue(now.Unix())},
	}
}

func (u *updateExpr) set(attr string, v types.AttributeValue) {
	nameKey := fmt.Sprintf("#attr%d", u.n)
	valueKey := fmt.Sprintf(":val%d", u.n)
	u.n++
	u.names[nameKey] = attr
	u.values[valueKey] = v
	u.sets = append(u.sets, fmt.Sprintf("%s = %s", nameKey, valueKey))
}

func (u *updateExpr) remove(attr string) {
	nameKey := fmt.Sprintf("#attr%d", u.n)
	u.n++
	u.names[nameKey] = attr
	u.removes = append(u.removes, nameKey)
}

func (u *updateExpr) String() string {
	var parts []string
	if len(u.sets) > 0 {
		parts = append(parts, "SET "+strings.Join(u.sets, ", "))
	}
	if len(u.removes) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(u.removes, ", "))
	}
	return strings.Join(parts, " ")
}

func numberValue(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
