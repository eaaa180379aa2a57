package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/jacentio/docshape/metrics"
	"github.com/jacentio/docshape/schema"
)

// Store persists documents of registered models in DynamoDB.
type Store struct {
	client       API
	config       Config
	registry     *Registry
	logger       zerolog.Logger
	metrics      *metrics.Collector
	now          func() time.Time
	onIndexError func(error)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics records operations on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

// WithRegistry shares a model registry between stores.
func WithRegistry(r *Registry) Option {
	return func(s *Store) { s.registry = r }
}

// WithClock replaces time.Now for timestamps and soft deletes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIndexErrorHandler receives every failed index directive of models
// whose schema sets emitIndexErrors. The error is an *IndexBuildError.
func WithIndexErrorHandler(fn func(error)) Option {
	return func(s *Store) { s.onIndexError = fn }
}

// New creates a new Store instance.
func New(client API, config Config, opts ...Option) *Store {
	config.validate()
	s := &Store{
		client:   client,
		config:   config,
		registry: NewRegistry(),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the model registry.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Config returns the normalized configuration.
func (s *Store) Config() Config {
	return s.config
}

// Model compiles a model for sch and registers it under name. The table is
// the schema's collection option, or name. With autoIndex set, the indexes
// are built in the background; see [Model.IndexesBuilt].
func (s *Store) Model(ctx context.Context, name string, sch *schema.Schema) (*Model, error) {
	m, err := newModel(s, name, sch)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Register(m); err != nil {
		return nil, err
	}
	if sch.Options().AutoIndex {
		go func() {
			// The build result is delivered through IndexesBuilt.
			_ = s.EnsureIndexes(context.WithoutCancel(ctx), m)
		}()
	}
	return m, nil
}

// EnsureCollection creates the model's table with a hash key on _id, waits
// until it exists and enables TTL so soft deleted documents are swept. An
// existing table is left unchanged.
func (s *Store) EnsureCollection(ctx context.Context, m *Model) error {
	attrType, err := keyAttributeType(m.schema.Path("_id"))
	if err != nil {
		return fmt.Errorf("table %s: %w", m.table, err)
	}
	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(m.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("_id"), AttributeType: attrType},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("_id"), KeyType: types.KeyTypeHash},
		},
	}
	if s.config.EnableStreams {
		input.StreamSpecification = &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		}
	}
	if err := s.createTable(ctx, input); err != nil {
		return err
	}
	return s.ensureTTL(ctx, m.table)
}

func (s *Store) createTable(ctx context.Context, input *dynamodb.CreateTableInput) error {
	table := aws.ToString(input.TableName)
	_, err := s.client.CreateTable(ctx, input)
	var inUse *types.ResourceInUseException
	switch {
	case errors.As(err, &inUse):
		s.logger.Debug().Str("table", table).Msg("table already exists")
	case err != nil:
		return fmt.Errorf("create table %s: %w", table, err)
	default:
		s.logger.Info().Str("table", table).Msg("created table")
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, s.config.IndexTimeout); err != nil {
		return fmt.Errorf("wait for table %s: %w", table, err)
	}
	return nil
}

// ReleaseUniqueConstraints expires the constraint records with the given
// partition keys at ttl, freeing their values for other documents.
func (s *Store) ReleaseUniqueConstraints(ctx context.Context, pks []string, ttl int64) error {
	var errs []error
	for _, pk := range pks {
		if err := s.setUniqueConstraintTTL(ctx, pk, ttl); err != nil {
			s.logger.Warn().Err(err).Str("pk", pk).Msg("failed to release unique constraint")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// setUniqueConstraintTTL sets TTL on a unique constraint record.
func (s *Store) setUniqueConstraintTTL(ctx context.Context, pk string, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.UniqueTable),
		Key:                 constraintKey(pk),
		UpdateExpression:    aws.String("SET #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_exists(pk) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": TTLAttribute,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": numberValue(ttl),
		},
	})

	// Ignore condition failure - already released or gone
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

func constraintKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: "CONSTRAINT"},
	}
}

// keyAttributeType maps a path type to the scalar attribute type of a key.
func keyAttributeType(p *schema.Path) (types.ScalarAttributeType, error) {
	if p == nil {
		return "", fmt.Errorf("%w: path is not declared", ErrUnsupportedIndex)
	}
	switch p.Type {
	case schema.String, schema.ObjectIDType, schema.UUID, schema.Date:
		return types.ScalarAttributeTypeS, nil
	case schema.Number:
		return types.ScalarAttributeTypeN, nil
	case schema.Buffer:
		return types.ScalarAttributeTypeB, nil
	}
	return "", fmt.Errorf("%w: %s path %s cannot be a key", ErrUnsupportedIndex, p.Type, p.Name)
}
