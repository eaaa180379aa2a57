package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docshape/internal/naming"
	"github.com/jacentio/docshape/schema"
)

// Index kinds reported in IndexBuildError and metrics.
const (
	KindGlobal = "gsi"
	KindUnique = "unique"
	KindExpire = "ttl"
)

// EnsureIndexes builds every index directive of m in declaration order:
//
//   - plain and hashed directives become global secondary indexes (at most
//     two top-level keys) and are waited on until ACTIVE
//   - unique directives additionally need the constraints table
//   - the expiring directive enables TTL on the table
//
// Every directive is attempted once. The result is nil or an
// *IndexBuildErrors, and is also delivered through m.IndexesBuilt if it is
// the first build of m.
func (s *Store) EnsureIndexes(ctx context.Context, m *Model) error {
	emit := m.schema.Options().EmitIndexErrors
	ttlUsed := false

	var failed []*IndexBuildError
	for _, d := range m.schema.Indexes() {
		kind, err := s.ensureIndex(ctx, m, d, &ttlUsed)
		s.metrics.IndexBuild(m.name, kind, err)
		name := indexName(d)
		if err == nil {
			s.logger.Info().
				Str("model", m.name).
				Str("index", name).
				Str("kind", kind).
				Msg("index ready")
			continue
		}

		buildErr := &IndexBuildError{Model: m.name, Index: name, Kind: kind, Err: err}
		failed = append(failed, buildErr)
		s.logger.Warn().Err(err).
			Str("model", m.name).
			Str("index", name).
			Str("kind", kind).
			Msg("index build failed")
		if emit && s.onIndexError != nil {
			s.onIndexError(buildErr)
		}
	}

	var result error
	if len(failed) > 0 {
		result = &IndexBuildErrors{Model: m.name, Errors: failed}
	}
	m.finishBuild(result)
	return result
}

func (s *Store) ensureIndex(ctx context.Context, m *Model, d schema.IndexDirective, ttlUsed *bool) (string, error) {
	switch {
	case d.Options.ExpireAfterSeconds > 0:
		if *ttlUsed || len(d.Keys) != 1 {
			return KindExpire, fmt.Errorf("%w: a table supports one single-path expiring index", ErrUnsupportedIndex)
		}
		*ttlUsed = true
		return KindExpire, s.ensureTTL(ctx, m.table)
	case d.Options.Unique:
		if err := s.ensureUniqueTable(ctx); err != nil {
			return KindUnique, err
		}
		return KindUnique, s.ensureGlobalIndex(ctx, m, d)
	default:
		return KindGlobal, s.ensureGlobalIndex(ctx, m, d)
	}
}

// indexName is the explicit name of d or the one derived from its keys.
func indexName(d schema.IndexDirective) string {
	if d.Options.Name != "" {
		return d.Options.Name
	}
	keys := make([]naming.IndexKey, len(d.Keys))
	for i, k := range d.Keys {
		v := k.Kind
		if v == "" {
			v = strconv.Itoa(k.Direction)
		}
		keys[i] = naming.IndexKey{Path: k.Path, Value: v}
	}
	return naming.IndexName(keys)
}

// isGlobalIndex reports whether d is served by a global secondary index.
func isGlobalIndex(d schema.IndexDirective) bool {
	if d.Options.ExpireAfterSeconds > 0 || len(d.Keys) == 0 || len(d.Keys) > 2 {
		return false
	}
	for _, k := range d.Keys {
		if k.Kind != "" && k.Kind != "hashed" {
			return false
		}
		if strings.Contains(k.Path, ".") {
			return false
		}
	}
	return true
}

func (s *Store) ensureGlobalIndex(ctx context.Context, m *Model, d schema.IndexDirective) error {
	if !isGlobalIndex(d) {
		return fmt.Errorf("%w: %s needs one or two top-level keys without a special kind", ErrUnsupportedIndex, d)
	}

	defs := make([]types.AttributeDefinition, 0, len(d.Keys))
	keySchema := make([]types.KeySchemaElement, 0, len(d.Keys))
	for i, k := range d.Keys {
		attrType, err := keyAttributeType(m.schema.Path(k.Path))
		if err != nil {
			return err
		}
		keyType := types.KeyTypeHash
		if i == 1 {
			keyType = types.KeyTypeRange
		}
		defs = append(defs, types.AttributeDefinition{AttributeName: aws.String(k.Path), AttributeType: attrType})
		keySchema = append(keySchema, types.KeySchemaElement{AttributeName: aws.String(k.Path), KeyType: keyType})
	}

	name := indexName(d)
	status, err := s.indexStatus(ctx, m.table, name)
	if err != nil {
		return err
	}
	if status == "" {
		_, err := s.client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
			TableName:            aws.String(m.table),
			AttributeDefinitions: defs,
			GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
				Create: &types.CreateGlobalSecondaryIndexAction{
					IndexName:  aws.String(name),
					KeySchema:  keySchema,
					Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
				},
			}},
		})
		if err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
		s.logger.Info().Str("table", m.table).Str("index", name).Msg("creating index")
	}
	return s.waitIndexActive(ctx, m.table, name)
}

// indexStatus returns the status of a global secondary index, or "" when
// the table has no index of that name.
func (s *Store) indexStatus(ctx context.Context, table, name string) (types.IndexStatus, error) {
	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		return "", fmt.Errorf("describe table %s: %w", table, err)
	}
	if out.Table == nil {
		return "", nil
	}
	for _, gsi := range out.Table.GlobalSecondaryIndexes {
		if aws.ToString(gsi.IndexName) == name {
			return gsi.IndexStatus, nil
		}
	}
	return "", nil
}

func (s *Store) waitIndexActive(ctx context.Context, table, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.IndexTimeout)
	defer cancel()

	ticker := time.NewTicker(s.config.IndexPollInterval)
	defer ticker.Stop()

	for {
		status, err := s.indexStatus(ctx, table, name)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrIndexTimeout, name)
			}
			return err
		}
		switch status {
		case types.IndexStatusActive:
			return nil
		case "", types.IndexStatusDeleting:
			return fmt.Errorf("index %s on %s is gone", name, table)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrIndexTimeout, name)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ensureUniqueTable creates the constraints table with TTL enabled.
func (s *Store) ensureUniqueTable(ctx context.Context) error {
	err := s.createTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.config.UniqueTable),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
	})
	if err != nil {
		return err
	}
	return s.ensureTTL(ctx, s.config.UniqueTable)
}

// ensureTTL enables DynamoDB TTL on TTLAttribute of table.
func (s *Store) ensureTTL(ctx context.Context, table string) error {
	out, err := s.client.DescribeTimeToLive(ctx, &dynamodb.DescribeTimeToLiveInput{TableName: aws.String(table)})
	if err != nil {
		return fmt.Errorf("describe ttl %s: %w", table, err)
	}
	if desc := out.TimeToLiveDescription; desc != nil && aws.ToString(desc.AttributeName) == TTLAttribute {
		switch desc.TimeToLiveStatus {
		case types.TimeToLiveStatusEnabled, types.TimeToLiveStatusEnabling:
			return nil
		}
	}

	_, err = s.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(table),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(TTLAttribute),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("enable ttl %s: %w", table, err)
	}
	s.logger.Info().Str("table", table).Msg("enabled ttl")
	return nil
}
