// Package stream turns DynamoDB Streams records of model tables into
// document changes.
//
// The handler is meant to run as an AWS Lambda function subscribed to the
// streams of every model table (see store.Config.EnableStreams):
//
//	h := stream.NewHandler(s, stream.SubscriberFunc(onChange), logger)
//	lambda.Start(h.HandleChanges)
//
// When a document disappears, either by a soft delete or by its expiring
// index, the unique values it held are released.
package stream

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/jacentio/docshape/document"
	"github.com/jacentio/docshape/store"
)

// Op is the kind of change of a document.
type Op string

const (
	// OpInsert is a newly saved document.
	OpInsert Op = "insert"
	// OpUpdate is a saved change of a document.
	OpUpdate Op = "update"
	// OpDelete is a document that became deleted or expired.
	OpDelete Op = "delete"
	// OpRemove is an item removed from the table, usually by the TTL sweep.
	OpRemove Op = "remove"
)

// Change is one document change. Doc is nil for OpRemove and Old is nil
// for OpInsert.
type Change struct {
	Op    Op
	Model *store.Model
	Doc   *document.Document
	Old   *document.Document
}

// Subscriber receives the changes of registered models.
type Subscriber interface {
	HandleChange(ctx context.Context, c Change) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, c Change) error

// HandleChange calls f.
func (f SubscriberFunc) HandleChange(ctx context.Context, c Change) error { return f(ctx, c) }

// Handler processes DynamoDB stream events of model tables.
type Handler struct {
	store      *store.Store
	subscriber Subscriber
	logger     zerolog.Logger
}

// NewHandler creates a new stream handler. sub may be nil when only the
// release of unique values is wanted.
func NewHandler(s *store.Store, sub Subscriber, logger zerolog.Logger) *Handler {
	return &Handler{
		store:      s,
		subscriber: sub,
		logger:     logger,
	}
}

// HandleChanges processes a batch of stream records in order. It stops at
// the first failing record so the batch is retried.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleChanges(ctx context.Context, event events.DynamoDBEvent) error {
	for i := range event.Records {
		record := &event.Records[i]
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error().
				Err(err).
				Str("eventID", record.EventID).
				Msg("failed to process record")
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	table := tableName(record.EventSourceArn)
	m, ok := h.model(table)
	if !ok {
		h.logger.Debug().Str("table", table).Msg("skipping record of unknown table")
		return nil
	}

	at := record.Change.ApproximateCreationDateTime.Time
	if at.IsZero() {
		at = time.Now()
	}
	oldImage, newImage := record.Change.OldImage, record.Change.NewImage

	var op Op
	switch record.EventName {
	case "INSERT":
		op = OpInsert
	case "MODIFY":
		op = OpUpdate
		if expired(newImage, at) {
			if expired(oldImage, at) {
				return nil
			}
			op = OpDelete
		}
	case "REMOVE":
		op = OpRemove
	default:
		return nil
	}

	switch op {
	case OpDelete:
		if err := h.release(ctx, newImage, getNumberAttr(newImage, store.TTLAttribute)); err != nil {
			return err
		}
	case OpRemove:
		if err := h.release(ctx, oldImage, at.Unix()); err != nil {
			return err
		}
	}

	if h.subscriber == nil {
		return nil
	}
	change := Change{Op: op, Model: m}
	if op != OpRemove && len(newImage) > 0 {
		doc, err := m.Hydrate(ConvertImage(newImage))
		if err != nil {
			return fmt.Errorf("hydrate new image: %w", err)
		}
		change.Doc = doc
	}
	if op != OpInsert && len(oldImage) > 0 {
		old, err := m.Hydrate(ConvertImage(oldImage))
		if err != nil {
			return fmt.Errorf("hydrate old image: %w", err)
		}
		change.Old = old
	}

	h.logger.Debug().
		Str("model", m.Name()).
		Str("op", string(op)).
		Str("id", getStringAttr(record.Change.Keys, "_id")).
		Msg("dispatching change")
	return h.subscriber.HandleChange(ctx, change)
}

func (h *Handler) model(table string) (*store.Model, bool) {
	if h.store == nil || table == "" {
		return nil, false
	}
	return h.store.Registry().ForTable(table)
}

// release expires the unique constraint records listed on image.
func (h *Handler) release(ctx context.Context, image map[string]events.DynamoDBAttributeValue, ttl int64) error {
	pks := getStringMapValues(image, store.UniqueAttribute)
	if len(pks) == 0 {
		return nil
	}
	if err := h.store.ReleaseUniqueConstraints(ctx, pks, ttl); err != nil {
		return fmt.Errorf("release unique constraints: %w", err)
	}
	h.logger.Info().
		Int("uniqueConstraints", len(pks)).
		Int64("ttl", ttl).
		Msg("released unique constraints")
	return nil
}

func expired(image map[string]events.DynamoDBAttributeValue, at time.Time) bool {
	ttl := getNumberAttr(image, store.TTLAttribute)
	return ttl != 0 && ttl <= at.Unix()
}

// tableName extracts the table from a stream ARN of the form
// arn:aws:dynamodb:region:account:table/NAME/stream/LABEL.
func tableName(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// getStringMapValues extracts the sorted string values of a map attribute.
func getStringMapValues(image map[string]events.DynamoDBAttributeValue, key string) []string {
	v, ok := image[key]
	if !ok || v.DataType() != events.DataTypeMap {
		return nil
	}
	var result []string
	for _, item := range v.Map() {
		if item.DataType() == events.DataTypeString {
			result = append(result, item.String())
		}
	}
	sort.Strings(result)
	return result
}

// ConvertImage converts a DynamoDB stream image or key to SDK attribute
// values.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertValue(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertValue(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, 0, len(list))
		for _, e := range list {
			if av := convertValue(e); av != nil {
				out = append(out, av)
			}
		}
		return &types.AttributeValueMemberL{Value: out}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertImage(v.Map())}
	}
	return nil
}
