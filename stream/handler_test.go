package stream_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/docshape/schema"
	"github.com/jacentio/docshape/store"
	"github.com/jacentio/docshape/stream"
)

const usersARN = "arn:aws:dynamodb:us-east-1:123456789012:table/users/stream/2024-03-01T12:00:00.000"

var recordTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// releaseAPI records constraint releases. Every other call panics.
type releaseAPI struct {
	store.API

	mu       sync.Mutex
	released map[string]string
	err      error
}

func (a *releaseAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	pk := in.Key["pk"].(*types.AttributeValueMemberS).Value
	a.released[pk] = in.ExpressionAttributeValues[":ttl"].(*types.AttributeValueMemberN).Value
	return &dynamodb.UpdateItemOutput{}, nil
}

type recorder struct {
	changes []stream.Change
	err     error
}

func (r *recorder) HandleChange(_ context.Context, c stream.Change) error {
	r.changes = append(r.changes, c)
	return r.err
}

func newHandler(t *testing.T) (*stream.Handler, *releaseAPI, *recorder) {
	t.Helper()
	api := &releaseAPI{released: map[string]string{}}
	s := store.New(api, store.DefaultConfig())

	opts := schema.DefaultOptions()
	opts.AutoIndex = false
	sch, err := schema.New(schema.D{
		{Key: "name", Value: schema.String},
		{Key: "email", Value: schema.D{{Key: "type", Value: schema.String}, {Key: "unique", Value: true}}},
	}, opts)
	require.NoError(t, err)
	_, err = s.Model(context.Background(), "users", sch)
	require.NoError(t, err)

	rec := &recorder{}
	return stream.NewHandler(s, rec, zerolog.Nop()), api, rec
}

func image(id, name string, extra ...map[string]events.DynamoDBAttributeValue) map[string]events.DynamoDBAttributeValue {
	img := map[string]events.DynamoDBAttributeValue{
		"_id":  events.NewStringAttribute(id),
		"__v":  events.NewNumberAttribute("0"),
		"name": events.NewStringAttribute(name),
	}
	for _, e := range extra {
		for k, v := range e {
			img[k] = v
		}
	}
	return img
}

func deleted(ttl string) map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"ttl": events.NewNumberAttribute(ttl),
		"_unique": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
			"email": events.NewStringAttribute("pk-email"),
		}),
	}
}

func record(name string, oldImage, newImage map[string]events.DynamoDBAttributeValue) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:        "1",
		EventName:      name,
		EventSourceArn: usersARN,
		Change: events.DynamoDBStreamRecord{
			ApproximateCreationDateTime: events.SecondsEpochTime{Time: recordTime},
			OldImage:                    oldImage,
			NewImage:                    newImage,
		},
	}
}

func handle(t *testing.T, h *stream.Handler, records ...events.DynamoDBEventRecord) error {
	t.Helper()
	return h.HandleChanges(context.Background(), events.DynamoDBEvent{Records: records})
}

func TestHandler_EmptyEvent(t *testing.T) {
	h := stream.NewHandler(nil, nil, zerolog.Nop())
	assert.NoError(t, handle(t, h))
}

func TestHandler_UnknownTable(t *testing.T) {
	h, api, rec := newHandler(t)
	r := record("INSERT", nil, image(schema.NewObjectID().Hex(), "Frodo"))
	r.EventSourceArn = "arn:aws:dynamodb:us-east-1:123456789012:table/docshape_unique_constraints/stream/x"

	require.NoError(t, handle(t, h, r))
	assert.Empty(t, rec.changes)
	assert.Empty(t, api.released)
}

func TestHandler_Insert(t *testing.T) {
	h, api, rec := newHandler(t)
	id := schema.NewObjectID()

	require.NoError(t, handle(t, h, record("INSERT", nil, image(id.Hex(), "Frodo"))))
	require.Len(t, rec.changes, 1)
	c := rec.changes[0]
	assert.Equal(t, stream.OpInsert, c.Op)
	assert.Equal(t, "users", c.Model.Name())
	assert.Equal(t, id.Hex(), c.Doc.ID())
	assert.Equal(t, "Frodo", c.Doc.Get("name"))
	assert.False(t, c.Doc.IsNew())
	assert.Nil(t, c.Old)
	assert.Empty(t, api.released)
}

func TestHandler_Update(t *testing.T) {
	h, api, rec := newHandler(t)
	id := schema.NewObjectID().Hex()
	future := map[string]events.DynamoDBAttributeValue{
		"ttl": events.NewNumberAttribute("1709298000"),
	}

	require.NoError(t, handle(t, h, record("MODIFY", image(id, "Frodo"), image(id, "Sam", future))))
	require.Len(t, rec.changes, 1)
	c := rec.changes[0]
	assert.Equal(t, stream.OpUpdate, c.Op)
	assert.Equal(t, "Sam", c.Doc.Get("name"))
	assert.Equal(t, "Frodo", c.Old.Get("name"))
	assert.Empty(t, api.released)
}

func TestHandler_SoftDeleteReleasesConstraints(t *testing.T) {
	h, api, rec := newHandler(t)
	id := schema.NewObjectID().Hex()

	require.NoError(t, handle(t, h, record("MODIFY", image(id, "Frodo"), image(id, "Frodo", deleted("1709294400")))))
	assert.Equal(t, map[string]string{"pk-email": "1709294400"}, api.released)
	require.Len(t, rec.changes, 1)
	assert.Equal(t, stream.OpDelete, rec.changes[0].Op)
	assert.NotNil(t, rec.changes[0].Doc)
	assert.NotNil(t, rec.changes[0].Old)
}

func TestHandler_AlreadyDeletedIsSkipped(t *testing.T) {
	h, api, rec := newHandler(t)
	id := schema.NewObjectID().Hex()
	old := image(id, "Frodo", deleted("1709290000"))

	require.NoError(t, handle(t, h, record("MODIFY", old, image(id, "Frodo", deleted("1709294400")))))
	assert.Empty(t, rec.changes)
	assert.Empty(t, api.released)
}

func TestHandler_RemoveReleasesConstraints(t *testing.T) {
	h, api, rec := newHandler(t)
	id := schema.NewObjectID().Hex()

	require.NoError(t, handle(t, h, record("REMOVE", image(id, "Frodo", deleted("1709290000")), nil)))
	assert.Equal(t, map[string]string{"pk-email": "1709294400"}, api.released)
	require.Len(t, rec.changes, 1)
	c := rec.changes[0]
	assert.Equal(t, stream.OpRemove, c.Op)
	assert.Nil(t, c.Doc)
	assert.Equal(t, id, c.Old.ID())
}

func TestHandler_ReleaseFailureStopsBatch(t *testing.T) {
	h, api, rec := newHandler(t)
	api.err = errors.New("throttled")
	id := schema.NewObjectID().Hex()

	err := handle(t, h,
		record("MODIFY", image(id, "Frodo"), image(id, "Frodo", deleted("1709294400"))),
		record("INSERT", nil, image(schema.NewObjectID().Hex(), "Sam")),
	)
	assert.ErrorIs(t, err, api.err)
	assert.Empty(t, rec.changes)
}

func TestHandler_SubscriberError(t *testing.T) {
	h, _, rec := newHandler(t)
	rec.err = errors.New("downstream unavailable")

	err := handle(t, h, record("INSERT", nil, image(schema.NewObjectID().Hex(), "Frodo")))
	assert.ErrorIs(t, err, rec.err)
}

func TestSubscriberFunc(t *testing.T) {
	var got stream.Op
	f := stream.SubscriberFunc(func(_ context.Context, c stream.Change) error {
		got = c.Op
		return nil
	})
	require.NoError(t, f.HandleChange(context.Background(), stream.Change{Op: stream.OpUpdate}))
	assert.Equal(t, stream.OpUpdate, got)
}

func TestConvertImage(t *testing.T) {
	img := map[string]events.DynamoDBAttributeValue{
		"s":    events.NewStringAttribute("test-id"),
		"n":    events.NewNumberAttribute("42"),
		"b":    events.NewBinaryAttribute([]byte{1, 2}),
		"bool": events.NewBooleanAttribute(true),
		"null": events.NewNullAttribute(),
		"ss":   events.NewStringSetAttribute([]string{"a", "b"}),
		"list": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("x"),
			events.NewNumberAttribute("1.5"),
		}),
		"map": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
			"inner": events.NewStringAttribute("y"),
		}),
	}

	got := stream.ConvertImage(img)
	assert.Equal(t, map[string]types.AttributeValue{
		"s":    &types.AttributeValueMemberS{Value: "test-id"},
		"n":    &types.AttributeValueMemberN{Value: "42"},
		"b":    &types.AttributeValueMemberB{Value: []byte{1, 2}},
		"bool": &types.AttributeValueMemberBOOL{Value: true},
		"null": &types.AttributeValueMemberNULL{Value: true},
		"ss":   &types.AttributeValueMemberSS{Value: []string{"a", "b"}},
		"list": &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberS{Value: "x"},
			&types.AttributeValueMemberN{Value: "1.5"},
		}},
		"map": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"inner": &types.AttributeValueMemberS{Value: "y"},
		}},
	}, got)
	assert.Empty(t, stream.ConvertImage(nil))
}
