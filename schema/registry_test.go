package schema

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Cast(t *testing.T) {
	r := NewRegistry()
	id := NewObjectID()
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		typ  Type
		in   any
		want any
	}{
		{"numeric string", Number, " 42.5 ", 42.5},
		{"int", Number, 7, 7.0},
		{"empty number", Number, "", nil},
		{"json number", Number, json.Number("12.5"), 12.5},
		{"number to string", String, 3.0, "3"},
		{"bool to string", String, true, "true"},
		{"id to string", String, id, id.Hex()},
		{"iso date", Date, "2024-03-01T12:00:00Z", when},
		{"day", Date, "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"millis", Date, when.UnixMilli(), when},
		{"yes", Boolean, "yes", true},
		{"zero", Boolean, 0, false},
		{"hex id", ObjectIDType, id.Hex(), id},
		{"bytes", Buffer, "abc", []byte("abc")},
		{"byte list", Buffer, []any{1, 2}, []byte{1, 2}},
		{"scalar to list", Array, "x", []any{"x"}},
		{"typed slice", Array, []string{"a", "b"}, []any{"a", "b"}},
		{"alias token", "text", 1, "1"},
		{"nil passes", Date, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Cast("p", tt.typ, tt.in)
			require.NoError(t, err)
			if want, ok := tt.want.(time.Time); ok {
				assert.True(t, want.Equal(got.(time.Time)), "got %v", got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_CastFailure(t *testing.T) {
	r := NewRegistry()
	_, err := r.Cast("age", Number, "old")
	var ce *CastError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "age", ce.Path)
	assert.Equal(t, Number, ce.Type)
	assert.Equal(t, "old", ce.Value)
	assert.Contains(t, ce.Error(), `"age"`)

	_, err = r.Cast("id", ObjectIDType, "xyz")
	require.True(t, errors.As(err, &ce))
	assert.True(t, errors.Is(err, ErrInvalidHex))

	_, err = r.Cast("x", "Money", 1)
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(TypeDef{
		Name: "Slug",
		Cast: func(v any) (any, error) {
			s, ok := v.(string)
			if !ok {
				return nil, errors.New("not a string")
			}
			return strings.ToLower(strings.ReplaceAll(s, " ", "-")), nil
		},
	}))
	got, err := r.Cast("slug", "Slug", "Hello World")
	require.NoError(t, err)
	assert.Equal(t, "hello-world", got)

	assert.Error(t, r.Register(TypeDef{Name: "Broken"}))

	opts := DefaultOptions()
	opts.Registry = r
	s, err := New(D{{Key: "slug", Value: "Slug"}}, opts)
	require.NoError(t, err)
	assert.Equal(t, Type("Slug"), s.Path("slug").Type)
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Validate(Number, math.NaN()))
	assert.NoError(t, r.Validate(Number, 1.0))
	assert.NoError(t, r.Validate(String, "x"))
}

func TestRegistry_UUID(t *testing.T) {
	r := NewRegistry()
	u := uuid.New()
	got, err := r.Cast("ref", UUID, u.String())
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestObjectID(t *testing.T) {
	a, b := NewObjectID(), NewObjectID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a.Hex(), 24)
	assert.True(t, IsValidObjectID(a.Hex()))
	assert.False(t, IsValidObjectID("zz"))

	parsed, err := ObjectIDFromHex(a.Hex())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	at := time.Unix(1700000000, 0)
	assert.True(t, NewObjectIDFromTime(at).Timestamp().Equal(at))
	assert.True(t, NilObjectID.IsZero())
}
