package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userYAML = `
fields:
  name:
    first: String
    last: {type: text, trim: true}
  age: {type: Number, min: 0, max: 130}
  role: {type: String, enum: [admin, user], default: user}
  tags: [String]
options:
  strict: throw
  versionKey: false
  timestamps: true
  collection: people
  toJSON:
    virtuals: true
indexes:
  - keys: {age: -1}
    options: {sparse: true}
`

func TestParseYAML(t *testing.T) {
	s, err := ParseYAML([]byte(userYAML), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"_id", "name.first", "name.last", "age", "role", "tags", "createdAt", "updatedAt"},
		s.PathNames())
	assert.True(t, s.Path("name.last").Options.Trim)
	assert.Equal(t, 0.0, s.Path("age").Options.Min)
	assert.Equal(t, []any{"admin", "user"}, s.Path("role").Options.Enum)

	opts := s.Options()
	assert.Equal(t, StrictThrow, opts.Strict)
	assert.False(t, opts.Versioning)
	assert.Equal(t, "people", opts.Collection)
	assert.True(t, opts.ToJSON.Virtuals)
	assert.True(t, opts.Minimize)
	assert.Equal(t, "type", opts.TypeKey)

	idx := s.Indexes()
	require.Len(t, idx, 1)
	assert.Equal(t, -1, idx[0].Keys[0].Direction)
	assert.True(t, idx[0].Options.Sparse)
}

func TestParseYAML_Errors(t *testing.T) {
	_, err := ParseYAML([]byte("fields: [a, b]"), DefaultOptions())
	assert.True(t, errors.Is(err, ErrInvalidDeclaration))

	_, err = ParseYAML([]byte("extra: {}"), DefaultOptions())
	assert.True(t, errors.Is(err, ErrInvalidDeclaration))

	_, err = ParseYAML([]byte("options: {strict: maybe}"), DefaultOptions())
	assert.True(t, errors.Is(err, ErrInvalidDeclaration))

	s, err := ParseYAML(nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"_id", "__v"}, s.PathNames())
}

func TestParseJSON(t *testing.T) {
	doc := `{
		"fields": {
			"zeta": "String",
			"alpha": {"type": "Number", "index": 1},
			"items": [{"sku": "String", "qty": {"type": "Number", "min": 1}}]
		},
		"options": {"strict": false, "typeKey": "type", "versionKey": "rev"},
		"indexes": [{"keys": {"zeta": 1, "alpha": -1}}]
	}`
	s, err := ParseJSON([]byte(doc), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"_id", "zeta", "alpha", "items", "rev"}, s.PathNames())
	assert.Equal(t, StrictOff, s.Options().Strict)
	assert.Equal(t, 1.0, s.Lookup("items.0.qty").Options.Min)

	idx := s.Indexes()
	require.Len(t, idx, 2)
	assert.Equal(t, []string{"alpha"}, idx[0].Paths())
	assert.Equal(t, []string{"zeta", "alpha"}, idx[1].Paths())
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "user.yaml")
	require.NoError(t, os.WriteFile(yml, []byte(userYAML), 0o600))
	s, err := ParseFile(yml, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "people", s.Options().Collection)

	_, err = ParseFile(filepath.Join(dir, "user.toml"), DefaultOptions())
	assert.Error(t, err)
}
