package document

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/docshape/schema"
)

func loadedPost(t *testing.T, mutate ...func(*schema.Options)) *Document {
	t.Helper()
	s := mustSchema(t, schema.D{
		{Key: "title", Value: schema.String},
		{Key: "stats", Value: schema.D{{Key: "views", Value: schema.Number}}},
	}, mutate...)
	doc, err := Hydrate(s, map[string]any{
		"_id":   schema.NewObjectID().Hex(),
		"__v":   3,
		"title": "There and Back Again",
		"stats": map[string]any{"views": 10},
	})
	require.NoError(t, err)
	return doc
}

func TestVersioner_NewDocument(t *testing.T) {
	s := mustSchema(t, schema.D{{Key: "title", Value: schema.String}})
	doc, err := New(s, map[string]any{"title": "x"})
	require.NoError(t, err)
	assert.Equal(t, Clean, doc.State())
	assert.Equal(t, int64(0), doc.Revision())

	var v Versioner
	plan := v.Plan(doc)
	assert.Equal(t, WritePlan{Field: "__v", Insert: true}, plan)

	v.Commit(doc, plan)
	assert.False(t, doc.IsNew())
	assert.Equal(t, int64(0), doc.Revision())
	assert.Equal(t, 0.0, doc.Raw("__v"))
	assert.Empty(t, doc.ModifiedPaths())
}

func TestVersioner_DirtyIncrements(t *testing.T) {
	doc := loadedPost(t)
	var v Versioner

	assert.Equal(t, WritePlan{Field: "__v"}, v.Plan(doc))

	require.NoError(t, doc.Set("title", "The Hobbit"))
	assert.Equal(t, Dirty, doc.State())
	plan := v.Plan(doc)
	assert.Equal(t, WritePlan{Field: "__v", Check: true, Expected: 3, Increment: true}, plan)

	v.Commit(doc, plan)
	assert.Equal(t, int64(4), doc.Revision())
	assert.Equal(t, Clean, doc.State())
	assert.Equal(t, 4.0, doc.Raw("__v"))
}

func TestVersioner_SkipVersioning(t *testing.T) {
	doc := loadedPost(t, func(o *schema.Options) { o.SkipVersioning = []string{"stats"} })

	require.NoError(t, doc.Set("stats.views", 11))
	assert.Equal(t, Clean, doc.State())
	assert.True(t, doc.IsModified("stats.views"))

	var v Versioner
	plan := v.Plan(doc)
	assert.False(t, plan.Increment)
	v.Commit(doc, plan)
	assert.Equal(t, int64(3), doc.Revision())

	require.NoError(t, doc.Set("title", "Red Book"))
	assert.Equal(t, Dirty, doc.State())
	v.Commit(doc, v.Plan(doc))
	assert.Equal(t, int64(4), doc.Revision())
}

func TestVersioner_TimestampsDoNotDirty(t *testing.T) {
	doc := loadedPost(t, func(o *schema.Options) {
		o.Timestamps = &schema.Timestamps{}
		o.SkipVersioning = []string{"stats"}
	})
	require.NoError(t, doc.Set("stats.views", 12))
	doc.ApplyTimestamps(doc.Raw("_id").(schema.ObjectID).Timestamp())
	assert.Equal(t, Clean, doc.State())
	assert.True(t, doc.IsModified("updatedAt"))
}

func TestVersioner_Conflict(t *testing.T) {
	doc := loadedPost(t)
	require.NoError(t, doc.Set("title", "Changed"))
	var v Versioner

	err := v.Conflict(doc, "posts")
	assert.True(t, errors.Is(err, ErrVersionConflict))
	var vce *VersionConflictError
	require.True(t, errors.As(err, &vce))
	assert.Equal(t, doc.ID(), vce.ID)
	assert.Equal(t, int64(3), vce.Expected)
	assert.Contains(t, err.Error(), "posts")

	assert.Equal(t, Dirty, doc.State())
	assert.Equal(t, int64(3), doc.Revision())
	assert.Equal(t, []string{"title"}, doc.ModifiedPaths())
}

func TestVersioner_Disabled(t *testing.T) {
	doc := loadedPost(t, func(o *schema.Options) { o.Versioning = false })
	assert.Equal(t, Unversioned, doc.State())

	require.NoError(t, doc.Set("title", "x"))
	assert.Equal(t, Unversioned, doc.State())

	var v Versioner
	plan := v.Plan(doc)
	assert.Equal(t, WritePlan{}, plan)
	v.Commit(doc, plan)
	assert.Equal(t, 3, doc.Raw("__v"))
}
