// Package store persists schema documents in DynamoDB.
//
// A [Store] wraps a DynamoDB client and a [Registry] of models. A [Model]
// binds a compiled schema to one table keyed by _id:
//
//	s := store.New(dynamodb.NewFromConfig(cfg), store.DefaultConfig(),
//	    store.WithLogger(logger))
//	users, err := s.Model(ctx, "User", userSchema)
//	if err != nil {
//	    return err
//	}
//	if err := s.EnsureCollection(ctx, users); err != nil {
//	    return err
//	}
//
//	doc, _ := users.New(schema.D{{Key: "name", Value: "Frodo"}})
//	if err := users.Save(ctx, doc); err != nil {
//	    return err
//	}
//
// # Writes
//
// Save inserts new documents and updates loaded ones. Updates write only the
// modified top-level fields. When the schema is versioned the write is
// conditioned on the stored revision and a mismatch is reported as a
// [document.VersionConflictError]; the document keeps its changes and may be
// saved again after reloading.
//
// Delete is a soft delete: the item's TTL attribute is set to the current
// time and DynamoDB removes it later. Reads treat such items as missing.
//
// # Indexes
//
// [Store.EnsureIndexes] builds the schema's index directives:
//
//   - single and compound (up to two top-level keys) indexes become global
//     secondary indexes
//   - unique indexes are enforced through constraint records in
//     [Config.UniqueTable], written in the same transaction as the document
//   - an expiring index on a date path drives the item's TTL attribute
//
// Text, geo and nested path indexes are rejected with [ErrUnsupportedIndex].
// Unless AutoIndex is disabled the build starts when the model is created;
// its first result is delivered once on [Model.IndexesBuilt].
//
// # Errors
//
//   - [ErrNotFound] - document doesn't exist or is deleted
//   - [ErrAlreadyExists] - a document with the _id already exists
//   - [ErrAlreadyDeleted] - the document was deleted before
//   - [ErrDuplicateValue] - unique constraint violated
//   - [document.ErrVersionConflict] - optimistic lock failed
//   - [IndexBuildErrors] - one or more index directives could not be built
package store
