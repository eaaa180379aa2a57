// Package schema compiles document shape declarations into path tables.
//
// A declaration is an ordered object ([D]) or a map. Every key becomes a
// dotted path. Objects carrying the type key are type declarations; all
// other objects describe nested paths:
//
//	s, err := schema.New(schema.D{
//	    {Key: "name", Value: schema.D{{Key: "first", Value: schema.String}, {Key: "last", Value: schema.String}}},
//	    {Key: "age", Value: schema.D{{Key: "type", Value: schema.Number}, {Key: "min", Value: 0}}},
//	    {Key: "tags", Value: []any{schema.String}},
//	}, schema.DefaultOptions())
//
// Arrays of untyped objects (or of *Schema) compile to document arrays whose
// elements are validated against their own sub-schema.
//
// # Types
//
// Type tokens resolve through a [Registry]. Built-ins are String, Number,
// Date, Buffer, Boolean, Mixed, ObjectId, Array and UUID. Register custom
// types on a registry and pass it through [Options].Registry.
//
// # Errors
//
//   - [ErrUnknownType] - a declaration names an unregistered type
//   - [ErrInvalidDeclaration] - a declaration value cannot be compiled
//   - [ErrPathConflict] - a name is both a stored path and a virtual
//   - [ErrUnknownPath] - strict throw mode rejected an assignment
//
// Per-path failures are reported as [*CastError] and [*ValidatorError],
// aggregated by [*ValidationError].
package schema
