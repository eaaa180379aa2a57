// Package document holds mutable instances of compiled schemas.
//
// Assignments resolve dotted paths against the schema, run setters, cast the
// value to the declared type and record modification. Cast failures of one
// call are collected and returned together as [schema.CastErrors]; the batch
// is never aborted by them. They are reported again by [Document.Validate]
// until the path is assigned successfully.
//
//	doc, err := document.New(userSchema, schema.D{{Key: "name", Value: "Frodo"}})
//	if err != nil {
//	    return err
//	}
//	if err := doc.Validate(); err != nil {
//	    return err
//	}
//	out := doc.ToObject(nil)
//
// Revision handling for persistence is planned by [Versioner].
package document
