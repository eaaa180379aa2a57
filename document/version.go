package document

// WritePlan describes the revision handling of one persist operation.
type WritePlan struct {
	// Field is the revision field name, empty when versioning is off.
	Field string

	// Insert is set for documents that were never persisted. The revision
	// field is written as 0.
	Insert bool

	// Check requires the stored revision to equal Expected.
	Check    bool
	Expected int64

	// Increment bumps the stored revision by one as part of the write.
	Increment bool
}

// Versioner drives the revision state machine of documents handed to it.
// It holds no document state.
type Versioner struct{}

// Plan returns the revision handling for persisting d.
func (Versioner) Plan(d *Document) WritePlan {
	opts := d.schema.Options()
	if !opts.Versioning {
		return WritePlan{Insert: d.root.isNew}
	}
	plan := WritePlan{Field: opts.VersionKey}
	switch {
	case d.root.isNew:
		plan.Insert = true
	case d.root.state == Dirty:
		plan.Check = true
		plan.Expected = d.root.revision
		plan.Increment = true
	}
	return plan
}

// Commit records a successful write of plan: the revision advances when it
// was incremented, the document becomes clean and modified flags reset.
func (Versioner) Commit(d *Document, plan WritePlan) {
	d.root.finishSave(plan.Increment)
}

// Conflict builds the error for a conditional write that matched nothing.
// The document is left untouched.
func (Versioner) Conflict(d *Document, model string) error {
	return &VersionConflictError{Model: model, ID: d.root.ID(), Expected: d.root.revision}
}
