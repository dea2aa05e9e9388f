package copier

import "fmt"

// RowError is one row that failed to map or insert. It is counted in the
// batch result and never aborts the batch.
type RowError struct {
	Entity   string
	Position int // absolute row position in paging order
	SourceID any
	Err      error
}

func (e *RowError) Error() string {
	if e.SourceID == nil {
		return fmt.Sprintf("migrating %s row %d: %v", e.Entity, e.Position, e.Err)
	}
	return fmt.Sprintf("migrating %s row %d (id %v): %v", e.Entity, e.Position, e.SourceID, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// PageReadError means the source page could not be read. It aborts the run.
type PageReadError struct {
	Entity string
	Offset int
	Err    error
}

func (e *PageReadError) Error() string {
	return fmt.Sprintf("reading %s page at offset %d: %v", e.Entity, e.Offset, e.Err)
}

func (e *PageReadError) Unwrap() error { return e.Err }
