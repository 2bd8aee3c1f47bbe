package store

// Store defines the interface for record persistence operations.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound if the record doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRecord atomically saves a record under rec.Name, overwriting any
	// previous record of that name.
	SaveRecord(rec *Record) error

	// LoadRecord retrieves the record with the given name.
	LoadRecord(name string) (*Record, error)

	// ListRecords returns metadata for all stored records. The slice is empty
	// if none exist.
	ListRecords() ([]RecordInfo, error)

	// DeleteRecord removes the record and its trace.
	DeleteRecord(name string) error
}

// ErrNotFound is returned when a requested record does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing record or trace.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return "record not found: " + e.Name
	}
	return "record not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
