package expense

import "context"

// Store persists employee aggregates. Implementations enforce bill number
// uniqueness and per-employee append atomicity themselves.
type Store interface {
	// FindByBillNumber returns the entry holding billNumber, or ErrNotFound
	FindByBillNumber(ctx context.Context, billNumber string) (*Expense, error)

	// AppendEntry adds entry to the employee's aggregate, creating the
	// aggregate on first use. Fails with ErrDuplicateReceipt without writing
	// anything when the entry's bill number is already stored.
	AppendEntry(ctx context.Context, employeeID, departmentID string, entry Expense) (*Aggregate, error)

	// UpdateEntryStatus applies a review decision to the entry referenced by
	// an entry id or an aggregate id
	UpdateEntryStatus(ctx context.Context, ref string, change StatusChange) (*Aggregate, *Expense, error)

	// GetEntry resolves an entry id or an aggregate id
	GetEntry(ctx context.Context, ref string) (*Aggregate, *Expense, error)

	// GetAggregate returns an employee's aggregate
	GetAggregate(ctx context.Context, employeeID string) (*Aggregate, error)

	// ListAggregates returns every aggregate
	ListAggregates(ctx context.Context) ([]*Aggregate, error)

	// PurgeAggregate deletes an employee's aggregate and its indexes
	PurgeAggregate(ctx context.Context, employeeID string) error

	// Close releases the underlying connection
	Close() error
}
