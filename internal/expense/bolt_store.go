package expense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	aggregatesBucket   = []byte("aggregates")
	entryIndexBucket   = []byte("entry_index")
	aggregateIDsBucket = []byte("aggregate_ids")
	billNumbersBucket  = []byte("bill_numbers")
)

// BoltStore implements Store using BoltDB. Aggregates are keyed by employee
// id; secondary buckets map entry ids, aggregate ids and bill numbers back to
// their owner. Every write runs in one bbolt transaction.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the database file at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{aggregatesBucket, entryIndexBucket, aggregateIDsBucket, billNumbersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func getAggregate(tx *bbolt.Tx, employeeID string) (*Aggregate, error) {
	data := tx.Bucket(aggregatesBucket).Get([]byte(employeeID))
	if data == nil {
		return nil, ErrNotFound
	}
	var agg Aggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		return nil, fmt.Errorf("unmarshaling aggregate: %w", err)
	}
	return &agg, nil
}

func putAggregate(tx *bbolt.Tx, agg *Aggregate) error {
	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshaling aggregate: %w", err)
	}
	return tx.Bucket(aggregatesBucket).Put([]byte(agg.EmployeeID), data)
}

// resolveBolt finds the aggregate and entry for an entry id or aggregate id
func resolveBolt(tx *bbolt.Tx, ref string) (*Aggregate, *Expense, error) {
	if owner := tx.Bucket(entryIndexBucket).Get([]byte(ref)); owner != nil {
		agg, err := getAggregate(tx, string(owner))
		if err != nil {
			return nil, nil, err
		}
		entry, ok := agg.Entry(ref)
		if !ok {
			return nil, nil, fmt.Errorf("entry %s: %w", ref, ErrNotFound)
		}
		return agg, entry, nil
	}

	if owner := tx.Bucket(aggregateIDsBucket).Get([]byte(ref)); owner != nil {
		agg, err := getAggregate(tx, string(owner))
		if err != nil {
			return nil, nil, err
		}
		entry, ok := agg.reviewTarget()
		if !ok {
			return nil, nil, fmt.Errorf("aggregate %s has no entries: %w", ref, ErrNotFound)
		}
		return agg, entry, nil
	}

	return nil, nil, fmt.Errorf("expense %s: %w", ref, ErrNotFound)
}

// FindByBillNumber returns the entry holding billNumber
func (b *BoltStore) FindByBillNumber(ctx context.Context, billNumber string) (*Expense, error) {
	var found *Expense
	err := b.db.View(func(tx *bbolt.Tx) error {
		entryID := tx.Bucket(billNumbersBucket).Get([]byte(billNumber))
		if entryID == nil {
			return ErrNotFound
		}
		_, entry, err := resolveBolt(tx, string(entryID))
		if err != nil {
			return err
		}
		found = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// AppendEntry adds the entry to the employee's aggregate
func (b *BoltStore) AppendEntry(ctx context.Context, employeeID, departmentID string, entry Expense) (*Aggregate, error) {
	var result *Aggregate
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bills := tx.Bucket(billNumbersBucket)
		if entry.BillNumber != nil {
			if bills.Get([]byte(*entry.BillNumber)) != nil {
				return fmt.Errorf("bill number %s: %w", *entry.BillNumber, ErrDuplicateReceipt)
			}
		}

		agg, err := getAggregate(tx, employeeID)
		switch {
		case errors.Is(err, ErrNotFound):
			agg = &Aggregate{
				ID:         uuid.NewString(),
				EmployeeID: employeeID,
				CreatedAt:  entry.CreatedAt,
			}
			if err := tx.Bucket(aggregateIDsBucket).Put([]byte(agg.ID), []byte(employeeID)); err != nil {
				return err
			}
		case err != nil:
			return err
		}

		agg.DepartmentID = departmentID
		agg.Entries = append(agg.Entries, entry)
		agg.UpdatedAt = entry.CreatedAt

		if err := putAggregate(tx, agg); err != nil {
			return err
		}
		if err := tx.Bucket(entryIndexBucket).Put([]byte(entry.ID), []byte(employeeID)); err != nil {
			return err
		}
		if entry.BillNumber != nil {
			if err := bills.Put([]byte(*entry.BillNumber), []byte(entry.ID)); err != nil {
				return err
			}
		}
		result = agg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateEntryStatus applies a review decision inside one transaction
func (b *BoltStore) UpdateEntryStatus(ctx context.Context, ref string, change StatusChange) (*Aggregate, *Expense, error) {
	var (
		agg   *Aggregate
		entry *Expense
	)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		var err error
		agg, entry, err = resolveBolt(tx, ref)
		if err != nil {
			return err
		}
		if err := change.apply(entry); err != nil {
			return err
		}
		agg.UpdatedAt = change.At
		return putAggregate(tx, agg)
	})
	if err != nil {
		return nil, nil, err
	}
	return agg, entry, nil
}

// GetEntry resolves an entry id or aggregate id
func (b *BoltStore) GetEntry(ctx context.Context, ref string) (*Aggregate, *Expense, error) {
	var (
		agg   *Aggregate
		entry *Expense
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		agg, entry, err = resolveBolt(tx, ref)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return agg, entry, nil
}

// GetAggregate returns an employee's aggregate
func (b *BoltStore) GetAggregate(ctx context.Context, employeeID string) (*Aggregate, error) {
	var agg *Aggregate
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		agg, err = getAggregate(tx, employeeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// ListAggregates returns all aggregates ordered by employee id
func (b *BoltStore) ListAggregates(ctx context.Context) ([]*Aggregate, error) {
	aggregates := make([]*Aggregate, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(aggregatesBucket).ForEach(func(k, v []byte) error {
			var agg Aggregate
			if err := json.Unmarshal(v, &agg); err != nil {
				return fmt.Errorf("unmarshaling aggregate: %w", err)
			}
			aggregates = append(aggregates, &agg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return aggregates, nil
}

// PurgeAggregate removes the aggregate together with its index entries
func (b *BoltStore) PurgeAggregate(ctx context.Context, employeeID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		agg, err := getAggregate(tx, employeeID)
		if err != nil {
			return err
		}
		for _, e := range agg.Entries {
			if err := tx.Bucket(entryIndexBucket).Delete([]byte(e.ID)); err != nil {
				return err
			}
			if e.BillNumber != nil {
				if err := tx.Bucket(billNumbersBucket).Delete([]byte(*e.BillNumber)); err != nil {
					return err
				}
			}
		}
		if err := tx.Bucket(aggregateIDsBucket).Delete([]byte(agg.ID)); err != nil {
			return err
		}
		return tx.Bucket(aggregatesBucket).Delete([]byte(employeeID))
	})
}

// Close closes the database
func (b *BoltStore) Close() error {
	return b.db.Close()
}
