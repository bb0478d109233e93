package expense

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

func newEntry(id string, bill *string, created time.Time) Expense {
	return Expense{
		ID:            id,
		ExpenseType:   "Business trip",
		Categories:    []string{"Travel Expenses"},
		Description:   "Train ticket",
		Vendor:        "Indian Railways",
		Amount:        4143.6,
		Date:          "2024-11-20",
		BillNumber:    bill,
		ReceiptKind:   "image/jpeg",
		FraudScore:    0.8,
		AISummary:     "Exceeds the travel limit",
		IsAnomaly:     true,
		Status:        StatusPending,
		SubmittedDate: created.Format("2006-01-02"),
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func billNumber(s string) *string {
	return &s
}

// describeStore runs the behavior every Store implementation shares
func describeStore(open func() Store) {
	var (
		store Store
		ctx   context.Context
		t0    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		t0 = time.Date(2024, 11, 25, 10, 0, 0, 0, time.UTC)
		store = open()
	})

	AfterEach(func() {
		if store != nil {
			Expect(store.Close()).To(Succeed())
			store = nil
		}
	})

	Describe("AppendEntry", func() {
		It("should create one aggregate per employee and keep submission order", func() {
			first, err := store.AppendEntry(ctx, "EMP005", "DEP005", newEntry("e1", billNumber("B1"), t0))
			Expect(err).NotTo(HaveOccurred())
			Expect(first.ID).NotTo(BeEmpty())

			second, err := store.AppendEntry(ctx, "EMP005", "DEP005", newEntry("e2", nil, t0.Add(time.Minute)))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
			Expect(second.Entries).To(HaveLen(2))
			Expect(second.Entries[0].ID).To(Equal("e1"))
			Expect(second.Entries[1].ID).To(Equal("e2"))

			agg, err := store.GetAggregate(ctx, "EMP005")
			Expect(err).NotTo(HaveOccurred())
			Expect(agg.Entries).To(HaveLen(2))
			Expect(agg.DepartmentID).To(Equal("DEP005"))
			Expect(agg.Entries[0].Amount).To(Equal(4143.6))
			Expect(*agg.Entries[0].BillNumber).To(Equal("B1"))
			Expect(agg.Entries[1].BillNumber).To(BeNil())
		})

		It("should reject a bill number used by any employee", func() {
			_, err := store.AppendEntry(ctx, "EMP005", "DEP005", newEntry("e1", billNumber("B1"), t0))
			Expect(err).NotTo(HaveOccurred())

			_, err = store.AppendEntry(ctx, "EMP001", "DEP001", newEntry("e2", billNumber("B1"), t0))
			Expect(errors.Is(err, ErrDuplicateReceipt)).To(BeTrue())

			_, err = store.GetAggregate(ctx, "EMP001")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("concurrent AppendEntry", func() {
		It("should keep one entry per bill number and lose no appends", func() {
			const shared, sameEmployee = 12, 10
			sharedErrs := make([]error, shared)
			ownErrs := make([]error, sameEmployee)

			var wg sync.WaitGroup
			for i := 0; i < shared; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					employee := fmt.Sprintf("EMP00%d", i%3+1)
					_, sharedErrs[i] = store.AppendEntry(ctx, employee, "DEP001",
						newEntry(fmt.Sprintf("shared-%d", i), billNumber("PS24222516569711"), t0))
				}()
			}
			for i := 0; i < sameEmployee; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					var bill *string
					if i%2 == 0 {
						bill = billNumber(fmt.Sprintf("OWN-%d", i))
					}
					_, ownErrs[i] = store.AppendEntry(ctx, "EMP005", "DEP005",
						newEntry(fmt.Sprintf("own-%d", i), bill, t0))
				}()
			}
			wg.Wait()

			succeeded := 0
			for _, err := range sharedErrs {
				if err == nil {
					succeeded++
					continue
				}
				Expect(errors.Is(err, ErrDuplicateReceipt)).To(BeTrue(), "unexpected error: %v", err)
			}
			Expect(succeeded).To(Equal(1))

			for _, err := range ownErrs {
				Expect(err).NotTo(HaveOccurred())
			}

			agg, err := store.GetAggregate(ctx, "EMP005")
			Expect(err).NotTo(HaveOccurred())
			Expect(agg.Entries).To(HaveLen(sameEmployee))
			ids := make(map[string]bool)
			for _, e := range agg.Entries {
				ids[e.ID] = true
			}
			Expect(ids).To(HaveLen(sameEmployee))

			stored := 0
			aggregates, err := store.ListAggregates(ctx)
			Expect(err).NotTo(HaveOccurred())
			for _, a := range aggregates {
				for _, e := range a.Entries {
					if e.BillNumber != nil && *e.BillNumber == "PS24222516569711" {
						stored++
					}
				}
			}
			Expect(stored).To(Equal(1))
		})
	})

	Describe("FindByBillNumber", func() {
		It("should find the entry holding the bill number", func() {
			_, err := store.AppendEntry(ctx, "EMP005", "DEP005", newEntry("e1", billNumber("B1"), t0))
			Expect(err).NotTo(HaveOccurred())

			entry, err := store.FindByBillNumber(ctx, "B1")
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.ID).To(Equal("e1"))

			_, err = store.FindByBillNumber(ctx, "B2")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("GetEntry", func() {
		var aggregateID string

		BeforeEach(func() {
			agg, err := store.AppendEntry(ctx, "EMP005", "DEP005", newEntry("e1", nil, t0))
			Expect(err).NotTo(HaveOccurred())
			_, err = store.AppendEntry(ctx, "EMP005", "DEP005", newEntry("e2", nil, t0.Add(time.Minute)))
			Expect(err).NotTo(HaveOccurred())
			aggregateID = agg.ID
		})

		It("should resolve an entry id", func() {
			agg, entry, err := store.GetEntry(ctx, "e2")
			Expect(err).NotTo(HaveOccurred())
			Expect(agg.EmployeeID).To(Equal("EMP005"))
			Expect(entry.ID).To(Equal("e2"))
		})

		It("should resolve an aggregate id to the earliest pending entry", func() {
			_, _, err := store.UpdateEntryStatus(ctx, "e1", StatusChange{Status: StatusApproved, At: t0})
			Expect(err).NotTo(HaveOccurred())

			_, entry, err := store.GetEntry(ctx, aggregateID)
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.ID).To(Equal("e2"))
		})

		It("should resolve an aggregate id to the first entry when none is pending", func() {
			for _, id := range []string{"e1", "e2"} {
				_, _, err := store.UpdateEntryStatus(ctx, id, StatusChange{Status: StatusApproved, At: t0})
				Expect(err).NotTo(HaveOccurred())
			}

			_, entry, err := store.GetEntry(ctx, aggregateID)
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.ID).To(Equal("e1"))
		})

		It("should report unknown references", func() {
			_, _, err := store.GetEntry(ctx, "missing")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("UpdateEntryStatus", func() {
		BeforeEach(func() {
			_, err := store.AppendEntry(ctx, "EMP005", "DEP005", newEntry("e1", nil, t0))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should persist the decision", func() {
			later := t0.Add(time.Hour)
			_, entry, err := store.UpdateEntryStatus(ctx, "e1", StatusChange{
				Status:     StatusRejected,
				Reason:     "personal trip",
				ReviewedBy: "manager.it@company.com",
				At:         later,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Status).To(Equal(StatusRejected))

			_, stored, err := store.GetEntry(ctx, "e1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(StatusRejected))
			Expect(stored.StatusReason).To(Equal("personal trip"))
			Expect(stored.ReviewedBy).To(Equal("manager.it@company.com"))
			Expect(stored.UpdatedAt).To(BeTemporally("==", later))
			Expect(stored.CreatedAt).To(BeTemporally("==", t0))
		})

		It("should refuse a second decision", func() {
			_, _, err := store.UpdateEntryStatus(ctx, "e1", StatusChange{Status: StatusApproved, At: t0})
			Expect(err).NotTo(HaveOccurred())

			_, _, err = store.UpdateEntryStatus(ctx, "e1", StatusChange{Status: StatusRejected, Reason: "late", At: t0})
			Expect(errors.Is(err, ErrInvalidTransition)).To(BeTrue())
		})

		It("should refuse a rejection without a reason", func() {
			_, _, err := store.UpdateEntryStatus(ctx, "e1", StatusChange{Status: StatusRejected, At: t0})
			Expect(errors.Is(err, ErrMissingReason)).To(BeTrue())

			_, stored, err := store.GetEntry(ctx, "e1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(StatusPending))
		})

		It("should refuse a move back to pending", func() {
			_, _, err := store.UpdateEntryStatus(ctx, "e1", StatusChange{Status: StatusPending, At: t0})
			Expect(errors.Is(err, ErrInvalidTransition)).To(BeTrue())
		})
	})

	Describe("ListAggregates and PurgeAggregate", func() {
		BeforeEach(func() {
			_, err := store.AppendEntry(ctx, "EMP005", "DEP005", newEntry("e1", billNumber("B1"), t0))
			Expect(err).NotTo(HaveOccurred())
			_, err = store.AppendEntry(ctx, "EMP001", "DEP001", newEntry("e2", nil, t0))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should list every aggregate", func() {
			aggregates, err := store.ListAggregates(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(aggregates).To(HaveLen(2))
		})

		It("should purge an aggregate and free its bill numbers", func() {
			Expect(store.PurgeAggregate(ctx, "EMP005")).To(Succeed())

			_, err := store.GetAggregate(ctx, "EMP005")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			_, _, err = store.GetEntry(ctx, "e1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())

			_, err = store.AppendEntry(ctx, "EMP005", "DEP005", newEntry("e3", billNumber("B1"), t0))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should report purging an unknown employee", func() {
			err := store.PurgeAggregate(ctx, "EMP404")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})
}

var _ = Describe("BoltStore", func() {
	describeStore(func() Store {
		store, err := NewBoltStore(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
		return store
	})

	It("should keep entries across reopen", func() {
		path := filepath.Join(GinkgoT().TempDir(), "reopen.db")
		store, err := NewBoltStore(path)
		Expect(err).NotTo(HaveOccurred())
		_, err = store.AppendEntry(context.Background(), "EMP005", "DEP005", newEntry("e1", billNumber("B1"), time.Now()))
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Close()).To(Succeed())

		store, err = NewBoltStore(path)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		entry, err := store.FindByBillNumber(context.Background(), "B1")
		Expect(err).NotTo(HaveOccurred())
		Expect(entry.ID).To(Equal("e1"))
	})

	It("should fail on an unwritable path", func() {
		_, err := NewBoltStore(filepath.Join(GinkgoT().TempDir(), "missing", "dir", "test.db"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("PostgresStore", func() {
	dsn := os.Getenv("EXPENSE_INTAKE_TEST_DATABASE_URL")

	BeforeEach(func() {
		if dsn == "" {
			Skip("EXPENSE_INTAKE_TEST_DATABASE_URL not set")
		}
	})

	describeStore(func() Store {
		store, err := NewPostgresStore(context.Background(), dsn, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		_, err = store.pool.Exec(context.Background(), "TRUNCATE expense_aggregates CASCADE")
		Expect(err).NotTo(HaveOccurred())
		return store
	})
})
