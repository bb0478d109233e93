package expense

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/zombor/expense-intake/internal/evaluation"
	"github.com/zombor/expense-intake/internal/fallback"
	"github.com/zombor/expense-intake/internal/scanning"
)

var _ = Describe("Service", func() {
	var (
		store     *mockStore
		extractor *mockExtractor
		evaluator *mockEvaluator
		notifier  *mockNotifier
		clock     *mockTimeSource
		service   *Service
		ctx       context.Context
	)

	submission := func() Submission {
		return Submission{
			EmployeeID:   "EMP005",
			DepartmentID: "DEP005",
			ExpenseType:  "Business trip",
			Description:  "Train to the client site",
			Vendor:       "IRCTC",
			Categories:   []string{"Travel Expenses"},
			Receipt:      scanning.Receipt{Kind: scanning.KindImageURL, URL: "https://example.com/ticket.jpg"},
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = newMockStore()
		extractor = newMockExtractor()
		evaluator = newMockEvaluator(0.8)
		notifier = &mockNotifier{}
		clock = &mockTimeSource{now: time.Date(2024, 11, 25, 10, 0, 0, 0, time.UTC)}
		service = NewServiceWithDeps(store, DefaultDirectory(), extractor, evaluator, notifier, zap.NewNop(),
			&mockIDGenerator{prefix: "exp"}, clock)
	})

	Describe("Submit", func() {
		It("should store a pending entry with the extracted data and score", func() {
			result, err := service.Submit(ctx, submission())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.AggregateID).To(Equal("agg-1"))

			entry := result.Entry
			Expect(entry.ID).To(Equal("exp-1"))
			Expect(entry.Status).To(Equal(StatusPending))
			Expect(entry.Amount).To(Equal(4143.6))
			Expect(entry.Vendor).To(Equal("Indian Railways"))
			Expect(entry.DeclaredVendor).To(Equal("IRCTC"))
			Expect(*entry.BillNumber).To(Equal("PS24222516569711"))
			Expect(entry.FraudScore).To(Equal(0.8))
			Expect(entry.IsAnomaly).To(BeTrue())
			Expect(entry.AISummary).To(Equal("Exceeds the travel limit"))
			Expect(entry.ReceiptURL).To(Equal("https://example.com/ticket.jpg"))
			Expect(entry.SubmittedDate).To(Equal("2024-11-25"))
			Expect(entry.CreatedAt).To(Equal(clock.now))
			Expect(entry.ExtractionDegraded).To(BeFalse())
			Expect(entry.EvaluationDegraded).To(BeFalse())

			agg := store.aggregates["EMP005"]
			Expect(agg.Entries).To(HaveLen(1))
			Expect(agg.DepartmentID).To(Equal("DEP005"))
		})

		It("should not flag a score of exactly 0.7", func() {
			evaluator.result = fallback.Ok(evaluation.Evaluation{Score: 0.7, Reason: "borderline"})

			result, err := service.Submit(ctx, submission())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Entry.IsAnomaly).To(BeFalse())
		})

		It("should notify the department manager of the submission", func() {
			_, err := service.Submit(ctx, submission())
			Expect(err).NotTo(HaveOccurred())

			Expect(notifier.submissions).To(HaveLen(1))
			notice := notifier.submissions[0]
			Expect(notice.Employee.Email).To(Equal("david.lee@company.com"))
			Expect(notice.Reviewer.Email).To(Equal("manager.it@company.com"))
			Expect(notice.Department.Name).To(Equal("Information Technology"))
			Expect(notice.Entry.ID).To(Equal("exp-1"))
		})

		It("should pass the candidate to the evaluator", func() {
			_, err := service.Submit(ctx, submission())
			Expect(err).NotTo(HaveOccurred())

			Expect(evaluator.candidates).To(HaveLen(1))
			c := evaluator.candidates[0]
			Expect(c.EmployeeID).To(Equal("EMP005"))
			Expect(c.DepartmentID).To(Equal("DEP005"))
			Expect(c.Amount).To(Equal(4143.6))
			Expect(c.Vendor).To(Equal("Indian Railways"))
			Expect(c.DeclaredVendor).To(Equal("IRCTC"))
			Expect(c.Categories).To(ConsistOf("Travel Expenses"))
		})

		Context("when the submission is invalid", func() {
			It("should reject an unknown category before extraction", func() {
				sub := submission()
				sub.Categories = []string{"Yacht Rental"}

				_, err := service.Submit(ctx, sub)
				var verr *ValidationError
				Expect(errors.As(err, &verr)).To(BeTrue())
				Expect(verr.Field).To(Equal("categories"))
				Expect(extractor.calls).To(Equal(0))
				Expect(evaluator.calls).To(Equal(0))
				Expect(store.appendCalls).To(Equal(0))
			})

			It("should reject an employee outside the department", func() {
				sub := submission()
				sub.DepartmentID = "DEP001"

				_, err := service.Submit(ctx, sub)
				var verr *ValidationError
				Expect(errors.As(err, &verr)).To(BeTrue())
				Expect(verr.Constraint).To(ContainSubstring("not a member of department DEP001"))
				Expect(extractor.calls).To(Equal(0))
			})

			It("should reject an unsupported content type", func() {
				sub := submission()
				sub.Receipt = scanning.Receipt{Kind: "text/plain", Data: []byte("hi")}

				_, err := service.Submit(ctx, sub)
				Expect(errors.Is(err, ErrUnsupportedContentType)).To(BeTrue())
				Expect(extractor.calls).To(Equal(0))
			})
		})

		Context("when extraction degrades", func() {
			BeforeEach(func() {
				extractor.result = fallback.Degraded(scanning.Placeholder(clock.now), errors.New("model unavailable"))
				evaluator.result = fallback.Ok(evaluation.Evaluation{Score: 0.2, Reason: "Small amount"})
			})

			It("should still store a pending entry from the placeholder", func() {
				sub := submission()
				sub.Vendor = ""

				result, err := service.Submit(ctx, sub)
				Expect(err).NotTo(HaveOccurred())

				entry := result.Entry
				Expect(entry.Status).To(Equal(StatusPending))
				Expect(entry.Amount).To(BeZero())
				Expect(entry.Vendor).To(Equal(scanning.UnknownVendor))
				Expect(entry.Items).To(BeEmpty())
				Expect(entry.BillNumber).To(BeNil())
				Expect(entry.Date).To(Equal("2024-11-25"))
				Expect(entry.ExtractionDegraded).To(BeTrue())
				Expect(store.aggregates["EMP005"].Entries).To(HaveLen(1))
			})

			It("should fall back to the declared vendor", func() {
				result, err := service.Submit(ctx, submission())
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Entry.Vendor).To(Equal("IRCTC"))
			})
		})

		Context("when evaluation degrades", func() {
			It("should store the entry with a zero score and the error as summary", func() {
				evaluator.result = fallback.Degraded(evaluation.Evaluation{Score: 0, Reason: "context deadline exceeded"},
					context.DeadlineExceeded)

				result, err := service.Submit(ctx, submission())
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Entry.FraudScore).To(BeZero())
				Expect(result.Entry.IsAnomaly).To(BeFalse())
				Expect(result.Entry.AISummary).To(Equal("context deadline exceeded"))
				Expect(result.Entry.EvaluationDegraded).To(BeTrue())
			})
		})

		Context("when the bill number was already submitted", func() {
			It("should reject the duplicate and leave the store unchanged", func() {
				_, err := service.Submit(ctx, submission())
				Expect(err).NotTo(HaveOccurred())

				_, err = service.Submit(ctx, submission())
				Expect(errors.Is(err, ErrDuplicateReceipt)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("PS24222516569711"))
				Expect(store.aggregates["EMP005"].Entries).To(HaveLen(1))
				Expect(store.appendCalls).To(Equal(1))
				Expect(evaluator.calls).To(Equal(1))
			})

			It("should pass through a duplicate detected by the store", func() {
				store.appendErr = ErrDuplicateReceipt

				_, err := service.Submit(ctx, submission())
				Expect(errors.Is(err, ErrDuplicateReceipt)).To(BeTrue())
				Expect(errors.Is(err, ErrPersistence)).To(BeFalse())
			})
		})

		It("should allow receipts without a bill number to repeat", func() {
			extractor.result = fallback.Ok(scanning.ReceiptData{Items: []scanning.Item{}, TotalAmount: 120, Date: "2024-11-20", Vendor: "Cafe"})

			_, err := service.Submit(ctx, submission())
			Expect(err).NotTo(HaveOccurred())
			_, err = service.Submit(ctx, submission())
			Expect(err).NotTo(HaveOccurred())
			Expect(store.aggregates["EMP005"].Entries).To(HaveLen(2))
		})

		It("should wrap store failures as persistence errors", func() {
			store.appendErr = errors.New("disk full")

			_, err := service.Submit(ctx, submission())
			Expect(errors.Is(err, ErrPersistence)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("disk full"))
			Expect(notifier.submissions).To(BeEmpty())
		})

		It("should fail when the duplicate lookup fails", func() {
			store.findErr = errors.New("connection reset")

			_, err := service.Submit(ctx, submission())
			Expect(err).To(MatchError(ContainSubstring("checking bill number")))
			Expect(store.appendCalls).To(Equal(0))
		})

		It("should report month and year spend to date excluding rejected claims", func() {
			store.aggregates["EMP005"] = &Aggregate{
				ID:         "agg-existing",
				EmployeeID: "EMP005",
				Entries: []Expense{
					{ID: "a", Amount: 100, Date: "2024-11-20", Status: StatusPending},
					{ID: "b", Amount: 200, Date: "2024-10-01", Status: StatusApproved},
					{ID: "c", Amount: 50, Date: "2024-11-02", Status: StatusRejected},
					{ID: "d", Amount: 1000, Date: "2023-11-10", Status: StatusApproved},
				},
			}

			result, err := service.Submit(ctx, submission())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.AggregateID).To(Equal("agg-existing"))

			c := evaluator.candidates[0]
			Expect(c.MonthToDateSpend).To(Equal(100.0))
			Expect(c.YearToDateSpend).To(Equal(300.0))
		})
	})

	Describe("resolveVendor", func() {
		DescribeTable("picks the first usable vendor",
			func(extracted, declared, expected string) {
				Expect(resolveVendor(extracted, declared)).To(Equal(expected))
			},
			Entry("extracted vendor wins", "Indian Railways", "IRCTC", "Indian Railways"),
			Entry("unknown extracted uses declared", "Unknown", "IRCTC", "IRCTC"),
			Entry("blank extracted uses declared", "  ", "IRCTC", "IRCTC"),
			Entry("nothing known", "Unknown", "", "Unknown"),
		)
	})

	Describe("review decisions", func() {
		var entryID string

		BeforeEach(func() {
			result, err := service.Submit(ctx, submission())
			Expect(err).NotTo(HaveOccurred())
			entryID = result.Entry.ID
			clock.now = clock.now.Add(2 * time.Hour)
		})

		It("should approve a pending entry and notify both parties", func() {
			result, err := service.Approve(ctx, entryID, " verified with vendor ", "manager.it@company.com")
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Entry.Status).To(Equal(StatusApproved))
			Expect(result.Entry.StatusReason).To(Equal("verified with vendor"))
			Expect(result.Entry.ReviewedBy).To(Equal("manager.it@company.com"))
			Expect(result.Entry.UpdatedAt).To(Equal(clock.now))
			Expect(result.Entry.CreatedAt).To(BeTemporally("<", result.Entry.UpdatedAt))
			Expect(result.EmployeeID).To(Equal("EMP005"))

			Expect(notifier.decisions).To(HaveLen(1))
			Expect(notifier.decisions[0].Employee.Name).To(Equal("David Lee"))
			Expect(notifier.decisions[0].Reviewer.ID).To(Equal("MGR005"))
			Expect(result.Notifications).To(HaveLen(2))
			Expect(result.Notifications[1].Success).To(BeFalse())

			stored, _ := store.aggregates["EMP005"].Entry(entryID)
			Expect(stored.Status).To(Equal(StatusApproved))
		})

		It("should resolve an aggregate id to the pending entry", func() {
			result, err := service.Reject(ctx, "agg-1", "duplicate trip", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Entry.ID).To(Equal(entryID))
			Expect(result.Entry.Status).To(Equal(StatusRejected))
			Expect(result.Entry.ReviewedBy).To(BeEmpty())
		})

		It("should require a reason to reject", func() {
			_, err := service.Reject(ctx, entryID, "   ", "manager.it@company.com")
			Expect(err).To(MatchError(ErrMissingReason))

			stored, _ := store.aggregates["EMP005"].Entry(entryID)
			Expect(stored.Status).To(Equal(StatusPending))
			Expect(notifier.decisions).To(BeEmpty())
		})

		It("should refuse to decide an entry twice", func() {
			_, err := service.Approve(ctx, entryID, "", "")
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Reject(ctx, entryID, "changed my mind", "")
			Expect(err).To(MatchError(ErrInvalidTransition))
		})

		It("should report unknown references", func() {
			_, err := service.Approve(ctx, "missing", "", "")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("should wrap store failures as persistence errors", func() {
			store.updateErr = errors.New("write failed")

			_, err := service.Approve(ctx, entryID, "", "")
			Expect(errors.Is(err, ErrPersistence)).To(BeTrue())
		})
	})

	Describe("reads", func() {
		BeforeEach(func() {
			_, err := service.Submit(ctx, submission())
			Expect(err).NotTo(HaveOccurred())
		})

		It("should get an expense by entry id", func() {
			agg, entry, err := service.GetExpense(ctx, "exp-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(agg.EmployeeID).To(Equal("EMP005"))
			Expect(entry.ID).To(Equal("exp-1"))
		})

		It("should wrap not found", func() {
			_, _, err := service.GetExpense(ctx, "nope")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should list aggregates", func() {
			aggregates, err := service.ListExpenses(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(aggregates).To(HaveLen(1))
		})

		It("should return and purge an employee's expenses", func() {
			agg, err := service.GetEmployeeExpenses(ctx, "EMP005")
			Expect(err).NotTo(HaveOccurred())
			Expect(agg.Entries).To(HaveLen(1))

			Expect(service.PurgeEmployeeExpenses(ctx, "EMP005")).To(Succeed())
			_, err = service.GetEmployeeExpenses(ctx, "EMP005")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})
})
