package expense

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zombor/expense-intake/internal/evaluation"
	"github.com/zombor/expense-intake/internal/fallback"
	"github.com/zombor/expense-intake/internal/metrics"
	"github.com/zombor/expense-intake/internal/scanning"
)

// IDGenerator generates unique entry IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random 128-bit IDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ReceiptExtractor turns a receipt into structured data, degrading instead of failing
type ReceiptExtractor interface {
	Extract(ctx context.Context, receipt scanning.Receipt) fallback.Result[scanning.ReceiptData]
}

// FraudEvaluator scores a candidate expense, degrading instead of failing
type FraudEvaluator interface {
	Evaluate(ctx context.Context, c evaluation.Candidate) fallback.Result[evaluation.Evaluation]
}

// Service runs the intake pipeline and review decisions
type Service struct {
	store       Store
	directory   *Directory
	extractor   ReceiptExtractor
	evaluator   FraudEvaluator
	notifier    Notifier
	logger      *zap.Logger
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with random IDs and the system clock
func NewService(store Store, directory *Directory, extractor ReceiptExtractor, evaluator FraudEvaluator, notifier Notifier, logger *zap.Logger) *Service {
	return NewServiceWithDeps(store, directory, extractor, evaluator, notifier, logger, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store Store, directory *Directory, extractor ReceiptExtractor, evaluator FraudEvaluator, notifier Notifier, logger *zap.Logger, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:       store,
		directory:   directory,
		extractor:   extractor,
		evaluator:   evaluator,
		notifier:    notifier,
		logger:      logger,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// SubmitResult identifies the stored entry
type SubmitResult struct {
	AggregateID string  `json:"aggregate_id"`
	Entry       Expense `json:"expense"`
}

// Submit validates, extracts, checks for duplicates, evaluates and stores one
// submission. Extraction and evaluation failures never fail the submission.
func (s *Service) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	if err := Validate(&sub); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	member, err := s.directory.Lookup(sub.EmployeeID, sub.DepartmentID)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	logger := s.logger.With(
		zap.String("employee_id", sub.EmployeeID),
		zap.String("department_id", sub.DepartmentID),
		zap.String("content_kind", string(sub.Receipt.Kind)),
	)

	timer := prometheus.NewTimer(metrics.StageDuration.WithLabelValues(metrics.StageExtraction))
	extracted := s.extractor.Extract(ctx, sub.Receipt)
	timer.ObserveDuration()
	receipt := extracted.Unwrap(func(cause error) {
		metrics.DegradationsTotal.WithLabelValues(metrics.StageExtraction).Inc()
		logger.Warn("Receipt extraction degraded", zap.Error(cause))
	})

	if receipt.BillNumber != nil {
		existing, err := s.store.FindByBillNumber(ctx, *receipt.BillNumber)
		switch {
		case err == nil:
			metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
			logger.Info("Duplicate receipt rejected",
				zap.String("bill_number", *receipt.BillNumber),
				zap.String("existing_expense_id", existing.ID),
			)
			return nil, fmt.Errorf("receipt with bill number %s already exists: %w", *receipt.BillNumber, ErrDuplicateReceipt)
		case !errors.Is(err, ErrNotFound):
			metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("checking bill number: %w", err)
		}
	}

	now := s.timeSource.Now()
	monthToDate, yearToDate := s.spendToDate(ctx, sub.EmployeeID, now)
	vendor := resolveVendor(receipt.Vendor, sub.Vendor)

	timer = prometheus.NewTimer(metrics.StageDuration.WithLabelValues(metrics.StageEvaluation))
	evaluated := s.evaluator.Evaluate(ctx, evaluation.Candidate{
		EmployeeID:       sub.EmployeeID,
		DepartmentID:     sub.DepartmentID,
		ExpenseType:      sub.ExpenseType,
		Categories:       sub.Categories,
		Description:      sub.Description,
		DeclaredVendor:   sub.Vendor,
		Vendor:           vendor,
		Amount:           receipt.TotalAmount,
		Date:             receipt.Date,
		Items:            receipt.Items,
		BillNumber:       receipt.BillNumber,
		MonthToDateSpend: monthToDate,
		YearToDateSpend:  yearToDate,
	})
	timer.ObserveDuration()
	eval := evaluated.Unwrap(func(cause error) {
		metrics.DegradationsTotal.WithLabelValues(metrics.StageEvaluation).Inc()
		logger.Warn("Fraud evaluation degraded", zap.Error(cause))
	})

	entry := Expense{
		ID:                 s.idGenerator.Generate(),
		ExpenseType:        sub.ExpenseType,
		Categories:         sub.Categories,
		Description:        sub.Description,
		Vendor:             vendor,
		DeclaredVendor:     sub.Vendor,
		Amount:             receipt.TotalAmount,
		Date:               receipt.Date,
		Items:              receipt.Items,
		BillNumber:         receipt.BillNumber,
		ReceiptKind:        string(sub.Receipt.Kind),
		FraudScore:         eval.Score,
		AISummary:          eval.Reason,
		IsAnomaly:          eval.IsAnomaly(),
		ExtractionDegraded: extracted.IsDegraded(),
		EvaluationDegraded: evaluated.IsDegraded(),
		Status:             StatusPending,
		SubmittedDate:      now.Format("2006-01-02"),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if sub.Receipt.Kind == scanning.KindImageURL {
		entry.ReceiptURL = sub.Receipt.URL
	}

	timer = prometheus.NewTimer(metrics.StageDuration.WithLabelValues(metrics.StagePersist))
	agg, err := s.store.AppendEntry(ctx, sub.EmployeeID, sub.DepartmentID, entry)
	timer.ObserveDuration()
	if err != nil {
		if errors.Is(err, ErrDuplicateReceipt) {
			metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
			return nil, err
		}
		metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
		logger.Error("Failed to store expense", zap.String("expense_id", entry.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	metrics.FraudScore.Observe(entry.FraudScore)
	if entry.IsAnomaly {
		metrics.AnomaliesTotal.Inc()
	}
	logger.Info("Expense submitted",
		zap.String("expense_id", entry.ID),
		zap.String("aggregate_id", agg.ID),
		zap.Float64("amount", entry.Amount),
		zap.Float64("fraud_score", entry.FraudScore),
		zap.Bool("is_anomaly", entry.IsAnomaly),
	)

	s.notifier.SubmissionReceived(context.WithoutCancel(ctx), SubmissionNotice{
		Employee:    member.Employee,
		Reviewer:    member.Department.Manager,
		Department:  member.Department,
		AggregateID: agg.ID,
		Entry:       entry,
	})

	return &SubmitResult{AggregateID: agg.ID, Entry: entry}, nil
}

// resolveVendor prefers the extracted vendor, then the declared one
func resolveVendor(extracted, declared string) string {
	if v := strings.TrimSpace(extracted); v != "" && v != scanning.UnknownVendor {
		return v
	}
	if v := strings.TrimSpace(declared); v != "" {
		return v
	}
	return scanning.UnknownVendor
}

// spendToDate sums the employee's non-rejected claims dated in the current
// month and year. Lookup failures count as no prior spend.
func (s *Service) spendToDate(ctx context.Context, employeeID string, now time.Time) (month, year float64) {
	agg, err := s.store.GetAggregate(ctx, employeeID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Could not load prior expenses", zap.String("employee_id", employeeID), zap.Error(err))
		}
		return 0, 0
	}

	for _, e := range agg.Entries {
		if e.Status == StatusRejected {
			continue
		}
		date, err := time.Parse("2006-01-02", e.Date)
		if err != nil || date.Year() != now.Year() {
			continue
		}
		year += e.Amount
		if date.Month() == now.Month() {
			month += e.Amount
		}
	}
	return month, year
}

// DecisionResult is the updated entry plus the notification outcomes
type DecisionResult struct {
	AggregateID   string               `json:"aggregate_id"`
	EmployeeID    string               `json:"employee_id"`
	Entry         Expense              `json:"expense"`
	Notifications []NotificationResult `json:"notifications"`
}

// Approve marks a pending entry Approved
func (s *Service) Approve(ctx context.Context, ref, reason, reviewedBy string) (*DecisionResult, error) {
	return s.decide(ctx, ref, StatusApproved, reason, reviewedBy)
}

// Reject marks a pending entry Rejected. A non-empty reason is required.
func (s *Service) Reject(ctx context.Context, ref, reason, reviewedBy string) (*DecisionResult, error) {
	return s.decide(ctx, ref, StatusRejected, reason, reviewedBy)
}

func (s *Service) decide(ctx context.Context, ref string, status Status, reason, reviewedBy string) (*DecisionResult, error) {
	reason = strings.TrimSpace(reason)
	if status == StatusRejected && reason == "" {
		return nil, ErrMissingReason
	}

	agg, entry, err := s.store.UpdateEntryStatus(ctx, ref, StatusChange{
		Status:     status,
		Reason:     reason,
		ReviewedBy: strings.TrimSpace(reviewedBy),
		At:         s.timeSource.Now(),
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrMissingReason) {
			return nil, err
		}
		s.logger.Error("Failed to update expense status", zap.String("ref", ref), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	metrics.StatusTransitionsTotal.WithLabelValues(string(status)).Inc()
	s.logger.Info("Expense reviewed",
		zap.String("expense_id", entry.ID),
		zap.String("status", string(status)),
		zap.String("reviewed_by", entry.ReviewedBy),
	)

	employee, ok := s.directory.Employee(agg.EmployeeID)
	if !ok {
		employee = Person{ID: agg.EmployeeID}
	}
	department, _ := s.directory.Department(agg.DepartmentID)

	results := s.notifier.DecisionMade(ctx, DecisionNotice{
		Employee:    employee,
		Reviewer:    department.Manager,
		Department:  department,
		AggregateID: agg.ID,
		Entry:       *entry,
	})

	return &DecisionResult{
		AggregateID:   agg.ID,
		EmployeeID:    agg.EmployeeID,
		Entry:         *entry,
		Notifications: results,
	}, nil
}

// GetExpense resolves an entry id or aggregate id
func (s *Service) GetExpense(ctx context.Context, ref string) (*Aggregate, *Expense, error) {
	agg, entry, err := s.store.GetEntry(ctx, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("getting expense: %w", err)
	}
	return agg, entry, nil
}

// GetEmployeeExpenses returns an employee's aggregate
func (s *Service) GetEmployeeExpenses(ctx context.Context, employeeID string) (*Aggregate, error) {
	agg, err := s.store.GetAggregate(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("getting expenses for %s: %w", employeeID, err)
	}
	return agg, nil
}

// ListExpenses returns every aggregate
func (s *Service) ListExpenses(ctx context.Context) ([]*Aggregate, error) {
	aggregates, err := s.store.ListAggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return aggregates, nil
}

// PurgeEmployeeExpenses deletes an employee's aggregate
func (s *Service) PurgeEmployeeExpenses(ctx context.Context, employeeID string) error {
	if err := s.store.PurgeAggregate(ctx, employeeID); err != nil {
		return fmt.Errorf("purging expenses for %s: %w", employeeID, err)
	}
	s.logger.Info("Employee expenses purged", zap.String("employee_id", employeeID))
	return nil
}
