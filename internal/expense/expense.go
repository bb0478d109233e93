package expense

import (
	"time"

	"github.com/zombor/expense-intake/internal/scanning"
)

// Status is the review state of an entry
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// Expense is one reimbursement claim. Only the status fields change after creation.
type Expense struct {
	ID                 string          `json:"expenseId"`
	ExpenseType        string          `json:"expenseType"`
	Categories         []string        `json:"categories"`
	Description        string          `json:"description"`
	Vendor             string          `json:"vendor"`
	DeclaredVendor     string          `json:"declaredVendor,omitempty"`
	Amount             float64         `json:"amount"`
	Date               string          `json:"date"`
	Items              []scanning.Item `json:"item_details"`
	BillNumber         *string         `json:"bill_number"`
	ReceiptURL         string          `json:"receiptImage,omitempty"`
	ReceiptKind        string          `json:"receiptKind"`
	FraudScore         float64         `json:"fraudScore"`
	AISummary          string          `json:"aiSummary"`
	IsAnomaly          bool            `json:"isAnomaly"`
	ExtractionDegraded bool            `json:"extractionDegraded,omitempty"`
	EvaluationDegraded bool            `json:"evaluationDegraded,omitempty"`
	Status             Status          `json:"status"`
	StatusReason       string          `json:"statusReason,omitempty"`
	ReviewedBy         string          `json:"reviewedBy,omitempty"`
	SubmittedDate      string          `json:"submittedDate"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Aggregate is the per-employee record holding every entry in submission order
type Aggregate struct {
	ID           string    `json:"id"`
	EmployeeID   string    `json:"employeeId"`
	DepartmentID string    `json:"departmentId"`
	Entries      []Expense `json:"expenses"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Entry returns the entry with the given id
func (a *Aggregate) Entry(id string) (*Expense, bool) {
	for i := range a.Entries {
		if a.Entries[i].ID == id {
			return &a.Entries[i], true
		}
	}
	return nil, false
}

// reviewTarget is the entry an aggregate id refers to: the earliest pending
// entry, or the first entry when none is pending.
func (a *Aggregate) reviewTarget() (*Expense, bool) {
	if len(a.Entries) == 0 {
		return nil, false
	}
	for i := range a.Entries {
		if a.Entries[i].Status == StatusPending {
			return &a.Entries[i], true
		}
	}
	return &a.Entries[0], true
}

// StatusChange is a review decision applied to one entry
type StatusChange struct {
	Status     Status
	Reason     string
	ReviewedBy string
	At         time.Time
}

// apply moves the entry out of Pending. Rejections need a reason.
func (c StatusChange) apply(e *Expense) error {
	if c.Status != StatusApproved && c.Status != StatusRejected {
		return ErrInvalidTransition
	}
	if c.Status == StatusRejected && c.Reason == "" {
		return ErrMissingReason
	}
	if e.Status != StatusPending {
		return ErrInvalidTransition
	}
	e.Status = c.Status
	e.StatusReason = c.Reason
	if c.ReviewedBy != "" {
		e.ReviewedBy = c.ReviewedBy
	}
	e.UpdatedAt = c.At
	return nil
}

// Submission is an intake request before extraction
type Submission struct {
	EmployeeID   string           `validate:"required"`
	DepartmentID string           `validate:"required"`
	ExpenseType  string           `validate:"required"`
	Description  string           `validate:"required"`
	Vendor       string           `validate:"omitempty,max=200"`
	Categories   []string         `validate:"required,min=1,dive,expense_category"`
	Receipt      scanning.Receipt `validate:"-"`
}
