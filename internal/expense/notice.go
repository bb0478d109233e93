package expense

import "context"

// SubmissionNotice describes an accepted submission
type SubmissionNotice struct {
	Employee    Person
	Reviewer    Person
	Department  Department
	AggregateID string
	Entry       Expense
}

// DecisionNotice describes an approved or rejected entry
type DecisionNotice struct {
	Employee    Person
	Reviewer    Person
	Department  Department
	AggregateID string
	Entry       Expense
}

// NotificationResult is the outcome of one send attempt
type NotificationResult struct {
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}

// Notifier delivers submission and decision emails. Failures are reported,
// never returned, so they cannot undo a stored change.
type Notifier interface {
	// SubmissionReceived queues the submission emails and returns immediately
	SubmissionReceived(ctx context.Context, n SubmissionNotice)

	// DecisionMade sends one email to the submitter and one to the reviewer
	DecisionMade(ctx context.Context, n DecisionNotice) []NotificationResult
}
