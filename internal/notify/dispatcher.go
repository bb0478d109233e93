package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/expense-intake/internal/expense"
	"github.com/zombor/expense-intake/internal/metrics"
)

const successMessage = "Email sent successfully!"

// Config controls recipients and links
type Config struct {
	// FallbackReviewer receives reviewer mail when a department has no manager email
	FallbackReviewer string
	// ReviewBaseURL, when set, is linked from review emails as <base>/<expense id>
	ReviewBaseURL string
}

// Dispatcher implements expense.Notifier on top of a Sender
type Dispatcher struct {
	sender Sender
	cfg    Config
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(sender Sender, cfg Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, cfg: cfg, logger: logger}
}

// message is one email waiting to be sent
type message struct {
	kind    string
	to      string
	subject string
	html    string
	err     error
}

// sendAll sends every message concurrently and reports each outcome in order
func (d *Dispatcher) sendAll(ctx context.Context, msgs []message) []expense.NotificationResult {
	results := make([]expense.NotificationResult, len(msgs))
	var g errgroup.Group
	for i, m := range msgs {
		g.Go(func() error {
			results[i] = d.send(ctx, m)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) send(ctx context.Context, m message) expense.NotificationResult {
	result := expense.NotificationResult{Recipient: m.to}
	switch {
	case m.err != nil:
		result.Message = fmt.Sprintf("Error preparing email: %v", m.err)
	case strings.TrimSpace(m.to) == "":
		result.Message = "No email address for recipient"
	default:
		if err := d.sender.Send(ctx, m.to, m.subject, m.html); err != nil {
			result.Message = fmt.Sprintf("Error sending email: %v", err)
		} else {
			result.Success = true
			result.Message = successMessage
		}
	}

	outcome := "success"
	if !result.Success {
		outcome = "failure"
		d.logger.Warn("Notification failed",
			zap.String("kind", m.kind),
			zap.String("recipient", m.to),
			zap.String("message", result.Message),
		)
	} else {
		d.logger.Info("Notification sent", zap.String("kind", m.kind), zap.String("recipient", m.to))
	}
	metrics.NotificationsTotal.WithLabelValues(m.kind, outcome).Inc()
	return result
}

func (d *Dispatcher) reviewerEmail(reviewer expense.Person) string {
	if reviewer.Email != "" {
		return reviewer.Email
	}
	return d.cfg.FallbackReviewer
}

func (d *Dispatcher) reviewURL(entryID string) string {
	if d.cfg.ReviewBaseURL == "" {
		return ""
	}
	return strings.TrimRight(d.cfg.ReviewBaseURL, "/") + "/" + entryID
}

func newMessage(kind, to string, render func() (string, string, error)) message {
	subject, html, err := render()
	return message{kind: kind, to: to, subject: subject, html: html, err: err}
}

// submissionMessages builds the acknowledgment, the review request and,
// for anomalous entries, the high-risk alert
func (d *Dispatcher) submissionMessages(n expense.SubmissionNotice) []message {
	reviewer := d.reviewerEmail(n.Reviewer)
	msgs := []message{
		newMessage("submission_ack", n.Employee.Email, func() (string, string, error) {
			return statusEmail(n.Employee, n.Entry)
		}),
		newMessage("review_request", reviewer, func() (string, string, error) {
			return reviewEmail(n, d.reviewURL(n.Entry.ID), false)
		}),
	}
	if n.Entry.IsAnomaly {
		msgs = append(msgs, newMessage("high_risk_alert", reviewer, func() (string, string, error) {
			return reviewEmail(n, d.reviewURL(n.Entry.ID), true)
		}))
	}
	return msgs
}

// SubmissionReceived sends the submission emails in the background
func (d *Dispatcher) SubmissionReceived(ctx context.Context, n expense.SubmissionNotice) {
	msgs := d.submissionMessages(n)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sendAll(ctx, msgs)
	}()
}

// DecisionMade sends the decision to the submitter and the reviewer
func (d *Dispatcher) DecisionMade(ctx context.Context, n expense.DecisionNotice) []expense.NotificationResult {
	return d.sendAll(ctx, []message{
		newMessage("decision_submitter", n.Employee.Email, func() (string, string, error) {
			return statusEmail(n.Employee, n.Entry)
		}),
		newMessage("decision_reviewer", d.reviewerEmail(n.Reviewer), func() (string, string, error) {
			return decisionEmail(n)
		}),
	})
}

// Close waits for background sends to finish or ctx to end
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for notifications: %w", ctx.Err())
	}
}
