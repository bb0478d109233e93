package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/zombor/expense-intake/internal/fallback"
	"github.com/zombor/expense-intake/internal/llm"
	"github.com/zombor/expense-intake/internal/policy"
)

// DefaultTimeout bounds a single evaluation call
const DefaultTimeout = 30 * time.Second

// PolicySource supplies the current policy document
type PolicySource interface {
	Policy() *policy.Document
}

// Evaluator scores candidates with a reasoning model. It never returns an
// error: failures and timeouts degrade to a zero score whose reason is the
// failure text.
type Evaluator struct {
	model   llm.Model
	policy  PolicySource
	timeout time.Duration
}

// NewEvaluator creates an Evaluator. A zero timeout uses DefaultTimeout.
func NewEvaluator(model llm.Model, policy PolicySource, timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Evaluator{
		model:   model,
		policy:  policy,
		timeout: timeout,
	}
}

type generateOutcome struct {
	text string
	err  error
}

// Evaluate scores the candidate against its department's policy
func (e *Evaluator) Evaluate(ctx context.Context, c Candidate) fallback.Result[Evaluation] {
	prompt, err := buildPrompt(e.policy.Policy().ForDepartment(c.DepartmentID), c)
	if err != nil {
		return degraded(err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan generateOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- generateOutcome{err: fmt.Errorf("evaluator panic: %v", r)}
			}
		}()
		text, err := e.model.GenerateText(ctx, prompt)
		done <- generateOutcome{text: text, err: err}
	}()

	var out generateOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = generateOutcome{err: fmt.Errorf("evaluating expense: %w", ctx.Err())}
	}

	if out.err != nil {
		return degraded(out.err)
	}
	return fallback.Ok(parseEvaluation(out.text))
}

func degraded(err error) fallback.Result[Evaluation] {
	return fallback.Degraded(Evaluation{Score: 0, Reason: err.Error()}, err)
}
