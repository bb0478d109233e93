package evaluation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/expense-intake/internal/policy"
)

const promptHeader = `The following is a receipt reimbursement appeal. Rate it from 0 to 1 on a suspicion score, considering:

1. Exceeding limits. The policy for this employee's department is:
%s
   Compare the amount with the category limit and the per-expense limit. The employee has already claimed %.2f this month and %.2f this year; compare those plus this amount with the monthly and annual limits.
2. Category not matching the description or the receipt contents.
3. Billed outside business hours.
4. Unusually high rates for common expenses (for example luxury dining listed as a meal).

This is the appeal you have to evaluate:
%s

Give the score in this format: sus_score = <score>
Also give a very concise reason for the score and your conclusion in this format: reason = <reason>
`

// buildPrompt embeds the department policy and the candidate into the
// evaluation instructions
func buildPrompt(dept policy.Department, c Candidate) (string, error) {
	policyJSON, err := json.MarshalIndent(dept, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding policy: %w", err)
	}
	candidateJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding candidate: %w", err)
	}
	return strings.TrimSpace(fmt.Sprintf(promptHeader,
		policyJSON, c.MonthToDateSpend, c.YearToDateSpend, candidateJSON)), nil
}
