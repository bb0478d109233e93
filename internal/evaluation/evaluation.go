package evaluation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/zombor/expense-intake/internal/scanning"
)

// AnomalyThreshold is the score above which an expense is flagged
const AnomalyThreshold = 0.7

// NoReason is used when the model omits the reason line
const NoReason = "No reason provided"

// IsAnomaly reports whether a score is above AnomalyThreshold.
// A score of exactly AnomalyThreshold is not anomalous.
func IsAnomaly(score float64) bool {
	return score > AnomalyThreshold
}

// Candidate is the expense presented to the reasoning model
type Candidate struct {
	EmployeeID       string          `json:"employeeId"`
	DepartmentID     string          `json:"departmentId"`
	ExpenseType      string          `json:"expenseType"`
	Categories       []string        `json:"categories"`
	Description      string          `json:"description"`
	DeclaredVendor   string          `json:"declaredVendor,omitempty"`
	Vendor           string          `json:"vendor"`
	Amount           float64         `json:"amount"`
	Date             string          `json:"date"`
	Items            []scanning.Item `json:"items"`
	BillNumber       *string         `json:"bill_number"`
	MonthToDateSpend float64         `json:"monthToDateSpend"`
	YearToDateSpend  float64         `json:"yearToDateSpend"`
}

// Evaluation is a suspicion score in [0, 1] with its rationale
type Evaluation struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// IsAnomaly reports whether the evaluation flags the expense
func (e Evaluation) IsAnomaly() bool {
	return IsAnomaly(e.Score)
}

var (
	scorePattern  = regexp.MustCompile(`sus_score\s*=\s*([0-9]*\.?[0-9]+)`)
	reasonPattern = regexp.MustCompile(`(?m)reason\s*=\s*(.+)$`)
)

// parseEvaluation reads the tagged score and reason lines from a model answer
func parseEvaluation(text string) Evaluation {
	eval := Evaluation{Score: 0, Reason: NoReason}

	if m := scorePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			eval.Score = clamp(v)
		}
	}
	if m := reasonPattern.FindStringSubmatch(text); m != nil {
		if reason := strings.TrimSpace(m[1]); reason != "" {
			eval.Reason = reason
		}
	}
	return eval
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
