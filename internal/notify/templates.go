package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/zombor/expense-intake/internal/expense"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{"join": strings.Join}

// one template set per body so each can define its own "content"
var bodies = map[string]*template.Template{
	"status":   mustParse("status"),
	"review":   mustParse("review"),
	"decision": mustParse("decision"),
}

func mustParse(name string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
}

// emailData feeds the templates
type emailData struct {
	Title      string
	Color      template.CSS
	Message    string
	Recipient  string
	ReviewURL  string
	Employee   expense.Person
	Department expense.Department
	Entry      expense.Expense
}

const (
	colorInfo    = "#007bff"
	colorSuccess = "#28a745"
	colorDanger  = "#dc3545"
)

func render(body string, data emailData) (string, error) {
	var buf bytes.Buffer
	if err := bodies[body].ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("rendering %s email: %w", body, err)
	}
	return buf.String(), nil
}

// statusEmail is sent to the submitter on receipt and on each decision
func statusEmail(employee expense.Person, entry expense.Expense) (subject, html string, err error) {
	data := emailData{Recipient: employee.Name, Employee: employee, Entry: entry}
	switch entry.Status {
	case expense.StatusApproved:
		subject, data.Title, data.Color = "Expense Request Approved", "Expense Request Approved", colorSuccess
		data.Message = fmt.Sprintf("Your expense request (%s) has been approved.", entry.ID)
	case expense.StatusRejected:
		subject, data.Title, data.Color = "Expense Request Rejected", "Expense Request Rejected", colorDanger
		data.Message = fmt.Sprintf("Your expense request (%s) has been rejected.", entry.ID)
	default:
		subject, data.Title, data.Color = "Expense Request Received", "Expense Request Acknowledgment", colorInfo
		data.Message = fmt.Sprintf("Your expense request (%s) has been received and is being processed.", entry.ID)
	}
	html, err = render("status", data)
	return subject, html, err
}

// reviewEmail asks the reviewer to act on a new submission
func reviewEmail(n expense.SubmissionNotice, reviewURL string, alert bool) (subject, html string, err error) {
	data := emailData{
		Title:      "New Expense Request Requires Approval",
		Color:      colorInfo,
		ReviewURL:  reviewURL,
		Employee:   n.Employee,
		Department: n.Department,
		Entry:      n.Entry,
	}
	subject = fmt.Sprintf("Expense %s awaiting review", n.Entry.ID)
	if alert {
		data.Title, data.Color = "High-Risk Expense Detected", colorDanger
		subject = fmt.Sprintf("High-risk expense %s (score %.2f)", n.Entry.ID, n.Entry.FraudScore)
	}
	html, err = render("review", data)
	return subject, html, err
}

// decisionEmail confirms a decision to the reviewer
func decisionEmail(n expense.DecisionNotice) (subject, html string, err error) {
	data := emailData{
		Title:      fmt.Sprintf("Expense %s", n.Entry.Status),
		Color:      colorSuccess,
		Employee:   n.Employee,
		Department: n.Department,
		Entry:      n.Entry,
	}
	if n.Entry.Status == expense.StatusRejected {
		data.Color = colorDanger
	}
	subject = fmt.Sprintf("Expense %s %s", n.Entry.ID, strings.ToLower(string(n.Entry.Status)))
	html, err = render("decision", data)
	return subject, html, err
}
