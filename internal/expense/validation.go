package expense

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zombor/expense-intake/internal/scanning"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("expense_category", func(fl validator.FieldLevel) bool {
		return IsCategory(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

var fieldNames = map[string]string{
	"EmployeeID":   "employeeId",
	"DepartmentID": "departmentId",
	"ExpenseType":  "expenseType",
	"Description":  "description",
	"Vendor":       "vendor",
	"Categories":   "categories",
}

// Validate checks the submission fields and receipt reference. It does not
// consult the directory.
func Validate(s *Submission) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return err
		}
		return translate(verrs[0])
	}
	return validateReceipt(s.Receipt)
}

func translate(fe validator.FieldError) *ValidationError {
	field := fe.StructField()
	if name, ok := fieldNames[field]; ok {
		field = name
	}

	switch fe.Tag() {
	case "required":
		return invalid(field, "is required")
	case "min":
		return invalid(field, "at least one category is required")
	case "max":
		return invalid(field, fmt.Sprintf("must be at most %s characters", fe.Param()))
	case "expense_category":
		return invalid("categories", fmt.Sprintf("%q is not a valid category (allowed: %s)",
			fe.Value(), strings.Join(Categories, ", ")))
	}
	return invalid(field, fe.Error())
}

func validateReceipt(r scanning.Receipt) error {
	kind, err := scanning.ParseContentKind(string(r.Kind))
	if err != nil {
		return &ValidationError{Field: "receipt", Constraint: err.Error(), Err: err}
	}
	if kind == scanning.KindImageURL {
		if strings.TrimSpace(r.URL) == "" {
			return invalid("receipt", "a receipt URL is required")
		}
		return nil
	}
	if len(r.Data) == 0 {
		return invalid("receipt", "receipt content is empty")
	}
	return nil
}
