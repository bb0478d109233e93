package policy

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// CategoryLimit caps a single expense in one category
type CategoryLimit struct {
	Category string  `yaml:"category" json:"category" validate:"required"`
	MaxSpend float64 `yaml:"maxSpend" json:"maxSpend" validate:"gte=0"`
}

// Department holds the spending ceilings for one department
type Department struct {
	ID                 string          `yaml:"id,omitempty" json:"id,omitempty"`
	Name               string          `yaml:"department" json:"department" validate:"required"`
	MaxAnnualSpend     float64         `yaml:"maxAnnualSpend" json:"maxAnnualSpend" validate:"gte=0"`
	MaxMonthlySpend    float64         `yaml:"maxMonthlySpend" json:"maxMonthlySpend" validate:"gte=0"`
	MaxPerExpenseSpend float64         `yaml:"maxPerExpenseSpend" json:"maxPerExpenseSpend" validate:"gte=0"`
	Categories         []CategoryLimit `yaml:"categories" json:"allowedExpenseCategories" validate:"dive"`
}

// CategoryLimit returns the cap for a category, if the department lists one
func (d Department) CategoryLimit(category string) (float64, bool) {
	for _, c := range d.Categories {
		if strings.EqualFold(c.Category, category) {
			return c.MaxSpend, true
		}
	}
	return 0, false
}

// Document is the complete expense policy
type Document struct {
	Default     Department   `yaml:"default" json:"default" validate:"required"`
	Departments []Department `yaml:"departments" json:"expensePolicies" validate:"dive"`
}

// ForDepartment returns the limits for a department, matched by id or name.
// Unknown departments get the default limits.
func (d *Document) ForDepartment(key string) Department {
	key = strings.TrimSpace(key)
	for _, dep := range d.Departments {
		if strings.EqualFold(dep.ID, key) || strings.EqualFold(dep.Name, key) {
			return dep
		}
	}
	return d.Default
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates a YAML policy document
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("validating policy: %w", err)
	}
	return &doc, nil
}

// DefaultDocument returns the built-in policy
func DefaultDocument() *Document {
	doc, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded policy is invalid: %v", err))
	}
	return doc
}
