package expense

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed directory.yaml
var defaultDirectoryYAML []byte

// Person is an employee or manager
type Person struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Email string `yaml:"email" json:"email"`
}

// Department lists its manager and members
type Department struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Manager   Person   `yaml:"manager" json:"manager"`
	Employees []Person `yaml:"employees" json:"employees"`
}

// Membership is a resolved employee/department pair
type Membership struct {
	Employee   Person
	Department Department
}

// Directory answers employee/department membership questions
type Directory struct {
	Departments []Department `yaml:"departments"`
}

// DefaultDirectory returns the built-in directory
func DefaultDirectory() *Directory {
	d, err := parseDirectory(defaultDirectoryYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded directory is invalid: %v", err))
	}
	return d
}

// LoadDirectory reads a directory file, or the built-in one when path is empty
func LoadDirectory(path string) (*Directory, error) {
	if path == "" {
		return DefaultDirectory(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", path, err)
	}
	return parseDirectory(data)
}

func parseDirectory(data []byte) (*Directory, error) {
	var d Directory
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing directory: %w", err)
	}
	return &d, nil
}

// Department returns the department with the given id
func (d *Directory) Department(id string) (Department, bool) {
	for _, dep := range d.Departments {
		if dep.ID == id {
			return dep, true
		}
	}
	return Department{}, false
}

// Employee returns the employee with the given id
func (d *Directory) Employee(id string) (Person, bool) {
	for _, dep := range d.Departments {
		for _, e := range dep.Employees {
			if e.ID == id {
				return e, true
			}
		}
	}
	return Person{}, false
}

// Lookup resolves an employee within a department
func (d *Directory) Lookup(employeeID, departmentID string) (Membership, error) {
	dept, ok := d.Department(departmentID)
	if !ok {
		return Membership{}, invalid("departmentId", fmt.Sprintf("department %s does not exist", departmentID))
	}
	if _, ok := d.Employee(employeeID); !ok {
		return Membership{}, invalid("employeeId", fmt.Sprintf("employee %s does not exist", employeeID))
	}
	for _, e := range dept.Employees {
		if e.ID == employeeID {
			return Membership{Employee: e, Department: dept}, nil
		}
	}
	return Membership{}, invalid("employeeId", fmt.Sprintf("employee %s is not a member of department %s", employeeID, departmentID))
}
