package expense

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Categories is the fixed set of claimable expense categories
var Categories = []string{
	"Travel Expenses",
	"Work Equipment & Supplies",
	"Meals & Entertainment",
	"Internet & Phone Bills",
	"Professional Development",
	"Health & Wellness",
	"Commuting Expenses",
	"Software & Subscriptions",
	"Relocation Assistance",
	"Client & Marketing Expenses",
}

// IsCategory reports whether c is one of Categories
func IsCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// SplitCategories turns a comma separated list into trimmed labels
func SplitCategories(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CategoryList decodes from either a JSON list or a comma separated string
type CategoryList []string

func (c *CategoryList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, SplitCategories(item)...)
		}
		*c = out
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("categories must be a string or a list of strings")
	}
	*c = SplitCategories(s)
	return nil
}
