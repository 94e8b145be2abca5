package workflow

import (
	"fmt"
	"slices"

	dErrors "changeflow/pkg/domain-errors"
)

var categoryMatrix = map[string][]string{
	"APPLICATION":      {"POS APP", "MERCHANT APP", "SWITCH APP"},
	"SERVERS":          {"AMEX", "UPI", "DOMAIN", "MCARD", "VISA", "MDLWR"},
	"NETWORK DEVICES":  {"DC-SWITCH", "CORE-SW", "EDGE-FW", "DC-FW", "INTERNET-FW"},
	"POS APPLICATION":  {"SOFTWARE", "PATCH"},
	"MERCHANT SUPPORT": {"DCC", "PRE-AUTH", "SETTLEMENT"},
}

// Category is one row of the compatibility matrix.
type Category struct {
	Name          string   `json:"name"`
	Subcategories []string `json:"subcategories"`
}

// Categories returns a copy of the matrix sorted by category name.
func Categories() []Category {
	names := make([]string, 0, len(categoryMatrix))
	for name := range categoryMatrix {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]Category, 0, len(names))
	for _, name := range names {
		out = append(out, Category{Name: name, Subcategories: slices.Clone(categoryMatrix[name])})
	}
	return out
}

// ValidateCategory checks the pair against the matrix. An unknown category fails before
// the subcategory is looked at.
func ValidateCategory(category, subcategory string) error {
	allowed, ok := categoryMatrix[category]
	if !ok {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown category %q", category))
	}
	if !slices.Contains(allowed, subcategory) {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("subcategory %q is not allowed for category %q", subcategory, category))
	}
	return nil
}
