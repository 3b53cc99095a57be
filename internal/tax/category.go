// Package tax holds the statutory tax rules: the two tax categories, the
// default-rate snapshot and the forward/inverse tax computations.
package tax

import (
	"fmt"
	"strings"
)

// Category tags a product with the tax it attracts.
type Category string

const (
	// CategoryVAT is the value-added tax category.
	CategoryVAT Category = "vat"
	// CategoryWithholding is the withholding/addition tax category.
	CategoryWithholding Category = "withholding"
)

// Categories lists every known category in display order.
func Categories() []Category {
	return []Category{CategoryVAT, CategoryWithholding}
}

// ParseCategory converts user input into a Category.
func ParseCategory(raw string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryVAT:
		return CategoryVAT, nil
	case CategoryWithholding:
		return CategoryWithholding, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, raw)
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryVAT, CategoryWithholding:
		return true
	}
	return false
}

func (c Category) String() string {
	return string(c)
}
