// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageOffset converts a 1-based page number and page size into a SQL offset.
// Negative results are clamped to zero.
func PageOffset(page, pageSize int) int {
	off := (page - 1) * pageSize
	if off < 0 {
		return 0
	}
	return off
}

// TotalPages computes the page count for a total item count, rounding up.
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
