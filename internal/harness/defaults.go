package harness

import (
	"fmt"
	"strings"

	"metricdrop/internal/warehouse"
)

var (
	rowCountNames   = []string{"row_count", "count", "total", "cnt", "num_rows", "total_rows"}
	violationMarker = []string{"invalid", "violation", "null", "duplicate", "missing", "error", "mismatch", "orphan"}
)

// IsRowCountColumn reports whether a column reads as a plain row count.
func IsRowCountColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, n := range rowCountNames {
		if lower == n {
			return true
		}
	}
	return strings.HasSuffix(lower, "_rows") || strings.HasSuffix(lower, "row_count")
}

// IsViolationColumn reports whether a column counts rows breaking a rule.
func IsViolationColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range violationMarker {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// DefaultCheck applies the built-in expectation to a query that has no declared
// conditions. A lone row-count column must be greater than zero; a lone other column
// is a violation counter that must be zero. With several columns, every violation
// column must be zero.
func DefaultCheck(rows *warehouse.Rows) []string {
	if rows.Len() == 0 {
		return []string{"Query returned no results"}
	}

	var failures []string
	if len(rows.Columns) == 1 {
		col := rows.Columns[0]
		op, want := "=", 0.0
		if IsRowCountColumn(col) {
			op = ">"
		}
		for _, row := range rows.Data {
			if msg := checkCounter(col, row[col], op, want); msg != "" {
				failures = append(failures, msg)
				break
			}
		}
		return failures
	}

	for _, col := range rows.Columns {
		if !IsViolationColumn(col) {
			continue
		}
		for _, row := range rows.Data {
			if msg := checkCounter(col, row[col], "=", 0); msg != "" {
				failures = append(failures, msg)
				break
			}
		}
	}
	return failures
}

func checkCounter(col string, value interface{}, op string, want float64) string {
	n, ok := number(value)
	if !ok {
		return fmt.Sprintf("Column '%s' is not numeric, got %s", col, display(value))
	}

	if op == ">" {
		if n > want {
			return ""
		}
		return fmt.Sprintf("Expected %s > 0, got %s", col, display(value))
	}
	if n == want {
		return ""
	}
	return fmt.Sprintf("Expected %s = 0 (violation count), got %s", col, display(value))
}
