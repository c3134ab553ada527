package harness

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

var operators = []string{"=", "!=", "<", "<=", ">", ">=", "in", "not_in"}

func knownOperator(op string) bool {
	for _, known := range operators {
		if op == known {
			return true
		}
	}
	return false
}

// Evaluate checks cond against one result row. The returned message is empty when the
// condition holds.
func Evaluate(cond Condition, row map[string]interface{}) (bool, string) {
	actual, ok := lookupColumn(row, cond.Column)
	if !ok {
		return false, fmt.Sprintf("Column '%s' not found in results", cond.Column)
	}

	passed, err := compare(actual, cond.Operator, cond.Value)
	if err != nil {
		return false, fmt.Sprintf("Error evaluating condition on %s: %v", cond.Column, err)
	}
	if passed {
		return true, ""
	}

	message := cond.ErrorMessage
	if message == "" {
		message = "Condition failed"
	}
	return false, fmt.Sprintf("%s. Expected %s %s %s, got %s",
		message, cond.Column, cond.Operator, display(cond.Value), display(actual))
}

// lookupColumn matches exactly first, then case-insensitively since some drivers
// upper-case column labels.
func lookupColumn(row map[string]interface{}, column string) (interface{}, bool) {
	if v, ok := row[column]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

func compare(actual interface{}, op string, expected interface{}) (bool, error) {
	switch op {
	case "=":
		return equal(actual, expected), nil
	case "!=":
		return !equal(actual, expected), nil
	case "in", "not_in":
		list, err := cast.ToSliceE(expected)
		if err != nil {
			return false, fmt.Errorf("operator %s needs a list value", op)
		}
		found := false
		for _, item := range list {
			if equal(actual, item) {
				found = true
				break
			}
		}
		if op == "in" {
			return found, nil
		}
		return !found, nil
	case "<", "<=", ">", ">=":
		if actual == nil || expected == nil {
			return false, nil
		}
		var c int
		a, aNum := number(actual)
		e, eNum := number(expected)
		if aNum && eNum {
			c = compareFloat(a, e)
		} else {
			c = strings.Compare(cast.ToString(actual), cast.ToString(expected))
		}
		switch op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	default:
		return false, fmt.Errorf("unknown operator: %s", op)
	}
}

func equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, aNum := number(a)
	bn, bNum := number(b)
	if aNum && bNum {
		return an == bn
	}
	if ab, ok := a.(bool); ok {
		if bb, err := cast.ToBoolE(b); err == nil {
			return ab == bb
		}
	}
	return cast.ToString(a) == cast.ToString(b)
}

// number converts numeric values and numeric strings. Booleans are not numbers here.
func number(v interface{}) (float64, bool) {
	switch v.(type) {
	case bool, nil:
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func display(v interface{}) string {
	if v == nil {
		return "null"
	}
	if list, ok := v.([]interface{}); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = display(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return cast.ToString(v)
}
