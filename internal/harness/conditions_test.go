package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"metricdrop/internal/warehouse"
)

func TestEvaluate(t *testing.T) {
	row := map[string]interface{}{
		"row_count":   int64(42),
		"avg_price":   "19.5",
		"status":      "OK",
		"is_current":  true,
		"deleted_at":  nil,
		"UPPER_LABEL": int64(1),
	}

	tests := []struct {
		name   string
		cond   Condition
		passed bool
	}{
		{"equal int", Condition{Column: "row_count", Operator: "=", Value: 42.0}, true},
		{"not equal", Condition{Column: "row_count", Operator: "!=", Value: 0}, true},
		{"greater", Condition{Column: "row_count", Operator: ">", Value: 41}, true},
		{"greater equal fails", Condition{Column: "row_count", Operator: ">=", Value: 43}, false},
		{"numeric string", Condition{Column: "avg_price", Operator: "<", Value: 20}, true},
		{"numeric string equal", Condition{Column: "avg_price", Operator: "=", Value: 19.5}, true},
		{"string equal", Condition{Column: "status", Operator: "=", Value: "OK"}, true},
		{"string order", Condition{Column: "status", Operator: "<=", Value: "PENDING"}, true},
		{"in", Condition{Column: "status", Operator: "in", Value: []interface{}{"OK", "WARN"}}, true},
		{"not in", Condition{Column: "status", Operator: "not_in", Value: []interface{}{"FAILED"}}, true},
		{"not in fails", Condition{Column: "status", Operator: "not_in", Value: []interface{}{"OK"}}, false},
		{"bool", Condition{Column: "is_current", Operator: "=", Value: true}, true},
		{"null equal", Condition{Column: "deleted_at", Operator: "=", Value: nil}, true},
		{"null ordering", Condition{Column: "deleted_at", Operator: ">", Value: 0}, false},
		{"case insensitive column", Condition{Column: "upper_label", Operator: "=", Value: 1}, true},
		{"in needs a list", Condition{Column: "status", Operator: "in", Value: "OK"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passed, msg := Evaluate(tt.cond, row)
			assert.Equal(t, tt.passed, passed, msg)
			if tt.passed {
				assert.Empty(t, msg)
			} else {
				assert.NotEmpty(t, msg)
			}
		})
	}
}

func TestEvaluateMessages(t *testing.T) {
	passed, msg := Evaluate(Condition{
		Column:       "invalid_pct_ok_count",
		Operator:     "=",
		Value:        0,
		ErrorMessage: "Percentages must be between 0 and 100",
	}, map[string]interface{}{"invalid_pct_ok_count": int64(3)})

	assert.False(t, passed)
	assert.Equal(t, "Percentages must be between 0 and 100. Expected invalid_pct_ok_count = 0, got 3", msg)

	passed, msg = Evaluate(Condition{Column: "missing", Operator: "=", Value: 1}, map[string]interface{}{"a": 1})
	assert.False(t, passed)
	assert.Equal(t, "Column 'missing' not found in results", msg)

	_, msg = Evaluate(Condition{Column: "s", Operator: "in", Value: []interface{}{"a", "b"}}, map[string]interface{}{"s": "c"})
	assert.Equal(t, "Condition failed. Expected s in [a, b], got c", msg)
}

func rowsOf(columns []string, values ...[]interface{}) *warehouse.Rows {
	rows := &warehouse.Rows{Columns: columns}
	for _, v := range values {
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = v[i]
		}
		rows.Data = append(rows.Data, row)
	}
	return rows
}

func TestDefaultCheck(t *testing.T) {
	tests := []struct {
		name    string
		rows    *warehouse.Rows
		failing bool
	}{
		{"row count zero", rowsOf([]string{"row_count"}, []interface{}{int64(0)}), true},
		{"row count one", rowsOf([]string{"row_count"}, []interface{}{int64(1)}), false},
		{"total rows suffix", rowsOf([]string{"orders_rows"}, []interface{}{"12"}), false},
		{"violation counter", rowsOf([]string{"invalid_pct_ok_count"}, []interface{}{int64(3)}), true},
		{"violation counter zero", rowsOf([]string{"invalid_pct_ok_count"}, []interface{}{int64(0)}), false},
		{"sole unknown column is a counter", rowsOf([]string{"bad_dates"}, []interface{}{int64(2)}), true},
		{"not numeric", rowsOf([]string{"row_count"}, []interface{}{"many"}), true},
		{"no rows", rowsOf([]string{"row_count"}), true},
		{
			"multi column violations",
			rowsOf([]string{"region", "null_keys", "duplicate_ids"},
				[]interface{}{"EU", int64(0), int64(0)},
				[]interface{}{"US", int64(0), int64(1)}),
			true,
		},
		{
			"multi column clean",
			rowsOf([]string{"region", "null_keys", "revenue"},
				[]interface{}{"EU", int64(0), 100.5}),
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := DefaultCheck(tt.rows)
			if tt.failing {
				assert.NotEmpty(t, failures)
			} else {
				assert.Empty(t, failures)
			}
		})
	}
}

func TestColumnHeuristics(t *testing.T) {
	assert.True(t, IsRowCountColumn("row_count"))
	assert.True(t, IsRowCountColumn("ORDERS_ROW_COUNT"))
	assert.True(t, IsRowCountColumn("total"))
	assert.False(t, IsRowCountColumn("invalid_pct_ok_count"))

	assert.True(t, IsViolationColumn("null_order_dates"))
	assert.True(t, IsViolationColumn("Duplicate_Keys"))
	assert.False(t, IsViolationColumn("revenue"))
}
