package warehouse

import (
	"database/sql"
	"strings"
)

// Rows is a fully materialized query result. Column order follows the query.
type Rows struct {
	Columns []string
	Data    []map[string]interface{}
}

// Len returns the number of rows
func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Data)
}

// First returns the first row, or nil when the result is empty
func (r *Rows) First() map[string]interface{} {
	if r.Len() == 0 {
		return nil
	}
	return r.Data[0]
}

func scanRows(rows *sql.Rows) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Rows{Columns: cols}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		valuePtrs := make([]interface{}, len(cols))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			// drivers hand back text columns as []byte
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Data = append(result.Data, row)
	}

	return result, rows.Err()
}

// SplitStatements splits SQL on semicolons that are not inside quoted strings.
func SplitStatements(sql string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := rune(0)

	for i, char := range sql {
		if !inString {
			if char == '\'' || char == '"' || char == '`' {
				inString = true
				stringChar = char
			} else if char == ';' {
				if i == 0 || sql[i-1] != '\\' {
					statements = append(statements, current.String())
					current.Reset()
					continue
				}
			}
		} else {
			if char == stringChar && (i == 0 || sql[i-1] != '\\') {
				inString = false
			}
		}
		current.WriteRune(char)
	}

	if current.Len() > 0 {
		statements = append(statements, current.String())
	}

	return statements
}
