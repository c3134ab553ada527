package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Condition is one assertion on a result column.
type Condition struct {
	Column       string      `json:"column" yaml:"column"`
	Operator     string      `json:"operator" yaml:"operator"`
	Value        interface{} `json:"value" yaml:"value"`
	ErrorMessage string      `json:"error_message" yaml:"error_message"`
}

// Expectation binds a named test to a query block.
type Expectation struct {
	TestName           string      `json:"test_name" yaml:"test_name"`
	Description        string      `json:"description" yaml:"description"`
	QueryIndex         int         `json:"query_index" yaml:"query_index"`
	ExpectedConditions []Condition `json:"expected_conditions" yaml:"expected_conditions"`
}

// ExpectedResults is the content of an expected-results file.
type ExpectedResults struct {
	ExpectedResults []Expectation `json:"expected_results" yaml:"expected_results"`
}

// LoadExpectations reads a .json, .yml or .yaml expected-results file.
func LoadExpectations(path string) (*ExpectedResults, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is built from the tests directory
	if err != nil {
		return nil, err
	}

	var results ExpectedResults
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, &results)
	default:
		err = json.Unmarshal(data, &results)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid expected results %s: %w", filepath.Base(path), err)
	}

	for i, exp := range results.ExpectedResults {
		if exp.TestName == "" {
			return nil, fmt.Errorf("expected result %d has no test_name", i)
		}
		for j, cond := range exp.ExpectedConditions {
			if cond.Column == "" {
				return nil, fmt.Errorf("test %s condition %d has no column", exp.TestName, j)
			}
			if !knownOperator(cond.Operator) {
				return nil, fmt.Errorf("test %s condition %d has unknown operator %q", exp.TestName, j, cond.Operator)
			}
		}
	}
	return &results, nil
}

// byIndex groups expectations by query index, keeping file order.
func (r *ExpectedResults) byIndex() map[int][]Expectation {
	out := make(map[int][]Expectation)
	if r == nil {
		return out
	}
	for _, exp := range r.ExpectedResults {
		out[exp.QueryIndex] = append(out[exp.QueryIndex], exp)
	}
	return out
}
