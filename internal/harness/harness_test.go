package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metricdrop/internal/template"
	"metricdrop/internal/warehouse"
	"metricdrop/pkg/errors"
)

func newMockRunner(t *testing.T) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	service := warehouse.NewServiceFromDB(db, warehouse.Config{Timeout: 5 * time.Second})
	ctx := template.NewContext("dev", map[string]interface{}{
		"catalog": "main",
		"schema":  "metrics",
	}, nil)
	return NewRunner(service, ctx, nil), mock
}

func writeTestFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}
	return dir
}

func expectRows(mock sqlmock.Sqlmock, query string, column string, value interface{}) {
	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WillReturnRows(sqlmock.NewRows([]string{column}).AddRow(value))
}

func TestDiscover(t *testing.T) {
	dir := writeTestFiles(t, map[string]string{
		"test_orders.sql":                      "SELECT 1",
		"test_customers.sql":                   "SELECT 1",
		"helpers.sql":                          "SELECT 1",
		"expected_results/test_orders.json":    "{}",
		"expected_results/test_customers.yml":  "expected_results: []",
		"expected_results/test_unrelated.json": "{}",
	})

	files, err := Discover(dir, nil)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "customers", files[0].View)
	assert.Equal(t, filepath.Join(dir, "expected_results", "test_customers.yml"), files[0].ExpectedPath)
	assert.Equal(t, "orders", files[1].View)
	assert.Equal(t, filepath.Join(dir, "test_orders.sql"), files[1].SQLPath)

	files, err = Discover(dir, []string{"orders", " missing ", ""})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "missing", files[1].View)
	assert.Empty(t, files[1].ExpectedPath)

	_, err = Discover(filepath.Join(dir, "nope"), nil)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetErrorCode(err))
}

func TestRunFileDefaultCheck(t *testing.T) {
	for _, tc := range []struct {
		count  int64
		passed bool
	}{{0, false}, {1, true}} {
		t.Run(fmt.Sprintf("row_count=%d", tc.count), func(t *testing.T) {
			runner, mock := newMockRunner(t)
			dir := writeTestFiles(t, map[string]string{
				"test_orders.sql": "-- Test 1: basic functionality\nSELECT COUNT(*) AS row_count FROM {{ catalog }}.{{ schema }}.orders;\n",
			})

			expectRows(mock, "SELECT COUNT(*) AS row_count FROM main.metrics.orders", "row_count", tc.count)

			results := runner.RunFile(context.Background(), TestFile{View: "orders", SQLPath: filepath.Join(dir, "test_orders.sql")})
			require.Len(t, results, 1)
			assert.Equal(t, "basic functionality", results[0].Name)
			assert.Equal(t, tc.passed, results[0].Passed)
			assert.Equal(t, tc.count, results[0].ActualValues["row_count"])
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRunFileExpectedConditions(t *testing.T) {
	expected := `{
  "expected_results": [
    {
      "test_name": "percentages_in_range",
      "description": "Percentages stay within bounds",
      "query_index": 0,
      "expected_conditions": [
        {
          "column": "invalid_pct_ok_count",
          "operator": "=",
          "value": 0,
          "error_message": "Found percentages outside 0-100"
        }
      ]
    }
  ]
}`

	for _, tc := range []struct {
		count  int64
		passed bool
	}{{3, false}, {0, true}} {
		t.Run(fmt.Sprintf("invalid_pct_ok_count=%d", tc.count), func(t *testing.T) {
			runner, mock := newMockRunner(t)
			dir := writeTestFiles(t, map[string]string{
				"test_kpis.sql":                   "-- Test 1: range check\nSELECT COUNT(*) AS invalid_pct_ok_count FROM {{ catalog }}.{{ schema }}.kpis WHERE pct_ok NOT BETWEEN 0 AND 100;\n",
				"expected_results/test_kpis.json": expected,
			})

			expectRows(mock, "SELECT COUNT(*) AS invalid_pct_ok_count FROM main.metrics.kpis", "invalid_pct_ok_count", tc.count)

			files, err := Discover(dir, []string{"kpis"})
			require.NoError(t, err)
			outcome := runner.Run(context.Background(), files)

			require.Equal(t, 1, outcome.Total())
			result := outcome.Results[0]
			assert.Equal(t, "percentages_in_range", result.Name)
			assert.Equal(t, tc.passed, result.Passed)
			if tc.passed {
				assert.NoError(t, outcome.Err())
			} else {
				assert.Equal(t, []string{"Found percentages outside 0-100. Expected invalid_pct_ok_count = 0, got 3"}, result.Failures)
				assert.Equal(t, errors.ErrCodeTestAssertion, errors.GetErrorCode(outcome.Err()))
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRunFileContinuesAfterQueryError(t *testing.T) {
	runner, mock := newMockRunner(t)

	content := ""
	for i := 1; i <= 5; i++ {
		content += fmt.Sprintf("-- Test %d: check %d\nSELECT COUNT(*) AS row_count FROM {{ catalog }}.{{ schema }}.t%d;\n\n", i, i, i)
	}
	dir := writeTestFiles(t, map[string]string{"test_orders.sql": content})

	for i := 1; i <= 5; i++ {
		query := fmt.Sprintf("SELECT COUNT(*) AS row_count FROM main.metrics.t%d", i)
		if i == 3 {
			mock.ExpectQuery(regexp.QuoteMeta(query)).
				WillReturnError(fmt.Errorf("[TABLE_OR_VIEW_NOT_FOUND] t3 cannot be found"))
			continue
		}
		expectRows(mock, query, "row_count", int64(10))
	}

	outcome := runner.Run(context.Background(), []TestFile{{View: "orders", SQLPath: filepath.Join(dir, "test_orders.sql")}})

	require.Equal(t, 5, outcome.Total())
	assert.Equal(t, 4, outcome.Passed())
	assert.Equal(t, 1, outcome.Failed())
	assert.False(t, outcome.Results[2].Passed)
	assert.Equal(t, 2, outcome.Results[2].QueryIndex)
	assert.Equal(t, errors.ErrCodeExecution, errors.GetErrorCode(outcome.Results[2].Err))
	assert.Equal(t, 80.0, outcome.SuccessRate())

	err := outcome.Err()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTestAssertion, errors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "1 of 5 tests failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunFileSetupFailures(t *testing.T) {
	runner, mock := newMockRunner(t)
	dir := writeTestFiles(t, map[string]string{
		"test_bad_template.sql":               "SELECT * FROM {{ missing_var }}.t;\n",
		"test_bad_json.sql":                   "SELECT 1 AS row_count;\n",
		"expected_results/test_bad_json.json": "{not json",
	})

	files, err := Discover(dir, []string{"absent", "bad_template", "bad_json"})
	require.NoError(t, err)
	outcome := runner.Run(context.Background(), files)

	require.Equal(t, 3, outcome.Total())
	assert.Equal(t, 0, outcome.Passed())
	for _, r := range outcome.Results {
		assert.Equal(t, "setup_error", r.Name)
		assert.Error(t, r.Err)
	}
	assert.Equal(t, errors.ErrCodeTestSetup, errors.GetErrorCode(outcome.Results[0].Err))
	assert.Equal(t, errors.ErrCodeTemplateVariable, errors.GetErrorCode(outcome.Results[1].Err))
	assert.Equal(t, errors.ErrCodeTestSetup, errors.GetErrorCode(outcome.Results[2].Err))
	assert.Equal(t, []string{"absent", "bad_template", "bad_json"}, outcome.Views())
	assert.Error(t, outcome.Err())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunFileQueryIndexOutOfRange(t *testing.T) {
	runner, mock := newMockRunner(t)
	dir := writeTestFiles(t, map[string]string{
		"test_orders.sql": "-- Test 1: rows\nSELECT COUNT(*) AS row_count FROM t;\n",
		"expected_results/test_orders.yml": `expected_results:
  - test_name: rows_exist
    query_index: 0
    expected_conditions:
      - column: row_count
        operator: ">"
        value: 0
        error_message: No rows
  - test_name: phantom
    query_index: 4
    expected_conditions: []
`,
	})

	expectRows(mock, "SELECT COUNT(*) AS row_count FROM t", "row_count", int64(5))

	files, err := Discover(dir, []string{"orders"})
	require.NoError(t, err)
	outcome := runner.Run(context.Background(), files)

	require.Equal(t, 2, outcome.Total())
	assert.True(t, outcome.Results[0].Passed)
	assert.Equal(t, "phantom", outcome.Results[1].Name)
	assert.False(t, outcome.Results[1].Passed)
	assert.Contains(t, outcome.Results[1].Message(), "Query index 4 out of range (have 1 queries)")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomeWithoutFailures(t *testing.T) {
	outcome := &Outcome{Results: []TestResult{{View: "a", Name: "x", Passed: true}}}
	assert.NoError(t, outcome.Err())
	assert.Equal(t, 100.0, outcome.SuccessRate())
	assert.Len(t, outcome.ForView("a"), 1)

	empty := &Outcome{}
	assert.NoError(t, empty.Err())
	assert.Equal(t, 0.0, empty.SuccessRate())
}
