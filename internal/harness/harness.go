// Package harness runs post-deployment test queries against metric views and turns
// their results into a pass/fail outcome.
package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"metricdrop/internal/common"
	"metricdrop/internal/observability"
	"metricdrop/internal/template"
	"metricdrop/internal/warehouse"
	"metricdrop/pkg/errors"
)

const (
	testPrefix     = "test_"
	expectedSubdir = "expected_results"
	setupTestName  = "setup_error"
)

var expectationSuffixes = []string{".json", ".yml", ".yaml"}

// Querier runs a query and returns all its rows. *warehouse.Service satisfies it.
type Querier interface {
	Query(ctx context.Context, query string) (*warehouse.Rows, error)
}

// TestFile pairs a view with its SQL file and optional expected results.
type TestFile struct {
	View         string
	SQLPath      string
	ExpectedPath string
}

// Discover finds test files in dir. With no views every test_<view>.sql is used;
// otherwise exactly the named views are returned, present on disk or not.
func Discover(dir string, views []string) ([]TestFile, error) {
	if len(views) == 0 {
		files, err := common.ListFiles(dir, ".sql")
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.New(errors.ErrCodeFileNotFound,
					fmt.Sprintf("Tests directory %s does not exist", dir)).
					WithSuggestions("Pass --tests-dir or set tests_dir in metricdrop.yaml")
			}
			return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to list test files")
		}
		for _, f := range files {
			name := filepath.Base(f)
			if strings.HasPrefix(name, testPrefix) {
				views = append(views, strings.TrimSuffix(strings.TrimPrefix(name, testPrefix), ".sql"))
			}
		}
	}

	testFiles := make([]TestFile, 0, len(views))
	for _, view := range views {
		view = strings.TrimSpace(view)
		if view == "" {
			continue
		}
		tf := TestFile{
			View:    view,
			SQLPath: filepath.Join(dir, testPrefix+view+".sql"),
		}
		for _, suffix := range expectationSuffixes {
			candidate := filepath.Join(dir, expectedSubdir, testPrefix+view+suffix)
			if _, err := os.Stat(candidate); err == nil {
				tf.ExpectedPath = candidate
				break
			}
		}
		testFiles = append(testFiles, tf)
	}
	return testFiles, nil
}

// TestResult is the outcome of one test case.
type TestResult struct {
	View         string
	Name         string
	Description  string
	QueryIndex   int
	Passed       bool
	Elapsed      time.Duration
	Failures     []string
	ActualValues map[string]interface{}
	Err          error
}

// Message joins the failure reasons.
func (r TestResult) Message() string {
	msgs := append([]string{}, r.Failures...)
	if r.Err != nil {
		msgs = append(msgs, r.Err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Outcome aggregates every test of a run. It has no passing state that can hide a
// failed result: Err is derived from the results themselves.
type Outcome struct {
	Results []TestResult
}

// Total is the number of tests run.
func (o *Outcome) Total() int {
	return len(o.Results)
}

// Passed counts passing tests.
func (o *Outcome) Passed() int {
	n := 0
	for _, r := range o.Results {
		if r.Passed {
			n++
		}
	}
	return n
}

// Failed counts failing tests.
func (o *Outcome) Failed() int {
	return o.Total() - o.Passed()
}

// SuccessRate is the percentage of passing tests.
func (o *Outcome) SuccessRate() float64 {
	if o.Total() == 0 {
		return 0
	}
	return float64(o.Passed()) / float64(o.Total()) * 100
}

// Views returns the tested views in run order.
func (o *Outcome) Views() []string {
	seen := make(map[string]bool)
	var views []string
	for _, r := range o.Results {
		if !seen[r.View] {
			seen[r.View] = true
			views = append(views, r.View)
		}
	}
	return views
}

// ForView returns the results of one view.
func (o *Outcome) ForView(view string) []TestResult {
	var results []TestResult
	for _, r := range o.Results {
		if r.View == view {
			results = append(results, r)
		}
	}
	return results
}

// Err returns a test assertion error whenever any result failed.
func (o *Outcome) Err() error {
	failed := o.Failed()
	if failed == 0 {
		return nil
	}

	var names []string
	for _, r := range o.Results {
		if !r.Passed {
			names = append(names, r.View+"/"+r.Name)
		}
	}
	return errors.New(errors.ErrCodeTestAssertion,
		fmt.Sprintf("%d of %d tests failed", failed, o.Total())).
		WithSeverity(errors.SeverityCritical).
		WithContext("failed_tests", names)
}

// Observer is told about each finished test.
type Observer interface {
	TestFinished(result TestResult)
}

// Runner executes test files.
type Runner struct {
	querier  Querier
	ctx      template.Context
	logger   *observability.Logger
	observer Observer
}

// NewRunner creates a runner. ctx should already carry the effective catalog, schema
// and warehouse_id.
func NewRunner(querier Querier, ctx template.Context, logger *observability.Logger) *Runner {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Runner{querier: querier, ctx: ctx, logger: logger}
}

// SetObserver registers an observer.
func (r *Runner) SetObserver(o Observer) {
	r.observer = o
}

// Run executes every file in order.
func (r *Runner) Run(ctx context.Context, files []TestFile) *Outcome {
	outcome := &Outcome{}
	for _, tf := range files {
		outcome.Results = append(outcome.Results, r.RunFile(ctx, tf)...)
		if ctx.Err() != nil {
			break
		}
	}
	return outcome
}

type testCase struct {
	name        string
	description string
	conditions  []Condition
	defaulted   bool
}

// RunFile executes one test file. Setup problems become a single failed result.
func (r *Runner) RunFile(ctx context.Context, tf TestFile) []TestResult {
	logger := r.logger.WithField("view", tf.View)

	blocks, expected, err := r.prepare(tf)
	if err != nil {
		logger.ErrorWithFields("test setup failed", map[string]interface{}{"error": err.Error()})
		result := TestResult{View: tf.View, Name: setupTestName, QueryIndex: -1, Err: err}
		r.notify(result)
		return []TestResult{result}
	}

	logger.InfoWithFields("running tests", map[string]interface{}{
		"queries":      len(blocks),
		"expectations": len(expected.ExpectedResults),
	})

	cases := expected.byIndex()
	var results []TestResult

	for _, block := range blocks {
		var tests []testCase
		for _, exp := range cases[block.Index] {
			tests = append(tests, testCase{name: exp.TestName, description: exp.Description, conditions: exp.ExpectedConditions})
		}
		if len(tests) == 0 {
			tests = []testCase{{name: block.Name, defaulted: true}}
		}

		start := time.Now()
		rows, queryErr := r.querier.Query(ctx, block.SQL)
		elapsed := time.Since(start)

		for _, tc := range tests {
			result := TestResult{
				View:        tf.View,
				Name:        tc.name,
				Description: tc.description,
				QueryIndex:  block.Index,
				Elapsed:     elapsed,
			}
			if queryErr != nil {
				result.Err = queryErr
			} else {
				result.ActualValues = rows.First()
				result.Failures = evaluate(tc, rows)
				result.Passed = len(result.Failures) == 0
			}
			r.log(logger, result)
			r.notify(result)
			results = append(results, result)
		}
	}

	for _, exp := range expected.ExpectedResults {
		if exp.QueryIndex < 0 || exp.QueryIndex >= len(blocks) {
			result := TestResult{
				View:       tf.View,
				Name:       exp.TestName,
				QueryIndex: exp.QueryIndex,
				Err: errors.New(errors.ErrCodeTestSetup,
					fmt.Sprintf("Query index %d out of range (have %d queries)", exp.QueryIndex, len(blocks))),
			}
			r.log(logger, result)
			r.notify(result)
			results = append(results, result)
		}
	}

	return results
}

// prepare reads, renders and splits the SQL file and loads its expectations.
func (r *Runner) prepare(tf TestFile) ([]QueryBlock, *ExpectedResults, error) {
	data, err := os.ReadFile(tf.SQLPath) // #nosec G304 - path is built from the tests directory
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.New(errors.ErrCodeTestSetup,
				fmt.Sprintf("Test file not found: %s", tf.SQLPath))
		}
		return nil, nil, errors.Wrap(err, errors.ErrCodeTestSetup, "Failed to read test file")
	}

	rendered, err := template.RenderString(string(data), tf.SQLPath, r.ctx)
	if err != nil {
		return nil, nil, err
	}

	blocks := SplitQueries(rendered)
	if len(blocks) == 0 {
		return nil, nil, errors.New(errors.ErrCodeTestSetup,
			fmt.Sprintf("No queries found in %s", tf.SQLPath))
	}

	expected := &ExpectedResults{}
	if tf.ExpectedPath != "" {
		expected, err = LoadExpectations(tf.ExpectedPath)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrCodeTestSetup, "Failed to load expected results")
		}
	}
	return blocks, expected, nil
}

// evaluate checks every condition against every row, reporting the first failing row
// per condition.
func evaluate(tc testCase, rows *warehouse.Rows) []string {
	if tc.defaulted {
		return DefaultCheck(rows)
	}
	if rows.Len() == 0 {
		return []string{"Query returned no results"}
	}

	var failures []string
	for _, cond := range tc.conditions {
		for _, row := range rows.Data {
			if ok, msg := Evaluate(cond, row); !ok {
				failures = append(failures, msg)
				break
			}
		}
	}
	return failures
}

func (r *Runner) log(logger *observability.Logger, result TestResult) {
	fields := map[string]interface{}{
		"test":        result.Name,
		"query_index": result.QueryIndex,
		"passed":      result.Passed,
		"duration_ms": result.Elapsed.Milliseconds(),
	}
	if result.Passed {
		logger.InfoWithFields("test passed", fields)
		return
	}
	fields["reason"] = result.Message()
	logger.ErrorWithFields("test failed", fields)
}

func (r *Runner) notify(result TestResult) {
	if r.observer != nil {
		r.observer.TestFinished(result)
	}
}
