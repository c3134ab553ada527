package ui

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"metricdrop/internal/definition"
	"metricdrop/internal/deploy"
	"metricdrop/internal/harness"
	"metricdrop/internal/tracker"
	"metricdrop/pkg/errors"
	"metricdrop/pkg/models"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	oldOutput, oldColor, oldNoColor := Output, supportsColor, color.NoColor
	Output = &buf
	supportsColor = false
	color.NoColor = true
	t.Cleanup(func() {
		Output, supportsColor, color.NoColor = oldOutput, oldColor, oldNoColor
	})
	return &buf
}

func TestColorFunc(t *testing.T) {
	original := supportsColor
	defer func() { supportsColor = original }()

	supportsColor = true
	assert.NotEqual(t, "text", ColorError("text"))
	supportsColor = false
	assert.Equal(t, "text", ColorError("text"))
}

func TestShowErrorAppError(t *testing.T) {
	buf := capture(t)

	err := errors.TargetNotFoundError("missing.metrics", fmt.Errorf("[SCHEMA_NOT_FOUND] boom")).
		WithContext("view", "orders")
	ShowError(err)

	out := buf.String()
	assert.Contains(t, out, "ERROR [MDE4001]:")
	assert.Contains(t, out, "missing.metrics")
	assert.Contains(t, out, "[SCHEMA_NOT_FOUND] boom")
	assert.Contains(t, out, "view: orders")
	assert.Contains(t, out, "TIP:")
}

func TestShowErrorPlain(t *testing.T) {
	buf := capture(t)

	ShowError(fmt.Errorf("dial tcp: connection refused"))
	assert.Contains(t, buf.String(), "Verify the warehouse host")

	buf.Reset()
	ShowError(nil)
	assert.Empty(t, buf.String())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(0.25))
	assert.Equal(t, "1.5s", formatDuration(1.5))
	assert.Equal(t, "2m5s", formatDuration(125))
	assert.Equal(t, "1h1m", formatDuration(3660))
}

func TestProgressBarNonInteractive(t *testing.T) {
	buf := capture(t)

	bar := NewProgressBar(3)
	target := definition.ResolvedTarget{Catalog: "main", Schema: "metrics"}
	bar.ViewStarted(0, 3, "orders")
	bar.ViewFinished(0, 3, deploy.ViewResult{Name: "orders", Target: target, Status: deploy.StatusDeployed, Duration: time.Second})
	bar.ViewFinished(1, 3, deploy.ViewResult{Name: "bad", Status: deploy.StatusFailed, Err: errors.New(errors.ErrCodeDefinitionParse, "broken yaml")})
	bar.ViewFinished(2, 3, deploy.ViewResult{Name: "kpis", Target: target, Status: deploy.StatusSkipped})
	bar.Finish()

	out := buf.String()
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, "✓ orders → main.metrics (1.0s)")
	assert.Contains(t, out, "✗ bad")
	assert.Contains(t, out, "broken yaml")
	assert.Contains(t, out, "kpis → main.metrics (dry run)")
	assert.Contains(t, out, "2 successful")
	assert.Contains(t, out, "1 failed")
}

func TestTestPrinter(t *testing.T) {
	buf := capture(t)

	p := &TestPrinter{}
	p.TestFinished(harness.TestResult{View: "orders", Name: "rows_exist", Passed: true})
	p.TestFinished(harness.TestResult{View: "orders", Name: "no_nulls", Failures: []string{"Expected null_ids = 0 (violation count), got 2"}})
	p.TestFinished(harness.TestResult{View: "kpis", Name: "setup_error", Err: fmt.Errorf("no queries")})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "▸ orders"))
	assert.Contains(t, out, "✓ rows_exist")
	assert.Contains(t, out, "✗ no_nulls")
	assert.Contains(t, out, "got 2")
	assert.Contains(t, out, "▸ kpis")
	assert.Contains(t, out, "no queries")
}

func TestPrintDeploymentResult(t *testing.T) {
	buf := capture(t)

	now := time.Now()
	batch := &deploy.BatchResult{
		Started:  now,
		Finished: now.Add(2 * time.Second),
		Views: []deploy.ViewResult{
			{Name: "orders", Target: definition.ResolvedTarget{Catalog: "main", Schema: "metrics"}, Status: deploy.StatusDeployed},
			{Name: "broken", Status: deploy.StatusFailed, Err: fmt.Errorf("line one\nline two")},
		},
	}
	PrintDeploymentResult(batch)

	out := buf.String()
	assert.Contains(t, out, "Deployment Summary")
	assert.Contains(t, out, "main.metrics")
	assert.Contains(t, out, "DEPLOYED")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "line one")
	assert.NotContains(t, out, "line two")
}

func TestPrintTestOutcome(t *testing.T) {
	buf := capture(t)

	PrintTestOutcome(&harness.Outcome{Results: []harness.TestResult{
		{View: "orders", Name: "a", Passed: true},
		{View: "orders", Name: "b"},
		{View: "kpis", Name: "c", Passed: true},
	}})

	out := buf.String()
	assert.Contains(t, out, "VIEW")
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "Success Rate:")
	assert.Contains(t, out, "66.7%")
}

func TestDeploymentReport(t *testing.T) {
	capture(t)

	end := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	summary := &tracker.DeploymentSummary{
		DeploymentID:          "dev_20260301T100000Z_abcd1234",
		TargetEnvironment:     "dev",
		Catalog:               "main",
		Schema:                "metrics",
		Git:                   &models.GitInfo{Commit: "0123456789abcdef", Branch: "main"},
		TotalFiles:            2,
		SuccessfulDeployments: 1,
		FailedDeployments:     1,
		StartTime:             end.Add(-5 * time.Second),
		EndTime:               &end,
		DurationSeconds:       5,
		Records: []tracker.DeploymentRecord{
			{ViewName: "orders", Status: tracker.StatusSuccess, DurationSeconds: 1.25},
			{ViewName: "broken", Status: tracker.StatusFailed, ErrorMessage: strings.Repeat("x", 150)},
		},
	}

	report := DeploymentReport(summary)
	assert.Contains(t, report, "dev_20260301T100000Z_abcd1234")
	assert.Contains(t, report, "01234567 main")
	assert.Contains(t, report, "50.0%")
	assert.Contains(t, report, "✓ orders (1.25s)")
	assert.Contains(t, report, strings.Repeat("x", 100)+"...")
}

func TestPrintHistoryAndStatus(t *testing.T) {
	buf := capture(t)

	PrintHistory(nil)
	assert.Contains(t, buf.String(), "No deployment history found")

	buf.Reset()
	running := &tracker.DeploymentSummary{DeploymentID: "dev_1", TargetEnvironment: "dev", Catalog: "main", Schema: "metrics", StartTime: time.Now()}
	PrintHistory([]*tracker.DeploymentSummary{running})
	assert.Contains(t, buf.String(), "IN PROGRESS")

	buf.Reset()
	PrintStatus(running)
	assert.Contains(t, buf.String(), "In Progress...")
}

func TestPrintValidationReport(t *testing.T) {
	buf := capture(t)

	PrintValidationReport(&definition.Report{
		FilesValidated: 3,
		Strict:         true,
		Results: []definition.FileResult{
			{File: "/d/good.yml", Valid: true},
			{File: "/d/warn.yml", Valid: true, Warnings: []string{"Potentially unsafe pattern"}},
			{File: "/d/bad.yml", Valid: false, Errors: []string{"Missing required field: source"}},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "✓ good.yml")
	assert.Contains(t, out, "✗ warn.yml")
	assert.Contains(t, out, "Missing required field: source")
	assert.Contains(t, out, "Validated 3 file(s): 1 passed, 2 failed")
}

func TestPrintEnvironmentIssues(t *testing.T) {
	buf := capture(t)

	ok := PrintEnvironmentIssues([]string{"dev", "prod", "qa"}, map[string][]string{
		"dev":  nil,
		"prod": {"Missing required field 'schema' in environment 'prod'"},
	})
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "Environment 'dev' is valid")
	assert.Contains(t, buf.String(), "Missing required field 'schema'")
	assert.NotContains(t, buf.String(), "qa")
}
