package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"metricdrop/internal/definition"
	"metricdrop/internal/deploy"
	"metricdrop/internal/harness"
	"metricdrop/internal/tracker"
)

const maxErrorWidth = 100

func disableTableColor() {
	color.NoColor = true
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func statusText(status string) string {
	switch status {
	case string(deploy.StatusDeployed), tracker.StatusSuccess, "passed":
		return color.GreenString(strings.ToUpper(status))
	case string(deploy.StatusSkipped):
		return color.CyanString("SKIPPED")
	default:
		return color.RedString(strings.ToUpper(status))
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// PrintDeploymentResult prints the per-view table and totals of a batch.
func PrintDeploymentResult(batch *deploy.BatchResult) {
	title := "Deployment Summary"
	if batch.DryRun {
		title = "Dry Run Summary"
	}
	ShowHeader(title)

	table := newTable(Output, "#", "View", "Target", "Status", "Duration", "Details")
	for i, v := range batch.Views {
		target := ""
		if v.Target.Catalog != "" || v.Target.Schema != "" {
			target = v.Target.String()
		}
		details := ""
		switch {
		case v.Err != nil:
			details = truncate(firstLine(v.Err), maxErrorWidth)
		case v.TagWarning != nil:
			details = color.YellowString(truncate(firstLine(v.TagWarning), maxErrorWidth))
		}
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			v.Name,
			target,
			statusText(string(v.Status)),
			formatDuration(v.Duration.Seconds()),
			details,
		})
	}
	table.Render()

	printf("\n")
	PrintKeyValue("Total", fmt.Sprintf("%d", len(batch.Views)))
	PrintKeyValue("Successful", ColorSuccess(fmt.Sprintf("%d", batch.Succeeded())))
	if batch.Failed() > 0 {
		PrintKeyValue("Failed", ColorError(fmt.Sprintf("%d", batch.Failed())))
	} else {
		PrintKeyValue("Failed", "0")
	}
	PrintKeyValue("Duration", formatDuration(batch.Duration().Seconds()))
}

// PrintTestOutcome prints a per-view summary of a test run.
func PrintTestOutcome(outcome *harness.Outcome) {
	ShowHeader("Test Summary")

	table := newTable(Output, "View", "Tests", "Passed", "Failed", "Status")
	for _, view := range outcome.Views() {
		results := outcome.ForView(view)
		passed := 0
		for _, r := range results {
			if r.Passed {
				passed++
			}
		}
		status := "passed"
		if passed < len(results) {
			status = "failed"
		}
		table.Append([]string{
			view,
			fmt.Sprintf("%d", len(results)),
			fmt.Sprintf("%d", passed),
			fmt.Sprintf("%d", len(results)-passed),
			statusText(status),
		})
	}
	table.Render()

	printf("\n")
	PrintKeyValue("Total", fmt.Sprintf("%d", outcome.Total()))
	PrintKeyValue("Passed", ColorSuccess(fmt.Sprintf("%d", outcome.Passed())))
	PrintKeyValue("Failed", fmt.Sprintf("%d", outcome.Failed()))
	PrintKeyValue("Success Rate", fmt.Sprintf("%.1f%%", outcome.SuccessRate()))
}

// PrintHistory prints recorded deployments, newest first.
func PrintHistory(summaries []*tracker.DeploymentSummary) {
	if len(summaries) == 0 {
		ShowInfo("No deployment history found")
		return
	}

	printf("\n%s\n", ColorBold(fmt.Sprintf("Recent Deployments (last %d)", len(summaries))))
	table := newTable(Output, "Timestamp", "Environment", "Target", "Commit", "Status", "Success Rate", "ID")
	for _, s := range summaries {
		status := statusText(tracker.StatusSuccess)
		switch {
		case !s.Complete():
			status = color.YellowString("IN PROGRESS")
		case s.FailedDeployments > 0:
			status = color.RedString("%d FAILED", s.FailedDeployments)
		}
		commit := ""
		if s.Git != nil {
			commit = s.Git.ShortCommit()
		}
		table.Append([]string{
			s.StartTime.Format("2006-01-02 15:04:05"),
			s.TargetEnvironment,
			s.Catalog + "." + s.Schema,
			commit,
			status,
			fmt.Sprintf("%.1f%%", s.SuccessRate()),
			s.DeploymentID,
		})
	}
	table.Render()
}

// DeploymentReport renders a readable report of one recorded deployment.
func DeploymentReport(s *tracker.DeploymentSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s\n", ColorBold("Deployment Report"))
	fmt.Fprintf(&b, "  %-16s %s\n", "Environment:", s.TargetEnvironment)
	fmt.Fprintf(&b, "  %-16s %s\n", "Deployment ID:", s.DeploymentID)
	fmt.Fprintf(&b, "  %-16s %s.%s\n", "Target:", s.Catalog, s.Schema)
	fmt.Fprintf(&b, "  %-16s %s\n", "Start Time:", s.StartTime.Format("2006-01-02T15:04:05Z07:00"))
	if s.Complete() {
		fmt.Fprintf(&b, "  %-16s %.2f seconds\n", "Duration:", s.DurationSeconds)
	}
	if s.Git != nil {
		branch := s.Git.Branch
		if s.Git.Dirty {
			branch += " (uncommitted changes)"
		}
		fmt.Fprintf(&b, "  %-16s %s %s\n", "Commit:", s.Git.ShortCommit(), branch)
	}
	if s.DryRun {
		fmt.Fprintf(&b, "  %-16s yes\n", "Dry Run:")
	}

	fmt.Fprintf(&b, "\n  Results:\n")
	fmt.Fprintf(&b, "    %-14s %d\n", "Total Files:", s.TotalFiles)
	fmt.Fprintf(&b, "    %-14s %d\n", "Successful:", s.SuccessfulDeployments)
	fmt.Fprintf(&b, "    %-14s %d\n", "Failed:", s.FailedDeployments)
	fmt.Fprintf(&b, "    %-14s %.1f%%\n", "Success Rate:", s.SuccessRate())

	if len(s.Records) > 0 {
		fmt.Fprintf(&b, "\n  Individual Results:\n")
		for _, r := range s.Records {
			mark := ColorSuccess("✓")
			switch r.Status {
			case tracker.StatusFailed:
				mark = ColorError("✗")
			case tracker.StatusSkipped:
				mark = ColorInfo("○")
			}
			duration := ""
			if r.DurationSeconds > 0 {
				duration = fmt.Sprintf(" (%.2fs)", r.DurationSeconds)
			}
			fmt.Fprintf(&b, "    %s %s%s\n", mark, r.ViewName, duration)
			if r.ErrorMessage != "" {
				fmt.Fprintf(&b, "       Error: %s\n", truncate(r.ErrorMessage, maxErrorWidth))
			}
			if r.Warning != "" {
				fmt.Fprintf(&b, "       Warning: %s\n", truncate(r.Warning, maxErrorWidth))
			}
		}
	}
	return b.String()
}

// PrintStatus prints the state of the latest deployment.
func PrintStatus(s *tracker.DeploymentSummary) {
	PrintSection("Latest Deployment Status")
	PrintKeyValue("Environment", s.TargetEnvironment)
	PrintKeyValue("Deployment ID", s.DeploymentID)
	PrintKeyValue("Start Time", s.StartTime.Format("2006-01-02T15:04:05Z07:00"))
	if !s.Complete() {
		PrintKeyValue("Status", ColorWarning("In Progress..."))
		return
	}
	PrintKeyValue("Status", "Complete")
	PrintKeyValue("Successful", fmt.Sprintf("%d/%d", s.SuccessfulDeployments, s.TotalFiles))
	PrintKeyValue("Failed", fmt.Sprintf("%d/%d", s.FailedDeployments, s.TotalFiles))
	PrintKeyValue("Success Rate", fmt.Sprintf("%.1f%%", s.SuccessRate()))
}

// PrintValidationReport prints per-file validation results and a summary line.
func PrintValidationReport(report *definition.Report) {
	for _, r := range report.Results {
		switch {
		case r.Failed(report.Strict):
			ShowFailure(r.DisplayName())
		case len(r.Warnings) > 0:
			printf("%s %s\n", ColorWarning("⚠"), r.DisplayName())
		default:
			ShowSuccess(r.DisplayName())
		}
		for _, e := range r.Errors {
			printf("    %s %s\n", ColorError("ERROR:"), e)
		}
		for _, w := range r.Warnings {
			printf("    %s %s\n", ColorWarning("WARNING:"), w)
		}
	}

	failed := 0
	for _, r := range report.Results {
		if r.Failed(report.Strict) {
			failed++
		}
	}
	printf("\nValidated %d file(s): %d passed, %d failed\n", report.FilesValidated, report.FilesValidated-failed, failed)
}

// PrintEnvironmentIssues prints the result of validating environments.
func PrintEnvironmentIssues(order []string, issues map[string][]string) bool {
	ok := true
	for _, env := range order {
		problems, checked := issues[env]
		if !checked {
			continue
		}
		if len(problems) == 0 {
			ShowSuccess(fmt.Sprintf("Environment '%s' is valid", env))
			continue
		}
		ok = false
		ShowFailure(fmt.Sprintf("Environment '%s' has issues:", env))
		for _, p := range problems {
			printf("    - %s\n", p)
		}
	}
	return ok
}
