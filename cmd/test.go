package cmd

import (
    "fmt"

    "github.com/spf13/cobra"

    "metricdrop/internal/harness"
    "metricdrop/internal/ui"
)

var (
    testTarget targetFlags
    testViews  []string
)

var testCmd = &cobra.Command{
    Use:   "test",
    Short: "Run metric view tests",
    Long: `Run tests/test_<view>.sql against the deployed views.

Each file is split into '-- Test N: name' blocks. Blocks are checked against
tests/expected_results/test_<view>.json when it exists, otherwise against the default
row-count and violation-count checks. The command exits nonzero when any test failed.`,
    Args: cobra.NoArgs,
    RunE: runTests,
}

func init() {
    rootCmd.AddCommand(testCmd)

    testTarget.register(testCmd)
    testCmd.Flags().StringSliceVar(&testViews, "views", nil, "Only test these views (comma separated)")
}

func runTests(cmd *cobra.Command, args []string) error {
    ctx := cmd.Context()

    run, err := testTarget.resolve()
    if err != nil {
        return err
    }
    if err := run.requireTarget(); err != nil {
        return err
    }

    files, err := harness.Discover(appConfig.TestsDir, testViews)
    if err != nil {
        return err
    }
    if len(files) == 0 {
        ui.ShowInfo(fmt.Sprintf("No test files found in %s", appConfig.TestsDir))
        return nil
    }

    ui.ShowHeader("Metric View Tests")
    ui.PrintKeyValue("Environment", run.Environment)
    ui.PrintKeyValue("Target", run.Target())
    ui.PrintKeyValue("Test files", fmt.Sprintf("%d", len(files)))

    svc, err := openWarehouse(ctx, run.WarehouseID)
    if err != nil {
        return err
    }
    defer closeWarehouse(svc)

    runner := harness.NewRunner(svc, run.Context, logger.WithEnvironment(run.Environment))
    runner.SetObserver(&ui.TestPrinter{})

    outcome := runner.Run(ctx, files)
    ui.PrintTestOutcome(outcome)
    return outcome.Err()
}
