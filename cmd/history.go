package cmd

import (
    "fmt"

    "github.com/spf13/cobra"

    "metricdrop/internal/tracker"
    "metricdrop/internal/ui"
    "metricdrop/pkg/errors"
)

var (
    historyLimit       int
    historyEnvironment string
    reportID           string
)

var historyCmd = &cobra.Command{
    Use:   "history",
    Short: "List recorded deployments",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        tr, err := tracker.New(appConfig.StateDir, logger)
        if err != nil {
            return err
        }
        summaries, err := tr.History(historyLimit, historyEnvironment)
        if err != nil {
            return err
        }
        ui.PrintHistory(summaries)
        return nil
    },
}

var reportCmd = &cobra.Command{
    Use:   "report",
    Short: "Show the report of a deployment (default: the latest)",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        tr, err := tracker.New(appConfig.StateDir, logger)
        if err != nil {
            return err
        }

        var summary *tracker.DeploymentSummary
        if reportID != "" {
            summary, err = tr.Get(reportID)
        } else {
            summary, err = tr.Latest()
        }
        if err != nil {
            return err
        }
        fmt.Fprint(ui.Output, ui.DeploymentReport(summary))
        return nil
    },
}

var statusCmd = &cobra.Command{
    Use:   "status",
    Short: "Show the state of the latest deployment",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        tr, err := tracker.New(appConfig.StateDir, logger)
        if err != nil {
            return err
        }
        summary, err := tr.Latest()
        if errors.HasCode(err, errors.ErrCodeNotFound) {
            ui.ShowInfo("No deployments recorded yet")
            return nil
        }
        if err != nil {
            return err
        }
        ui.PrintStatus(summary)
        return nil
    },
}

func init() {
    rootCmd.AddCommand(historyCmd, reportCmd, statusCmd)

    historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of deployments to show")
    historyCmd.Flags().StringVarP(&historyEnvironment, "environment", "e", "", "Only show this environment")
    reportCmd.Flags().StringVar(&reportID, "deployment-id", "", "Deployment to report on")
}
