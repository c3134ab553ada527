package cmd

import (
    "fmt"

    "github.com/spf13/cobra"

    "metricdrop/internal/definition"
    "metricdrop/internal/deploy"
    "metricdrop/internal/git"
    "metricdrop/internal/tracker"
    "metricdrop/internal/ui"
    "metricdrop/internal/warehouse"
    "metricdrop/pkg/errors"
)

var (
    deployTarget targetFlags
    deployDryRun bool
    deployYes    bool
)

var deployCmd = &cobra.Command{
    Use:   "deploy",
    Short: "Deploy metric view definitions",
    Long: `Deploy every definition in the definitions directory to the warehouse.

Each view is created with CREATE OR REPLACE VIEW ... WITH METRICS at its resolved
target (the definition's deployment block, or the environment's catalog and schema)
and then tagged as certified. A failing view does not stop the others; the command
exits nonzero when any view failed.`,
    Args: cobra.NoArgs,
    RunE: runDeploy,
}

func init() {
    rootCmd.AddCommand(deployCmd)

    deployTarget.register(deployCmd)
    deployCmd.Flags().BoolVarP(&deployDryRun, "dry-run", "d", false, "Generate the DDL without executing it")
    deployCmd.Flags().BoolVarP(&deployYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runDeploy(cmd *cobra.Command, args []string) error {
    ctx := cmd.Context()

    run, err := deployTarget.resolve()
    if err != nil {
        return err
    }

    set, err := definition.Load(appConfig.DefinitionsDir, definition.Options{
        Context: run.Context,
        Logger:  logger,
    })
    if err != nil {
        return err
    }

    total := set.Len()
    if total == 0 {
        return errors.New(errors.ErrCodeDefinitionsMissing,
            fmt.Sprintf("No definition files found in %s", appConfig.DefinitionsDir)).
            WithContext("dir", appConfig.DefinitionsDir).
            WithSuggestions("Add .yml or .yml.j2 files, or point --definitions-dir at them")
    }

    ui.ShowHeader("Metric View Deployment")
    ui.PrintKeyValue("Environment", run.Environment)
    ui.PrintKeyValue("Target", run.Target())
    ui.PrintKeyValue("Definitions", fmt.Sprintf("%d", total))
    if deployDryRun {
        ui.PrintKeyValue("Mode", ui.ColorInfo("dry run"))
    }

    if !deployDryRun && !deployYes && ui.Interactive() {
        confirmed, err := ui.Confirm(fmt.Sprintf("Deploy %d view(s) to %s?", total, run.Environment), false)
        if err != nil {
            return errors.Wrap(err, errors.ErrCodeInternal, "Confirmation prompt failed")
        }
        if !confirmed {
            ui.ShowInfo("Deployment cancelled")
            return nil
        }
    }

    var exec deploy.Execer
    if !deployDryRun {
        svc, err := openWarehouse(ctx, run.WarehouseID)
        if err != nil {
            return err
        }
        defer closeWarehouse(svc)
        exec = svc
    }

    gitInfo, err := git.Provenance(appConfig.DefinitionsDir)
    if err != nil {
        logger.WarnWithFields("could not read git provenance", map[string]interface{}{
            "error": err.Error(),
        })
    }

    tr, err := tracker.New(appConfig.StateDir, logger)
    if err != nil {
        return err
    }
    deploymentID, err := tr.Start(tracker.RunInfo{
        Environment: run.Environment,
        Catalog:     run.Catalog,
        Schema:      run.Schema,
        TotalFiles:  total,
        DryRun:      deployDryRun,
        Git:         gitInfo,
    })
    if err != nil {
        ui.ShowWarning("Deployment history could not be written: " + err.Error())
    }

    executor := deploy.NewExecutor(exec, deploy.Options{
        DefaultCatalog:   run.Catalog,
        DefaultSchema:    run.Schema,
        DryRun:           deployDryRun,
        CertificationTag: appConfig.Deploy.CertificationTag,
    }, logger.WithEnvironment(run.Environment).WithField("deployment_id", deploymentID))

    progress := ui.NewProgressBar(total)
    executor.AddObserver(progress)
    executor.AddObserver(tr)

    fmt.Fprintln(ui.Output)
    batch := executor.Run(ctx, set)
    progress.Finish()

    if _, err := tr.Finish(); err != nil {
        ui.ShowWarning("Deployment history could not be written: " + err.Error())
    }

    if deployDryRun || verbose {
        printGeneratedSQL(batch)
    }
    ui.PrintDeploymentResult(batch)
    ui.PrintKeyValue("Deployment ID", deploymentID)

    if err := ctx.Err(); err != nil {
        return errors.Wrap(err, errors.ErrCodeDeploymentFailed, "Deployment interrupted").
            WithContext("completed_views", len(batch.Views))
    }
    return batch.Err()
}

func printGeneratedSQL(batch *deploy.BatchResult) {
    for _, v := range batch.Views {
        if v.SQL == "" {
            continue
        }
        ui.PrintSection(fmt.Sprintf("%s (%s)", v.Name, v.Target))
        fmt.Fprintln(ui.Output, v.SQL)
    }
}

// compile-time check that the warehouse service can execute deployments
var _ deploy.Execer = (*warehouse.Service)(nil)
