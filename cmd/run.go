package cmd

import (
    "fmt"

    "github.com/spf13/cobra"

    "metricdrop/internal/environment"
    "metricdrop/internal/template"
    "metricdrop/pkg/errors"
)

// runTarget is the environment a deploy or test run works against, with command-line
// overrides applied.
type runTarget struct {
    Environment string
    Catalog     string
    Schema      string
    WarehouseID string
    Tags        map[string]string
    Context     template.Context
}

// targetFlags are the flags shared by deploy and test.
type targetFlags struct {
    environment string
    catalog     string
    schema      string
    warehouseID string
}

func (f *targetFlags) register(cmd *cobra.Command) {
    cmd.Flags().StringVarP(&f.environment, "environment", "e", "dev", "Environment from the environments file")
    cmd.Flags().StringVar(&f.catalog, "catalog", "", "Override the environment's catalog")
    cmd.Flags().StringVar(&f.schema, "schema", "", "Override the environment's schema")
    cmd.Flags().StringVar(&f.warehouseID, "warehouse-id", "", "Override the environment's warehouse id")
}

func loadEnvironments() (*environment.Manager, error) {
    return environment.Load(appConfig.EnvironmentsFile)
}

// resolveRun loads the environment and layers the flag overrides on top. The resulting
// context carries the effective catalog, schema and warehouse_id.
func (f *targetFlags) resolve() (*runTarget, error) {
    envs, err := loadEnvironments()
    if err != nil {
        return nil, err
    }

    settings, err := envs.Settings(f.environment)
    if err != nil {
        return nil, err
    }
    ctx, err := envs.Context(f.environment)
    if err != nil {
        return nil, err
    }

    run := &runTarget{
        Environment: f.environment,
        Catalog:     firstNonEmpty(f.catalog, settings.Catalog),
        Schema:      firstNonEmpty(f.schema, settings.Schema),
        WarehouseID: firstNonEmpty(f.warehouseID, settings.WarehouseID),
        Tags:        settings.Tags,
    }

    overrides := map[string]interface{}{}
    if run.Catalog != "" {
        overrides["catalog"] = run.Catalog
    }
    if run.Schema != "" {
        overrides["schema"] = run.Schema
    }
    if run.WarehouseID != "" {
        overrides["warehouse_id"] = run.WarehouseID
    }
    run.Context = ctx.With(overrides)

    logger.InfoWithFields("run target resolved", map[string]interface{}{
        "environment":  run.Environment,
        "catalog":      run.Catalog,
        "schema":       run.Schema,
        "warehouse_id": run.WarehouseID,
    })
    return run, nil
}

// requireTarget fails when the run has no default catalog or schema.
func (r *runTarget) requireTarget() error {
    if r.Catalog != "" && r.Schema != "" {
        return nil
    }
    return errors.New(errors.ErrCodeTargetUnset,
        fmt.Sprintf("No catalog or schema configured for environment '%s'", r.Environment)).
        WithContext("catalog", r.Catalog).
        WithContext("schema", r.Schema).
        WithSeverity(errors.SeverityCritical).
        WithSuggestions("Set catalog and schema in the environments file or pass --catalog and --schema")
}

// Target is catalog.schema for display.
func (r *runTarget) Target() string {
    if r.Catalog == "" && r.Schema == "" {
        return "(per definition)"
    }
    return r.Catalog + "." + r.Schema
}

func firstNonEmpty(values ...string) string {
    for _, v := range values {
        if v != "" {
            return v
        }
    }
    return ""
}
