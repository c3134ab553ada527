package cmd

import (
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "github.com/spf13/cobra"

    "metricdrop/internal/common"
    "metricdrop/internal/git"
    "metricdrop/internal/scaffold"
    "metricdrop/internal/ui"
    "metricdrop/pkg/errors"
)

var (
    initFlags struct {
        environments string
        catalog      string
        schema       string
        warehouseID  string
        driver       string
        force        bool
        skipGit      bool
    }
    newViewTemplated bool
)

var initCmd = &cobra.Command{
    Use:   "init [directory]",
    Short: "Initialize a new metric view project",
    Long: `Initialize a metric view project with:
- metricdrop.yaml tool configuration
- config/environments.yml with one section per environment
- an example definition, a templated definition and a test with expected results
- a GitHub Actions workflow that validates, deploys and tests`,
    Args:        cobra.MaximumNArgs(1),
    Annotations: map[string]string{skipSetup: "true"},
    RunE:        runInit,
}

var newCmd = &cobra.Command{
    Use:   "new",
    Short: "Add files to an existing project",
}

var newViewCmd = &cobra.Command{
    Use:   "view <name>",
    Short: "Add a metric view definition and its test file",
    Args:  cobra.ExactArgs(1),
    RunE: func(cmd *cobra.Command, args []string) error {
        gen := scaffold.NewGenerator(projectRoot(), nil)
        files, err := gen.GenerateView(args[0], newViewTemplated)
        if err != nil {
            return err
        }
        printGenerated(files)
        return nil
    },
}

func init() {
    initCmd.Flags().StringVarP(&initFlags.environments, "environments", "e", "dev,prod", "Comma-separated list of environments")
    initCmd.Flags().StringVar(&initFlags.catalog, "catalog", "main", "Catalog of the production environment")
    initCmd.Flags().StringVar(&initFlags.schema, "schema", "metrics", "Schema for metric views")
    initCmd.Flags().StringVar(&initFlags.warehouseID, "warehouse-id", "", "SQL warehouse id")
    initCmd.Flags().StringVar(&initFlags.driver, "driver", "databricks", "Warehouse driver (databricks or snowflake)")
    initCmd.Flags().BoolVarP(&initFlags.force, "force", "f", false, "Overwrite existing files")
    initCmd.Flags().BoolVar(&initFlags.skipGit, "skip-git", false, "Skip git repository initialization")

    newViewCmd.Flags().BoolVarP(&newViewTemplated, "templated", "t", false, "Create a .yml.j2 templated definition")

    newCmd.AddCommand(newViewCmd)
    rootCmd.AddCommand(initCmd, newCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
    dir := "."
    if len(args) == 1 {
        dir = args[0]
    }
    projectDir, err := filepath.Abs(dir)
    if err != nil {
        return errors.Wrap(err, errors.ErrCodeValidationFailed, "Invalid project directory")
    }
    if err := os.MkdirAll(projectDir, common.DirPermissionNormal); err != nil {
        return errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to create project directory")
    }

    var envs []string
    for _, e := range strings.Split(initFlags.environments, ",") {
        if e = strings.TrimSpace(e); e != "" {
            envs = append(envs, e)
        }
    }

    ui.ShowHeader("Initialize Metric View Project")
    gen := scaffold.NewGenerator(projectDir, &scaffold.Config{
        Environments: envs,
        Catalog:      initFlags.catalog,
        Schema:       initFlags.schema,
        WarehouseID:  initFlags.warehouseID,
        Driver:       initFlags.driver,
        Force:        initFlags.force,
    })
    files, err := gen.Init()
    if err != nil {
        return err
    }
    printGenerated(files)

    if !initFlags.skipGit {
        created, err := git.InitRepository(projectDir)
        switch {
        case err != nil:
            ui.ShowWarning("Git repository not initialized: " + err.Error())
        case created:
            ui.ShowSuccess("Initialized git repository")
        }
    }

    ui.PrintSection("Next steps")
    fmt.Fprintln(ui.Output, "  1. Set warehouse.host in metricdrop.yaml and warehouse ids in config/environments.yml")
    fmt.Fprintln(ui.Output, "  2. metricdrop auth login")
    fmt.Fprintln(ui.Output, "  3. metricdrop validate-definitions")
    fmt.Fprintln(ui.Output, "  4. metricdrop deploy --environment "+firstNonEmpty(append(envs, "dev")...)+" --dry-run")
    return nil
}

// projectRoot is the directory containing the definitions directory.
func projectRoot() string {
    return filepath.Dir(filepath.Clean(appConfig.DefinitionsDir))
}

func printGenerated(files []scaffold.File) {
    for _, f := range files {
        if f.Skipped {
            ui.ShowInfo(fmt.Sprintf("Kept existing %s", f.Path))
            continue
        }
        ui.ShowSuccess(fmt.Sprintf("Created %s", f.Path))
    }
}
