package cmd

import (
    "encoding/json"
    "fmt"

    "github.com/spf13/cobra"

    "metricdrop/internal/definition"
    "metricdrop/internal/ui"
    "metricdrop/pkg/errors"
)

var (
    validateStrict      bool
    validateFormat      string
    validateEnvironment string
)

var validateCmd = &cobra.Command{
    Use:   "validate-definitions [dir]",
    Short: "Lint metric view definitions",
    Long: `Check definitions for structure, required fields, expression syntax, field
references and unsafe SQL. Templated files are only checked when --environment is given.
With --strict, warnings fail the run as well.`,
    Args: cobra.MaximumNArgs(1),
    RunE: runValidate,
}

func init() {
    rootCmd.AddCommand(validateCmd)

    validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Treat warnings as errors")
    validateCmd.Flags().StringVar(&validateFormat, "format", "text", "Output format (text or json)")
    validateCmd.Flags().StringVarP(&validateEnvironment, "environment", "e", "", "Render templated files for this environment")
}

func runValidate(cmd *cobra.Command, args []string) error {
    dir := appConfig.DefinitionsDir
    if len(args) == 1 {
        dir = args[0]
    }
    if validateFormat != "text" && validateFormat != "json" {
        return errors.ValidationError("format", validateFormat, "must be text or json")
    }

    validator := &definition.Validator{Strict: validateStrict}
    if validateEnvironment != "" {
        envs, err := loadEnvironments()
        if err != nil {
            return err
        }
        ctx, err := envs.Context(validateEnvironment)
        if err != nil {
            return err
        }
        validator.Context = ctx
        validator.RenderTemplates = true
    }

    report, err := validator.ValidateDir(dir)
    if err != nil {
        return err
    }

    logger.InfoWithFields("definitions validated", map[string]interface{}{
        "dir":        dir,
        "files":      report.FilesValidated,
        "has_errors": report.HasErrors,
        "strict":     validateStrict,
    })

    if validateFormat == "json" {
        data, err := json.MarshalIndent(report, "", "  ")
        if err != nil {
            return errors.Wrap(err, errors.ErrCodeInternal, "Failed to encode report")
        }
        fmt.Fprintln(ui.Output, string(data))
    } else {
        ui.PrintValidationReport(report)
    }

    if report.HasErrors {
        return &silentError{err: errors.New(errors.ErrCodeValidationFailed, "Definition validation failed")}
    }
    return nil
}
