package cmd

import (
    "encoding/json"
    "fmt"

    "github.com/spf13/cobra"
    "gopkg.in/yaml.v3"

    "metricdrop/internal/template"
    "metricdrop/internal/ui"
    "metricdrop/pkg/errors"
)

var (
    envShowFormat     string
    envValidateTarget string
)

var environmentCmd = &cobra.Command{
    Use:     "environment",
    Aliases: []string{"env"},
    Short:   "Inspect the environments file",
}

var environmentListCmd = &cobra.Command{
    Use:   "list",
    Short: "List configured environments",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        envs, err := loadEnvironments()
        if err != nil {
            return err
        }

        ui.PrintSection(fmt.Sprintf("Environments (%s)", envs.Path()))
        for _, name := range envs.List() {
            settings, err := envs.Settings(name)
            if err != nil {
                ui.PrintKeyValue(name, ui.ColorError(err.Error()))
                continue
            }
            ui.PrintKeyValue(name, fmt.Sprintf("%s.%s (warehouse %s)", settings.Catalog, settings.Schema, settings.WarehouseID))
        }
        return nil
    },
}

var environmentShowCmd = &cobra.Command{
    Use:   "show <environment>",
    Short: "Show the merged configuration of an environment",
    Args:  cobra.ExactArgs(1),
    RunE: func(cmd *cobra.Command, args []string) error {
        envs, err := loadEnvironments()
        if err != nil {
            return err
        }
        ctx, err := envs.Context(args[0])
        if err != nil {
            return err
        }

        var data []byte
        switch envShowFormat {
        case "yaml":
            data, err = yaml.Marshal(ctx.Map())
        case "json":
            data, err = json.MarshalIndent(ctx.Map(), "", "  ")
            data = append(data, '\n')
        default:
            return errors.ValidationError("format", envShowFormat, "must be yaml or json")
        }
        if err != nil {
            return errors.Wrap(err, errors.ErrCodeInternal, "Failed to encode environment")
        }
        fmt.Fprint(ui.Output, string(data))
        return nil
    },
}

var environmentValidateCmd = &cobra.Command{
    Use:   "validate",
    Short: "Check environments for required fields",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        envs, err := loadEnvironments()
        if err != nil {
            return err
        }

        order := envs.List()
        if envValidateTarget != "" {
            order = []string{envValidateTarget}
        }
        if !ui.PrintEnvironmentIssues(order, envs.ValidateAll(envValidateTarget)) {
            return &silentError{err: errors.New(errors.ErrCodeConfigInvalid, "Environment validation failed")}
        }
        return nil
    },
}

var environmentTestCmd = &cobra.Command{
    Use:   "test <template> <environment>",
    Short: "Render a template file for an environment",
    Args:  cobra.ExactArgs(2),
    RunE: func(cmd *cobra.Command, args []string) error {
        envs, err := loadEnvironments()
        if err != nil {
            return err
        }
        ctx, err := envs.Context(args[1])
        if err != nil {
            return err
        }

        rendered, err := template.RenderFile(args[0], ctx)
        if err != nil {
            return err
        }
        fmt.Fprint(ui.Output, rendered)
        return nil
    },
}

func init() {
    rootCmd.AddCommand(environmentCmd)
    environmentCmd.AddCommand(environmentListCmd, environmentShowCmd, environmentValidateCmd, environmentTestCmd)

    environmentShowCmd.Flags().StringVar(&envShowFormat, "format", "yaml", "Output format (yaml or json)")
    environmentValidateCmd.Flags().StringVarP(&envValidateTarget, "environment", "e", "", "Only validate this environment")
}
