package cmd

import (
    "fmt"
    "runtime"

    "github.com/spf13/cobra"

    "metricdrop/internal/ui"
)

var (
    // Version is set at build time
    Version = "dev"
    // BuildTime is set at build time
    BuildTime = "unknown"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
    Use:         "version",
    Short:       "Display metricdrop version information",
    Args:        cobra.NoArgs,
    Annotations: map[string]string{skipSetup: "true"},
    Run: func(cmd *cobra.Command, args []string) {
        fmt.Fprintf(ui.Output, "metricdrop version %s\n", Version)
        fmt.Fprintf(ui.Output, "Built at: %s\n", BuildTime)
        fmt.Fprintf(ui.Output, "Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
    },
}

func init() {
    rootCmd.AddCommand(versionCmd)
}
