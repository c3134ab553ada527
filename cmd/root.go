package cmd

import (
    "context"
    "io"
    "os"
    "os/signal"
    "syscall"

    "github.com/spf13/cobra"

    "metricdrop/internal/config"
    "metricdrop/internal/observability"
    "metricdrop/internal/security"
    "metricdrop/internal/ui"
    "metricdrop/internal/warehouse"
    "metricdrop/pkg/errors"
    "metricdrop/pkg/models"
)

// tokenCredential is the name the warehouse token is stored under by 'auth login'.
const tokenCredential = "warehouse-token"

// skipSetup marks commands that run without loading metricdrop.yaml.
const skipSetup = "skip-setup"

var (
    cfgFile string
    verbose bool
    noColor bool

    appConfig *models.Config
    logger    = observability.Discard()
    logCloser io.Closer

    newWarehouse = func(cfg warehouse.Config, logger *observability.Logger) *warehouse.Service {
        return warehouse.NewService(cfg, logger)
    }
    newCredentialStore = func() *security.Store {
        return security.NewStore("")
    }

    rootCmd = &cobra.Command{
        Use:   "metricdrop",
        Short: "Deploy and test metric views",
        Long: `metricdrop - deploy YAML metric view definitions to a SQL warehouse and test them.

Definitions live in view_definitions/ (plain .yml or templated .yml.j2), environments in
config/environments.yml and tests in tests/test_<view>.sql with optional expected results.`,
        SilenceUsage:      true,
        SilenceErrors:     true,
        PersistentPreRunE: setup,
    }
)

// silentError fails the command without printing anything more; the details were
// already shown.
type silentError struct {
    err error
}

func (e *silentError) Error() string { return e.err.Error() }
func (e *silentError) Unwrap() error { return e.err }

func Execute() {
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    err := rootCmd.ExecuteContext(ctx)
    stop()
    closeLog()

    if err != nil {
        var silent *silentError
        if !errors.As(err, &silent) {
            ui.ShowError(err)
        }
        os.Exit(1)
    }
}

func init() {
    flags := rootCmd.PersistentFlags()
    flags.StringVar(&cfgFile, "config", "", "config file (default ./metricdrop.yaml or ~/.metricdrop/metricdrop.yaml)")
    flags.BoolVarP(&verbose, "verbose", "v", false, "Mirror debug logs to stderr")
    flags.BoolVar(&noColor, "no-color", false, "Disable colored output")

    flags.String("definitions-dir", "", "Directory holding view definitions")
    flags.String("tests-dir", "", "Directory holding test SQL files")
    flags.String("environments-file", "", "Environment configuration file")
    flags.String("state-dir", "", "Directory for deployment history and logs")
    flags.String("driver", "", "Warehouse driver (databricks or snowflake)")
    flags.String("host", "", "Warehouse host")
    flags.Duration("timeout", 0, "Per-statement timeout")
    flags.String("log-level", "", "Log level (debug, info, warn, error)")
}

// setup loads the configuration and opens the log for every command that needs them.
func setup(cmd *cobra.Command, args []string) error {
    if noColor {
        ui.DisableColor()
    }
    if _, skip := cmd.Annotations[skipSetup]; skip {
        return nil
    }

    v := config.New()
    if cfgFile != "" {
        v.SetConfigFile(cfgFile)
    }
    if err := config.BindFlags(v, cmd.Flags()); err != nil {
        return errors.Wrap(err, errors.ErrCodeInternal, "Failed to bind flags")
    }

    cfg, err := config.Load(v)
    if err != nil {
        return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to load configuration").
            WithSeverity(errors.SeverityCritical).
            WithSuggestions("Check metricdrop.yaml for syntax errors")
    }
    appConfig = cfg

    closeLog()
    level := observability.LogLevelFromString(cfg.Log.Level)
    var mirror io.Writer
    if verbose {
        level = observability.DebugLevel
        mirror = os.Stderr
    }

    fileLogger, closer, err := observability.OpenFileLogger(cfg.LogFile(), level, Version, mirror)
    if err != nil {
        ui.ShowWarning("Could not open log file, logging to stderr: " + err.Error())
        fileLogger = observability.NewLogger(observability.Options{
            Level:   observability.WarnLevel,
            Service: "metricdrop",
            Version: Version,
        })
    }
    logger = fileLogger.WithField("command", cmd.CommandPath())
    logCloser = closer

    logger.DebugWithFields("configuration loaded", map[string]interface{}{
        "config_file": config.ConfigFileUsed(v),
        "state_dir":   cfg.StateDir,
    })
    return nil
}

func closeLog() {
    if logCloser != nil {
        _ = logCloser.Close()
        logCloser = nil
    }
}

// warehouseConfig builds the connection settings for warehouseID. A token missing from
// the configuration is looked up in the credential store.
func warehouseConfig(warehouseID string) (warehouse.Config, error) {
    wc := warehouse.ConfigFrom(appConfig.Warehouse, warehouseID)

    if wc.Token == "" && wc.DSN == "" && wc.Driver != warehouse.DriverSnowflake {
        token, err := newCredentialStore().Get(tokenCredential)
        if err == nil {
            wc.Token = token
        } else {
            logger.DebugWithFields("no stored warehouse token", map[string]interface{}{
                "error": err.Error(),
            })
        }
    }

    return wc, warehouse.ValidateConfig(wc)
}

// openWarehouse connects to the warehouse before the first statement.
func openWarehouse(ctx context.Context, warehouseID string) (*warehouse.Service, error) {
    wc, err := warehouseConfig(warehouseID)
    if err != nil {
        return nil, err
    }

    svc := newWarehouse(wc, logger)
    spinner := ui.NewSpinner("Connecting to warehouse")
    spinner.Start()
    if err := svc.Connect(ctx); err != nil {
        spinner.Stop(false, "Connection failed")
        return nil, err
    }
    spinner.Stop(true, "Connected to warehouse")
    return svc, nil
}

func closeWarehouse(svc *warehouse.Service) {
    if err := svc.Close(); err != nil {
        logger.WarnWithFields("failed to close warehouse connection", map[string]interface{}{
            "error": err.Error(),
        })
    }
}
