package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "github.com/spf13/pflag"
    "github.com/spf13/viper"

    "metricdrop/internal/common"
    "metricdrop/pkg/models"
)

const (
    configName = "metricdrop"
    envPrefix  = "METRICDROP"
)

// flagKeys maps command flags onto configuration keys.
var flagKeys = map[string]string{
    "definitions-dir":   "definitions_dir",
    "tests-dir":         "tests_dir",
    "environments-file": "environments_file",
    "state-dir":         "state_dir",
    "driver":            "warehouse.driver",
    "host":              "warehouse.host",
    "timeout":           "warehouse.timeout",
    "log-level":         "log.level",
}

func GetConfigPath() string {
    home, _ := os.UserHomeDir()
    return filepath.Join(home, ".metricdrop")
}

// New returns a viper instance with defaults, search paths and environment binding set up.
func New() *viper.Viper {
    v := viper.New()
    v.SetConfigName(configName)
    v.SetConfigType("yaml")
    v.AddConfigPath(".")
    v.AddConfigPath(GetConfigPath())

    if explicit := os.Getenv("METRICDROP_CONFIG"); explicit != "" {
        if cleaned, err := common.CleanPath(explicit); err == nil {
            v.SetConfigFile(cleaned)
        }
    }

    v.SetEnvPrefix(envPrefix)
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
    v.AutomaticEnv()

    v.SetDefault("definitions_dir", models.DefaultDefinitionsDir)
    v.SetDefault("tests_dir", models.DefaultTestsDir)
    v.SetDefault("environments_file", models.DefaultEnvironmentsFile)
    v.SetDefault("state_dir", models.DefaultStateDir)
    v.SetDefault("warehouse.driver", models.DefaultDriver)
    v.SetDefault("warehouse.host", "")
    v.SetDefault("warehouse.http_path", "")
    v.SetDefault("warehouse.token", "")
    v.SetDefault("warehouse.dsn", "")
    v.SetDefault("warehouse.timeout", models.DefaultTimeout)
    v.SetDefault("deploy.certification_tag", models.DefaultCertificationTag)
    v.SetDefault("log.level", "info")

    return v
}

// BindFlags binds the known persistent flags so that explicitly set flags win over
// environment variables and the config file.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
    for flag, key := range flagKeys {
        f := flags.Lookup(flag)
        if f == nil {
            continue
        }
        if err := v.BindPFlag(key, f); err != nil {
            return fmt.Errorf("failed to bind flag %s: %w", flag, err)
        }
    }
    return nil
}

// Load reads the config file (a missing file is fine) and decodes it.
func Load(v *viper.Viper) (*models.Config, error) {
    if err := v.ReadInConfig(); err != nil {
        var notFound viper.ConfigFileNotFoundError
        if !errors.As(err, &notFound) {
            return nil, fmt.Errorf("failed to read config file: %w", err)
        }
    }

    var cfg models.Config
    if err := v.Unmarshal(&cfg); err != nil {
        return nil, fmt.Errorf("failed to unmarshal config: %w", err)
    }

    token, err := DecryptSecret(cfg.Warehouse.Token)
    if err != nil {
        return nil, fmt.Errorf("failed to decrypt warehouse token: %w", err)
    }
    cfg.Warehouse.Token = token

    if cfg.Warehouse.Timeout <= 0 {
        cfg.Warehouse.Timeout = models.DefaultTimeout
    }

    return &cfg, nil
}

// ConfigFileUsed reports which file was read, if any.
func ConfigFileUsed(v *viper.Viper) string {
    return v.ConfigFileUsed()
}
