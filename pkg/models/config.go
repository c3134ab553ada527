package models

import "time"

// Config is the tool configuration read from metricdrop.yaml, METRICDROP_* environment
// variables and command flags.
type Config struct {
    DefinitionsDir   string          `yaml:"definitions_dir" mapstructure:"definitions_dir"`
    TestsDir         string          `yaml:"tests_dir" mapstructure:"tests_dir"`
    EnvironmentsFile string          `yaml:"environments_file" mapstructure:"environments_file"`
    StateDir         string          `yaml:"state_dir" mapstructure:"state_dir"`
    Warehouse        Warehouse       `yaml:"warehouse" mapstructure:"warehouse"`
    Deploy           DeploySettings  `yaml:"deploy" mapstructure:"deploy"`
    Log              LogSettings     `yaml:"log" mapstructure:"log"`
}

// Warehouse describes how to reach the SQL warehouse that runs DDL and test queries.
type Warehouse struct {
    Driver   string        `yaml:"driver" mapstructure:"driver"`       // "databricks" or "snowflake"
    Host     string        `yaml:"host" mapstructure:"host"`           // workspace hostname
    HTTPPath string        `yaml:"http_path" mapstructure:"http_path"` // defaults to /sql/1.0/warehouses/<id>
    Token    string        `yaml:"token" mapstructure:"token"`
    DSN      string        `yaml:"dsn" mapstructure:"dsn"`             // raw DSN, wins over the fields above
    Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DeploySettings holds deploy-command settings.
type DeploySettings struct {
    CertificationTag string `yaml:"certification_tag" mapstructure:"certification_tag"`
}

// LogSettings configures the structured log sink.
type LogSettings struct {
    Level string `yaml:"level" mapstructure:"level"`
}

// Default values
const (
    DefaultDefinitionsDir   = "view_definitions"
    DefaultTestsDir         = "tests"
    DefaultEnvironmentsFile = "config/environments.yml"
    DefaultStateDir         = ".metricdrop"
    DefaultDriver           = "databricks"
    DefaultTimeout          = 5 * time.Minute
    DefaultCertificationTag = "system.Certified"
    DefaultEnvironment      = "dev"
)

// DeploymentsDir returns where deployment summaries are stored.
func (c *Config) DeploymentsDir() string {
    return c.StateDir + "/deployments"
}

// LogFile returns the structured log file path.
func (c *Config) LogFile() string {
    return c.StateDir + "/metricdrop.log"
}
