package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbsql "github.com/databricks/databricks-sql-go"
	"github.com/snowflakedb/gosnowflake"

	"metricdrop/internal/observability"
	"metricdrop/pkg/errors"
	"metricdrop/pkg/models"
)

const (
	DriverDatabricks = "databricks"
	DriverSnowflake  = "snowflake"

	defaultPort = 443
)

// Service runs DDL and test queries against the SQL warehouse over a single connection.
type Service struct {
	db        *sql.DB
	config    Config
	connected bool
	logger    *observability.Logger
	retry     *errors.RetryConfig
}

// Config holds warehouse connection configuration
type Config struct {
	Driver      string
	Host        string
	HTTPPath    string
	Token       string
	DSN         string
	WarehouseID string
	Timeout     time.Duration
}

// ConfigFrom builds a connection config from the tool settings and the warehouse id of
// the target environment.
func ConfigFrom(w models.Warehouse, warehouseID string) Config {
	return Config{
		Driver:      w.Driver,
		Host:        w.Host,
		HTTPPath:    w.HTTPPath,
		Token:       w.Token,
		DSN:         w.DSN,
		WarehouseID: warehouseID,
		Timeout:     w.Timeout,
	}
}

// NewService creates a new warehouse service. No connection is opened until the first
// statement runs.
func NewService(config Config, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Service{
		config: config,
		logger: logger.WithField("component", "warehouse"),
		retry:  errors.DefaultRetryConfig(),
	}
}

// NewServiceFromDB wraps an already opened handle, used with sqlmock in tests.
func NewServiceFromDB(db *sql.DB, config Config) *Service {
	s := NewService(config, observability.Discard())
	s.db = db
	s.connected = true
	return s
}

// ValidateConfig checks that enough settings are present to open a connection
func ValidateConfig(config Config) error {
	switch config.Driver {
	case "", DriverDatabricks:
		if config.DSN != "" {
			return nil
		}
		if config.Host == "" {
			return errors.ConfigError("warehouse host is required", "warehouse.host")
		}
		if config.HTTPPath == "" && config.WarehouseID == "" {
			return errors.ConfigError("warehouse http_path or warehouse_id is required", "warehouse.http_path")
		}
		if config.Token == "" {
			return errors.New(errors.ErrCodeCredentialsMissing, "No warehouse access token configured").
				WithSeverity(errors.SeverityCritical).
				WithSuggestions(
					"Run 'metricdrop auth login' to store a token in the keyring",
					"Or set METRICDROP_WAREHOUSE_TOKEN",
				)
		}
	case DriverSnowflake:
		if config.DSN == "" {
			return errors.ConfigError("warehouse dsn is required for the snowflake driver", "warehouse.dsn")
		}
		if _, err := gosnowflake.ParseDSN(config.DSN); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Invalid snowflake DSN").
				WithContext("field", "warehouse.dsn").
				WithSeverity(errors.SeverityCritical)
		}
	default:
		return errors.ConfigError(fmt.Sprintf("unsupported warehouse driver %q", config.Driver), "warehouse.driver")
	}
	return nil
}

// EffectiveHTTPPath returns the configured http path, or the SQL warehouse path derived from the
// warehouse id.
func (c Config) EffectiveHTTPPath() string {
	if c.HTTPPath != "" {
		return c.HTTPPath
	}
	if c.WarehouseID != "" {
		return "/sql/1.0/warehouses/" + c.WarehouseID
	}
	return ""
}

func (s *Service) open() (*sql.DB, error) {
	switch s.config.Driver {
	case DriverSnowflake:
		return sql.Open(DriverSnowflake, s.config.DSN)
	default:
		if s.config.DSN != "" {
			return sql.Open(DriverDatabricks, s.config.DSN)
		}
		connector, err := dbsql.NewConnector(
			dbsql.WithServerHostname(s.config.Host),
			dbsql.WithPort(defaultPort),
			dbsql.WithHTTPPath(s.config.EffectiveHTTPPath()),
			dbsql.WithAccessToken(s.config.Token),
		)
		if err != nil {
			return nil, err
		}
		return sql.OpenDB(connector), nil
	}
}

// Connect establishes the connection, retrying recoverable failures
func (s *Service) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}

	if err := ValidateConfig(s.config); err != nil {
		return err
	}

	retry := *s.retry
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.logger.WarnWithFields("Connection attempt failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
	}

	return errors.Retry(ctx, &retry, func(ctx context.Context) error {
		db, err := s.open()
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeConnectionFailed, "Failed to open warehouse connection").
				WithContext("driver", s.config.Driver)
		}

		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		pingCtx, cancel := s.statementContext(ctx)
		defer cancel()

		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()

			lower := strings.ToLower(err.Error())
			if strings.Contains(lower, "authentication") || strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") {
				return errors.Wrap(err, errors.ErrCodeAuthenticationFailed, "Authentication failed").
					WithContext("host", s.config.Host).
					WithSuggestions(
						"Verify the access token has not expired",
						"Run 'metricdrop auth login' to store a new token",
					)
			}

			return errors.Wrap(err, errors.ErrCodeConnectionFailed, "Failed to connect to the SQL warehouse").
				WithContext("host", s.config.Host).
				AsRecoverable()
		}

		s.db = db
		s.connected = true
		s.logger.InfoWithFields("Connected to warehouse", map[string]interface{}{
			"driver": s.config.Driver,
			"host":   s.config.Host,
		})
		return nil
	})
}

// Close closes the database connection
func (s *Service) Close() error {
	if !s.connected {
		return nil
	}

	s.connected = false
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// Exec runs one statement, connecting first if needed. Failures are ExecutionErrors
// carrying the driver error as cause.
func (s *Service) Exec(ctx context.Context, statement string) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	execCtx, cancel := s.statementContext(ctx)
	defer cancel()

	start := time.Now()
	if _, err := s.db.ExecContext(execCtx, statement); err != nil {
		return errors.ExecutionError("Failed to execute statement", statement, err)
	}

	s.logger.DebugWithFields("Statement executed", map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
		"statement":   firstLine(statement),
	})
	return nil
}

// Query runs a query and materializes every row
func (s *Service) Query(ctx context.Context, query string) (*Rows, error) {
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}

	queryCtx, cancel := s.statementContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, query)
	if err != nil {
		return nil, errors.ExecutionError("Failed to execute query", query, err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, errors.ExecutionError("Failed to read query results", query, err)
	}
	return result, nil
}

// Ping checks that the warehouse is reachable
func (s *Service) Ping(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	pingCtx, cancel := s.statementContext(ctx)
	defer cancel()

	if err := s.db.PingContext(pingCtx); err != nil {
		return errors.Wrap(err, errors.ErrCodeConnectionFailed, "Warehouse did not respond")
	}
	return nil
}

func (s *Service) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.config.Timeout
	if timeout <= 0 {
		timeout = models.DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// IsObjectNotFound reports whether a warehouse error says the catalog, schema or object
// addressed by a statement does not exist.
func IsObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "does not exist") ||
		strings.Contains(lower, "not found") ||
		strings.Contains(msg, "CATALOG_NOT_FOUND") ||
		strings.Contains(msg, "SCHEMA_NOT_FOUND")
}

// IsTargetNotFound is the narrower check used for deployment targets: the catalog or
// schema itself is missing, as opposed to a table the view reads from.
func IsTargetNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, code := range []string{"CATALOG_NOT_FOUND", "SCHEMA_NOT_FOUND", "NO_SUCH_CATALOG_EXCEPTION", "NO_SUCH_SCHEMA_EXCEPTION"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	lower := strings.ToLower(msg)
	mentionsTarget := strings.Contains(lower, "catalog") || strings.Contains(lower, "schema") || strings.Contains(lower, "database")
	return mentionsTarget && IsObjectNotFound(err)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
