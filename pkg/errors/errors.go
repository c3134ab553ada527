package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a unique error code for categorizing errors
type ErrorCode string

const (
	// Configuration errors (1xxx)
	ErrCodeConfigNotFound       ErrorCode = "MDE1001"
	ErrCodeConfigInvalid        ErrorCode = "MDE1002"
	ErrCodeEnvironmentNotFound  ErrorCode = "MDE1003"
	ErrCodeTargetUnset          ErrorCode = "MDE1004"
	ErrCodeCredentialsMissing   ErrorCode = "MDE1005"

	// Definition errors (2xxx)
	ErrCodeDefinitionParse      ErrorCode = "MDE2001"
	ErrCodeTemplateVariable     ErrorCode = "MDE2002"
	ErrCodeTemplateSyntax       ErrorCode = "MDE2003"
	ErrCodeDefinitionsMissing   ErrorCode = "MDE2004"

	// DDL generation errors (3xxx)
	ErrCodeDuplicateColumn      ErrorCode = "MDE3001"
	ErrCodeDefinitionInvalid    ErrorCode = "MDE3002"

	// Warehouse errors (4xxx)
	ErrCodeTargetNotFound       ErrorCode = "MDE4001"
	ErrCodeExecution            ErrorCode = "MDE4002"
	ErrCodeDeploymentFailed     ErrorCode = "MDE4003"
	ErrCodeConnectionFailed     ErrorCode = "MDE4004"
	ErrCodeAuthenticationFailed ErrorCode = "MDE4005"
	ErrCodeNetworkUnavailable   ErrorCode = "MDE4006"
	ErrCodeQueryTimeout         ErrorCode = "MDE4007"
	ErrCodePermissionDenied     ErrorCode = "MDE4008"

	// Test errors (5xxx)
	ErrCodeTestAssertion        ErrorCode = "MDE5001"
	ErrCodeTestSetup            ErrorCode = "MDE5002"

	// File system and state errors (6xxx)
	ErrCodeFileNotFound         ErrorCode = "MDE6001"
	ErrCodeFileOperation        ErrorCode = "MDE6002"
	ErrCodeNotFound             ErrorCode = "MDE6003"

	// Validation errors (7xxx)
	ErrCodeValidationFailed     ErrorCode = "MDE7001"

	// System errors (9xxx)
	ErrCodeInternal             ErrorCode = "MDE9001"
	ErrCodeResourceExhausted    ErrorCode = "MDE9002"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL" // Run cannot continue
	SeverityError    ErrorSeverity = "ERROR"    // Item failed, run continues
	SeverityWarning  ErrorSeverity = "WARNING"  // Item succeeded with issues
	SeverityInfo     ErrorSeverity = "INFO"
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Stack       string
	Timestamp   time.Time
	Recoverable bool
	Suggestions []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		Severity:    SeverityError,
		Context:     make(map[string]interface{}),
		Stack:       captureStack(),
		Timestamp:   time.Now(),
		Recoverable: false,
	}
}

// Wrap wraps an existing error with AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	// If wrapping another AppError, inherit its context
	var ae *AppError
	if errors.As(err, &ae) {
		for k, v := range ae.Context {
			appErr.Context[k] = v
		}
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// AsRecoverable marks the error as recoverable
func (e *AppError) AsRecoverable() *AppError {
	e.Recoverable = true
	return e
}

// captureStack captures the current stack trace
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			b.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return b.String()
}

// Common error constructors

// ConfigError creates a configuration-related error
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigInvalid, message).
		WithContext("field", field).
		WithSeverity(SeverityCritical).
		WithSuggestions(
			fmt.Sprintf("Check the '%s' configuration value", field),
			"Run 'metricdrop environment validate' to check environments.yml",
		)
}

// DefinitionParseError reports a definition file that could not be loaded
func DefinitionParseError(file string, cause error) *AppError {
	return Wrap(cause, ErrCodeDefinitionParse, fmt.Sprintf("Failed to parse definition %s", file)).
		WithContext("file", file)
}

// TemplateVariableError reports a placeholder that has no value in the template context
func TemplateVariableError(name, position string) *AppError {
	return New(ErrCodeTemplateVariable, fmt.Sprintf("Undefined template variable '%s'", name)).
		WithContext("variable", name).
		WithContext("position", position).
		WithSuggestions(
			fmt.Sprintf("Define '%s' in config/environments.yml", name),
			"Guard optional values with {% if ... %} or the default(\"...\") filter",
		)
}

// DuplicateColumnError reports a dimension and measure (or two entries) sharing a name
func DuplicateColumnError(view, column string) *AppError {
	return New(ErrCodeDuplicateColumn, fmt.Sprintf("Column '%s' is declared more than once in view %s", column, view)).
		WithContext("view", view).
		WithContext("column", column).
		WithSuggestions("Rename the dimension or the measure so every column name is unique")
}

// TargetNotFoundError reports a catalog or schema that does not exist in the warehouse
func TargetNotFoundError(target string, cause error) *AppError {
	return Wrap(cause, ErrCodeTargetNotFound, fmt.Sprintf("Deployment target %s does not exist", target)).
		WithContext("target", target).
		WithSuggestions(
			"Create the catalog and schema before deploying; they are not provisioned automatically",
			"Check the deployment override block in the definition",
		)
}

// ExecutionError reports a generic warehouse failure for one statement
func ExecutionError(message string, query string, cause error) *AppError {
	err := Wrap(cause, ErrCodeExecution, message).
		WithContext("query", truncateString(query, 200))

	lower := strings.ToLower(fmt.Sprint(cause))
	if strings.Contains(lower, "permission") || strings.Contains(lower, "access denied") {
		err.Code = ErrCodePermissionDenied
		_ = err.WithSuggestions(
			"Verify the principal has CREATE and USE privileges on the target",
			"Contact your workspace administrator",
		)
	} else if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		err.Code = ErrCodeQueryTimeout
		_ = err.WithSuggestions(
			"Increase warehouse.timeout",
			"Check that the SQL warehouse is running",
		)
	}

	return err
}

// ValidationError creates a validation error
func ValidationError(field string, value interface{}, reason string) *AppError {
	return New(ErrCodeValidationFailed, fmt.Sprintf("Validation failed for %s: %s", field, reason)).
		WithContext("field", field).
		WithContext("value", value).
		WithSeverity(SeverityWarning)
}

// IsRecoverable checks if an error is recoverable
func IsRecoverable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Recoverable
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// HasCode reports whether err or any error it wraps carries code
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
