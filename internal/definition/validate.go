package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"metricdrop/internal/common"
	"metricdrop/internal/template"
	apperrors "metricdrop/pkg/errors"
)

// SupportedVersions is the range of metric view language versions the generator targets.
const SupportedVersions = ">= 0.1, < 2.0"

var (
	dangerousKeyword = regexp.MustCompile(`(?i)\b(DROP|DELETE|TRUNCATE|ALTER)\b`)
	aggregateCall    = regexp.MustCompile(`(?i)\b(SUM|COUNT|COUNT_DISTINCT|APPROX_COUNT_DISTINCT|AVG|MIN|MAX|MEDIAN|PERCENTILE|PERCENTILE_APPROX|STDDEV|VARIANCE|ANY_VALUE|MEASURE)\s*\(`)
	unsafePatterns   = []*regexp.Regexp{
		regexp.MustCompile(`--`),
		regexp.MustCompile(`(?s)/\*.*\*/`),
		regexp.MustCompile(`(?s);.*?;`),
	}
)

// FileResult is the outcome of validating one definition file.
type FileResult struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Failed reports whether the file fails validation, counting warnings in strict mode.
func (r FileResult) Failed(strict bool) bool {
	return !r.Valid || (strict && len(r.Warnings) > 0)
}

// Report aggregates the results of a directory validation.
type Report struct {
	FilesValidated int          `json:"files_validated"`
	HasErrors      bool         `json:"has_errors"`
	Strict         bool         `json:"strict"`
	Results        []FileResult `json:"results"`
}

// Validator lints definitions beyond what the loader enforces.
type Validator struct {
	// Context renders templated files. Without RenderTemplates they are reported as
	// skipped since their content depends on the environment.
	Context         template.Context
	RenderTemplates bool
	Strict          bool
}

// ValidateDir validates every definition file directly inside dir.
func (v *Validator) ValidateDir(dir string) (*Report, error) {
	cleanDir, err := common.CleanPath(dir)
	if err != nil {
		return nil, err
	}
	files, err := common.ListFiles(cleanDir, append(append([]string{}, plainSuffixes...), templatedSuffixes...)...)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.ErrCodeDefinitionsMissing,
				fmt.Sprintf("Directory %s does not exist", dir))
		}
		return nil, err
	}

	report := &Report{FilesValidated: len(files), Strict: v.Strict, Results: []FileResult{}}
	for _, file := range files {
		result := v.ValidateFile(file)
		report.Results = append(report.Results, result)
		if result.Failed(v.Strict) {
			report.HasErrors = true
		}
	}
	return report, nil
}

// ValidateFile validates one definition file.
func (v *Validator) ValidateFile(path string) FileResult {
	result := FileResult{File: path, Errors: []string{}, Warnings: []string{}}

	data, err := os.ReadFile(path) // #nosec G304 - path comes from directory listing
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("File reading error: %v", err))
		return result
	}

	text := string(data)
	if IsTemplated(path) {
		if !v.RenderTemplates {
			result.Valid = true
			result.Warnings = append(result.Warnings,
				"Templated file not rendered; pass --environment to validate its rendered form")
			return result
		}
		text, err = template.RenderString(text, path, v.Context)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Template error: %v", firstLine(err.Error())))
			return result
		}
	}

	errs, warnings := ValidateDocument([]byte(text))
	result.Errors = append(result.Errors, errs...)
	result.Warnings = append(result.Warnings, warnings...)
	result.Valid = len(result.Errors) == 0
	return result
}

// ValidateDocument checks a rendered definition and returns its errors and warnings.
func ValidateDocument(data []byte) (errs []string, warnings []string) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []string{fmt.Sprintf("YAML parsing error: %v", err)}, nil
	}
	if doc == nil {
		return []string{"Empty YAML file"}, nil
	}

	errs = append(errs, checkStructure(doc)...)

	// Typed decoding catches misspelled keys that the loose checks above do not.
	if _, err := ParseBody(data); err != nil && len(errs) == 0 {
		errs = append(errs, fmt.Sprintf("Schema error: %v", err))
	}

	exprErrs, exprWarnings := checkExpressions(doc)
	errs = append(errs, exprErrs...)
	warnings = append(warnings, exprWarnings...)

	refErrs, refWarnings := checkReferences(doc)
	errs = append(errs, refErrs...)
	warnings = append(warnings, refWarnings...)

	if msg, fatal := checkVersion(doc["version"]); msg != "" {
		if fatal {
			errs = append(errs, msg)
		} else {
			warnings = append(warnings, msg)
		}
	}

	return errs, warnings
}

func checkStructure(doc map[string]interface{}) []string {
	var errs []string

	for _, field := range []string{"version", "source", "dimensions", "measures"} {
		value, ok := doc[field]
		if !ok {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", field))
			continue
		}
		switch field {
		case "source":
			if _, ok := value.(string); !ok {
				errs = append(errs, fmt.Sprintf("Field '%s' must be of type str", field))
			}
		case "dimensions", "measures":
			if _, ok := value.([]interface{}); !ok {
				errs = append(errs, fmt.Sprintf("Field '%s' must be of type list", field))
			}
		}
	}

	if value, ok := doc["joins"]; ok {
		if _, ok := value.([]interface{}); !ok {
			errs = append(errs, "Field 'joins' must be of type list")
		}
	}
	if value, ok := doc["filter"]; ok {
		if _, ok := value.(string); !ok {
			errs = append(errs, "Field 'filter' must be of type str")
		}
	}

	for _, kind := range []string{"dimension", "measure"} {
		items, _ := doc[kind+"s"].([]interface{})
		for i, item := range items {
			m, ok := item.(map[string]interface{})
			if !ok {
				errs = append(errs, fmt.Sprintf("%s %d must be a dictionary", capitalize(kind), i))
				continue
			}
			if _, ok := m["name"]; !ok {
				errs = append(errs, fmt.Sprintf("%s %d missing required 'name' field", capitalize(kind), i))
			}
			if _, ok := m["expr"]; !ok {
				errs = append(errs, fmt.Sprintf("%s %d missing required 'expr' field", capitalize(kind), i))
			}
		}
	}

	return errs
}

type namedExpr struct {
	kind string
	name string
	expr string
}

func collectExpressions(doc map[string]interface{}) []namedExpr {
	var exprs []namedExpr
	for _, kind := range []string{"dimension", "measure"} {
		items, _ := doc[kind+"s"].([]interface{})
		for _, item := range items {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			expr, ok := m["expr"].(string)
			if !ok {
				continue
			}
			exprs = append(exprs, namedExpr{kind: kind, name: fmt.Sprint(m["name"]), expr: expr})
		}
	}
	return exprs
}

func checkExpressions(doc map[string]interface{}) (errs []string, warnings []string) {
	exprs := collectExpressions(doc)
	if filter, ok := doc["filter"].(string); ok {
		exprs = append(exprs, namedExpr{kind: "filter", name: "global_filter", expr: filter})
	}

	for _, e := range exprs {
		for _, match := range uniqueUpper(dangerousKeyword.FindAllString(e.expr, -1)) {
			errs = append(errs, fmt.Sprintf("Dangerous keyword '%s' found in %s '%s'", match, e.kind, e.name))
		}
		if strings.Count(e.expr, "(") != strings.Count(e.expr, ")") {
			errs = append(errs, fmt.Sprintf("Unbalanced parentheses in %s '%s': %s", e.kind, e.name, e.expr))
		}
		if e.kind == "measure" && !aggregateCall.MatchString(e.expr) {
			warnings = append(warnings, fmt.Sprintf("Measure '%s' may be missing aggregation function", e.name))
		}
	}
	return errs, warnings
}

func checkReferences(doc map[string]interface{}) (errs []string, warnings []string) {
	names := map[string]map[string]int{"dimension": {}, "measure": {}}
	exprs := collectExpressions(doc)
	for _, kind := range []string{"dimension", "measure"} {
		items, _ := doc[kind+"s"].([]interface{})
		for _, item := range items {
			if m, ok := item.(map[string]interface{}); ok {
				if name, ok := m["name"]; ok {
					names[kind][fmt.Sprint(name)]++
				}
			}
		}
	}

	var collisions []string
	for name := range names["dimension"] {
		if names["measure"][name] > 0 {
			collisions = append(collisions, name)
		}
	}
	if len(collisions) > 0 {
		sort.Strings(collisions)
		errs = append(errs, fmt.Sprintf("Name collisions between dimensions and measures: %s", strings.Join(collisions, ", ")))
	}

	for _, kind := range []string{"dimension", "measure"} {
		var dups []string
		for name, n := range names[kind] {
			if n > 1 {
				dups = append(dups, name)
			}
		}
		sort.Strings(dups)
		for _, name := range dups {
			errs = append(errs, fmt.Sprintf("Duplicate %s name '%s'", kind, name))
		}
	}

	for _, e := range exprs {
		for _, pattern := range unsafePatterns {
			if pattern.MatchString(e.expr) {
				warnings = append(warnings, fmt.Sprintf("Potentially unsafe pattern found in expression: %s...", truncate(e.expr, 50)))
				break
			}
		}
	}
	return errs, warnings
}

// checkVersion flags an unparseable version as fatal and one outside
// SupportedVersions as a warning.
func checkVersion(value interface{}) (msg string, fatal bool) {
	if value == nil {
		return "", false
	}
	raw := fmt.Sprint(value)
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Sprintf("Invalid version '%s': %v", raw, err), true
	}
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return "", false
	}
	if !constraint.Check(v) {
		return fmt.Sprintf("Version %s is outside the supported range %s", raw, SupportedVersions), false
	}
	return "", false
}

func uniqueUpper(matches []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range matches {
		m = strings.ToUpper(m)
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// DisplayName is the file name shown in reports.
func (r FileResult) DisplayName() string {
	return filepath.Base(r.File)
}
