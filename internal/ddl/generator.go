// Package ddl turns metric view definitions into warehouse statements. Nothing here
// performs I/O.
package ddl

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"metricdrop/internal/definition"
	apperrors "metricdrop/pkg/errors"
)

const bodyDelimiter = "$$"

// QuoteIdent backtick-quotes an identifier, doubling embedded backticks.
func QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QualifiedName returns the quoted three-part name of a view.
func QualifiedName(target definition.ResolvedTarget, view string) string {
	return QuoteIdent(target.Catalog) + "." + QuoteIdent(target.Schema) + "." + QuoteIdent(view)
}

// Columns returns the view's column list, failing on a name declared twice.
func Columns(def *definition.ViewDefinition) ([]string, error) {
	columns := def.Columns()
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		if seen[col] {
			return nil, apperrors.DuplicateColumnError(def.Name, col)
		}
		seen[col] = true
	}
	return columns, nil
}

// Body serializes the definition without its deployment block.
func Body(def *definition.ViewDefinition) (string, error) {
	body := def.Body
	body.Deployment = nil

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(body); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeDefinitionInvalid,
			fmt.Sprintf("Failed to serialize view %s", def.Name))
	}
	if err := enc.Close(); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeDefinitionInvalid,
			fmt.Sprintf("Failed to serialize view %s", def.Name))
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Generate builds the CREATE OR REPLACE VIEW statement for def at target.
func Generate(def *definition.ViewDefinition, target definition.ResolvedTarget) (string, error) {
	if def.Name == "" {
		return "", apperrors.New(apperrors.ErrCodeDefinitionInvalid, "View name is empty").
			WithContext("file", def.Path)
	}

	columns, err := Columns(def)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", apperrors.New(apperrors.ErrCodeDefinitionInvalid,
			fmt.Sprintf("View %s declares no dimensions or measures", def.Name)).
			WithContext("view", def.Name)
	}

	body, err := Body(def)
	if err != nil {
		return "", err
	}
	if strings.Contains(body, bodyDelimiter) {
		return "", apperrors.New(apperrors.ErrCodeDefinitionInvalid,
			fmt.Sprintf("View %s contains '%s', which would terminate the view body", def.Name, bodyDelimiter)).
			WithContext("view", def.Name).
			WithSuggestions("Remove '$$' from expressions and comments")
	}

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = QuoteIdent(col)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE OR REPLACE VIEW %s (\n", QualifiedName(target, def.Name))
	fmt.Fprintf(&b, "  %s\n", strings.Join(quoted, ", "))
	b.WriteString(") WITH METRICS LANGUAGE YAML AS\n")
	b.WriteString(bodyDelimiter + "\n")
	b.WriteString(body + "\n")
	b.WriteString(bodyDelimiter)
	return b.String(), nil
}

// TagStatement builds the statement that applies tag to the deployed view.
func TagStatement(view string, target definition.ResolvedTarget, tag string) string {
	return fmt.Sprintf("ALTER VIEW %s SET TAGS ('%s')", QualifiedName(target, view), strings.ReplaceAll(tag, "'", "''"))
}
