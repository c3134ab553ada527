package definition

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name         string
		doc          string
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name: "valid",
			doc:  ordersYAML,
		},
		{
			name: "missing required fields",
			doc:  "source: main.sales.orders\n",
			wantErrors: []string{
				"Missing required field: version",
				"Missing required field: dimensions",
				"Missing required field: measures",
			},
		},
		{
			name: "wrong types and missing item fields",
			doc: `version: 0.1
source: [a]
dimensions:
  - expr: a
  - plain
measures: {}
`,
			wantErrors: []string{
				"Field 'source' must be of type str",
				"Field 'measures' must be of type list",
				"Dimension 0 missing required 'name' field",
				"Dimension 1 must be a dictionary",
			},
		},
		{
			name: "dangerous keyword and parentheses",
			doc: `version: 0.1
source: t
filter: status <> 'DROPPED'
dimensions:
  - name: d
    expr: CONCAT(a, b
measures:
  - name: m
    expr: SUM(x); DROP TABLE t
`,
			wantErrors: []string{
				"Unbalanced parentheses in dimension 'd': CONCAT(a, b",
				"Dangerous keyword 'DROP' found in measure 'm'",
			},
		},
		{
			name: "collision and missing aggregate",
			doc: `version: 0.1
source: t
dimensions:
  - name: revenue
    expr: price
measures:
  - name: revenue
    expr: price * 2
`,
			wantErrors:   []string{"Name collisions between dimensions and measures: revenue"},
			wantWarnings: []string{"Measure 'revenue' may be missing aggregation function"},
		},
		{
			name: "unsafe patterns",
			doc: `version: 0.1
source: t
dimensions:
  - name: d
    expr: a -- trailing comment
measures:
  - name: m
    expr: COUNT(1)
`,
			wantWarnings: []string{"Potentially unsafe pattern found in expression: a -- trailing comment..."},
		},
		{
			name: "unknown key",
			doc: `version: 0.1
source: t
dimensions: []
measures: []
filters: x
`,
			wantErrors: []string{"Schema error"},
		},
		{
			name: "version outside supported range",
			doc: `version: 3.0
source: t
dimensions: []
measures: []
`,
			wantWarnings: []string{"Version 3 is outside the supported range"},
		},
		{
			name:       "empty",
			doc:        "",
			wantErrors: []string{"Empty YAML file"},
		},
		{
			name:       "not yaml",
			doc:        "version: [\n",
			wantErrors: []string{"YAML parsing error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs, warnings := ValidateDocument([]byte(tt.doc))

			if len(tt.wantErrors) == 0 {
				assert.Empty(t, errs)
			}
			for _, want := range tt.wantErrors {
				assertContainsPrefix(t, errs, want)
			}

			if len(tt.wantWarnings) == 0 {
				assert.Empty(t, warnings)
			}
			for _, want := range tt.wantWarnings {
				assertContainsPrefix(t, warnings, want)
			}
		})
	}
}

func assertContainsPrefix(t *testing.T, messages []string, prefix string) {
	t.Helper()
	for _, msg := range messages {
		if len(msg) >= len(prefix) && msg[:len(prefix)] == prefix {
			return
		}
	}
	t.Errorf("no message starting with %q in %q", prefix, messages)
}

func TestDangerousKeywordsMatchWholeWords(t *testing.T) {
	doc := `version: 0.1
source: t
dimensions:
  - name: is_deleted
    expr: is_deleted
  - name: alternate_id
    expr: alternate_id
measures:
  - name: m
    expr: COUNT(1)
`
	errs, _ := ValidateDocument([]byte(doc))
	assert.Empty(t, errs)
}

func TestValidateDir(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"orders.yml": ordersYAML,
		"warn.yml": `version: 0.1
source: t
dimensions:
  - name: d
    expr: a
measures:
  - name: m
    expr: price
`,
		"customers.yml.j2": templatedYAML,
	})

	v := &Validator{}
	report, err := v.ValidateDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, report.FilesValidated)
	assert.False(t, report.HasErrors)

	byFile := map[string]FileResult{}
	for _, r := range report.Results {
		byFile[r.DisplayName()] = r
	}
	assert.True(t, byFile["customers.yml.j2"].Valid)
	assert.Len(t, byFile["customers.yml.j2"].Warnings, 1)
	assert.Len(t, byFile["warn.yml"].Warnings, 1)

	strict := &Validator{Strict: true}
	report, err = strict.ValidateDir(dir)
	require.NoError(t, err)
	assert.True(t, report.HasErrors)
	assert.True(t, report.Strict)
}

func TestValidateDirRendersTemplates(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"customers.yml.j2": templatedYAML,
		"broken.yml.j2":    "source: {{ missing_var }}\n",
	})

	v := &Validator{Context: testContext(), RenderTemplates: true}
	report, err := v.ValidateDir(dir)
	require.NoError(t, err)
	assert.True(t, report.HasErrors)

	results := map[string]FileResult{}
	for _, r := range report.Results {
		results[filepath.Base(r.File)] = r
	}
	assert.True(t, results["customers.yml.j2"].Valid)
	assert.Empty(t, results["customers.yml.j2"].Warnings)
	require.False(t, results["broken.yml.j2"].Valid)
	assert.Contains(t, results["broken.yml.j2"].Errors[0], "Template error")
}

func TestValidateDirMissing(t *testing.T) {
	_, err := (&Validator{}).ValidateDir(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
