// Package scaffold lays out a new metric view project and adds views to it.
package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"metricdrop/internal/common"
	"metricdrop/pkg/errors"
)

var viewNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Generator handles project scaffolding
type Generator struct {
	projectDir string
	config     *Config
}

// Config holds scaffolding configuration
type Config struct {
	ProjectName  string
	Environments []string
	Catalog      string
	Schema       string
	WarehouseID  string
	Driver       string
	Force        bool
}

// File is one generated file and whether it was written or left alone.
type File struct {
	Path    string
	Skipped bool
}

// NewGenerator creates a new scaffold generator
func NewGenerator(projectDir string, config *Config) *Generator {
	if config == nil {
		config = &Config{}
	}
	if config.ProjectName == "" {
		config.ProjectName = filepath.Base(projectDir)
	}
	if len(config.Environments) == 0 {
		config.Environments = []string{"dev", "prod"}
	}
	if config.Catalog == "" {
		config.Catalog = "main"
	}
	if config.Schema == "" {
		config.Schema = "metrics"
	}
	if config.WarehouseID == "" {
		config.WarehouseID = "your-warehouse-id"
	}
	if config.Driver == "" {
		config.Driver = "databricks"
	}
	return &Generator{projectDir: projectDir, config: config}
}

// Init writes the project skeleton: tool config, environments, an example view, its
// test and expected results, a CI workflow and a .gitignore.
func (g *Generator) Init() ([]File, error) {
	vars := g.vars()

	plan := []struct {
		path string
		tmpl string
	}{
		{"metricdrop.yaml", toolConfigTemplate},
		{filepath.Join("config", "environments.yml"), environmentsTemplate},
		{filepath.Join("view_definitions", "example_metrics.yml"), viewTemplate},
		{filepath.Join("view_definitions", "example_templated.yml.j2"), templatedViewTemplate},
		{filepath.Join("tests", "test_example_metrics.sql"), testTemplate},
		{filepath.Join("tests", "expected_results", "test_example_metrics.json"), expectedTemplate},
		{filepath.Join(".github", "workflows", "metric-views.yml"), githubWorkflowTemplate},
		{".gitignore", gitignoreTemplate},
	}

	var files []File
	for _, item := range plan {
		v := copyVars(vars)
		v["View"] = "example_metrics"
		content, err := g.processTemplate(item.path, item.tmpl, v)
		if err != nil {
			return files, err
		}
		f, err := g.write(item.path, content)
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

// GenerateView adds a definition skeleton for name plus a test file for it.
func (g *Generator) GenerateView(name string, templated bool) ([]File, error) {
	if !viewNamePattern.MatchString(name) {
		return nil, errors.ValidationError("view", name, "view names must be identifiers (letters, digits, underscore)")
	}

	vars := g.vars()
	vars["View"] = name

	definitionPath := filepath.Join("view_definitions", name+".yml")
	tmpl := viewTemplate
	if templated {
		definitionPath += ".j2"
		tmpl = templatedViewTemplate
	}

	var files []File
	for _, item := range []struct {
		path string
		tmpl string
	}{
		{definitionPath, tmpl},
		{filepath.Join("tests", "test_"+name+".sql"), testTemplate},
	} {
		content, err := g.processTemplate(item.path, item.tmpl, vars)
		if err != nil {
			return files, err
		}
		f, err := g.write(item.path, content)
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (g *Generator) vars() map[string]interface{} {
	return map[string]interface{}{
		"ProjectName":  g.config.ProjectName,
		"Environments": g.config.Environments,
		"Catalog":      g.config.Catalog,
		"Schema":       g.config.Schema,
		"WarehouseID":  g.config.WarehouseID,
		"Driver":       g.config.Driver,
		"First":        g.config.Environments[0],
	}
}

func copyVars(vars map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	return out
}

// write creates rel under the project directory. Existing files are kept unless Force.
func (g *Generator) write(rel, content string) (File, error) {
	fullPath := filepath.Join(g.projectDir, rel)
	if _, err := os.Stat(fullPath); err == nil && !g.config.Force {
		return File{Path: fullPath, Skipped: true}, nil
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), common.DirPermissionNormal); err != nil {
		return File{}, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to create directory").
			WithContext("path", filepath.Dir(fullPath))
	}
	if err := os.WriteFile(fullPath, []byte(content), common.FilePermissionNormal); err != nil {
		return File{}, errors.Wrap(err, errors.ErrCodeFileOperation, fmt.Sprintf("Failed to write %s", rel))
	}
	return File{Path: fullPath}, nil
}

// processTemplate applies template with variables
func (g *Generator) processTemplate(name, tmplStr string, vars map[string]interface{}) (string, error) {
	tmpl, err := template.New(name).Delims("[[", "]]").Parse(tmplStr)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "Invalid scaffold template").WithContext("template", name)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "Failed to render scaffold template").WithContext("template", name)
	}
	return buf.String(), nil
}

// Templates use [[ ]] delimiters so the {{ }} placeholders of the generated files pass
// through untouched.

const toolConfigTemplate = `# metricdrop configuration for [[.ProjectName]]
definitions_dir: view_definitions
tests_dir: tests
environments_file: config/environments.yml
state_dir: .metricdrop

warehouse:
  driver: [[.Driver]]
  host: your-workspace.cloud.databricks.com
  http_path: /sql/1.0/warehouses/[[.WarehouseID]]
  # token: prefer 'metricdrop auth login' or METRICDROP_WAREHOUSE_TOKEN
  timeout: 5m

deploy:
  certification_tag: system.Certified

log:
  level: info
`

const environmentsTemplate = `global:
  owner: data-platform
  data_sources:
    orders: samples.tpch.orders
[[range .Environments]]
[[.]]:
  catalog: [[$.Catalog]][[if ne . "prod"]]_[[.]][[end]]
  schema: [[$.Schema]]
  warehouse_id: [[$.WarehouseID]]
  tags:
    environment: [[.]]
[[end]]`

const viewTemplate = `version: 0.1
source: samples.tpch.orders
comment: "[[.View]] metrics"
dimensions:
  - name: order_status
    expr: o_orderstatus
  - name: order_month
    expr: DATE_TRUNC('MONTH', o_orderdate)
    display_name: Order Month
measures:
  - name: order_count
    expr: COUNT(1)
  - name: total_revenue
    expr: SUM(o_totalprice)
    comment: Gross revenue before discounts
`

const templatedViewTemplate = `version: 0.1
source: {{ data_sources.orders }}
comment: "[[.View]] metrics for {{ environment }}"
{% if environment == "prod" %}
filter: o_orderdate >= '2020-01-01'
{% endif %}
dimensions:
  - name: order_status
    expr: o_orderstatus
measures:
  - name: order_count
    expr: COUNT(1)
deployment:
  catalog: {{ catalog }}
  schema: {{ schema }}
`

const testTemplate = `-- Tests for the [[.View]] metric view

-- Test 1: view returns rows
SELECT COUNT(*) AS row_count
FROM {{ catalog }}.{{ schema }}.[[.View]];

-- Test 2: no null statuses
SELECT COUNT(*) AS null_status_count
FROM {{ catalog }}.{{ schema }}.[[.View]]
WHERE order_status IS NULL;
`

const expectedTemplate = `{
  "expected_results": [
    {
      "test_name": "rows_exist",
      "description": "The view is queryable and not empty",
      "query_index": 0,
      "expected_conditions": [
        {
          "column": "row_count",
          "operator": ">",
          "value": 0,
          "error_message": "[[.View]] returned no rows"
        }
      ]
    }
  ]
}
`

const githubWorkflowTemplate = `name: metric-views

on:
  pull_request:
    paths: ["view_definitions/**", "tests/**", "config/**"]
  push:
    branches: [main]

jobs:
  validate:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - run: metricdrop validate-definitions --strict

  deploy:
    if: github.ref == 'refs/heads/main'
    needs: validate
    runs-on: ubuntu-latest
    env:
      METRICDROP_WAREHOUSE_TOKEN: ${{ secrets.DATABRICKS_TOKEN }}
    steps:
      - uses: actions/checkout@v4
      - run: metricdrop deploy --environment [[.First]] --yes
      - run: metricdrop test --environment [[.First]]
`

const gitignoreTemplate = `.metricdrop/
`
