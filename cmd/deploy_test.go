package cmd

import (
    "fmt"
    "regexp"
    "testing"

    "github.com/DATA-DOG/go-sqlmock"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "metricdrop/internal/testutil"
    "metricdrop/internal/tracker"
    "metricdrop/pkg/errors"
)

const missingCatalogDefinition = `version: 0.1
source: samples.tpch.orders
measures:
  - name: order_count
    expr: COUNT(1)
deployment:
  catalog: nope
  schema: metrics
`

func TestDeployDryRun(t *testing.T) {
    isolate(t)
    p := testutil.NewProject(t)
    p.AddDefinition("orders.yml", testutil.OrdersDefinition)

    output, err := execute(t, projectArgs(p, "deploy", "--environment", "dev", "--dry-run")...)
    require.NoError(t, err)
    assert.Contains(t, output, "Dry Run Summary")
    assert.Contains(t, output, "CREATE OR REPLACE VIEW `main`.`metrics`.`orders` (")
    assert.Contains(t, output, "WITH METRICS LANGUAGE YAML")
    assert.Contains(t, output, "orders → main.metrics (dry run)")

    tr, err := tracker.New(p.Path(".metricdrop"), nil)
    require.NoError(t, err)
    latest, err := tr.Latest()
    require.NoError(t, err)
    assert.True(t, latest.DryRun)
    assert.True(t, latest.Complete())
    assert.Equal(t, 1, latest.SuccessfulDeployments)
    require.Len(t, latest.Records, 1)
    assert.Equal(t, tracker.StatusSkipped, latest.Records[0].Status)

    output, err = execute(t, projectArgs(p, "history")...)
    require.NoError(t, err)
    assert.Contains(t, output, latest.DeploymentID)

    output, err = execute(t, projectArgs(p, "report")...)
    require.NoError(t, err)
    assert.Contains(t, output, "Dry Run:")
    assert.Contains(t, output, "○ orders")
}

func TestDeployContinuesPastMissingCatalog(t *testing.T) {
    isolate(t)
    p := testutil.NewProject(t)
    p.AddDefinition("missing.yml", missingCatalogDefinition)
    p.AddDefinition("orders.yml", testutil.OrdersDefinition)

    svc, mock := testutil.MockWarehouse(t)
    useMockWarehouse(t, svc)

    mock.ExpectExec(regexp.QuoteMeta("CREATE OR REPLACE VIEW `nope`.`metrics`.`missing` (")).
        WillReturnError(fmt.Errorf("[SCHEMA_NOT_FOUND] The schema `nope`.`metrics` cannot be found"))
    mock.ExpectExec(regexp.QuoteMeta("CREATE OR REPLACE VIEW `main`.`metrics`.`orders` (")).
        WillReturnResult(sqlmock.NewResult(0, 0))
    mock.ExpectExec(regexp.QuoteMeta("ALTER VIEW `main`.`metrics`.`orders` SET TAGS ('system.Certified')")).
        WillReturnResult(sqlmock.NewResult(0, 0))

    output, err := execute(t, projectArgs(p, "deploy", "--environment", "dev", "--yes")...)
    require.Error(t, err)
    assert.True(t, errors.HasCode(err, errors.ErrCodeDeploymentFailed))
    assert.Contains(t, output, "Deployment Summary")
    assert.Contains(t, output, "✗ missing")
    assert.Contains(t, output, "✓ orders → main.metrics")

    output, err = execute(t, projectArgs(p, "status")...)
    require.NoError(t, err)
    assert.Contains(t, output, "1/2")
    assert.Contains(t, output, "50.0%")
}

func TestDeployTemplateErrorFailsOnlyThatView(t *testing.T) {
    isolate(t)
    p := testutil.NewProject(t)
    p.AddDefinition("broken.yml.j2", "version: 0.1\nsource: {{ data_sources.missing_source }}\nmeasures:\n  - name: n\n    expr: COUNT(1)\n")
    p.AddDefinition("orders.yml", testutil.OrdersDefinition)

    output, err := execute(t, projectArgs(p, "deploy", "--dry-run")...)
    require.Error(t, err)
    assert.True(t, errors.HasCode(err, errors.ErrCodeDeploymentFailed))
    assert.Contains(t, output, "✗ broken")
    assert.Contains(t, output, "orders → main.metrics (dry run)")
}

func TestDeployEmptyDirectory(t *testing.T) {
    isolate(t)
    p := testutil.NewProject(t)

    _, err := execute(t, projectArgs(p, "deploy", "--environment", "dev", "--dry-run")...)
    require.Error(t, err)
    assert.True(t, errors.HasCode(err, errors.ErrCodeDefinitionsMissing))
}

func TestDeployCountsBrokenFilesOnce(t *testing.T) {
    isolate(t)
    p := testutil.NewProject(t)
    p.AddDefinition("bad.yml", "source: [unclosed\n")
    p.AddDefinition("orders.yml", testutil.OrdersDefinition)

    output, err := execute(t, projectArgs(p, "deploy", "--environment", "dev", "--dry-run")...)
    require.Error(t, err)
    assert.True(t, errors.HasCode(err, errors.ErrCodeDeploymentFailed))
    assert.Contains(t, output, "✗ bad")

    tr, err := tracker.New(p.Path(".metricdrop"), nil)
    require.NoError(t, err)
    latest, err := tr.Latest()
    require.NoError(t, err)
    assert.Equal(t, 2, latest.TotalFiles)
    assert.Len(t, latest.Records, 2)
    assert.InDelta(t, 50.0, latest.SuccessRate(), 0.01)
}

func TestDeployUnknownEnvironment(t *testing.T) {
    isolate(t)
    p := testutil.NewProject(t)
    p.AddDefinition("orders.yml", testutil.OrdersDefinition)

    _, err := execute(t, projectArgs(p, "deploy", "--environment", "staging", "--dry-run")...)
    require.Error(t, err)
    assert.True(t, errors.HasCode(err, errors.ErrCodeEnvironmentNotFound))
}

func TestDeployRequiresToken(t *testing.T) {
    isolate(t)
    t.Setenv("METRICDROP_WAREHOUSE_HOST", "example.cloud.databricks.com")
    t.Setenv("METRICDROP_WAREHOUSE_TOKEN", "")
    p := testutil.NewProject(t)
    p.AddDefinition("orders.yml", testutil.OrdersDefinition)

    _, err := execute(t, projectArgs(p, "deploy", "--yes")...)
    require.Error(t, err)
    assert.True(t, errors.HasCode(err, errors.ErrCodeCredentialsMissing))
}

func TestTestCommand(t *testing.T) {
    isolate(t)
    p := testutil.NewProject(t)
    p.AddTest("orders", "-- Test 1: rows exist\nSELECT COUNT(*) AS row_count FROM {{ catalog }}.{{ schema }}.orders;\n\n"+
        "-- Test 2: no nulls\nSELECT COUNT(*) AS null_status_count FROM {{ catalog }}.{{ schema }}.orders WHERE order_status IS NULL;\n")

    svc, mock := testutil.MockWarehouse(t)
    useMockWarehouse(t, svc)

    mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS row_count FROM main.metrics.orders")).
        WillReturnRows(sqlmock.NewRows([]string{"row_count"}).AddRow(int64(42)))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS null_status_count FROM main.metrics.orders")).
        WillReturnRows(sqlmock.NewRows([]string{"null_status_count"}).AddRow(int64(3)))

    output, err := execute(t, projectArgs(p, "test", "--environment", "dev")...)
    require.Error(t, err)
    assert.True(t, errors.HasCode(err, errors.ErrCodeTestAssertion))
    assert.Contains(t, output, "▸ orders")
    assert.Contains(t, output, "✓ rows exist")
    assert.Contains(t, output, "✗ no nulls")
    assert.Contains(t, output, "50.0%")
}

func TestTestCommandCatalogOverride(t *testing.T) {
    isolate(t)
    p := testutil.NewProject(t)
    p.AddTest("orders", "SELECT COUNT(*) AS row_count FROM {{ catalog }}.{{ schema }}.orders")

    svc, mock := testutil.MockWarehouse(t)
    useMockWarehouse(t, svc)
    mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS row_count FROM sandbox.metrics.orders")).
        WillReturnRows(sqlmock.NewRows([]string{"row_count"}).AddRow(int64(1)))

    output, err := execute(t, projectArgs(p, "test", "--catalog", "sandbox", "--views", "orders")...)
    require.NoError(t, err)
    assert.Contains(t, output, "100.0%")
}

func TestTestCommandWithoutFiles(t *testing.T) {
    isolate(t)
    p := testutil.NewProject(t)

    output, err := execute(t, projectArgs(p, "test")...)
    require.NoError(t, err)
    assert.Contains(t, output, "No test files found")
}
