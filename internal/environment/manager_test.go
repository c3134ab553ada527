package environment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metricdrop/internal/template"
	"metricdrop/pkg/errors"
)

const sampleEnvironments = `
global:
  owner: data-platform
  catalog: shared
  date_filters:
    min_date: "2020-01-01"
prod:
  catalog: prod_catalog
  schema: metrics
  warehouse_id: "abc123"
  tags:
    tier: gold
dev:
  catalog: dev_catalog
  schema: metrics_dev
  warehouse_id: "dev456"
broken:
  schema: x
  warehouse_id: 12345
  tags: [a, b]
`

func loadSample(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "environments.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleEnvironments), 0600))

	m, err := Load(path)
	require.NoError(t, err)
	return m
}

func TestListKeepsFileOrder(t *testing.T) {
	m := loadSample(t)
	assert.Equal(t, []string{"prod", "dev", "broken"}, m.List())
	assert.True(t, m.Has("dev"))
	assert.False(t, m.Has("global"))
}

func TestConfigMergesGlobal(t *testing.T) {
	m := loadSample(t)

	cfg, err := m.Config("prod")
	require.NoError(t, err)
	assert.Equal(t, "prod_catalog", cfg["catalog"])
	assert.Equal(t, "data-platform", cfg["owner"])

	settings, err := m.Settings("prod")
	require.NoError(t, err)
	assert.Equal(t, Settings{
		Environment: "prod",
		Catalog:     "prod_catalog",
		Schema:      "metrics",
		WarehouseID: "abc123",
		Tags:        map[string]string{"tier": "gold"},
	}, settings)
}

func TestContextExposesGlobalNamespace(t *testing.T) {
	m := loadSample(t)

	ctx, err := m.Context("dev")
	require.NoError(t, err)

	out, err := template.RenderString(
		"{{ environment }} {{ catalog }} {{ global.catalog }} {{ global.date_filters.min_date }}", "", ctx)
	require.NoError(t, err)
	assert.Equal(t, "dev dev_catalog shared 2020-01-01", out)
}

func TestUnknownEnvironment(t *testing.T) {
	m := loadSample(t)

	_, err := m.Config("staging")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEnvironmentNotFound, errors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "Available: prod, dev, broken")

	_, err = m.Context("staging")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	m := loadSample(t)

	assert.Empty(t, m.Validate("prod"))
	assert.Empty(t, m.Validate("dev"))

	issues := m.Validate("broken")
	assert.Contains(t, issues, "warehouse_id must be a string in environment 'broken'")
	assert.Contains(t, issues, "tags must be a dictionary in environment 'broken'")
	// catalog is inherited from global
	assert.NotContains(t, issues, "Missing required field 'catalog' in environment 'broken'")

	assert.Len(t, m.Validate("missing"), 1)

	report := m.ValidateAll("")
	assert.Len(t, report, 3)
	assert.Len(t, m.ValidateAll("dev"), 1)
}

func TestValidateMissingFields(t *testing.T) {
	m, err := Parse([]byte("qa:\n  schema: s\n"), "environments.yml")
	require.NoError(t, err)

	issues := m.Validate("qa")
	assert.Equal(t, []string{
		"Missing required field 'catalog' in environment 'qa'",
		"Missing required field 'warehouse_id' in environment 'qa'",
	}, issues)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigNotFound, errors.GetErrorCode(err))

	_, err = Parse([]byte("prod: [unclosed"), "environments.yml")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetErrorCode(err))

	_, err = Parse([]byte("- a\n- b\n"), "environments.yml")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetErrorCode(err))

	_, err = Parse([]byte("global: 3\n"), "environments.yml")
	assert.Error(t, err)

	empty, err := Parse(nil, "environments.yml")
	require.NoError(t, err)
	assert.Empty(t, empty.List())
}
