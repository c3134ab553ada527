package models

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "gopkg.in/yaml.v3"
)

func TestConfigUnmarshal(t *testing.T) {
    data := `
definitions_dir: view_definitions
tests_dir: tests
state_dir: .state
warehouse:
  driver: databricks
  host: adb-1.cloud.databricks.com
  http_path: /sql/1.0/warehouses/abc
deploy:
  certification_tag: system.Certified
log:
  level: debug
`
    var cfg Config
    require.NoError(t, yaml.Unmarshal([]byte(data), &cfg))

    assert.Equal(t, "view_definitions", cfg.DefinitionsDir)
    assert.Equal(t, "adb-1.cloud.databricks.com", cfg.Warehouse.Host)
    assert.Equal(t, "/sql/1.0/warehouses/abc", cfg.Warehouse.HTTPPath)
    assert.Equal(t, "debug", cfg.Log.Level)
    assert.Equal(t, ".state/deployments", cfg.DeploymentsDir())
    assert.Equal(t, ".state/metricdrop.log", cfg.LogFile())
}

func TestShortCommit(t *testing.T) {
    info := &GitInfo{Commit: "0123456789abcdef", CommitDate: time.Now()}
    assert.Equal(t, "01234567", info.ShortCommit())

    var missing *GitInfo
    assert.Equal(t, "", missing.ShortCommit())
    assert.Equal(t, "abc", (&GitInfo{Commit: "abc"}).ShortCommit())
}
