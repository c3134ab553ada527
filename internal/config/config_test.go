package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/spf13/pflag"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "metricdrop/pkg/models"
)

func TestGetConfigPath(t *testing.T) {
    home, _ := os.UserHomeDir()
    expected := filepath.Join(home, ".metricdrop")
    assert.Equal(t, expected, GetConfigPath())
}

func TestLoadDefaults(t *testing.T) {
    chdir(t, t.TempDir())
    t.Setenv("HOME", t.TempDir())

    cfg, err := Load(New())
    require.NoError(t, err)

    assert.Equal(t, models.DefaultDefinitionsDir, cfg.DefinitionsDir)
    assert.Equal(t, models.DefaultTestsDir, cfg.TestsDir)
    assert.Equal(t, models.DefaultEnvironmentsFile, cfg.EnvironmentsFile)
    assert.Equal(t, models.DefaultStateDir, cfg.StateDir)
    assert.Equal(t, "databricks", cfg.Warehouse.Driver)
    assert.Equal(t, 5*time.Minute, cfg.Warehouse.Timeout)
    assert.Equal(t, "system.Certified", cfg.Deploy.CertificationTag)
    assert.Equal(t, ".metricdrop/deployments", cfg.DeploymentsDir())
}

func TestLoadFromFile(t *testing.T) {
    dir := t.TempDir()
    chdir(t, dir)
    t.Setenv("HOME", t.TempDir())

    content := `definitions_dir: views
warehouse:
  host: adb-123.azuredatabricks.net
  timeout: 90s
deploy:
  certification_tag: governance.Certified
`
    require.NoError(t, os.WriteFile(filepath.Join(dir, "metricdrop.yaml"), []byte(content), 0600))

    v := New()
    cfg, err := Load(v)
    require.NoError(t, err)

    assert.Equal(t, "views", cfg.DefinitionsDir)
    assert.Equal(t, "adb-123.azuredatabricks.net", cfg.Warehouse.Host)
    assert.Equal(t, 90*time.Second, cfg.Warehouse.Timeout)
    assert.Equal(t, "governance.Certified", cfg.Deploy.CertificationTag)
    assert.Contains(t, ConfigFileUsed(v), "metricdrop.yaml")
}

func TestEnvironmentOverrides(t *testing.T) {
    chdir(t, t.TempDir())
    t.Setenv("HOME", t.TempDir())
    t.Setenv("METRICDROP_WAREHOUSE_TOKEN", "dapi-secret")
    t.Setenv("METRICDROP_TESTS_DIR", "sql_tests")

    cfg, err := Load(New())
    require.NoError(t, err)

    assert.Equal(t, "dapi-secret", cfg.Warehouse.Token)
    assert.Equal(t, "sql_tests", cfg.TestsDir)
}

func TestBindFlags(t *testing.T) {
    chdir(t, t.TempDir())
    t.Setenv("HOME", t.TempDir())

    fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
    fs.String("definitions-dir", models.DefaultDefinitionsDir, "")
    fs.String("driver", models.DefaultDriver, "")
    require.NoError(t, fs.Parse([]string{"--definitions-dir", "custom", "--driver", "snowflake"}))

    v := New()
    require.NoError(t, BindFlags(v, fs))

    cfg, err := Load(v)
    require.NoError(t, err)
    assert.Equal(t, "custom", cfg.DefinitionsDir)
    assert.Equal(t, "snowflake", cfg.Warehouse.Driver)
}

func TestInvalidConfigFile(t *testing.T) {
    dir := t.TempDir()
    chdir(t, dir)
    t.Setenv("HOME", t.TempDir())
    require.NoError(t, os.WriteFile(filepath.Join(dir, "metricdrop.yaml"), []byte("warehouse: [unclosed"), 0600))

    _, err := Load(New())
    assert.Error(t, err)
}

func TestSecretEncryption(t *testing.T) {
    t.Setenv("METRICDROP_ENCRYPTION_KEY", "test-key")

    encrypted, err := EncryptSecret("dapi-123")
    require.NoError(t, err)
    assert.True(t, IsEncrypted(encrypted))
    assert.NotContains(t, encrypted, "dapi-123")

    again, err := EncryptSecret(encrypted)
    require.NoError(t, err)
    assert.Equal(t, encrypted, again)

    plain, err := DecryptSecret(encrypted)
    require.NoError(t, err)
    assert.Equal(t, "dapi-123", plain)

    passthrough, err := DecryptSecret("not-encrypted")
    require.NoError(t, err)
    assert.Equal(t, "not-encrypted", passthrough)

    _, err = DecryptSecret("ENC[!!!]")
    assert.Error(t, err)
}

func TestLoadDecryptsToken(t *testing.T) {
    dir := t.TempDir()
    chdir(t, dir)
    t.Setenv("HOME", t.TempDir())
    t.Setenv("METRICDROP_ENCRYPTION_KEY", "test-key")

    encrypted, err := EncryptSecret("dapi-456")
    require.NoError(t, err)
    content := "warehouse:\n  token: \"" + encrypted + "\"\n"
    require.NoError(t, os.WriteFile(filepath.Join(dir, "metricdrop.yaml"), []byte(content), 0600))

    cfg, err := Load(New())
    require.NoError(t, err)
    assert.Equal(t, "dapi-456", cfg.Warehouse.Token)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir for go < 1.24).
func chdir(t *testing.T, dir string) {
    t.Helper()
    prev, err := os.Getwd()
    require.NoError(t, err)
    require.NoError(t, os.Chdir(dir))
    t.Cleanup(func() { _ = os.Chdir(prev) })
}
