package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"metricdrop/pkg/errors"
)

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	assert.False(t, store.UsesKeyring())

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, store.Set("warehouse-token", "dapi-secret"))

		value, err := store.Get("warehouse-token")
		require.NoError(t, err)
		assert.Equal(t, "dapi-secret", value)

		raw, err := os.ReadFile(filepath.Join(dir, "warehouse-token.cred"))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "dapi-secret")
	})

	t.Run("new store reuses the master key", func(t *testing.T) {
		value, err := NewFileStore(dir).Get("warehouse-token")
		require.NoError(t, err)
		assert.Equal(t, "dapi-secret", value)

		info, err := os.Stat(filepath.Join(dir, ".master"))
		require.NoError(t, err)
		assert.Equal(t, int64(saltSize+keySize), info.Size())
	})

	t.Run("list", func(t *testing.T) {
		require.NoError(t, store.Set("other", "x"))
		names, err := store.List()
		require.NoError(t, err)
		assert.Equal(t, []string{"other", "warehouse-token"}, names)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete("other"))
		_, err := store.Get("other")
		assert.True(t, errors.HasCode(err, errors.ErrCodeCredentialsMissing))
		assert.True(t, errors.HasCode(store.Delete("other"), errors.ErrCodeCredentialsMissing))
	})

	t.Run("invalid names", func(t *testing.T) {
		for _, name := range []string{"", "../escape", ".master", `a\b`} {
			assert.True(t, errors.HasCode(store.Set(name, "x"), errors.ErrCodeValidationFailed), name)
		}
	})
}

func TestFileStoreRejectsTamperedKey(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, store.Set("token", "secret"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".master"), []byte("short"), 0600))
	_, err := NewFileStore(dir).Get("token")
	assert.True(t, errors.HasCode(err, errors.ErrCodeCredentialsMissing))
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	dir := t.TempDir()
	store := NewStore(dir)
	store.useKeyring = true

	require.NoError(t, store.Set("warehouse-token", "from-keyring"))
	value, err := store.Get("warehouse-token")
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", value)

	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.Delete("warehouse-token"))
	_, err = store.Get("warehouse-token")
	assert.True(t, errors.HasCode(err, errors.ErrCodeCredentialsMissing))
}

func TestKeyringStoreFallsBackToFile(t *testing.T) {
	keyring.MockInit()

	dir := t.TempDir()
	require.NoError(t, NewFileStore(dir).Set("warehouse-token", "from-file"))

	store := NewStore(dir)
	store.useKeyring = true
	value, err := store.Get("warehouse-token")
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}

func TestKeyringAvailabilityOverride(t *testing.T) {
	t.Setenv("METRICDROP_USE_KEYRING", "false")
	assert.False(t, isKeyringAvailable())
	assert.False(t, NewStore(t.TempDir()).UsesKeyring())
}
