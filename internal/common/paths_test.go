package common

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPath(t *testing.T) {
	_, err := CleanPath("../etc/passwd")
	assert.Error(t, err)

	cleaned, err := CleanPath("a/./b")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cleaned))
	assert.Equal(t, "b", filepath.Base(cleaned))
}

func TestValidatePath(t *testing.T) {
	base := t.TempDir()

	_, err := ValidatePath(filepath.Join(base, "file"), base)
	assert.NoError(t, err)

	_, err = ValidatePath(os.TempDir(), base)
	assert.Error(t, err)
}

func TestListFiles(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.yml", "a.yaml", "nested/c.yml.j2", "notes.txt", ".hidden/d.yml"} {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), DirPermissionNormal))
		require.NoError(t, os.WriteFile(path, []byte("x"), FilePermissionNormal))
	}

	files, err := ListFiles(root, ".yml", ".yaml", ".j2")
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		rel = append(rel, filepath.Base(f))
	}
	assert.Equal(t, []string{"a.yaml", "b.yml"}, rel)

	_, err = ListFiles(filepath.Join(root, "missing"), ".yml")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
