package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockedTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "config.yaml"), `
include: [channels.yaml]
template_files: ["templates/*.yaml"]
`)
	writeTestFile(t, filepath.Join(dir, "channels.yaml"), "channels: []\n")
	writeTestFile(t, filepath.Join(dir, "templates", "welcome.yaml"), "id: welcome\ncontent: hi\n")
	return dir
}

func TestComputeAndVerifyHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.yaml")
	writeTestFile(t, path, "a: 1\n")

	hash, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	require.NoError(t, VerifyFileHash(path, hash))

	writeTestFile(t, path, "a: 2\n")
	err = VerifyFileHash(path, hash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch for f.yaml")
}

func TestLockWritesManifestPerDirectory(t *testing.T) {
	dir := lockedTree(t)

	reports, err := Lock(dir, false)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, dir, reports[0].ConfigDir)
	assert.True(t, reports[0].Written)
	require.Len(t, reports[0].Files, 2)
	assert.Equal(t, "channels.yaml", reports[0].Files[0].Filename)
	assert.Equal(t, "config.yaml", reports[0].Files[1].Filename)

	assert.Equal(t, filepath.Join(dir, "templates"), reports[1].ConfigDir)

	manifest, err := LoadChecksums(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.Version)
	assert.Contains(t, manifest.Hashes, "config.yaml")
	assert.Contains(t, manifest.Hashes, "channels.yaml")

	info, err := os.Stat(filepath.Join(dir, ChecksumFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = Load(dir)
	require.NoError(t, err)
}

func TestLockDryRun(t *testing.T) {
	dir := lockedTree(t)

	reports, err := Lock(dir, true)
	require.NoError(t, err)
	require.NotEmpty(t, reports)
	assert.False(t, reports[0].Written)
	assert.NotEmpty(t, reports[0].Files[0].Hash)

	_, err = os.Stat(filepath.Join(dir, ChecksumFile))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadDetectsTampering(t *testing.T) {
	dir := lockedTree(t)
	_, err := Lock(dir, false)
	require.NoError(t, err)

	writeTestFile(t, filepath.Join(dir, "templates", "welcome.yaml"), "id: welcome\ncontent: pwned\n")

	_, err = Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config verification failed")

	// Re-locking accepts the edit.
	_, err = Lock(dir, false)
	require.NoError(t, err)
	_, err = Load(dir)
	require.NoError(t, err)
}

func TestLoadRejectsUnlistedFile(t *testing.T) {
	dir := lockedTree(t)
	_, err := GenerateChecksums([]string{filepath.Join(dir, "config.yaml")}, false)
	require.NoError(t, err)

	_, err = Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channels.yaml has no hash")
}

func TestLoadChecksumsMissing(t *testing.T) {
	_, err := LoadChecksums(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadChecksumsBadVersion(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, ChecksumFile), "version: 9\nhashes: {}\n")
	_, err := LoadChecksums(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported checksums version")
}
