package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSecureFs(t *testing.T) (*SecureFs, *PathGuard, string) {
	t.Helper()
	root := t.TempDir()
	guard, err := NewPathGuard(root)
	require.NoError(t, err)
	return NewSecureFs(guard), guard, root
}

func TestSecureFs_WriteThenRead_RoundTrips(t *testing.T) {
	fs, _, _ := newTestSecureFs(t)

	require.NoError(t, fs.Write("a/b.txt", []byte("hello")))
	data, err := fs.Read("a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSecureFs_Exists_FalseOnSymlinkEscape(t *testing.T) {
	fs, _, root := newTestSecureFs(t)

	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("s"), 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "evil")))

	assert.False(t, fs.Exists("evil"))
}

func TestSecureFs_Exists_TrueForOrdinaryFile(t *testing.T) {
	fs, _, _ := newTestSecureFs(t)
	require.NoError(t, fs.Write("present.txt", []byte("x")))

	assert.True(t, fs.Exists("present.txt"))
	assert.False(t, fs.Exists("absent.txt"))
}

func TestSecureFs_Rm_DeletesSymlinkWithoutFollowingIt(t *testing.T) {
	fs, _, root := newTestSecureFs(t)

	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("s"), 0o644))
	link := filepath.Join(root, "evil")
	require.NoError(t, os.Symlink(target, link))

	require.NoError(t, fs.Rm("evil"))

	_, err := os.Lstat(link)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(target)
	assert.NoError(t, err, "the symlink target itself must survive Rm of the link")
}

func TestSecureFs_Rm_RemovesOrdinaryDirectory(t *testing.T) {
	fs, _, root := newTestSecureFs(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "d", "nested"), 0o755))

	require.NoError(t, fs.Rm("d"))
	_, err := os.Stat(filepath.Join(root, "d"))
	assert.True(t, os.IsNotExist(err))
}

func TestSecureFs_Lstat_DoesNotFollowSymlink(t *testing.T) {
	fs, _, root := newTestSecureFs(t)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "evil")))

	info, err := fs.Lstat("evil")
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeSymlink != 0)
}

func TestSecureFs_Symlink_RejectsEscapingTarget(t *testing.T) {
	fs, _, _ := newTestSecureFs(t)

	err := fs.Symlink("/etc/passwd", "link")
	require.Error(t, err)
}

func TestSecureFs_ReadDir_ReportsKinds(t *testing.T) {
	fs, _, root := newTestSecureFs(t)
	require.NoError(t, fs.Write("file.txt", []byte("x")))
	require.NoError(t, fs.Mkdir("sub"))
	require.NoError(t, os.Symlink(filepath.Join(root, "file.txt"), filepath.Join(root, "link")))

	entries, err := fs.ReadDir(VRoot)
	require.NoError(t, err)

	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.Equal(t, EntryFile, byName["file.txt"].Kind)
	assert.Equal(t, EntryDirectory, byName["sub"].Kind)
	assert.Equal(t, EntrySymlink, byName["link"].Kind)
}

func TestSecureFs_Append_AddsToExistingFile(t *testing.T) {
	fs, _, _ := newTestSecureFs(t)
	require.NoError(t, fs.Write("log.txt", []byte("a")))
	require.NoError(t, fs.Append("log.txt", []byte("b")))

	data, err := fs.Read("log.txt")
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))
}
