package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*Coordinator, string) {
	t.Helper()
	root := t.TempDir()
	virt := t.TempDir()

	guard, err := NewPathGuard(root)
	require.NoError(t, err)
	quota := NewQuotaKeeper(guard.RootReal(), 1<<20, 1<<30)
	engine := NewSyncEngine(guard, virt)
	secureFS := NewSecureFs(guard)
	bash := NewBashRunner(secureFS, 1000, 1000, 20)

	if runtime.GOOS == "windows" {
		t.Skip("fake worker script is a POSIX shell script")
	}
	scriptDir := t.TempDir()
	scriptPath := filepath.Join(scriptDir, "fakepy.sh")
	script := "#!/bin/sh\necho '{\"type\":\"ready\"}'\nwhile IFS= read -r line; do\n  echo '{\"type\":\"result\",\"success\":true,\"stdout\":\"ok\\n\",\"result\":\"None\"}'\ndone\n"
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))
	python := NewPySupervisor(scriptPath, virt, 5*time.Second, 5*time.Second, engine)
	t.Cleanup(python.Shutdown)

	return NewCoordinator(guard, quota, engine, bash, python, nil, 1<<20), root
}

func TestCoordinator_WriteFile_ThenReadFile_RoundTrips(t *testing.T) {
	c, _ := newTestCoordinator(t)

	write := c.WriteFile("note.txt", "hello world")
	require.True(t, write.Success)

	read := c.ReadFile("note.txt")
	require.True(t, read.Success)
	assert.Equal(t, "hello world", read.Content)
}

func TestCoordinator_WriteFile_RejectsOversizeContent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.maxFileSize = 4

	res := c.WriteFile("big.txt", "way too large")
	assert.False(t, res.Success)
	assert.Equal(t, "file_too_large", res.ErrorKind)
}

func TestCoordinator_ReadFile_MissingFileReturnsInvalidPath(t *testing.T) {
	c, _ := newTestCoordinator(t)

	res := c.ReadFile("nope.txt")
	assert.False(t, res.Success)
	assert.Equal(t, "invalid_path", res.ErrorKind)
}

func TestCoordinator_ListFiles_DefaultsToWorkspaceRoot(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.True(t, c.WriteFile("a.txt", "x").Success)
	require.True(t, c.WriteFile("b.txt", "y").Success)

	res := c.ListFiles("")
	require.True(t, res.Success)
	names := map[string]bool{}
	for _, e := range res.Entries {
		names[e.Name] = true
	}
	assert.True(t, names["a.txt"])
	assert.True(t, names["b.txt"])
}

func TestCoordinator_DeleteFile_RemovesFileFromHostAndVirtual(t *testing.T) {
	c, root := newTestCoordinator(t)
	require.True(t, c.WriteFile("gone.txt", "x").Success)

	res := c.DeleteFile("gone.txt")
	require.True(t, res.Success)

	_, err := os.Stat(filepath.Join(root, "gone.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestCoordinator_DeleteFile_NonEmptyDirectoryFails(t *testing.T) {
	c, root := newTestCoordinator(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "d"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", "f.txt"), []byte("x"), 0o644))

	res := c.DeleteFile("d")
	assert.False(t, res.Success)
	assert.Equal(t, "invalid_path", res.ErrorKind)
}

func TestCoordinator_DeleteFile_MissingFileIsNotAnError(t *testing.T) {
	c, _ := newTestCoordinator(t)

	res := c.DeleteFile("never-existed.txt")
	assert.True(t, res.Success)
}

func TestCoordinator_DeleteFile_RemovesSymlinkWithoutFollowingItOutsideWorkspace(t *testing.T) {
	c, root := newTestCoordinator(t)

	outside := t.TempDir()
	target := filepath.Join(outside, "passwd")
	require.NoError(t, os.WriteFile(target, []byte("root:x:0:0"), 0o644))
	link := filepath.Join(root, "evil")
	require.NoError(t, os.Symlink(target, link))

	res := c.DeleteFile("evil")
	require.True(t, res.Success)

	_, err := os.Lstat(link)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(target)
	assert.NoError(t, err, "delete must unlink the symlink, not the target it points to")
}

func TestCoordinator_ExecuteBash_RunsAndSyncsBack(t *testing.T) {
	c, root := newTestCoordinator(t)

	res := c.ExecuteBash(context.Background(), "echo hi > out.txt", "")
	require.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)

	data, err := os.ReadFile(filepath.Join(root, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
}

func TestCoordinator_ExecuteBash_RejectsEscapingCwd(t *testing.T) {
	c, _ := newTestCoordinator(t)

	res := c.ExecuteBash(context.Background(), "pwd", "/workspace/../../etc")
	assert.False(t, res.Success)
}

func TestCoordinator_ExecutePython_DelegatesToSupervisor(t *testing.T) {
	c, _ := newTestCoordinator(t)

	res := c.ExecutePython("1+1", nil)
	require.True(t, res.Success)
	assert.Equal(t, "ok\n", res.Stdout)
}

func TestCoordinator_ReadFile_ErrorMessageDoesNotLeakRootReal(t *testing.T) {
	c, root := newTestCoordinator(t)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "evil")))

	res := c.ReadFile("evil")
	assert.False(t, res.Success)
	assert.NotContains(t, res.Error, root)
}
