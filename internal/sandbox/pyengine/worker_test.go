package pyengine

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorkerScript writes a tiny shell script standing in for worker.py:
// it signals ready immediately, then for each request line echoes back
// a canned success result. This exercises Start/Execute/Kill's protocol
// handling without depending on a real Python interpreter being
// installed wherever these tests run.
func fakeWorkerScript(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake worker script is a POSIX shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fakepy.sh")
	script := `#!/bin/sh
echo '{"type":"ready"}'
while IFS= read -r line; do
  echo '{"type":"result","success":true,"stdout":"ok\n","result":"None"}'
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestWorker_Start_HandshakesOnReady(t *testing.T) {
	script := fakeWorkerScript(t)
	workDir := t.TempDir()

	w, err := Start(script, workDir)
	require.NoError(t, err)
	defer w.Kill()

	assert.NotNil(t, w)
}

func TestWorker_Execute_RoundTrips(t *testing.T) {
	script := fakeWorkerScript(t)
	workDir := t.TempDir()

	w, err := Start(script, workDir)
	require.NoError(t, err)
	defer w.Kill()

	res, err := w.Execute(Request{Code: "1+1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ok\n", res.Stdout)
}

func TestWorker_Start_FailsWhenProcessExitsWithoutReady(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	_, err := Start(path, t.TempDir())
	assert.Error(t, err)
}

func TestWorker_Kill_IsSafeToCallMoreThanOnce(t *testing.T) {
	script := fakeWorkerScript(t)
	w, err := Start(script, t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, w.Kill())
	assert.NotPanics(t, func() { _ = w.Kill() })
}
