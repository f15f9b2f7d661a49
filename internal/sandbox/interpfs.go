package sandbox

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/heimdall-run/heimdall/internal/herrors"
)

// interpFS adapts SecureFs to the filesystem extension points
// mvdan.cc/sh/v3's interpreter accepts (OpenHandler, StatHandler,
// ReadDirHandler2), so every file the bash engine touches is
// PathGuard-validated the same way spec.md 4.3 requires for the
// engine's own capability interface. It uses SecureFs and its
// PathGuard directly, because the interpreter's handler signatures are
// fixed by the library, not by Heimdall.
type interpFS struct {
	fs *SecureFs
}

func newInterpFS(fs *SecureFs) *interpFS {
	return &interpFS{fs: fs}
}

func (a *interpFS) openHandler(ctx context.Context, path string, flag int, perm fs.FileMode) (io.ReadWriteCloser, error) {
	res, err := a.fs.guard.Validate(path)
	if err != nil {
		return nil, err
	}
	if flag&os.O_CREATE != 0 {
		if err := os.MkdirAll(filepath.Dir(res.Host), 0o755); err != nil {
			return nil, herrors.Wrap(herrors.KindExecutionError, "mkdir parent failed", err)
		}
	}
	f, err := os.OpenFile(res.Host, flag, perm)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindExecutionError, "open failed", err)
	}
	return f, nil
}

func (a *interpFS) statHandler(ctx context.Context, name string, followSymlinks bool) (fs.FileInfo, error) {
	if followSymlinks {
		return a.fs.Stat(name)
	}
	return a.fs.Lstat(name)
}

func (a *interpFS) readDirHandler(ctx context.Context, path string) ([]fs.FileInfo, error) {
	res, err := a.fs.guard.Validate(path)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(res.Host)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindExecutionError, "readdir failed", err)
	}
	infos := make([]fs.FileInfo, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}
