package sandbox

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/heimdall-run/heimdall/internal/logger"
)

// SyncEngine copies file trees between the host workspace and the
// directory backing PyWorker's virtual workspace. Adapted from
// syncAgentWorkspace/copyFile/copyDir: where the teacher seeds a fixed
// file list into a container workspace once, SyncEngine is symmetric
// and general-purpose (any path, either direction, whole-tree or
// single-path), because every Coordinator file operation and every
// Python execution boundary needs it.
type SyncEngine struct {
	guard    *PathGuard
	virtRoot string
}

// NewSyncEngine binds a SyncEngine to guard's host root and the real
// directory standing in for the embedded engine's virtual workspace.
func NewSyncEngine(guard *PathGuard, virtRoot string) *SyncEngine {
	return &SyncEngine{guard: guard, virtRoot: virtRoot}
}

func (e *SyncEngine) virtToReal(virt string) string {
	suffix := virt
	if virt == VRoot {
		suffix = ""
	} else {
		suffix = virt[len(VRoot):]
	}
	return filepath.Join(e.virtRoot, suffix)
}

// SyncHostToVirtual recursively copies the whole host workspace into
// the virtual workspace directory, ahead of a Python execution.
func (e *SyncEngine) SyncHostToVirtual() error {
	return e.syncTree(e.guard.Root(), e.virtRoot, false)
}

// SyncVirtualToHost is the inverse whole-tree sync, run after a Python
// execution whether it succeeded or failed.
func (e *SyncEngine) SyncVirtualToHost() error {
	return e.syncTree(e.virtRoot, e.guard.Root(), true)
}

// SyncHostPathToVirtual copies a single host path (file or subtree)
// into its virtual counterpart. This is the default for single-file
// Coordinator operations (read_file, write_file, list_files).
func (e *SyncEngine) SyncHostPathToVirtual(virt string) error {
	host := e.guard.HostOf(virt)
	target := e.virtToReal(virt)
	return e.copyPath(host, target, false)
}

// SyncVirtualPathToHost is the targeted inverse, validating the host
// destination through PathGuard on every write to defend against a
// symlink introduced on the host between operations.
func (e *SyncEngine) SyncVirtualPathToHost(virt string) error {
	source := e.virtToReal(virt)
	return e.copyPath(source, "", true)
}

// DeleteVirtualPath removes virt's counterpart under the virtual
// workspace directory (a file via unlink, a directory via rmdir, so a
// non-empty directory is left in place with an error), ignoring a
// missing entry. Used by delete_file, which must clear both filesystems
// and cannot rely on syncTree (which only ever adds or overwrites,
// never removes).
func (e *SyncEngine) DeleteVirtualPath(virt string) error {
	target := e.virtToReal(virt)
	err := os.Remove(target)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// syncTree walks src and copies every entry into dst. validateHost
// requests PathGuard validation of each destination (used for the
// virtual-to-host direction, where the destination is the confined
// side).
func (e *SyncEngine) syncTree(src, dst string, validateHost bool) error {
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.WarnCF("sync", "walk error, skipping subtree", map[string]any{"path": path, "error": err.Error()})
			return nil
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}

		var target string
		if validateHost {
			// src may be a subtree of virtRoot (targeted sync), so the
			// virtual path is taken relative to virtRoot, not to src.
			virtRel, vrErr := filepath.Rel(e.virtRoot, path)
			if vrErr != nil {
				return nil
			}
			virt := filepath.ToSlash(filepath.Join(VRoot, virtRel))
			res, verr := e.guard.Validate(virt)
			if verr != nil {
				logger.WarnCF("sync", "destination failed confinement, skipping", map[string]any{"path": rel, "error": verr.Error()})
				return nil
			}
			target = res.Host
		} else {
			target = filepath.Join(dst, rel)
		}

		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				logger.WarnCF("sync", "mkdir failed during sync, continuing", map[string]any{"path": target, "error": err.Error()})
			}
			return nil
		}
		if err := copyFileBytes(path, target); err != nil {
			logger.WarnCF("sync", "file copy failed during sync, continuing", map[string]any{"path": target, "error": err.Error()})
		}
		return nil
	})
}

// copyPath copies a single file or directory subtree from source to a
// destination. When validateHost is true (virtual->host direction),
// dst is ignored and every path is instead computed by revalidating
// through PathGuard.
func (e *SyncEngine) copyPath(source, dst string, validateHost bool) error {
	info, err := os.Lstat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var target string
	if validateHost {
		rel, relErr := filepath.Rel(e.virtRoot, source)
		if relErr != nil {
			return relErr
		}
		virt := VRoot
		if rel != "." {
			virt = filepath.ToSlash(filepath.Join(VRoot, rel))
		}
		res, verr := e.guard.Validate(virt)
		if verr != nil {
			return verr
		}
		target = res.Host
	} else {
		target = dst
	}

	if info.IsDir() {
		if err := os.MkdirAll(target, info.Mode()); err != nil {
			return err
		}
		return e.syncTree(source, target, validateHost)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return copyFileBytes(source, target)
}

func copyFileBytes(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
