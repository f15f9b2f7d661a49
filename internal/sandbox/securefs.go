package sandbox

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/heimdall-run/heimdall/internal/herrors"
)

// EntryKind distinguishes the three entry shapes a capability
// filesystem must report, per spec.md 4.9's "typed entries with
// isFile|isDirectory|isSymbolicLink" requirement.
type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryDirectory
	EntrySymlink
)

// Entry is a single directory listing result.
type Entry struct {
	Name string
	Kind EntryKind
	Size int64
}

// CapabilityFS is the small pluggable filesystem interface the bash
// engine is built against, matching spec.md 4.9's capability list.
// SecureFs is the only implementation Heimdall ships. BashRunner and
// interpFS hold a *SecureFs directly; nothing in the package takes a
// CapabilityFS value.
type CapabilityFS interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Append(path string, data []byte) error
	Exists(path string) bool
	Stat(path string) (os.FileInfo, error)
	Lstat(path string) (os.FileInfo, error)
	Readlink(path string) (string, error)
	ReadDir(path string) ([]Entry, error)
	Mkdir(path string) error
	Rm(path string) error
	Cp(src, dst string) error
	Mv(src, dst string) error
	Chmod(path string, mode os.FileMode) error
	Symlink(target, link string) error
	Link(target, link string) error
}

// SecureFs is the confined filesystem facade handed to the bash
// engine. Every operation validates its path arguments through a
// PathGuard before touching the host filesystem, adapted from
// picoclaw's os.Root-scoped SandboxFs/hostFS (pkg/tools/common and
// pkg/agent/sandbox/host.go) generalized from os.Root's fixed
// operation set to the full capability list spec.md 4.3 requires
// (cp/mv/chmod/symlink/link have no os.Root equivalent, so SecureFs
// validates with PathGuard and then falls back to the ordinary os.*
// calls against the already-confined host path).
type SecureFs struct {
	guard *PathGuard
}

// NewSecureFs builds a SecureFs bound to guard's workspace root.
func NewSecureFs(guard *PathGuard) *SecureFs {
	return &SecureFs{guard: guard}
}

func (s *SecureFs) Read(path string) ([]byte, error) {
	res, err := s.guard.Validate(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(res.Host)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindExecutionError, "read failed", err)
	}
	return data, nil
}

func (s *SecureFs) Write(path string, data []byte) error {
	res, err := s.guard.Validate(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(res.Host), 0o755); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "mkdir parent failed", err)
	}
	if err := os.WriteFile(res.Host, data, 0o644); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "write failed", err)
	}
	return nil
}

func (s *SecureFs) Append(path string, data []byte) error {
	res, err := s.guard.Validate(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(res.Host), 0o755); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "mkdir parent failed", err)
	}
	f, err := os.OpenFile(res.Host, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "append open failed", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "append write failed", err)
	}
	return nil
}

// Exists returns false, not an error, on a symlink-escape rejection:
// observing existence through an attacker-created symlink is itself a
// side channel spec.md 4.3 calls out to avoid.
func (s *SecureFs) Exists(path string) bool {
	res, err := s.guard.Validate(path)
	if err != nil {
		return false
	}
	_, err = os.Lstat(res.Host)
	return err == nil
}

func (s *SecureFs) Stat(path string) (os.FileInfo, error) {
	res, err := s.guard.Validate(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(res.Host)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindExecutionError, "stat failed", err)
	}
	return info, nil
}

// Lstat validates the parent only, so metadata on a confined symlink
// can be inspected without following it.
func (s *SecureFs) Lstat(path string) (os.FileInfo, error) {
	res, err := s.guard.ValidateParent(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(res.Host)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindExecutionError, "lstat failed", err)
	}
	return info, nil
}

// Readlink validates the parent only, matching Lstat.
func (s *SecureFs) Readlink(path string) (string, error) {
	res, err := s.guard.ValidateParent(path)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(res.Host)
	if err != nil {
		return "", herrors.Wrap(herrors.KindExecutionError, "readlink failed", err)
	}
	return target, nil
}

func (s *SecureFs) ReadDir(path string) ([]Entry, error) {
	res, err := s.guard.Validate(path)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(res.Host)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindExecutionError, "readdir failed", err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), Kind: entryKind(info), Size: info.Size()})
	}
	return entries, nil
}

func (s *SecureFs) Mkdir(path string) error {
	res, err := s.guard.Validate(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(res.Host, 0o755); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "mkdir failed", err)
	}
	return nil
}

// Rm validates only the parent when the target itself is a symlink,
// so an adversarial link can be deleted without ever following it.
func (s *SecureFs) Rm(path string) error {
	parentRes, err := s.guard.ValidateParent(path)
	if err != nil {
		return err
	}
	if info, lerr := os.Lstat(parentRes.Host); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(parentRes.Host); err != nil {
			return herrors.Wrap(herrors.KindExecutionError, "remove symlink failed", err)
		}
		return nil
	}

	res, err := s.guard.Validate(path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(res.Host); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "rm failed", err)
	}
	return nil
}

func (s *SecureFs) Cp(src, dst string) error {
	srcRes, err := s.guard.Validate(src)
	if err != nil {
		return err
	}
	dstRes, err := s.guard.Validate(dst)
	if err != nil {
		return err
	}
	in, err := os.Open(srcRes.Host)
	if err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "cp source open failed", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dstRes.Host), 0o755); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "cp mkdir parent failed", err)
	}
	out, err := os.Create(dstRes.Host)
	if err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "cp destination create failed", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "cp copy failed", err)
	}
	return out.Sync()
}

func (s *SecureFs) Mv(src, dst string) error {
	srcRes, err := s.guard.Validate(src)
	if err != nil {
		return err
	}
	dstRes, err := s.guard.Validate(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstRes.Host), 0o755); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "mv mkdir parent failed", err)
	}
	if err := os.Rename(srcRes.Host, dstRes.Host); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "mv failed", err)
	}
	return nil
}

func (s *SecureFs) Chmod(path string, mode os.FileMode) error {
	res, err := s.guard.Validate(path)
	if err != nil {
		return err
	}
	if err := os.Chmod(res.Host, mode); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "chmod failed", err)
	}
	return nil
}

// Symlink rejects creation when the resolved target escapes the
// workspace, even though the link itself may be confined.
func (s *SecureFs) Symlink(target, link string) error {
	res, err := s.guard.Validate(link)
	if err != nil {
		return err
	}
	if err := s.guard.ValidateSymlinkTarget(res.Host, target); err != nil {
		return err
	}
	if err := os.Symlink(target, res.Host); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "symlink failed", err)
	}
	return nil
}

func (s *SecureFs) Link(target, link string) error {
	targetRes, err := s.guard.Validate(target)
	if err != nil {
		return err
	}
	linkRes, err := s.guard.Validate(link)
	if err != nil {
		return err
	}
	if err := os.Link(targetRes.Host, linkRes.Host); err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "link failed", err)
	}
	return nil
}

func entryKind(info fs.FileInfo) EntryKind {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return EntrySymlink
	case info.IsDir():
		return EntryDirectory
	default:
		return EntryFile
	}
}
