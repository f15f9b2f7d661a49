// Package sandbox is Heimdall's confined execution core: path
// confinement, quota enforcement, the filesystem facade handed to the
// bash engine, host<->virtual sync, and the Python worker supervisor.
//
// The confinement scheme is adapted from picoclaw's pkg/tools/common
// ValidatePath (workspace-relative path resolution with symlink-escape
// detection via EvalSymlinks and a walk-to-existing-ancestor fallback)
// and pkg/agent/sandbox/security.go's realpath helpers, generalized
// from a single restrict/don't-restrict host path into a full
// VROOT<->ROOT bijection with the per-operation exceptions (symlink
// creation, lstat/readlink, unlink) a single ValidatePath call can't
// express.
package sandbox

import (
	"path/filepath"
	"strings"

	"github.com/heimdall-run/heimdall/internal/herrors"
)

// VRoot is the fixed virtual workspace path every caller-supplied path
// is normalized relative to.
const VRoot = "/workspace"

// PathGuard turns caller-supplied, possibly-virtual path strings into
// validated (virtual, host) path pairs, confined to a resolved
// workspace root.
type PathGuard struct {
	root     string // ROOT: host workspace directory (may itself be a symlink)
	rootReal string // ROOT_REAL: canonicalized form of root, captured once
}

// NewPathGuard captures root's canonical form once, per the "resolved
// at startup, lives for process lifetime" rule.
func NewPathGuard(root string) (*PathGuard, error) {
	real, err := resolveExistingAncestor(root)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindInvalidPath, "failed to resolve workspace root", err)
	}
	return &PathGuard{root: filepath.Clean(root), rootReal: real}, nil
}

// RootReal returns the canonicalized workspace root captured at
// construction.
func (g *PathGuard) RootReal() string { return g.rootReal }

// Root returns the (possibly symlinked) configured workspace root.
func (g *PathGuard) Root() string { return g.root }

// Resolution is the (virt_path, host_path) pair PathGuard.Validate
// produces for a confined input.
type Resolution struct {
	Virt string
	Host string
}

// Validate implements spec algorithm 4.1 steps 1-7: normalize input as
// a VROOT-relative path, reject escapes, realpath-validate the
// resolved host path against ROOT_REAL.
func (g *PathGuard) Validate(input string) (Resolution, error) {
	if strings.ContainsRune(input, 0) {
		return Resolution{}, herrors.New(herrors.KindInvalidPath, "path contains NUL byte")
	}

	virt := toVirtual(input)
	virt = filepath.Clean(virt)
	if virt != VRoot && !strings.HasPrefix(virt, VRoot+"/") {
		return Resolution{}, herrors.New(herrors.KindPathEscape, "path escapes virtual workspace root")
	}
	if containsDotDot(virt) {
		return Resolution{}, herrors.New(herrors.KindPathEscape, "path contains unresolved traversal segment")
	}

	suffix := strings.TrimPrefix(virt, VRoot)
	host := filepath.Join(g.root, suffix)

	if err := g.requireConfined(host); err != nil {
		return Resolution{}, err
	}
	return Resolution{Virt: virt, Host: host}, nil
}

// ValidateParent validates host's parent directory instead of host
// itself, for the lstat/readlink/remove-symlink exceptions in 4.1 and
// 4.3: the operation targets a possibly-symlink leaf, and only the
// containing directory needs to be confined.
func (g *PathGuard) ValidateParent(input string) (Resolution, error) {
	if strings.ContainsRune(input, 0) {
		return Resolution{}, herrors.New(herrors.KindInvalidPath, "path contains NUL byte")
	}
	virt := filepath.Clean(toVirtual(input))
	if virt != VRoot && !strings.HasPrefix(virt, VRoot+"/") {
		return Resolution{}, herrors.New(herrors.KindPathEscape, "path escapes virtual workspace root")
	}
	suffix := strings.TrimPrefix(virt, VRoot)
	host := filepath.Join(g.root, suffix)

	parent := filepath.Dir(host)
	if err := g.requireConfined(parent); err != nil {
		return Resolution{}, err
	}
	return Resolution{Virt: virt, Host: host}, nil
}

// ValidateSymlinkTarget applies confinement to a symlink target
// resolved relative to the link's parent directory, per the
// symlink-creation special case in 4.1: the link may be confined while
// its target is not, and that must also be rejected.
func (g *PathGuard) ValidateSymlinkTarget(linkHost, target string) error {
	resolvedTarget := target
	if !filepath.IsAbs(resolvedTarget) {
		resolvedTarget = filepath.Join(filepath.Dir(linkHost), target)
	}
	return g.requireConfined(resolvedTarget)
}

// requireConfined implements steps 5-7: canonicalize as much of host
// as exists, walking toward the root for non-existent components, and
// require the resolved real path to be ROOT_REAL or a descendant.
func (g *PathGuard) requireConfined(host string) error {
	real, err := resolveExistingAncestor(host)
	if err != nil {
		return herrors.Wrap(herrors.KindInvalidPath, "failed to resolve path", err)
	}
	if real != g.rootReal && !strings.HasPrefix(real, g.rootReal+string(filepath.Separator)) {
		return herrors.New(herrors.KindSymlinkEscape, "resolved path escapes workspace root")
	}
	return nil
}

// HostOf maps a VROOT-relative path to its host equivalent without
// validation, for callers (SyncEngine) that already hold a validated
// Resolution and just need the deterministic bijection.
func (g *PathGuard) HostOf(virt string) string {
	suffix := strings.TrimPrefix(filepath.Clean(virt), VRoot)
	return filepath.Join(g.root, suffix)
}

// VirtOf is the inverse of HostOf.
func (g *PathGuard) VirtOf(host string) string {
	rel, err := filepath.Rel(g.root, host)
	if err != nil || rel == "." {
		return VRoot
	}
	return filepath.ToSlash(filepath.Join(VRoot, rel))
}

func toVirtual(input string) string {
	if strings.HasPrefix(input, VRoot) {
		return input
	}
	return filepath.ToSlash(filepath.Join(VRoot, input))
}

func containsDotDot(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
