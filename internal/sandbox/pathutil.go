package sandbox

import (
	"os"
	"path/filepath"
)

// resolveExistingAncestor realpath-resolves path if it exists, or
// walks up to the nearest existing ancestor and resolves that,
// matching picoclaw's common.resolveExistingAncestor. It never follows
// symlinks on a final non-existent component, since there is nothing
// to follow.
func resolveExistingAncestor(path string) (string, error) {
	current := filepath.Clean(path)
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", os.ErrNotExist
		}
		current = parent
	}
}
