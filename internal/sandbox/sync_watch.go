package sandbox

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/heimdall-run/heimdall/internal/logger"
)

// Watch recursively watches the host workspace and pushes each
// changed path into the virtual workspace as it happens, so a
// targeted sync_host_path_to_virtual never has to wait for the next
// whole-tree sync to pick up an out-of-band host edit (e.g. a file
// dropped into the workspace by something other than Heimdall's own
// write_file/execute_bash paths). This is an optimization, not a
// correctness requirement: every Coordinator operation already does
// its own targeted or whole-tree sync regardless of whether Watch is
// running.
func (e *SyncEngine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := addRecursive(watcher, e.guard.Root()); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				e.handleWatchEvent(watcher, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WarnCF("sync", "watch error", map[string]any{"error": err.Error()})
			}
		}
	}()
	return nil
}

func (e *SyncEngine) handleWatchEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	virt := e.guard.VirtOf(event.Name)

	if event.Op&fsnotify.Create != 0 {
		_ = watcher.Add(event.Name)
	}
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		return
	}
	if err := e.SyncHostPathToVirtual(virt); err != nil {
		logger.WarnCF("sync", "watch-triggered sync failed", map[string]any{"path": virt, "error": err.Error()})
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
