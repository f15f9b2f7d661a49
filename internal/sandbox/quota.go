package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/heimdall-run/heimdall/internal/herrors"
	"github.com/heimdall-run/heimdall/internal/logger"
)

// fillWarnThreshold is the fraction of MaxWorkspaceSize above which
// Reserve logs an advisory "workspace filling up" line.
const fillWarnThreshold = 0.8

// QuotaKeeper enforces MaxFileSize and MaxWorkspaceSize atomically
// against concurrent writers. Each keeper is bound to one workspace
// root and owns its mutex, so the lock is per root. Adapted from
// picoclaw's registry.go file-lock-keyed-by-path pattern generalized
// to an in-process sync.Mutex (Heimdall has a single process per
// workspace, so a file lock would be solving a problem Heimdall does
// not have; the keeper's mutex gives the same check-then-act atomicity
// for the one consumer that matters: this process's concurrent tool
// calls).
type QuotaKeeper struct {
	root             string
	maxFileSize      int64
	maxWorkspaceSize int64

	mu sync.Mutex

	// fillWarnLimiter throttles the advisory fill-level log line so a
	// write storm near the quota ceiling logs once every few seconds
	// instead of once per write. It never gates the reservation itself.
	fillWarnLimiter *rate.Limiter
}

// NewQuotaKeeper builds a keeper bound to a single workspace root.
func NewQuotaKeeper(root string, maxFileSize, maxWorkspaceSize int64) *QuotaKeeper {
	return &QuotaKeeper{
		root:             root,
		maxFileSize:      maxFileSize,
		maxWorkspaceSize: maxWorkspaceSize,
		fillWarnLimiter:  rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Precheck rejects a write outright if its size alone exceeds
// MaxFileSize, without taking the workspace-wide lock.
func (q *QuotaKeeper) Precheck(fileBytes int64) error {
	if fileBytes > q.maxFileSize {
		return herrors.New(herrors.KindFileTooLarge, fmt.Sprintf("file size %d exceeds limit %d", fileBytes, q.maxFileSize))
	}
	return nil
}

// Reserve walks the host tree to compute current workspace usage,
// fails with WorkspaceFull if admitting fileBytes would exceed
// MaxWorkspaceSize, and otherwise runs doWrite while still holding the
// lock so no concurrent writer can observe a stale total. The lock is
// released on every exit path, including a panic inside doWrite.
func (q *QuotaKeeper) Reserve(fileBytes int64, doWrite func() error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.workspaceSize()
	if err != nil {
		return herrors.Wrap(herrors.KindExecutionError, "failed to compute workspace size", err)
	}
	if current+fileBytes > q.maxWorkspaceSize {
		return herrors.New(herrors.KindWorkspaceFull, fmt.Sprintf("workspace size %d + %d exceeds limit %d", current, fileBytes, q.maxWorkspaceSize))
	}
	if q.maxWorkspaceSize > 0 && float64(current+fileBytes)/float64(q.maxWorkspaceSize) >= fillWarnThreshold && q.fillWarnLimiter.Allow() {
		logger.WarnCF("quota", "workspace approaching size limit", map[string]any{
			"used_bytes":  current + fileBytes,
			"limit_bytes": q.maxWorkspaceSize,
		})
	}
	return doWrite()
}

// workspaceSize walks the host tree under root and sums regular file
// sizes. Readers (this included) never take q.mu themselves; callers
// that need the lock already hold it via Reserve.
func (q *QuotaKeeper) workspaceSize() (int64, error) {
	var total int64
	err := filepath.WalkDir(q.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
