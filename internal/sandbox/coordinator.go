package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/heimdall-run/heimdall/internal/herrors"
	"github.com/heimdall-run/heimdall/internal/logger"
)

// FileEntry is one listing result from ListFiles.
type FileEntry struct {
	Name        string `json:"name"`
	IsDirectory bool   `json:"is_directory"`
	Size        int64  `json:"size"`
}

// ToolResult is the common envelope every Coordinator operation
// returns to a caller, carrying enough of the error's kind to let a
// client branch on failure mode without parsing the message.
type ToolResult struct {
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Content    string      `json:"content,omitempty"`
	Entries    []FileEntry `json:"entries,omitempty"`
	Stdout     string      `json:"stdout,omitempty"`
	Stderr     string      `json:"stderr,omitempty"`
	Result     string      `json:"result,omitempty"`
	ExitCode   int         `json:"exit_code,omitempty"`
}

// Coordinator is the top-level entrypoint for the six tools callers
// see: write_file, read_file, list_files, delete_file, execute_python,
// execute_bash. Grounded on picoclaw's per-tool Execute methods
// (ReadFileTool, ExecTool) but collapsed into one type per spec.md
// 4.8, since Heimdall has a fixed, closed set of operations rather
// than an extensible tool registry.
type Coordinator struct {
	guard   *PathGuard
	quota   *QuotaKeeper
	sync    *SyncEngine
	bash    *BashRunner
	python  *PySupervisor
	audit   *AuditLog

	maxFileSize int64
}

// NewCoordinator wires the sandbox's components together. audit may be
// nil, in which case executions are not recorded.
func NewCoordinator(guard *PathGuard, quota *QuotaKeeper, sync *SyncEngine, bash *BashRunner, python *PySupervisor, audit *AuditLog, maxFileSize int64) *Coordinator {
	return &Coordinator{guard: guard, quota: quota, sync: sync, bash: bash, python: python, audit: audit, maxFileSize: maxFileSize}
}

// recordAudit appends one execution outcome to the audit log, if one
// is configured. Failures to record are logged but never surfaced to
// the caller as a tool failure.
func (c *Coordinator) recordAudit(operation string, start time.Time, result ToolResult) {
	if c.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id := uuid.NewString()
	if err := c.audit.Record(ctx, id, operation, result.Success, result.ErrorKind, time.Since(start)); err != nil {
		logger.WarnCF("coordinator", "failed to record audit entry", map[string]any{"operation": operation, "error": err.Error()})
	}
}

// WriteFile validates path, enforces size and quota limits, writes the
// content, and pushes the change into the virtual workspace.
func (c *Coordinator) WriteFile(path, content string) (result ToolResult) {
	start := time.Now()
	defer func() { c.recordAudit("write_file", start, result) }()
	reqID := uuid.NewString()
	res, err := c.guard.Validate(path)
	if err != nil {
		return c.toolError(err)
	}

	contentBytes := []byte(content)
	if int64(len(contentBytes)) > c.maxFileSize {
		return c.toolError(herrors.New(herrors.KindFileTooLarge, "file content exceeds maximum file size"))
	}
	if err := c.quota.Precheck(int64(len(contentBytes))); err != nil {
		return c.toolError(err)
	}

	err = c.quota.Reserve(int64(len(contentBytes)), func() error {
		if err := os.MkdirAll(filepath.Dir(res.Host), 0o755); err != nil {
			return herrors.Wrap(herrors.KindExecutionError, "failed to create parent directories", err)
		}
		return os.WriteFile(res.Host, contentBytes, 0o644)
	})
	if err != nil {
		return c.toolError(err)
	}

	if err := c.sync.SyncHostPathToVirtual(res.Virt); err != nil {
		logger.WarnCF("coordinator", "sync after write failed", map[string]any{"request_id": reqID, "error": err.Error()})
	}
	return ToolResult{Success: true}
}

// ReadFile validates path, pulls the latest host content into the
// virtual workspace, and returns it.
func (c *Coordinator) ReadFile(path string) (result ToolResult) {
	start := time.Now()
	defer func() { c.recordAudit("read_file", start, result) }()
	res, err := c.guard.Validate(path)
	if err != nil {
		return c.toolError(err)
	}
	if err := c.sync.SyncHostPathToVirtual(res.Virt); err != nil {
		logger.WarnCF("coordinator", "sync before read failed", map[string]any{"error": err.Error()})
	}

	data, err := os.ReadFile(res.Host)
	if err != nil {
		if os.IsNotExist(err) {
			return c.toolError(herrors.Wrap(herrors.KindInvalidPath, "file does not exist", err))
		}
		return c.toolError(herrors.Wrap(herrors.KindExecutionError, "read failed", err))
	}
	return ToolResult{Success: true, Content: string(data)}
}

// ListFiles defaults dir to the workspace root and filters "." and
// "..", which os.ReadDir never returns in the first place but the
// contract calls out explicitly for parity with spec.md 4.8.
func (c *Coordinator) ListFiles(dir string) (result ToolResult) {
	start := time.Now()
	defer func() { c.recordAudit("list_files", start, result) }()
	if dir == "" {
		dir = VRoot
	}
	res, err := c.guard.Validate(dir)
	if err != nil {
		return c.toolError(err)
	}
	if err := c.sync.SyncHostPathToVirtual(res.Virt); err != nil {
		logger.WarnCF("coordinator", "sync before list failed", map[string]any{"error": err.Error()})
	}

	dirEntries, err := os.ReadDir(res.Host)
	if err != nil {
		return c.toolError(herrors.Wrap(herrors.KindExecutionError, "readdir failed", err))
	}
	entries := make([]FileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if name == "." || name == ".." {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, FileEntry{Name: name, IsDirectory: de.IsDir(), Size: info.Size()})
	}
	return ToolResult{Success: true, Entries: entries}
}

// DeleteFile removes path from both the virtual and host filesystems:
// a file via unlink, a directory via rmdir (so a non-empty directory
// fails rather than being recursively wiped). A non-existent host file
// is not an error. Only the parent is validated, never the target
// itself, so an adversarial symlink inside the workspace is unlinked
// rather than followed (spec.md's remove-symlink exception).
func (c *Coordinator) DeleteFile(path string) (result ToolResult) {
	start := time.Now()
	defer func() { c.recordAudit("delete_file", start, result) }()
	res, err := c.guard.ValidateParent(path)
	if err != nil {
		return c.toolError(err)
	}

	if err := c.sync.DeleteVirtualPath(res.Virt); err != nil {
		logger.WarnCF("coordinator", "virtual delete failed", map[string]any{"error": err.Error()})
	}

	if _, statErr := os.Lstat(res.Host); statErr == nil {
		if rmErr := os.Remove(res.Host); rmErr != nil {
			if errors.Is(rmErr, syscall.ENOTEMPTY) || strings.Contains(rmErr.Error(), "directory not empty") {
				return c.toolError(herrors.New(herrors.KindInvalidPath, "directory not empty"))
			}
			return c.toolError(herrors.Wrap(herrors.KindExecutionError, "delete failed", rmErr))
		}
	} else if !os.IsNotExist(statErr) {
		return c.toolError(herrors.Wrap(herrors.KindExecutionError, "failed to stat file for deletion", statErr))
	}

	return ToolResult{Success: true}
}

// ExecutePython delegates to PySupervisor.
func (c *Coordinator) ExecutePython(code string, packages []string) (result ToolResult) {
	start := time.Now()
	defer func() { c.recordAudit("execute_python", start, result) }()

	pyResult, err := c.python.Execute(code, packages)
	if err != nil {
		return c.toolError(err)
	}
	return ToolResult{
		Success: pyResult.Success,
		Error:   pyResult.Error,
		Stdout:  pyResult.Stdout,
		Stderr:  pyResult.Stderr,
		Result:  pyResult.Result,
	}
}

// ExecuteBash rejects a cwd that escapes the workspace, runs the
// command, and reconciles the virtual filesystem afterward since the
// command may have mutated files.
func (c *Coordinator) ExecuteBash(ctx context.Context, command, cwd string) (result ToolResult) {
	start := time.Now()
	defer func() { c.recordAudit("execute_bash", start, result) }()

	if cwd != "" {
		if _, err := c.guard.Validate(cwd); err != nil {
			return c.toolError(err)
		}
	}

	bashResult, err := c.bash.Execute(ctx, command, cwd)
	if err != nil {
		return c.toolError(err)
	}

	if err := c.sync.SyncHostToVirtual(); err != nil {
		logger.WarnCF("coordinator", "sync after bash execution failed", map[string]any{"error": err.Error()})
	}

	return ToolResult{
		Success:  bashResult.ExitCode == 0,
		Stdout:   bashResult.Stdout,
		Stderr:   bashResult.Stderr,
		ExitCode: bashResult.ExitCode,
	}
}

// toolError renders an error into a ToolResult, stripping the
// resolved host workspace root from the message per the "messages
// must not leak ROOT_REAL" rule: herrors.Error already carries a
// structured Kind, so the caller never needs to pattern-match text.
// Any other error is logged and reported as an execution_error.
func (c *Coordinator) toolError(err error) ToolResult {
	var herr *herrors.Error
	if errors.As(err, &herr) {
		return ToolResult{Success: false, Error: c.redactRootReal(herr.Msg), ErrorKind: string(herr.Kind)}
	}
	logger.WarnCF("coordinator", "unclassified error", map[string]any{"error": err.Error()})
	return ToolResult{Success: false, Error: c.redactRootReal(err.Error()), ErrorKind: string(herrors.KindExecutionError)}
}

func (c *Coordinator) redactRootReal(msg string) string {
	root := c.guard.RootReal()
	if root == "" {
		return msg
	}
	return strings.ReplaceAll(msg, root, "<workspace>")
}
