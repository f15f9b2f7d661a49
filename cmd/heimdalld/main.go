// Command heimdalld is Heimdall's process entrypoint: it resolves
// configuration, wires the sandbox core together, and exposes the six
// Coordinator operations as MCP tools over stdio. Transport and tool
// registration are deliberately the thinnest layer in the tree — the
// sandbox package is where all the behavior lives.
package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/heimdall-run/heimdall/internal/config"
	"github.com/heimdall-run/heimdall/internal/logger"
	"github.com/heimdall-run/heimdall/internal/sandbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.FatalCF("main", "failed to load configuration", map[string]any{"error": err.Error()})
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		logger.FatalCF("main", "failed to create workspace directory", map[string]any{"error": err.Error()})
	}

	guard, err := sandbox.NewPathGuard(cfg.Workspace)
	if err != nil {
		logger.FatalCF("main", "failed to initialize path guard", map[string]any{"error": err.Error()})
	}
	logger.SetWorkspaceRoot(guard.RootReal())

	virtWorkspace, err := os.MkdirTemp("", "heimdall-vroot-*")
	if err != nil {
		logger.FatalCF("main", "failed to create virtual workspace", map[string]any{"error": err.Error()})
	}
	defer os.RemoveAll(virtWorkspace)

	quota := sandbox.NewQuotaKeeper(guard.RootReal(), cfg.MaxFileSize, cfg.MaxWorkspaceSize)
	sync := sandbox.NewSyncEngine(guard, virtWorkspace)
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if err := sync.Watch(watchCtx); err != nil {
		logger.WarnCF("main", "host workspace watch unavailable, continuing without it", map[string]any{"error": err.Error()})
	}
	secureFS := sandbox.NewSecureFs(guard)
	bash := sandbox.NewBashRunner(secureFS, cfg.BashMaxLoopIters, cfg.BashMaxCommands, cfg.BashMaxCallDepth)
	python := sandbox.NewPySupervisor(
		"",
		virtWorkspace,
		time.Duration(cfg.PyInitTimeoutMs)*time.Millisecond,
		time.Duration(cfg.PyTimeoutMs)*time.Millisecond,
		sync,
	)
	defer python.Shutdown()

	audit, err := sandbox.OpenAuditLog(filepath.Join(cfg.Workspace, "..", "heimdall-audit.db"))
	if err != nil {
		logger.WarnCF("main", "audit log unavailable, continuing without it", map[string]any{"error": err.Error()})
		audit = nil
	} else {
		defer audit.Close()
	}

	coordinator := sandbox.NewCoordinator(guard, quota, sync, bash, python, audit, cfg.MaxFileSize)

	server := mcp.NewServer(&mcp.Implementation{Name: "heimdall", Version: "0.1.0"}, nil)
	registerTools(server, coordinator)

	logger.InfoCF("main", "heimdall sandbox ready", map[string]any{"workspace": "<workspace>"})
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		logger.FatalCF("main", "server exited with error", map[string]any{"error": err.Error()})
	}
}
