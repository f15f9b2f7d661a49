// Package config parses Heimdall's environment-variable configuration,
// following the same struct-tag-driven approach as picoclaw's own
// pkg/config: github.com/caarlos0/env/v11 does the parsing, and a
// thin post-parse pass substitutes documented defaults for anything
// that came back non-positive.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/caarlos0/env/v11"

	"github.com/heimdall-run/heimdall/internal/logger"
)

// Config holds every tunable Heimdall reads from the environment.
// It is parsed once at process start and threaded through explicitly
// as a value, never read back from a package global.
type Config struct {
	Workspace        string `env:"HEIMDALL_WORKSPACE"`
	MaxFileSize      int64  `env:"HEIMDALL_MAX_FILE_SIZE" envDefault:"10485760"`
	MaxWorkspaceSize int64  `env:"HEIMDALL_MAX_WORKSPACE_SIZE" envDefault:"104857600"`
	PyTimeoutMs      int64  `env:"HEIMDALL_PYTHON_EXECUTION_TIMEOUT_MS" envDefault:"5000"`
	PyInitTimeoutMs  int64  `env:"HEIMDALL_PYTHON_INIT_TIMEOUT_MS" envDefault:"60000"`
	BashMaxLoopIters int    `env:"HEIMDALL_BASH_MAX_LOOP_ITERATIONS" envDefault:"10000"`
	BashMaxCommands  int    `env:"HEIMDALL_BASH_MAX_COMMAND_COUNT" envDefault:"20000"`
	BashMaxCallDepth int    `env:"HEIMDALL_BASH_MAX_CALL_DEPTH" envDefault:"32"`
	LogLevel         string `env:"HEIMDALL_LOG_LEVEL" envDefault:"info"`
}

// defaults mirrors the envDefault tags above; positiveOrDefault falls
// back to these when a parsed value is non-positive, since env.Parse
// has no notion of "valid range" on its own.
const (
	defaultMaxFileSize      = int64(10485760)
	defaultMaxWorkspaceSize = int64(104857600)
	defaultPyTimeoutMs      = int64(5000)
	defaultPyInitTimeoutMs  = int64(60000)
	defaultBashMaxLoopIters = 10000
	defaultBashMaxCommands  = 20000
	defaultBashMaxCallDepth = 32
)

// Load parses Config from the environment, applying the
// non-positive-falls-back-to-default-with-warning rule to every
// numeric tunable.
func Load() (*Config, error) {
	cfg := &Config{}
	// Malformed numbers parse to zero, so positiveOrDefault below logs a
	// warning and substitutes the default instead of failing the load.
	toZero := func(v string) int64 {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	lenient := map[reflect.Type]env.ParserFunc{
		reflect.TypeOf(int64(0)): func(v string) (any, error) { return toZero(v), nil },
		reflect.TypeOf(0):        func(v string) (any, error) { return int(toZero(v)), nil },
	}
	if err := env.ParseWithOptions(cfg, env.Options{FuncMap: lenient}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.MaxFileSize = positiveOrDefault("HEIMDALL_MAX_FILE_SIZE", cfg.MaxFileSize, defaultMaxFileSize)
	cfg.MaxWorkspaceSize = positiveOrDefault("HEIMDALL_MAX_WORKSPACE_SIZE", cfg.MaxWorkspaceSize, defaultMaxWorkspaceSize)
	cfg.PyTimeoutMs = positiveOrDefault("HEIMDALL_PYTHON_EXECUTION_TIMEOUT_MS", cfg.PyTimeoutMs, defaultPyTimeoutMs)
	cfg.PyInitTimeoutMs = positiveOrDefault("HEIMDALL_PYTHON_INIT_TIMEOUT_MS", cfg.PyInitTimeoutMs, defaultPyInitTimeoutMs)
	cfg.BashMaxLoopIters = positiveOrDefault("HEIMDALL_BASH_MAX_LOOP_ITERATIONS", cfg.BashMaxLoopIters, defaultBashMaxLoopIters)
	cfg.BashMaxCommands = positiveOrDefault("HEIMDALL_BASH_MAX_COMMAND_COUNT", cfg.BashMaxCommands, defaultBashMaxCommands)
	cfg.BashMaxCallDepth = positiveOrDefault("HEIMDALL_BASH_MAX_CALL_DEPTH", cfg.BashMaxCallDepth, defaultBashMaxCallDepth)

	if cfg.Workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		cfg.Workspace = filepath.Join(cwd, "workspace")
	}
	cfg.Workspace = expandHome(cfg.Workspace)

	return cfg, nil
}

type number interface {
	~int | ~int64
}

// positiveOrDefault logs a warning and substitutes def whenever value
// is zero or negative — an unset, malformed, or deliberately invalid
// env var all collapse to the same "use the documented default" rule.
func positiveOrDefault[T number](envVar string, value, def T) T {
	if value > 0 {
		return value
	}
	logger.WarnCF("config", "non-positive value for env var, falling back to default", map[string]any{
		"env_var": envVar,
		"value":   value,
		"default": def,
	})
	return def
}

// expandHome mirrors picoclaw's pkg/config expandHome: a leading "~"
// is replaced with the user's home directory, everything else is
// passed through unchanged (including invalid paths, resolved later
// by the path guard that actually confines the workspace).
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return filepath.Join(home, path[1:])
	}
	return home
}
