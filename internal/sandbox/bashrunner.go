package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/heimdall-run/heimdall/internal/herrors"
)

// BashRunner is the adapter over a resource-limited bash interpreter,
// configured with a SecureFs-backed filesystem, a logical starting
// directory of "/", and conservative execution limits. Construction
// mirrors NewExecToolWithConfig's conservative-defaults-unless-
// overridden shape, but the security model is the opposite of
// picoclaw's ExecTool: where ExecTool shells out to a real OS `sh -c`
// guarded by a regex denylist, BashRunner interprets bash itself
// (mvdan.cc/sh/v3) against a virtual filesystem rooted at SecureFs, so
// there is no real subprocess for adversarial input to escape from.
// Coreutils-shaped external commands (mkdir, rm, cp, mv, chmod, ln,
// touch, cat, ls) are dispatched straight to SecureFs by execHandler;
// everything else is denied outright.
type BashRunner struct {
	fs            *SecureFs
	maxLoopIters  int
	maxCommands   int
	maxCallDepth  int
}

// BashResult is the outcome of one BashRunner.Execute call.
type BashResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// NewBashRunner builds a runner bound to fs with the given resource
// limits. Limits of zero or less are replaced with their defaults at
// config-load time (internal/config), never silently disabled here.
func NewBashRunner(fs *SecureFs, maxLoopIters, maxCommands, maxCallDepth int) *BashRunner {
	return &BashRunner{fs: fs, maxLoopIters: maxLoopIters, maxCommands: maxCommands, maxCallDepth: maxCallDepth}
}

// Execute parses and runs command against the confined filesystem.
// Errors from the interpreter itself (not the script's own exit code)
// are surfaced as exit_code=1 with the interpreter's message on
// stderr, per spec.md 4.7.
func (b *BashRunner) Execute(ctx context.Context, command string, cwd string) (*BashResult, error) {
	startDir := "/"
	if cwd != "" {
		res, err := b.fs.guard.Validate(cwd)
		if err != nil {
			return nil, err
		}
		startDir = res.Virt
	}

	parser := syntax.NewParser(syntax.KeepComments(false))
	file, err := parser.Parse(bytesReader(command), "")
	if err != nil {
		return &BashResult{Stderr: err.Error(), ExitCode: 1}, nil
	}

	var stdout, stderr bytes.Buffer
	fsAdapter := newInterpFS(b.fs)

	counter := newCommandBudget(b.maxLoopIters, b.maxCommands)
	if err := checkCallDepth(file, b.maxCallDepth); err != nil {
		return &BashResult{Stderr: err.Error(), ExitCode: 1}, nil
	}

	runner, err := interp.New(
		interp.StdIO(nil, &stdout, &stderr),
		interp.Dir(startDir),
		interp.OpenHandler(fsAdapter.openHandler),
		interp.StatHandler(fsAdapter.statHandler),
		interp.ReadDirHandler2(fsAdapter.readDirHandler),
		interp.ExecHandler(b.execHandler),
		interp.CallHandler(counter.callHandler),
	)
	if err != nil {
		return &BashResult{Stderr: err.Error(), ExitCode: 1}, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exitCode := 0
	if runErr := runner.Run(runCtx, file); runErr != nil {
		if status, ok := interp.IsExitStatus(runErr); ok {
			exitCode = int(status)
		} else {
			return &BashResult{Stdout: stdout.String(), Stderr: stderr.String() + runErr.Error(), ExitCode: 1}, nil
		}
	}

	return &BashResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

// execHandler dispatches a closed allowlist of coreutils-shaped names
// to SecureFs instead of a real subprocess: mvdan.cc/sh/v3's
// interpreter only implements a handful of POSIX builtins in-process
// (cd, echo, printf, read, exit, ...), so mkdir/rm/cp/mv/chmod/ln and
// friends are resolved through ExecHandler and would otherwise never
// reach SecureFs's Mkdir/Rm/Cp/Mv/Chmod/Symlink/Link at all. Anything
// not on the allowlist still falls through to denyNetworkExecHandler,
// so "network disabled" and "no arbitrary subprocess" remain the same
// guarantee for everything outside this fixed set.
func (b *BashRunner) execHandler(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return herrors.New(herrors.KindExecutionError, "empty command")
	}
	hc := interp.HandlerCtx(ctx)
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(hc.Dir, p)
	}
	operands := operandsOf(args[1:])

	switch args[0] {
	case "mkdir":
		for _, p := range operands {
			if err := b.fs.Mkdir(resolve(p)); err != nil {
				return err
			}
		}
		return nil
	case "rm":
		for _, p := range operands {
			if err := b.fs.Rm(resolve(p)); err != nil {
				return err
			}
		}
		return nil
	case "cp":
		if len(operands) != 2 {
			return herrors.New(herrors.KindExecutionError, "cp requires exactly two operands")
		}
		return b.fs.Cp(resolve(operands[0]), resolve(operands[1]))
	case "mv":
		if len(operands) != 2 {
			return herrors.New(herrors.KindExecutionError, "mv requires exactly two operands")
		}
		return b.fs.Mv(resolve(operands[0]), resolve(operands[1]))
	case "chmod":
		if len(operands) != 2 {
			return herrors.New(herrors.KindExecutionError, "chmod requires a mode and a path")
		}
		mode, err := strconv.ParseUint(operands[0], 8, 32)
		if err != nil {
			return herrors.Wrap(herrors.KindExecutionError, "invalid chmod mode", err)
		}
		return b.fs.Chmod(resolve(operands[1]), os.FileMode(mode))
	case "ln":
		symlink := false
		var targets []string
		for _, a := range args[1:] {
			if a == "-s" {
				symlink = true
				continue
			}
			if strings.HasPrefix(a, "-") {
				continue
			}
			targets = append(targets, a)
		}
		if len(targets) != 2 {
			return herrors.New(herrors.KindExecutionError, "ln requires a target and a link name")
		}
		if symlink {
			return b.fs.Symlink(targets[0], resolve(targets[1]))
		}
		return b.fs.Link(resolve(targets[0]), resolve(targets[1]))
	case "touch":
		for _, p := range operands {
			full := resolve(p)
			if !b.fs.Exists(full) {
				if err := b.fs.Write(full, nil); err != nil {
					return err
				}
			}
		}
		return nil
	case "cat":
		for _, p := range operands {
			data, err := b.fs.Read(resolve(p))
			if err != nil {
				return err
			}
			if _, err := hc.Stdout.Write(data); err != nil {
				return herrors.Wrap(herrors.KindExecutionError, "cat write failed", err)
			}
		}
		return nil
	case "ls":
		dir := hc.Dir
		if len(operands) > 0 {
			dir = resolve(operands[0])
		}
		entries, err := b.fs.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if _, err := fmt.Fprintln(hc.Stdout, e.Name); err != nil {
				return herrors.Wrap(herrors.KindExecutionError, "ls write failed", err)
			}
		}
		return nil
	default:
		return denyNetworkExecHandler(ctx, args)
	}
}

// operandsOf drops flag-shaped arguments ("-r", "-f", ...), since the
// allowlisted commands above only need the path operands.
func operandsOf(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// denyNetworkExecHandler rejects any command outside the coreutils
// allowlist above: BashRunner's bash engine interprets builtins and
// that fixed set against SecureFs only, and never shells out to a
// real binary, so "network disabled" and "no arbitrary subprocess"
// are the same guarantee.
func denyNetworkExecHandler(ctx context.Context, args []string) error {
	return herrors.New(herrors.KindExecutionError, "external command execution is disabled")
}

func bytesReader(s string) io.Reader {
	return bytes.NewReader([]byte(s))
}
