// internal/solver/solver.go
package solver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bentokaze/internal/milp"
	"bentokaze/internal/models"
)

// Solver is the boundary to a solving engine. Infeasible, unbounded and
// timed-out runs are reported through Solution.Status; an error means the
// engine itself failed.
type Solver interface {
	Name() string
	Solve(ctx context.Context, m *milp.Model, timeout time.Duration) (models.Solution, error)
}

type Engine string

const (
	EngineSimplex Engine = "simplex"
	EngineCBC     Engine = "cbc"
)

type Options struct {
	CBCPath string
	LogDir  string
	Logger  *zap.Logger
}

// New is a factory that creates the solver for engine.
func New(engine Engine, opts Options) (Solver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	switch engine {
	case EngineSimplex, "":
		return NewSimplex(logger), nil
	case EngineCBC:
		return NewCBC(opts.CBCPath, opts.LogDir, logger), nil
	default:
		return nil, fmt.Errorf("unsupported solver engine: %q", engine)
	}
}

func notSolved(m *milp.Model, name string, start time.Time) models.Solution {
	sol := m.Solution(models.StatusNotSolved, nil)
	sol.Solver = name
	sol.Elapsed = time.Since(start)
	return sol
}
