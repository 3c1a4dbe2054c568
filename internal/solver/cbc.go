// internal/solver/cbc.go
package solver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"bentokaze/internal/export"
	"bentokaze/internal/milp"
	"bentokaze/internal/models"
)

const defaultCBCPath = "cbc"

// CBC runs the COIN-OR CBC binary on a fixed-format MPS export of the model
// and reads back its solution file.
type CBC struct {
	path   string
	logDir string
	logger *zap.Logger
}

func NewCBC(path, logDir string, logger *zap.Logger) *CBC {
	if path == "" {
		path = defaultCBCPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CBC{path: path, logDir: logDir, logger: logger}
}

func (c *CBC) Name() string { return string(EngineCBC) }

func (c *CBC) Solve(ctx context.Context, m *milp.Model, timeout time.Duration) (models.Solution, error) {
	if m == nil {
		return models.Solution{}, errors.New("cbc: model is nil")
	}
	start := time.Now()

	enc, err := export.Encode(m, export.FormatMPS)
	if err != nil {
		return models.Solution{}, err
	}

	dir, err := os.MkdirTemp("", "bentokaze-cbc-")
	if err != nil {
		return models.Solution{}, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(dir)

	mpsPath := filepath.Join(dir, "model.mps")
	solPath := filepath.Join(dir, "model.sol")
	if err := os.WriteFile(mpsPath, enc.Bytes(), 0o644); err != nil {
		return models.Solution{}, fmt.Errorf("failed to write model: %w", err)
	}

	args := []string{mpsPath}
	if timeout > 0 {
		// cbc enforces its own limit; the context is the hard stop
		secs := int(timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		args = append(args, "sec", strconv.Itoa(secs))
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+5*time.Second)
		defer cancel()
	}
	args = append(args, "solve", "solu", solPath)

	cmd := exec.CommandContext(ctx, c.path, args...)
	logFile, err := c.openLog()
	if err != nil {
		return models.Solution{}, err
	}
	if logFile != nil {
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	c.logger.Debug("Running cbc", zap.String("path", c.path), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			c.logger.Warn("cbc stopped before completion", zap.Error(ctx.Err()))
			return notSolved(m, c.Name(), start), nil
		}
		return models.Solution{}, fmt.Errorf("cbc failed: %w", err)
	}

	f, err := os.Open(solPath)
	if err != nil {
		return models.Solution{}, fmt.Errorf("failed to open cbc solution: %w", err)
	}
	defer f.Close()

	status, values, err := parseSolution(f, enc, m.NumVariables())
	if err != nil {
		return models.Solution{}, err
	}

	sol := m.Solution(status, values)
	sol.Solver = c.Name()
	sol.Elapsed = time.Since(start)
	return sol, nil
}

func (c *CBC) openLog() (*os.File, error) {
	if c.logDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(c.logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(c.logDir, "solver.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open solver log: %w", err)
	}
	return f, nil
}

// parseSolution reads a cbc solution file. The first line carries the status;
// each following line is "index name value reduced-cost", optionally
// prefixed with "**" for infeasible entries.
func parseSolution(r io.Reader, enc *export.Encoding, n int) (models.SolveStatus, []float64, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", nil, fmt.Errorf("failed to read cbc solution: %w", err)
		}
		return "", nil, errors.New("cbc solution is empty")
	}

	header := strings.ToLower(strings.TrimSpace(scanner.Text()))
	var status models.SolveStatus
	switch {
	case strings.HasPrefix(header, "optimal"):
		status = models.StatusOptimal
	case strings.Contains(header, "infeasible"):
		status = models.StatusInfeasible
	case strings.Contains(header, "unbounded"):
		status = models.StatusUnbounded
	default:
		status = models.StatusNotSolved
	}

	values := make([]float64, n)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == "**" {
			fields = fields[1:]
		}
		if len(fields) < 3 {
			continue
		}
		v, ok := enc.Lookup(fields[1])
		if !ok {
			return "", nil, fmt.Errorf("cbc solution references unknown column %q", fields[1])
		}
		value, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid value for column %q: %w", fields[1], err)
		}
		values[v.Index()] = value
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("failed to read cbc solution: %w", err)
	}
	return status, values, nil
}
