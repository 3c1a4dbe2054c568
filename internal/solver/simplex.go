// internal/solver/simplex.go
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"bentokaze/internal/milp"
	"bentokaze/internal/models"
)

const (
	defaultTolerance     = 1e-9
	feasibilityTolerance = 1e-6
	defaultMaxNodes      = 1 << 16
	// columns of a phase one vertex at or below this are treated as nonbasic
	basisThreshold = 1e-11
	maxBasisCond   = 1e10
)

var (
	errNodeInfeasible = errors.New("relaxation is infeasible")
	errNodeUnbounded  = errors.New("relaxation is unbounded")
	errNumeric        = errors.New("relaxation failed numerically")
)

// Simplex solves models in-process. LP relaxations go through gonum's
// simplex; binaries are resolved by depth-first branch-and-bound.
type Simplex struct {
	logger   *zap.Logger
	tol      float64
	feasTol  float64
	maxNodes int
}

func NewSimplex(logger *zap.Logger) *Simplex {
	return &Simplex{
		logger:   logger,
		tol:      defaultTolerance,
		feasTol:  feasibilityTolerance,
		maxNodes: defaultMaxNodes,
	}
}

func (s *Simplex) Name() string { return string(EngineSimplex) }

type bnbResult struct {
	status models.SolveStatus
	values []float64
	nodes  int
}

func (s *Simplex) Solve(ctx context.Context, m *milp.Model, timeout time.Duration) (models.Solution, error) {
	if m == nil {
		return models.Solution{}, errors.New("simplex: model is nil")
	}
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan bnbResult, 1)
	go func() {
		done <- s.branchAndBound(ctx, m)
	}()

	var res bnbResult
	select {
	case res = <-done:
	case <-ctx.Done():
		s.logger.Warn("Solver stopped before completion", zap.Error(ctx.Err()))
		return notSolved(m, s.Name(), start), nil
	}

	sol := m.Solution(res.status, res.values)
	sol.Solver = s.Name()
	sol.Elapsed = time.Since(start)
	s.logger.Debug("Branch and bound finished",
		zap.String("status", string(sol.Status)),
		zap.Int("nodes", res.nodes),
		zap.Duration("duration", sol.Elapsed))
	return sol, nil
}

// problem is the model flattened once per solve.
type problem struct {
	model     *milp.Model
	vars      []milp.Variable
	rows      []milp.Constraint
	objective []milp.Term
	binaries  []*milp.Binary
	binary    []bool
	// touches lists the rows each binary appears in
	touches map[int][]int
}

func newProblem(m *milp.Model) *problem {
	p := &problem{
		model:     m,
		vars:      m.Variables(),
		rows:      m.Constraints(),
		objective: m.Objective(),
		binaries:  m.Binaries(),
		touches:   make(map[int][]int),
	}
	p.binary = make([]bool, len(p.vars))
	for _, b := range p.binaries {
		p.binary[b.Index()] = true
	}
	for k, c := range p.rows {
		for _, t := range c.Terms {
			if i := t.Var.Index(); p.binary[i] {
				p.touches[i] = append(p.touches[i], k)
			}
		}
	}
	return p
}

// branchAndBound explores fixings of the binary variables depth first. A
// node is closed when its relaxation is infeasible, cannot beat the
// incumbent, or yields a point that satisfies every row once the free
// binaries are set.
func (s *Simplex) branchAndBound(ctx context.Context, m *milp.Model) bnbResult {
	p := newProblem(m)
	stack := []map[int]float64{{}}

	var best []float64
	bestObj := math.Inf(1)
	nodes := 0
	for len(stack) > 0 {
		if ctx.Err() != nil || nodes >= s.maxNodes {
			return bnbResult{status: models.StatusNotSolved, nodes: nodes}
		}
		fixed := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		bound, x, err := s.relax(p, fixed)
		switch {
		case errors.Is(err, errNodeInfeasible):
			continue
		case errors.Is(err, errNodeUnbounded):
			return bnbResult{status: models.StatusUnbounded, nodes: nodes}
		case err != nil:
			s.logger.Warn("Relaxation failed", zap.Int("node", nodes), zap.Error(err))
			return bnbResult{status: models.StatusNotSolved, nodes: nodes}
		}
		if bound >= bestObj-s.tol*(1+math.Abs(bestObj)) {
			continue
		}

		branch := s.assignBinaries(p, fixed, x)
		if branch < 0 {
			if s.feasible(p, x) {
				if obj := m.ObjectiveValue(x); obj < bestObj {
					best, bestObj = x, obj
				}
				continue
			}
			branch = firstFree(p, fixed)
			if branch < 0 {
				// every binary is fixed, so the LP point itself misses a row
				s.logger.Warn("Relaxation point violates the model", zap.Int("node", nodes))
				return bnbResult{status: models.StatusNotSolved, nodes: nodes}
			}
		}

		down := make(map[int]float64, len(fixed)+1)
		up := make(map[int]float64, len(fixed)+1)
		for k, v := range fixed {
			down[k], up[k] = v, v
		}
		down[branch], up[branch] = 0, 1
		// up is popped first
		stack = append(stack, down, up)
	}

	if best == nil {
		return bnbResult{status: models.StatusInfeasible, nodes: nodes}
	}
	return bnbResult{status: models.StatusOptimal, values: best, nodes: nodes}
}

// assignBinaries sets each free binary in x to a value its rows accept. It
// returns the free binary whose rows are worst violated under both values,
// or -1 when every free binary could be set.
func (s *Simplex) assignBinaries(p *problem, fixed map[int]float64, x []float64) int {
	branch, worst := -1, 0.0
	for _, b := range p.binaries {
		i := b.Index()
		if _, ok := fixed[i]; ok {
			continue
		}
		x[i] = 0
		v0 := s.violation(p, p.touches[i], x)
		if v0 == 0 {
			continue
		}
		x[i] = 1
		v1 := s.violation(p, p.touches[i], x)
		if v1 == 0 {
			continue
		}
		if v := math.Min(v0, v1); v > worst {
			branch, worst = i, v
		}
	}
	return branch
}

func firstFree(p *problem, fixed map[int]float64) int {
	for _, b := range p.binaries {
		if _, ok := fixed[b.Index()]; !ok {
			return b.Index()
		}
	}
	return -1
}

func (s *Simplex) feasible(p *problem, x []float64) bool {
	for k := range p.rows {
		if s.rowViolation(p, k, x) > 0 {
			return false
		}
	}
	return true
}

func (s *Simplex) violation(p *problem, rows []int, x []float64) float64 {
	var worst float64
	for _, k := range rows {
		worst = math.Max(worst, s.rowViolation(p, k, x))
	}
	return worst
}

// rowViolation is how far row k misses at x beyond the relative tolerance.
func (s *Simplex) rowViolation(p *problem, k int, x []float64) float64 {
	c := p.rows[k]
	lhs := p.model.Activity(k, x)
	tol := s.feasTol * (1 + math.Abs(c.RHS))
	var d float64
	switch c.Sense {
	case milp.LessEqual:
		d = lhs - c.RHS - tol
	case milp.GreaterEqual:
		d = c.RHS - lhs - tol
	default:
		d = math.Abs(lhs-c.RHS) - tol
	}
	return math.Max(0, d)
}

type lpRow struct {
	// coef is indexed like problem.vars; binary entries stay zero
	coef  []float64
	sense milp.Sense
	rhs   float64
}

// relax bounds the node that fixes the binaries in fixed. Free binaries are
// projected out: every row they appear in is loosened to the binary's weaker
// bound, so the LP carries continuous columns only. The returned point has
// the free binaries at 0.
func (s *Simplex) relax(p *problem, fixed map[int]float64) (float64, []float64, error) {
	n := len(p.vars)
	rows := make([]lpRow, 0, len(p.rows))
	for _, c := range p.rows {
		row := lpRow{coef: make([]float64, n), sense: c.Sense, rhs: c.RHS}
		keep := true
		for _, t := range c.Terms {
			i := t.Var.Index()
			if !p.binary[i] {
				row.coef[i] += t.Coef
				continue
			}
			if v, ok := fixed[i]; ok {
				row.rhs -= t.Coef * v
				continue
			}
			switch {
			case c.Sense == milp.Equal:
				keep = false
			case c.Sense == milp.LessEqual && t.Coef < 0, c.Sense == milp.GreaterEqual && t.Coef > 0:
				row.rhs -= t.Coef
			}
		}
		if keep {
			rows = append(rows, row)
		}
	}

	zero := make([]bool, n)
	rows, err := s.presolve(rows, zero)
	if err != nil {
		return 0, nil, err
	}

	cost := make([]float64, n)
	offset := 0.0
	for _, t := range p.objective {
		i := t.Var.Index()
		if !p.binary[i] {
			cost[i] += t.Coef
			continue
		}
		if v, ok := fixed[i]; ok {
			offset += t.Coef * v
		} else {
			offset += math.Min(0, t.Coef)
		}
	}

	inRow := make([]bool, n)
	for _, r := range rows {
		for j, v := range r.coef {
			if v != 0 {
				inRow[j] = true
			}
		}
	}
	var active []int
	for j := range p.vars {
		if p.binary[j] || zero[j] {
			continue
		}
		if inRow[j] {
			active = append(active, j)
			continue
		}
		if cost[j] < 0 {
			return 0, nil, errNodeUnbounded
		}
	}

	obj, xa, err := s.solveLP(rows, active, cost)
	if err != nil {
		return 0, nil, err
	}

	values := make([]float64, n)
	for k, j := range active {
		values[j] = xa[k]
	}
	for i, v := range fixed {
		values[i] = v
	}
	return obj + offset, values, nil
}

// presolve drops rows every non-negative point satisfies, fixes to zero the
// columns of rows that only admit zero, and drops rows implied by another.
// Infeasibility it can prove on the way is returned as errNodeInfeasible.
func (s *Simplex) presolve(rows []lpRow, zero []bool) ([]lpRow, error) {
	for changed := true; changed; {
		changed = false
		kept := rows[:0]
		for _, r := range rows {
			empty, nonNeg := true, true
			for j, v := range r.coef {
				if zero[j] {
					r.coef[j] = 0
					continue
				}
				if v != 0 {
					empty = false
				}
				if v < 0 {
					nonNeg = false
				}
			}
			tol := s.feasTol * (1 + math.Abs(r.rhs))
			switch {
			case empty:
				if !s.satisfied(0, r.sense, r.rhs) {
					return nil, errNodeInfeasible
				}
				continue
			case nonNeg && r.sense == milp.GreaterEqual && r.rhs <= tol:
				continue
			case nonNeg && r.rhs < -tol:
				return nil, errNodeInfeasible
			case nonNeg && r.rhs <= tol:
				for j, v := range r.coef {
					if v > 0 {
						zero[j] = true
					}
				}
				changed = true
				continue
			}
			kept = append(kept, r)
		}
		rows = kept
	}
	return dropImplied(rows), nil
}

// dropImplied removes inequality rows that another row of the same sense
// already forces on x >= 0.
func dropImplied(rows []lpRow) []lpRow {
	dropped := make([]bool, len(rows))
	for i := range rows {
		for j := range rows {
			if i != j && !dropped[j] && implies(rows[j], rows[i]) {
				dropped[i] = true
				break
			}
		}
	}
	kept := rows[:0]
	for i, r := range rows {
		if !dropped[i] {
			kept = append(kept, r)
		}
	}
	return kept
}

// implies reports whether b forces a for every x >= 0. Both rows must have
// non-negative coefficients and a positive right-hand side; then b implies a
// when a's normalized coefficients are nowhere looser than b's.
func implies(b, a lpRow) bool {
	if a.sense != b.sense || a.sense == milp.Equal || a.rhs <= 0 || b.rhs <= 0 {
		return false
	}
	for k := range a.coef {
		if a.coef[k] < 0 || b.coef[k] < 0 {
			return false
		}
		x, y := a.coef[k]/a.rhs, b.coef[k]/b.rhs
		if a.sense == milp.LessEqual && x > y*(1+1e-12) {
			return false
		}
		if a.sense == milp.GreaterEqual && x < y*(1-1e-12) {
			return false
		}
	}
	return true
}

// solveLP minimizes cost over rows restricted to the active columns, x >= 0.
// Rows are scaled to unit max coefficient and brought to standard form with
// one slack per inequality.
func (s *Simplex) solveLP(rows []lpRow, active []int, cost []float64) (float64, []float64, error) {
	n := len(active)
	if len(rows) == 0 {
		return 0, make([]float64, n), nil
	}

	width := n
	for _, r := range rows {
		if r.sense != milp.Equal {
			width++
		}
	}
	// standard form: min c'x  s.t.  Ax = b, x >= 0, b >= 0
	A := mat.NewDense(len(rows), width, nil)
	b := make([]float64, len(rows))
	// own[r] is the slack column that is +e_r, or -1
	own := make([]int, len(rows))
	slack := n
	for r, row := range rows {
		scale := 0.0
		for _, j := range active {
			scale = math.Max(scale, math.Abs(row.coef[j]))
		}
		flip := 1.0
		if row.rhs < 0 {
			flip = -1
		}
		for k, j := range active {
			if v := row.coef[j]; v != 0 {
				A.Set(r, k, flip*v/scale)
			}
		}
		b[r] = flip * row.rhs / scale

		own[r] = -1
		if row.sense == milp.Equal {
			continue
		}
		sign := flip
		if row.sense == milp.GreaterEqual {
			sign = -flip
		}
		A.Set(r, slack, sign)
		if sign > 0 {
			own[r] = slack
		}
		slack++
	}

	c := make([]float64, width)
	for k, j := range active {
		c[k] = cost[j]
	}

	basis, err := s.phaseOne(A, b, own)
	if err != nil {
		return 0, nil, err
	}
	optF, optX, err := safeSimplex(c, A, b, s.tol, basis)
	if err != nil && basis != nil {
		optF, optX, err = safeSimplex(c, A, b, s.tol, nil)
	}
	switch {
	case errors.Is(err, lp.ErrUnbounded):
		return 0, nil, errNodeUnbounded
	case err != nil:
		// phase one already showed the LP is feasible
		return 0, nil, fmt.Errorf("%w: %v", errNumeric, err)
	}
	return optF, optX[:n], nil
}

// phaseOne finds a feasible basis of Ax = b. Rows without a slack column of
// their own get an artificial column and the artificial sum is minimized
// from the identity basis. A nil basis with a nil error means the LP is
// feasible but no basis could be recovered from the point found.
func (s *Simplex) phaseOne(A *mat.Dense, b []float64, own []int) ([]int, error) {
	m, width := A.Dims()
	var arts []int
	for r, j := range own {
		if j < 0 {
			arts = append(arts, r)
		}
	}
	if len(arts) == 0 {
		return append([]int(nil), own...), nil
	}

	A1 := mat.NewDense(m, width+len(arts), nil)
	A1.Copy(A)
	c1 := make([]float64, width+len(arts))
	basis := append([]int(nil), own...)
	for k, r := range arts {
		A1.Set(r, width+k, 1)
		c1[width+k] = 1
		basis[r] = width + k
	}

	_, x, err := safeSimplex(c1, A1, b, s.tol, basis)
	if x == nil {
		return nil, fmt.Errorf("%w: %v", errNumeric, err)
	}
	var infeasibility, bmax float64
	for k := range arts {
		infeasibility += x[width+k]
	}
	for _, v := range b {
		bmax = math.Max(bmax, v)
	}
	if infeasibility > s.feasTol*(1+bmax) {
		if err != nil {
			// stopped early, so the sum is not a proof
			return nil, fmt.Errorf("%w: %v", errNumeric, err)
		}
		return nil, errNodeInfeasible
	}
	return feasibleBasis(A, b, x[:width]), nil
}

// feasibleBasis takes the columns carrying x and completes them with slack
// columns into a nonsingular basis. It returns nil when that fails or when
// the basic solution is not feasible.
func feasibleBasis(A *mat.Dense, b, x []float64) []int {
	m, width := A.Dims()
	var basis []int
	for j, v := range x {
		if v > basisThreshold {
			basis = append(basis, j)
		}
	}
	if len(basis) > m || (len(basis) > 0 && mat.Cond(columns(A, basis), 2) > maxBasisCond) {
		return nil
	}

	in := make(map[int]bool, m)
	for _, j := range basis {
		in[j] = true
	}
	// slacks sit at the end
	for j := width - 1; j >= 0 && len(basis) < m; j-- {
		if in[j] {
			continue
		}
		cand := append(basis, j)
		if mat.Cond(columns(A, cand), 2) > maxBasisCond {
			continue
		}
		basis = cand
		in[j] = true
	}
	if len(basis) != m {
		return nil
	}

	var xb mat.VecDense
	if err := xb.SolveVec(columns(A, basis), mat.NewVecDense(m, b)); err != nil {
		return nil
	}
	for i := 0; i < m; i++ {
		if xb.AtVec(i) < -1e-13 {
			return nil
		}
	}
	return basis
}

func columns(A *mat.Dense, idx []int) *mat.Dense {
	m, _ := A.Dims()
	out := mat.NewDense(m, len(idx), nil)
	col := make([]float64, m)
	for k, j := range idx {
		mat.Col(col, j, A)
		out.SetCol(k, col)
	}
	return out
}

// safeSimplex calls lp.Simplex and turns its input panics into errors.
func safeSimplex(c []float64, A mat.Matrix, b []float64, tol float64, basis []int) (optF float64, optX []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			optF, optX, err = 0, nil, fmt.Errorf("lp: %v", r)
		}
	}()
	return lp.Simplex(c, A, b, tol, basis)
}

func (s *Simplex) satisfied(lhs float64, sense milp.Sense, rhs float64) bool {
	tol := s.feasTol * (1 + math.Abs(rhs))
	switch sense {
	case milp.LessEqual:
		return lhs <= rhs+tol
	case milp.GreaterEqual:
		return lhs >= rhs-tol
	default:
		return math.Abs(lhs-rhs) <= tol
	}
}
