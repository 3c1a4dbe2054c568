package solver

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"bentokaze/internal/milp"
	"bentokaze/internal/models"
)

// randomModel builds a small catalog with random nutrients, prices and
// densities and a diversity rule strong enough to make the binaries matter.
func randomModel(t *testing.T, rng *rand.Rand) *milp.Model {
	t.Helper()
	categories := []string{"Meat", "Grain", "Vegetable"}
	densities := make([]models.CategoryDensity, len(categories))
	for i, c := range categories {
		densities[i] = models.CategoryDensity{Category: c, Density: 0.5 + rng.Float64()}
	}

	items := make([]models.FoodItem, 5)
	for i := range items {
		items[i] = models.FoodItem{
			Name:      fmt.Sprintf("item%d", i),
			Category:  categories[rng.Intn(len(categories))],
			Fat:       20 * rng.Float64(),
			Carb:      40 * rng.Float64(),
			Salt:      2 * rng.Float64(),
			Protein:   30 * rng.Float64(),
			UnitPrice: 10 + 290*rng.Float64(),
		}
	}

	carb := models.AtMost
	if rng.Intn(2) == 0 {
		carb = models.AtLeast
	}
	cfg := models.OptimizerConfig{
		MaxVolume:          200 + 600*rng.Float64(),
		MinMassPerCategory: 20 + 150*rng.Float64(),
		PortionSize:        100,
		Targets: []models.NutrientTarget{
			{Nutrient: models.Fat, Bound: 10 + 30*rng.Float64(), Direction: models.AtMost},
			{Nutrient: models.Protein, Bound: 20 + 40*rng.Float64(), Direction: models.AtLeast},
			{Nutrient: models.Carb, Bound: 30 + 100*rng.Float64(), Direction: carb},
			{Nutrient: models.Salt, Bound: 1 + 4*rng.Float64(), Direction: models.AtMost},
		},
	}
	if rng.Intn(3) == 0 {
		cfg.BigM = cfg.MinMassPerCategory + 400*rng.Float64()
	}

	m, err := milp.Build(models.NewCatalog(items, densities), cfg)
	require.NoError(t, err)
	return m
}

// cheapestByEnumeration solves m exactly by trying every binary assignment
// and every vertex of what remains. Exponential, so tiny models only.
func cheapestByEnumeration(m *milp.Model) (float64, bool) {
	binaries := m.Binaries()
	mass := m.MassVariables()
	rows := m.Constraints()
	n := len(mass)
	pos := make(map[int]int, n)
	for k, v := range mass {
		pos[v.Index()] = k
	}

	type plane struct {
		coef []float64
		rhs  float64
	}

	best, found := math.Inf(1), false
	for mask := 0; mask < 1<<len(binaries); mask++ {
		x := make([]float64, m.NumVariables())
		for k, b := range binaries {
			if mask&(1<<k) != 0 {
				x[b.Index()] = 1
			}
		}

		var planes []plane
		for _, c := range rows {
			p := plane{coef: make([]float64, n), rhs: c.RHS}
			for _, t := range c.Terms {
				if k, ok := pos[t.Var.Index()]; ok {
					p.coef[k] += t.Coef
				} else {
					p.rhs -= t.Coef * x[t.Var.Index()]
				}
			}
			planes = append(planes, p)
		}
		for k := 0; k < n; k++ {
			p := plane{coef: make([]float64, n)}
			p.coef[k] = 1
			planes = append(planes, p)
		}

		eachSubset(len(planes), n, func(pick []int) {
			A := mat.NewDense(n, n, nil)
			b := make([]float64, n)
			for r, k := range pick {
				A.SetRow(r, planes[k].coef)
				b[r] = planes[k].rhs
			}
			var lu mat.LU
			lu.Factorize(A)
			if lu.Cond() > 1e12 {
				return
			}
			var vertex mat.VecDense
			if err := lu.SolveVecTo(&vertex, false, mat.NewVecDense(n, b)); err != nil {
				return
			}
			for k, v := range mass {
				x[v.Index()] = vertex.AtVec(k)
			}
			if !satisfiesAll(m, x, 1e-7) {
				return
			}
			if cost := m.ObjectiveValue(x); cost < best {
				best, found = cost, true
			}
		})
	}
	return best, found
}

func eachSubset(n, k int, fn func([]int)) {
	pick := make([]int, 0, k)
	var walk func(from int)
	walk = func(from int) {
		if len(pick) == k {
			fn(pick)
			return
		}
		for i := from; i <= n-(k-len(pick)); i++ {
			pick = append(pick, i)
			walk(i + 1)
			pick = pick[:len(pick)-1]
		}
	}
	walk(0)
}

func satisfiesAll(m *milp.Model, x []float64, tol float64) bool {
	for _, v := range m.MassVariables() {
		if x[v.Index()] < -tol {
			return false
		}
	}
	for k, c := range m.Constraints() {
		lhs := m.Activity(k, x)
		slack := tol * (1 + math.Abs(c.RHS))
		switch c.Sense {
		case milp.LessEqual:
			if lhs > c.RHS+slack {
				return false
			}
		case milp.GreaterEqual:
			if lhs < c.RHS-slack {
				return false
			}
		default:
			if math.Abs(lhs-c.RHS) > slack {
				return false
			}
		}
	}
	return true
}

func TestSimplexMatchesEnumeration(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewSimplex(zap.NewNop())

	var optimal, infeasible int
	for trial := 0; trial < 40; trial++ {
		m := randomModel(t, rng)
		want, feasible := cheapestByEnumeration(m)

		sol, err := s.Solve(context.Background(), m, 0)
		require.NoError(t, err, "trial %d", trial)
		if !feasible {
			assert.Equal(t, models.StatusInfeasible, sol.Status, "trial %d", trial)
			infeasible++
			continue
		}
		require.Equal(t, models.StatusOptimal, sol.Status, "trial %d", trial)
		assert.InDelta(t, want, sol.Cost, 1e-6*(1+want), "trial %d", trial)
		optimal++
	}
	t.Logf("%d optimal, %d infeasible", optimal, infeasible)
}

func TestSimplexSolutionSatisfiesEveryRow(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	s := NewSimplex(zap.NewNop())

	for trial := 0; trial < 40; trial++ {
		m := randomModel(t, rng)
		p := newProblem(m)
		res := s.branchAndBound(context.Background(), m)
		require.NotEqual(t, models.StatusNotSolved, res.status, "trial %d", trial)
		if res.status != models.StatusOptimal {
			continue
		}
		assert.True(t, s.feasible(p, res.values), "trial %d", trial)
		for _, b := range m.Binaries() {
			v := res.values[b.Index()]
			assert.True(t, v == 0 || v == 1, "trial %d: %s = %g", trial, b.Name(), v)
		}
	}
}

func TestSimplexWithConfiguredBigM(t *testing.T) {
	cfg := lunchConfig()
	cfg.MinMassPerCategory = 100
	cfg.BigM = 400
	cfg.Targets = []models.NutrientTarget{
		{Nutrient: models.Protein, Bound: 50, Direction: models.AtLeast},
		{Nutrient: models.Carb, Bound: 20, Direction: models.AtLeast},
	}

	sol, err := NewSimplex(zap.NewNop()).Solve(context.Background(), buildModel(t, cfg), 0)
	require.NoError(t, err)
	require.Equal(t, models.StatusOptimal, sol.Status)
	assert.InDelta(t, 100, sol.Mass["Rice"], 1e-6)
	assert.InDelta(t, 47.3/0.31, sol.Mass["Chicken_Breast"], 1e-6)
}

func TestPresolve(t *testing.T) {
	s := NewSimplex(zap.NewNop())

	t.Run("drops rows implied by the volume row", func(t *testing.T) {
		rows := []lpRow{
			{coef: []float64{1, 0}, sense: milp.LessEqual, rhs: 1050},
			{coef: []float64{1 / 1.05, 1 / 0.9}, sense: milp.LessEqual, rhs: 1000},
			{coef: []float64{0, 1}, sense: milp.LessEqual, rhs: 900},
		}
		got, err := s.presolve(rows, make([]bool, 2))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 1000.0, got[0].rhs)
	})

	t.Run("keeps one of two identical rows", func(t *testing.T) {
		rows := []lpRow{
			{coef: []float64{2, 1}, sense: milp.GreaterEqual, rhs: 10},
			{coef: []float64{2, 1}, sense: milp.GreaterEqual, rhs: 10},
		}
		got, err := s.presolve(rows, make([]bool, 2))
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("fixes columns of a row that only admits zero", func(t *testing.T) {
		zero := make([]bool, 3)
		rows := []lpRow{
			{coef: []float64{1, 1, 0}, sense: milp.LessEqual, rhs: 0},
			{coef: []float64{0.3, 0.5, 0.2}, sense: milp.GreaterEqual, rhs: 5},
		}
		got, err := s.presolve(rows, zero)
		require.NoError(t, err)
		assert.Equal(t, []bool{true, true, false}, zero)
		require.Len(t, got, 1)
		assert.Equal(t, []float64{0, 0, 0.2}, got[0].coef)
	})

	t.Run("drops rows every point satisfies", func(t *testing.T) {
		rows := []lpRow{
			{coef: []float64{1, 1}, sense: milp.GreaterEqual, rhs: 0},
			{coef: []float64{0, 0}, sense: milp.LessEqual, rhs: 3},
		}
		got, err := s.presolve(rows, make([]bool, 2))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("proves infeasibility", func(t *testing.T) {
		zero := make([]bool, 2)
		rows := []lpRow{
			{coef: []float64{1, 0}, sense: milp.LessEqual, rhs: 0},
			{coef: []float64{1, 0}, sense: milp.GreaterEqual, rhs: 4},
		}
		_, err := s.presolve(rows, zero)
		assert.ErrorIs(t, err, errNodeInfeasible)
	})
}

func TestRelaxProjectsFreeBinaries(t *testing.T) {
	cfg := lunchConfig()
	cfg.MinMassPerCategory = 100
	cfg.Targets = []models.NutrientTarget{
		{Nutrient: models.Carb, Bound: 20, Direction: models.AtLeast},
	}
	m := buildModel(t, cfg)
	p := newProblem(m)
	s := NewSimplex(zap.NewNop())
	grain := m.Binaries()[1]
	require.Equal(t, "Grain", grain.Category())

	// free: 20g of carbs is 71.4g of rice, below the category minimum
	bound, x, err := s.relax(p, map[int]float64{})
	require.NoError(t, err)
	assert.InDelta(t, 20/0.28*0.3, bound, 1e-9)
	assert.InDelta(t, 20/0.28, x[1], 1e-9)
	assert.Equal(t, grain.Index(), s.assignBinaries(p, map[int]float64{}, x))

	// used: the minimum binds
	bound, x, err = s.relax(p, map[int]float64{grain.Index(): 1})
	require.NoError(t, err)
	assert.InDelta(t, 30, bound, 1e-9)
	assert.InDelta(t, 100, x[1], 1e-9)

	// unused: rice is gone and nothing else has carbs
	_, _, err = s.relax(p, map[int]float64{grain.Index(): 0})
	assert.ErrorIs(t, err, errNodeInfeasible)
}
