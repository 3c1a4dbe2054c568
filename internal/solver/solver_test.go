package solver

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bentokaze/internal/export"
	"bentokaze/internal/milp"
	"bentokaze/internal/models"
)

func lunchCatalog() *models.Catalog {
	return models.NewCatalog(
		[]models.FoodItem{
			{Name: "Chicken_Breast", Category: "Meat", Fat: 3, Carb: 0, Salt: 0.1, Protein: 31, UnitPrice: 150},
			{Name: "Rice", Category: "Grain", Fat: 0.3, Carb: 28, Salt: 0, Protein: 2.7, UnitPrice: 30},
		},
		[]models.CategoryDensity{
			{Category: "Meat", Density: 1.05},
			{Category: "Grain", Density: 0.9},
		},
	)
}

func lunchConfig() models.OptimizerConfig {
	return models.OptimizerConfig{
		MaxVolume:          1000,
		MinMassPerCategory: 1,
		PortionSize:        100,
		Targets: []models.NutrientTarget{
			{Nutrient: models.Protein, Bound: 50, Direction: models.AtLeast},
			{Nutrient: models.Fat, Bound: 20, Direction: models.AtMost},
			{Nutrient: models.Carb, Bound: 100, Direction: models.AtMost},
			{Nutrient: models.Salt, Bound: 5, Direction: models.AtMost},
		},
	}
}

func buildModel(t *testing.T, cfg models.OptimizerConfig) *milp.Model {
	t.Helper()
	m, err := milp.Build(lunchCatalog(), cfg)
	require.NoError(t, err)
	return m
}

func TestSimplexSolvesScenario(t *testing.T) {
	s := NewSimplex(zap.NewNop())
	sol, err := s.Solve(context.Background(), buildModel(t, lunchConfig()), time.Minute)
	require.NoError(t, err)

	require.Equal(t, models.StatusOptimal, sol.Status)
	assert.Equal(t, "simplex", sol.Solver)
	// protein is cheapest from chicken alone
	assert.InDelta(t, 50/0.31, sol.Mass["Chicken_Breast"], 1e-6)
	assert.InDelta(t, 0, sol.Mass["Rice"], 1e-6)
	assert.InDelta(t, 50/0.31*1.5, sol.Cost, 1e-6)
	assert.InDelta(t, 50, sol.Nutrients[models.Protein], 1e-6)
	assert.True(t, sol.CategoryUsed["Meat"])
	assert.False(t, sol.CategoryUsed["Grain"])
}

func TestSimplexHonorsMinimumCategoryMass(t *testing.T) {
	cfg := lunchConfig()
	cfg.MinMassPerCategory = 100
	cfg.Targets = []models.NutrientTarget{
		{Nutrient: models.Protein, Bound: 50, Direction: models.AtLeast},
		{Nutrient: models.Fat, Bound: 20, Direction: models.AtMost},
		{Nutrient: models.Carb, Bound: 20, Direction: models.AtLeast},
		{Nutrient: models.Salt, Bound: 5, Direction: models.AtMost},
	}

	s := NewSimplex(zap.NewNop())
	sol, err := s.Solve(context.Background(), buildModel(t, cfg), time.Minute)
	require.NoError(t, err)
	require.Equal(t, models.StatusOptimal, sol.Status)

	// 71.4g of rice would cover the carbs, but a used category needs 100g
	assert.InDelta(t, 100, sol.Mass["Rice"], 1e-6)
	assert.InDelta(t, 47.3/0.31, sol.Mass["Chicken_Breast"], 1e-6)
	assert.InDelta(t, 30+47.3/0.31*1.5, sol.Cost, 1e-6)
	assert.True(t, sol.CategoryUsed["Grain"])
	assert.True(t, sol.CategoryUsed["Meat"])
}

func TestSimplexWithoutDiversity(t *testing.T) {
	cfg := lunchConfig()
	cfg.MinMassPerCategory = 0

	sol, err := NewSimplex(zap.NewNop()).Solve(context.Background(), buildModel(t, cfg), 0)
	require.NoError(t, err)
	require.Equal(t, models.StatusOptimal, sol.Status)
	assert.Nil(t, sol.CategoryUsed)
	assert.InDelta(t, 50/0.31*1.5, sol.Cost, 1e-6)
}

func TestSimplexReportsInfeasible(t *testing.T) {
	cfg := lunchConfig()
	cfg.MaxVolume = 10

	sol, err := NewSimplex(zap.NewNop()).Solve(context.Background(), buildModel(t, cfg), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInfeasible, sol.Status)
	assert.Empty(t, sol.Mass)
}

func TestSimplexReportsNotSolvedOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sol, err := NewSimplex(zap.NewNop()).Solve(ctx, buildModel(t, lunchConfig()), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotSolved, sol.Status)
	assert.Empty(t, sol.Mass)
}

func TestSimplexRejectsNilModel(t *testing.T) {
	_, err := NewSimplex(zap.NewNop()).Solve(context.Background(), nil, 0)
	assert.Error(t, err)
}

func TestNewSelectsEngine(t *testing.T) {
	s, err := New(EngineSimplex, Options{})
	require.NoError(t, err)
	assert.Equal(t, "simplex", s.Name())

	s, err = New(EngineCBC, Options{CBCPath: "/opt/cbc/bin/cbc"})
	require.NoError(t, err)
	assert.Equal(t, "cbc", s.Name())
	assert.Equal(t, "/opt/cbc/bin/cbc", s.(*CBC).path)

	_, err = New("glpk", Options{})
	assert.Error(t, err)
}

func TestParseSolution(t *testing.T) {
	m := buildModel(t, lunchConfig())
	enc, err := export.Encode(m, export.FormatMPS)
	require.NoError(t, err)

	out := strings.Join([]string{
		"Optimal - objective value 241.93548387",
		"      0 Chicken_      161.29032258                 0",
		"      2 used_Mea                 1                 0",
	}, "\n")
	status, values, err := parseSolution(strings.NewReader(out), enc, m.NumVariables())
	require.NoError(t, err)
	assert.Equal(t, models.StatusOptimal, status)
	assert.Equal(t, []float64{161.29032258, 0, 1, 0}, values)
}

func TestParseSolutionStatuses(t *testing.T) {
	m := buildModel(t, lunchConfig())
	enc, err := export.Encode(m, export.FormatMPS)
	require.NoError(t, err)

	cases := map[string]models.SolveStatus{
		"Infeasible - objective value 0.00000000":         models.StatusInfeasible,
		"Integer infeasible - objective value 0.00000000": models.StatusInfeasible,
		"Unbounded - objective value 0.00000000":          models.StatusUnbounded,
		"Stopped on time - objective value 250.00000000":  models.StatusNotSolved,
	}
	for header, want := range cases {
		t.Run(header, func(t *testing.T) {
			status, _, err := parseSolution(strings.NewReader(header+"\n"), enc, m.NumVariables())
			require.NoError(t, err)
			assert.Equal(t, want, status)
		})
	}
}

func TestParseSolutionSkipsInfeasibilityMarker(t *testing.T) {
	m := buildModel(t, lunchConfig())
	enc, err := export.Encode(m, export.FormatMPS)
	require.NoError(t, err)

	out := "Infeasible - objective value 0\n**    1 Rice   12.5   0\n"
	_, values, err := parseSolution(strings.NewReader(out), enc, m.NumVariables())
	require.NoError(t, err)
	assert.Equal(t, 12.5, values[1])
}

func TestParseSolutionRejectsUnknownColumn(t *testing.T) {
	m := buildModel(t, lunchConfig())
	enc, err := export.Encode(m, export.FormatMPS)
	require.NoError(t, err)

	_, _, err = parseSolution(strings.NewReader("Optimal - objective value 1\n 0 Tofu 1 0\n"), enc, m.NumVariables())
	assert.ErrorContains(t, err, "Tofu")

	_, _, err = parseSolution(strings.NewReader(""), enc, m.NumVariables())
	assert.Error(t, err)
}

func TestCBCSolvesScenario(t *testing.T) {
	path, err := exec.LookPath("cbc")
	if err != nil {
		t.Skip("cbc not installed")
	}

	sol, err := NewCBC(path, t.TempDir(), zap.NewNop()).Solve(context.Background(), buildModel(t, lunchConfig()), time.Minute)
	require.NoError(t, err)
	require.Equal(t, models.StatusOptimal, sol.Status)
	assert.InDelta(t, 50/0.31*1.5, sol.Cost, 1e-4)
}
