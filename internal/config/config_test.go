package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bentokaze/internal/milp"
	"bentokaze/internal/models"
)

const sampleConfig = `
database:
  file: data/bento.db
data_path: data
data_files:
  categories: food_density.csv
  items: items.csv
  nutrition: nutrition.csv
  prices: price.csv
nutrition:
  fat: 20
  protein: 50
  carb: 100
  salt: 5
optimizer:
  max_volume: 1000
  min_mass_per_category: 1
  constraints:
    fat: "<="
    protein: ">="
    carb: "<="
    salt: "<="
solver:
  engine: cbc
  timeout: 45s
export:
  filename: bento
  formats: [lp, mps, json]
  output_dir: out
  report_filename: report.md
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "data/bento.db", cfg.Database.File)
	assert.Equal(t, filepath.Join("data", "items.csv"), cfg.DataFile(cfg.DataFiles.Items))
	assert.Equal(t, 1000.0, cfg.Optimizer.MaxVolume)
	assert.Equal(t, 1.0, cfg.Optimizer.MinMassPerCategory)
	assert.Equal(t, "cbc", cfg.Solver.Engine)
	assert.Equal(t, 45*time.Second, cfg.Solver.Timeout)
	assert.Equal(t, []string{"lp", "mps", "json"}, cfg.Export.Formats)
	assert.Equal(t, filepath.Join("out", "report.md"), cfg.ReportPath())

	// defaults fill what the file leaves out
	assert.Equal(t, 100.0, cfg.Optimizer.PortionSize)
	assert.Equal(t, "g", cfg.Optimizer.PortionUnit)
	assert.Equal(t, "markdown", cfg.Export.ReportFormat)
	assert.Equal(t, "0.0.0.0:8011", cfg.Addr())
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "simplex", cfg.Solver.Engine)
	assert.Equal(t, 30*time.Second, cfg.Solver.Timeout)
	assert.Equal(t, []string{"lp", "mps"}, cfg.Export.Formats)
	assert.Empty(t, cfg.OptimizerConfig().Targets)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("BENTOKAZE_SOLVER_ENGINE", "simplex")
	t.Setenv("BENTOKAZE_OPTIMIZER_MAX_VOLUME", "750")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "simplex", cfg.Solver.Engine)
	assert.Equal(t, 750.0, cfg.Optimizer.MaxVolume)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{
			name:  "non-positive volume",
			body:  "optimizer:\n  max_volume: 0\n",
			field: "optimizer.max_volume",
		},
		{
			name:  "negative minimum mass",
			body:  "optimizer:\n  min_mass_per_category: -1\n",
			field: "optimizer.min_mass_per_category",
		},
		{
			name:  "unknown engine",
			body:  "solver:\n  engine: glpk\n",
			field: "solver.engine",
		},
		{
			name:  "unknown export format",
			body:  "export:\n  formats: [lp, xml]\n",
			field: "export.formats[1]",
		},
		{
			name:  "unknown nutrient",
			body:  "nutrition:\n  sugar: 10\n",
			field: "nutrition.sugar",
		},
		{
			name:  "bad direction",
			body:  "nutrition:\n  fat: 20\noptimizer:\n  constraints:\n    fat: around\n",
			field: "optimizer.constraints.fat",
		},
		{
			name:  "port out of range",
			body:  "server:\n  port: 70000\n",
			field: "server.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			var cfgErr *milp.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestOptimizerConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	want := models.OptimizerConfig{
		MaxVolume:          1000,
		MinMassPerCategory: 1,
		PortionSize:        100,
		PortionUnit:        "g",
		Targets: []models.NutrientTarget{
			{Nutrient: models.Fat, Bound: 20, Direction: "<="},
			{Nutrient: models.Protein, Bound: 50, Direction: ">="},
			{Nutrient: models.Carb, Bound: 100, Direction: "<="},
			{Nutrient: models.Salt, Bound: 5, Direction: "<="},
		},
	}
	if diff := cmp.Diff(want, cfg.OptimizerConfig()); diff != "" {
		t.Errorf("OptimizerConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestOptimizerConfigDefaultDirections(t *testing.T) {
	cfg := &Config{
		Nutrition: map[string]float64{"protein": 60, "salt": 3},
		Optimizer: OptimizerSettings{MaxVolume: 500, PortionSize: 100},
	}

	targets := cfg.OptimizerConfig().Targets
	require.Len(t, targets, 2)
	assert.Equal(t, models.NutrientTarget{Nutrient: models.Protein, Bound: 60, Direction: models.AtLeast}, targets[0])
	assert.Equal(t, models.NutrientTarget{Nutrient: models.Salt, Bound: 3, Direction: models.AtMost}, targets[1])
}

func TestOptimizerConfigBuilds(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	catalog := models.NewCatalog(
		[]models.FoodItem{{Name: "Rice", Category: "Grain", Carb: 28, Protein: 2.7, UnitPrice: 30}},
		[]models.CategoryDensity{{Category: "Grain", Density: 0.9}},
	)
	m, err := milp.Build(catalog, cfg.OptimizerConfig())
	require.NoError(t, err)
	assert.Equal(t, 4, m.CountRole(milp.RoleNutrient))
}
