package optimizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bentokaze/internal/export"
	"bentokaze/internal/metrics"
	"bentokaze/internal/milp"
	"bentokaze/internal/models"
	"bentokaze/internal/report"
	"bentokaze/internal/solver"
	"bentokaze/internal/storage"
)

func lunch() *models.Catalog {
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

func lunchRequest(dir string) Request {
	return Request{
		Config: models.OptimizerConfig{
			MaxVolume:          1000,
			MinMassPerCategory: 1,
			PortionSize:        100,
			PortionUnit:        "g",
			Targets: []models.NutrientTarget{
				{Nutrient: models.Protein, Bound: 50, Direction: ">="},
				{Nutrient: models.Fat, Bound: 20, Direction: "<="},
				{Nutrient: models.Carb, Bound: 100, Direction: "<="},
				{Nutrient: models.Salt, Bound: 5, Direction: "<="},
			},
		},
		Formats:      []export.Format{export.FormatLP, export.FormatMPS},
		OutputDir:    filepath.Join(dir, "models"),
		BaseName:     "bento",
		Timeout:      time.Minute,
		ReportPath:   filepath.Join(dir, "models", "report.md"),
		ReportFormat: report.FormatMarkdown,
	}
}

func newPipeline(catalog CatalogSource, m *metrics.Collector) *Pipeline {
	return NewPipeline(catalog, solver.NewSimplex(zap.NewNop()), m, zap.NewNop())
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	collector := metrics.NewCollector()

	res, err := newPipeline(StaticCatalog{Catalog: lunch()}, collector).Run(context.Background(), lunchRequest(dir))
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, models.StatusOptimal, res.Solution.Status)
	assert.InDelta(t, 50/0.31*1.5, res.Solution.Cost, 1e-6)
	assert.Equal(t, []string{
		filepath.Join(dir, "models", "bento.lp"),
		filepath.Join(dir, "models", "bento.mps"),
	}, res.Files)
	for _, f := range res.Files {
		assert.FileExists(t, f)
	}

	data, err := os.ReadFile(filepath.Join(dir, "models", "report.md"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Optimization Report\n\n**Status:** optimal\n**Run:** "+res.RunID))
	assert.Contains(t, string(data), "| Chicken_Breast | Meat |")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Runs.WithLabelValues("optimal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Exports.WithLabelValues("mps")))
}

func TestRunInfeasible(t *testing.T) {
	dir := t.TempDir()
	req := lunchRequest(dir)
	req.Config.MaxVolume = 10
	req.Formats = nil

	res, err := newPipeline(StaticCatalog{Catalog: lunch()}, nil).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInfeasible, res.Solution.Status)
	assert.Empty(t, res.Files)

	data, err := os.ReadFile(req.ReportPath)
	require.NoError(t, err)
	assert.Equal(t, "# Optimization Report\n\n**Status:** infeasible\n", string(data))
}

func TestRunFromStorage(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.SaveCatalog(context.Background(), lunch()))

	req := lunchRequest(t.TempDir())
	req.ReportPath = ""
	res, err := newPipeline(store, nil).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOptimal, res.Solution.Status)
	require.NotNil(t, res.Report)
	assert.Equal(t, res.RunID, res.Report.RunID)
}

func TestRunRejectsBadConfiguration(t *testing.T) {
	req := lunchRequest(t.TempDir())
	req.Config.Targets[0].Direction = "roughly"

	_, err := newPipeline(StaticCatalog{Catalog: lunch()}, nil).Run(context.Background(), req)
	var cfgErr *milp.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "targets[protein]", cfgErr.Field)
	assert.NoDirExists(t, req.OutputDir)
}

func TestRunWithoutSolver(t *testing.T) {
	p := NewPipeline(StaticCatalog{Catalog: lunch()}, nil, nil, nil)
	_, err := p.Run(context.Background(), lunchRequest(t.TempDir()))
	assert.Error(t, err)
}

func TestRunMissingCatalog(t *testing.T) {
	_, err := newPipeline(StaticCatalog{}, nil).Run(context.Background(), lunchRequest(t.TempDir()))
	assert.ErrorContains(t, err, "failed to load catalog")
}

func TestExport(t *testing.T) {
	req := lunchRequest(t.TempDir())
	req.Formats = []export.Format{export.FormatJSON, export.FormatFreeMPS}

	res, err := newPipeline(StaticCatalog{Catalog: lunch()}, nil).Export(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(req.OutputDir, "bento.json"),
		filepath.Join(req.OutputDir, "bento-free.mps"),
	}, res.Files)
	assert.Equal(t, models.SolveStatus(""), res.Solution.Status)
	assert.NoFileExists(t, req.ReportPath)
}
