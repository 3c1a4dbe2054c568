// internal/optimizer/pipeline.go
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bentokaze/internal/export"
	"bentokaze/internal/metrics"
	"bentokaze/internal/milp"
	"bentokaze/internal/models"
	"bentokaze/internal/report"
	"bentokaze/internal/solver"
)

// CatalogSource supplies the food catalog for a run.
type CatalogSource interface {
	LoadCatalog(ctx context.Context) (*models.Catalog, error)
}

// Request describes one run. Exports are skipped when Formats is empty and
// the report file is skipped when ReportPath is empty.
type Request struct {
	Config       models.OptimizerConfig
	Formats      []export.Format
	OutputDir    string
	BaseName     string
	Timeout      time.Duration
	ReportPath   string
	ReportFormat report.Format
}

type Result struct {
	RunID    string
	Model    *milp.Model
	Files    []string
	Solution models.Solution
	Report   *report.Report
}

type Pipeline struct {
	catalog CatalogSource
	solver  solver.Solver
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewPipeline(catalog CatalogSource, s solver.Solver, m *metrics.Collector, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{catalog: catalog, solver: s, metrics: m, logger: logger}
}

// Run loads the catalog, builds and exports the model, solves it and reports
// on the solution.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if p.solver == nil {
		return nil, errors.New("no solver configured")
	}
	res, logger, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	logger.Info("Solving model", zap.String("solver", p.solver.Name()), zap.Duration("timeout", req.Timeout))
	sol, err := p.solver.Solve(ctx, res.Model, req.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to solve model: %w", err)
	}
	res.Solution = sol
	p.metrics.ObserveSolve(sol.Solver, string(sol.Status), sol.Elapsed)
	logger.Info("Solve finished",
		zap.String("status", string(sol.Status)),
		zap.Float64("cost", sol.Cost),
		zap.Duration("duration", sol.Elapsed))

	rep, err := report.New(res.Model.Catalog(), res.Model.Config()).Build(res.RunID, sol)
	if err != nil {
		return nil, err
	}
	res.Report = rep

	if req.ReportPath != "" {
		if err := rep.WriteFile(req.ReportPath, req.ReportFormat); err != nil {
			return nil, err
		}
		logger.Info("Report written", zap.String("path", req.ReportPath))
	}
	return res, nil
}

// Export builds the model and writes it in the requested formats without
// solving.
func (p *Pipeline) Export(ctx context.Context, req Request) (*Result, error) {
	res, _, err := p.prepare(ctx, req)
	return res, err
}

func (p *Pipeline) prepare(ctx context.Context, req Request) (*Result, *zap.Logger, error) {
	res := &Result{RunID: uuid.NewString()}
	logger := p.logger.With(zap.String("run_id", res.RunID))

	catalog, err := p.catalog.LoadCatalog(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	start := time.Now()
	m, err := milp.Build(catalog, req.Config)
	if err != nil {
		logger.Error("Failed to build model", zap.Error(err))
		return nil, nil, err
	}
	p.metrics.ObserveBuild(time.Since(start), m.NumVariables(), m.NumConstraints())
	logger.Info("Model built",
		zap.Int("items", catalog.Len()),
		zap.Int("variables", m.NumVariables()),
		zap.Int("constraints", m.NumConstraints()))
	res.Model = m

	if len(req.Formats) > 0 {
		base := req.BaseName
		if base == "" {
			base = "model"
		}
		files, err := export.WriteFiles(m, req.OutputDir, base, req.Formats)
		if err != nil {
			return nil, nil, err
		}
		for _, f := range req.Formats {
			p.metrics.IncExport(string(f))
		}
		res.Files = files
		logger.Info("Model exported", zap.Strings("files", files))
	}
	return res, logger, nil
}

// StaticCatalog serves a fixed catalog.
type StaticCatalog struct {
	Catalog *models.Catalog
}

func (s StaticCatalog) LoadCatalog(context.Context) (*models.Catalog, error) {
	if s.Catalog == nil {
		return nil, errors.New("no catalog loaded")
	}
	return s.Catalog, nil
}
