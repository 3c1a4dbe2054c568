// internal/server/tools.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"bentokaze/internal/export"
	"bentokaze/internal/milp"
	"bentokaze/internal/models"
	"bentokaze/internal/optimizer"
	"bentokaze/internal/report"
)

// ModelParams overrides the configured optimizer settings for one call.
type ModelParams struct {
	Nutrition          map[string]float64 `json:"nutrition,omitempty" description:"Nutrient bounds keyed by fat, protein, carb or salt"`
	Directions         map[string]string  `json:"directions,omitempty" description:"Direction per nutrient: at-least or at-most"`
	MaxVolume          *float64           `json:"max_volume,omitempty" description:"Volume budget of the box"`
	MinMassPerCategory *float64           `json:"min_mass_per_category,omitempty" description:"Minimum mass of any category that is used, 0 disables"`
}

type OptimizeParams struct {
	ModelParams
	ReportFormat string `json:"report_format,omitempty" description:"markdown (default) or yaml"`
}

type ExportModelParams struct {
	ModelParams
	Format string `json:"format,omitempty" description:"lp (default), mps, mps-free or json"`
}

type ListFoodsParams struct {
	Category string `json:"category,omitempty" description:"Only list items of this category"`
}

type toolHandler func(context.Context, *protocol.CallToolRequest) (*protocol.CallToolResult, error)

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var toolCatalog = []toolInfo{
	{Name: "optimize_bento", Description: "Find the cheapest bento meeting the nutrition targets"},
	{Name: "export_model", Description: "Return the optimization model as LP, MPS or JSON text"},
	{Name: "list_foods", Description: "List the food items in the catalog"},
}

func (s *BentoServer) tools() map[string]toolHandler {
	return map[string]toolHandler{
		"optimize_bento": s.handleOptimize,
		"export_model":   s.handleExportModel,
		"list_foods":     s.handleListFoods,
	}
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal parameters: %w", err)
	}

	return nil
}

// invalidParams marks errors caused by the caller's arguments.
type invalidParams struct{ err error }

func (e *invalidParams) Error() string { return "invalid parameters: " + e.err.Error() }
func (e *invalidParams) Unwrap() error { return e.err }

func statusFor(err error) int {
	var (
		paramErr  *invalidParams
		cfgErr    *milp.ConfigurationError
		exportErr *export.ExportError
		reportErr *report.ReportError
	)
	switch {
	case errors.As(err, &paramErr), errors.As(err, &cfgErr), errors.As(err, &exportErr), errors.As(err, &reportErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *BentoServer) handleOptimize(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params OptimizeParams
	if err := extractParams(req, &params); err != nil {
		return nil, &invalidParams{err}
	}

	format, err := report.ParseFormat(params.ReportFormat)
	if err != nil {
		return nil, err
	}
	cfg, err := s.optimizerConfig(params.ModelParams)
	if err != nil {
		return nil, err
	}

	res, err := s.pipeline.Run(ctx, optimizer.Request{Config: cfg, Timeout: s.config.Timeout})
	if err != nil {
		return nil, err
	}

	rendered, err := res.Report.Render(format)
	if err != nil {
		return nil, err
	}

	return s.createJSONResponse(map[string]interface{}{
		"run_id":   res.RunID,
		"status":   res.Solution.Status,
		"solution": res.Solution,
		"report":   res.Report,
		"rendered": string(rendered),
	})
}

func (s *BentoServer) handleExportModel(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ExportModelParams
	if err := extractParams(req, &params); err != nil {
		return nil, &invalidParams{err}
	}
	if params.Format == "" {
		params.Format = string(export.FormatLP)
	}

	format, err := export.ParseFormat(params.Format)
	if err != nil {
		return nil, err
	}
	cfg, err := s.optimizerConfig(params.ModelParams)
	if err != nil {
		return nil, err
	}

	catalog, err := s.storage.LoadCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	m, err := milp.Build(catalog, cfg)
	if err != nil {
		return nil, err
	}
	enc, err := export.Encode(m, format)
	if err != nil {
		return nil, err
	}
	s.metrics.IncExport(string(format))

	return s.createJSONResponse(map[string]interface{}{
		"format":      format,
		"file_name":   format.FileName(m.Name()),
		"variables":   m.NumVariables(),
		"constraints": m.NumConstraints(),
		"content":     enc.String(),
	})
}

func (s *BentoServer) handleListFoods(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ListFoodsParams
	if err := extractParams(req, &params); err != nil {
		return nil, &invalidParams{err}
	}

	foods, err := s.storage.ListFoods(ctx, params.Category)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve foods: %w", err)
	}
	if foods == nil {
		foods = []models.FoodItem{}
	}

	return s.createJSONResponse(map[string]interface{}{
		"count": len(foods),
		"foods": foods,
	})
}

// optimizerConfig applies the call's overrides to a copy of the configured
// settings. Unknown nutrients are passed on for the builder to reject.
func (s *BentoServer) optimizerConfig(p ModelParams) (models.OptimizerConfig, error) {
	cfg := s.config.Optimizer
	cfg.Targets = append([]models.NutrientTarget(nil), cfg.Targets...)
	if p.MaxVolume != nil {
		cfg.MaxVolume = *p.MaxVolume
	}
	if p.MinMassPerCategory != nil {
		cfg.MinMassPerCategory = *p.MinMassPerCategory
	}

	find := func(name string) (models.Nutrient, int) {
		n := models.Nutrient(strings.ToLower(strings.TrimSpace(name)))
		for i, t := range cfg.Targets {
			if t.Nutrient == n {
				return n, i
			}
		}
		return n, -1
	}

	for _, name := range sortedKeys(p.Nutrition) {
		n, i := find(name)
		if i >= 0 {
			cfg.Targets[i].Bound = p.Nutrition[name]
			continue
		}
		cfg.Targets = append(cfg.Targets, models.NutrientTarget{
			Nutrient:  n,
			Bound:     p.Nutrition[name],
			Direction: models.DefaultDirection(n),
		})
	}

	for _, name := range sortedKeys(p.Directions) {
		_, i := find(name)
		if i < 0 {
			return models.OptimizerConfig{}, &milp.ConfigurationError{
				Field:  "directions." + name,
				Reason: "no target for this nutrient",
			}
		}
		cfg.Targets[i].Direction = models.Direction(p.Directions[name])
	}
	return cfg, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
