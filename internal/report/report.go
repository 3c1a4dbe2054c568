// internal/report/report.go
package report

import (
	"fmt"
	"math"
	"sort"

	"bentokaze/internal/models"
)

// DefaultTolerance is the relative slack allowed before a target is flagged.
const DefaultTolerance = 1e-6

type ReportError struct {
	Reason string
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("report error: %s", e.Reason)
}

type ItemLine struct {
	Name     string  `json:"name" yaml:"name"`
	Category string  `json:"category" yaml:"category"`
	Mass     float64 `json:"mass" yaml:"mass"`
	Cost     float64 `json:"cost" yaml:"cost"`
}

type NutrientLine struct {
	Nutrient  models.Nutrient  `json:"nutrient" yaml:"nutrient"`
	Achieved  float64          `json:"achieved" yaml:"achieved"`
	Target    *float64         `json:"target,omitempty" yaml:"target,omitempty"`
	Direction models.Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
	Violated  bool             `json:"violated,omitempty" yaml:"violated,omitempty"`
}

type CategoryLine struct {
	Category string  `json:"category" yaml:"category"`
	Mass     float64 `json:"mass" yaml:"mass"`
}

// Results is only present for optimal solutions.
type Results struct {
	Items          []ItemLine     `json:"items" yaml:"items"`
	Nutrients      []NutrientLine `json:"nutrients" yaml:"nutrients"`
	Volume         float64        `json:"volume" yaml:"volume"`
	VolumeBudget   float64        `json:"volume_budget" yaml:"volume_budget"`
	VolumeViolated bool           `json:"volume_violated,omitempty" yaml:"volume_violated,omitempty"`
	Cost           float64        `json:"cost" yaml:"cost"`
	Unit           string         `json:"unit" yaml:"unit"`
	Categories     []CategoryLine `json:"categories" yaml:"categories"`
}

type Report struct {
	RunID   string             `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Status  models.SolveStatus `json:"status" yaml:"status"`
	Solver  string             `json:"solver,omitempty" yaml:"solver,omitempty"`
	Results *Results           `json:"results,omitempty" yaml:"results,omitempty"`
}

// Reporter looks up solution entries in the catalog the model was built from.
type Reporter struct {
	catalog   *models.Catalog
	config    models.OptimizerConfig
	tolerance float64
}

type Option func(*Reporter)

func WithTolerance(tol float64) Option {
	return func(r *Reporter) {
		if tol >= 0 {
			r.tolerance = tol
		}
	}
}

func New(catalog *models.Catalog, cfg models.OptimizerConfig, opts ...Option) *Reporter {
	r := &Reporter{catalog: catalog, config: cfg, tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Build assembles the report for sol. Totals are recomputed from the catalog
// so that a solution naming unknown items is caught here.
func (r *Reporter) Build(runID string, sol models.Solution) (*Report, error) {
	rep := &Report{RunID: runID, Status: sol.Status, Solver: sol.Solver}
	if !sol.IsOptimal() {
		return rep, nil
	}
	if r.catalog == nil {
		return nil, &ReportError{Reason: "no catalog to look up items"}
	}

	portion := r.config.PortionSize
	if portion <= 0 {
		portion = models.DefaultPortionSize
	}
	unit := r.config.PortionUnit
	if unit == "" {
		unit = models.DefaultPortionUnit
	}

	res := &Results{VolumeBudget: r.config.MaxVolume, Unit: unit}
	totals := make(map[models.Nutrient]float64, len(models.TrackedNutrients))
	categoryMass := make(map[string]float64)

	for name, mass := range sol.Mass {
		item, ok := r.catalog.Item(name)
		if !ok {
			return nil, &ReportError{Reason: fmt.Sprintf("solution references unknown item %q", name)}
		}
		if mass == 0 {
			continue
		}
		density, ok := r.catalog.Density(item.Category)
		if !ok {
			return nil, &ReportError{Reason: fmt.Sprintf("item %q has no density for category %q", name, item.Category)}
		}
		cost := item.UnitPrice / portion * mass
		res.Items = append(res.Items, ItemLine{Name: name, Category: item.Category, Mass: mass, Cost: cost})
		for _, n := range models.TrackedNutrients {
			totals[n] += item.NutrientValue(n) / portion * mass
		}
		res.Volume += mass / density
		res.Cost += cost
		categoryMass[item.Category] += mass
	}
	sort.Slice(res.Items, func(i, j int) bool {
		a, b := res.Items[i], res.Items[j]
		if a.Mass != b.Mass {
			return a.Mass > b.Mass
		}
		return a.Name < b.Name
	})

	for _, n := range models.TrackedNutrients {
		line := NutrientLine{Nutrient: n, Achieved: totals[n]}
		if t, ok := r.config.Target(n); ok {
			bound := t.Bound
			line.Target = &bound
			line.Direction = t.Direction
			line.Violated = r.violated(totals[n], t.Direction, bound)
		}
		res.Nutrients = append(res.Nutrients, line)
	}
	if res.VolumeBudget > 0 {
		res.VolumeViolated = r.violated(res.Volume, models.AtMost, res.VolumeBudget)
	}

	for category := range sol.CategoryUsed {
		if _, ok := r.catalog.Density(category); !ok {
			return nil, &ReportError{Reason: fmt.Sprintf("solution references unknown category %q", category)}
		}
	}
	for _, category := range r.catalog.Categories() {
		used := categoryMass[category] > 0
		if sol.CategoryUsed != nil {
			used = sol.CategoryUsed[category]
		}
		if used {
			res.Categories = append(res.Categories, CategoryLine{Category: category, Mass: categoryMass[category]})
		}
	}

	rep.Results = res
	return rep, nil
}

func (r *Reporter) violated(achieved float64, dir models.Direction, bound float64) bool {
	slack := r.tolerance * math.Max(1, math.Abs(bound))
	if dir == models.AtLeast {
		return achieved < bound-slack
	}
	return achieved > bound+slack
}
