// internal/models/optimizer.go
package models

import (
	"time"
)

const (
	DefaultPortionSize = 100.0
	DefaultPortionUnit = "g"
)

type OptimizerConfig struct {
	MaxVolume          float64          `json:"max_volume" yaml:"max_volume"`
	MinMassPerCategory float64          `json:"min_mass_per_category" yaml:"min_mass_per_category"`
	PortionSize        float64          `json:"portion_size" yaml:"portion_size"`
	PortionUnit        string           `json:"portion_unit" yaml:"portion_unit"`
	Targets            []NutrientTarget `json:"targets" yaml:"targets"`
	// BigM overrides the linking constant of every category; zero derives it
	// from the volume budget and the category density.
	BigM float64 `json:"big_m,omitempty" yaml:"big_m,omitempty"`
}

// DiversityEnabled reports whether categories get a used indicator.
func (c OptimizerConfig) DiversityEnabled() bool {
	return c.MinMassPerCategory > 0
}

// Target returns the configured target for n, if any.
func (c OptimizerConfig) Target(n Nutrient) (NutrientTarget, bool) {
	for _, t := range c.Targets {
		if t.Nutrient == n {
			return t, true
		}
	}
	return NutrientTarget{}, false
}

type SolveStatus string

const (
	StatusOptimal    SolveStatus = "optimal"
	StatusInfeasible SolveStatus = "infeasible"
	StatusUnbounded  SolveStatus = "unbounded"
	StatusNotSolved  SolveStatus = "not-solved"
)

type Solution struct {
	Status       SolveStatus          `json:"status" yaml:"status"`
	Mass         map[string]float64   `json:"mass,omitempty" yaml:"mass,omitempty"`
	CategoryUsed map[string]bool      `json:"category_used,omitempty" yaml:"category_used,omitempty"`
	Nutrients    map[Nutrient]float64 `json:"nutrients,omitempty" yaml:"nutrients,omitempty"`
	Volume       float64              `json:"volume" yaml:"volume"`
	Cost         float64              `json:"cost" yaml:"cost"`
	Solver       string               `json:"solver,omitempty" yaml:"solver,omitempty"`
	Elapsed      time.Duration        `json:"elapsed" yaml:"elapsed"`
}

func (s Solution) IsOptimal() bool {
	return s.Status == StatusOptimal
}
