// internal/milp/build.go
package milp

import (
	"fmt"
	"math"

	"bentokaze/internal/models"
)

const ModelName = "bento"

// Build turns a catalog and an optimizer configuration into a cost-minimizing
// program. It validates both inputs and never touches a solver.
func Build(catalog *models.Catalog, cfg models.OptimizerConfig) (*Model, error) {
	targets, err := validate(catalog, cfg)
	if err != nil {
		return nil, err
	}

	m := &Model{
		name:    ModelName,
		catalog: catalog,
		config:  cfg,
		bigM:    make(map[string]float64),
	}
	m.config.Targets = targets

	items := catalog.Items()
	for _, item := range items {
		v := &Continuous{index: len(m.vars), item: item.Name}
		m.vars = append(m.vars, v)
		m.mass = append(m.mass, v)
	}

	categories := catalog.Categories()
	if cfg.DiversityEnabled() {
		for _, category := range categories {
			v := &Binary{index: len(m.vars), category: category}
			m.vars = append(m.vars, v)
			m.used = append(m.used, v)
		}
	}

	portion := cfg.PortionSize
	for i, item := range items {
		if item.UnitPrice != 0 {
			m.objective = append(m.objective, Term{Var: m.mass[i], Coef: item.UnitPrice / portion})
		}
	}

	for _, target := range targets {
		var terms []Term
		for i, item := range items {
			if value := item.NutrientValue(target.Nutrient); value != 0 {
				terms = append(terms, Term{Var: m.mass[i], Coef: value / portion})
			}
		}
		sense := GreaterEqual
		if target.Direction == models.AtMost {
			sense = LessEqual
		}
		m.add(Constraint{
			Terms:    terms,
			Sense:    sense,
			RHS:      target.Bound,
			Role:     RoleNutrient,
			Nutrient: target.Nutrient,
		})
	}

	volume := make([]Term, 0, len(items))
	for i, item := range items {
		density, _ := catalog.Density(item.Category)
		volume = append(volume, Term{Var: m.mass[i], Coef: 1 / density})
	}
	m.add(Constraint{Terms: volume, Sense: LessEqual, RHS: cfg.MaxVolume, Role: RoleVolume})

	for _, used := range m.used {
		category := used.category
		var members []Term
		for i, item := range items {
			if item.Category == category {
				members = append(members, Term{Var: m.mass[i], Coef: 1})
			}
		}

		bigM := cfg.BigM
		if bigM == 0 {
			density, _ := catalog.Density(category)
			bigM = cfg.MaxVolume * density
		}
		m.bigM[category] = bigM

		lower := append(append([]Term(nil), members...), Term{Var: used, Coef: -cfg.MinMassPerCategory})
		m.add(Constraint{Terms: lower, Sense: GreaterEqual, Role: RoleLinkLower, Category: category})

		upper := append(append([]Term(nil), members...), Term{Var: used, Coef: -bigM})
		m.add(Constraint{Terms: upper, Sense: LessEqual, Role: RoleLinkUpper, Category: category})
	}

	return m, nil
}

func (m *Model) add(c Constraint) {
	c.Name = fmt.Sprintf("c%d", len(m.constraints)+1)
	m.constraints = append(m.constraints, c)
}

// validate checks the catalog and configuration and returns the targets in
// emission order with canonical directions.
func validate(catalog *models.Catalog, cfg models.OptimizerConfig) ([]models.NutrientTarget, error) {
	if err := positive("max_volume", cfg.MaxVolume); err != nil {
		return nil, err
	}
	if err := positive("portion_size", cfg.PortionSize); err != nil {
		return nil, err
	}
	if err := nonNegative("min_mass_per_category", cfg.MinMassPerCategory); err != nil {
		return nil, err
	}
	if err := nonNegative("big_m", cfg.BigM); err != nil {
		return nil, err
	}
	if cfg.BigM > 0 && cfg.DiversityEnabled() && cfg.BigM < cfg.MinMassPerCategory {
		return nil, configErrorf("big_m", "%g is below min_mass_per_category %g", cfg.BigM, cfg.MinMassPerCategory)
	}

	if catalog == nil || catalog.Len() == 0 {
		return nil, configErrorf("catalog", "no food items")
	}

	densities := make(map[string]bool)
	for _, d := range catalog.Densities() {
		field := fmt.Sprintf("density[%s]", d.Category)
		if densities[d.Category] {
			return nil, configErrorf(field, "duplicate category")
		}
		densities[d.Category] = true
		if err := positive(field, d.Density); err != nil {
			return nil, err
		}
	}

	names := make(map[string]bool)
	for _, item := range catalog.Items() {
		field := fmt.Sprintf("item[%s]", item.Name)
		if item.Name == "" {
			return nil, configErrorf("item", "empty name")
		}
		if names[item.Name] {
			return nil, configErrorf(field, "duplicate item name")
		}
		names[item.Name] = true
		if !densities[item.Category] {
			return nil, configErrorf(field, "category %q has no density", item.Category)
		}
		for _, n := range models.TrackedNutrients {
			if err := nonNegative(field+"."+string(n), item.NutrientValue(n)); err != nil {
				return nil, err
			}
		}
		if err := nonNegative(field+".unit_price", item.UnitPrice); err != nil {
			return nil, err
		}
	}

	byNutrient := make(map[models.Nutrient]models.NutrientTarget)
	for _, t := range cfg.Targets {
		nutrient, ok := models.ParseNutrient(string(t.Nutrient))
		if !ok {
			return nil, configErrorf("targets", "unknown nutrient %q", t.Nutrient)
		}
		field := fmt.Sprintf("targets[%s]", nutrient)
		if _, dup := byNutrient[nutrient]; dup {
			return nil, configErrorf(field, "duplicate target")
		}
		direction, ok := models.ParseDirection(string(t.Direction))
		if !ok {
			return nil, configErrorf(field, "unrecognized direction %q", t.Direction)
		}
		if err := nonNegative(field+".bound", t.Bound); err != nil {
			return nil, err
		}
		byNutrient[nutrient] = models.NutrientTarget{Nutrient: nutrient, Bound: t.Bound, Direction: direction}
	}

	var targets []models.NutrientTarget
	for _, n := range models.TrackedNutrients {
		if t, ok := byNutrient[n]; ok {
			targets = append(targets, t)
		}
	}
	return targets, nil
}

func positive(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return configErrorf(field, "must be a positive finite number, got %g", v)
	}
	return nil
}

func nonNegative(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return configErrorf(field, "must be a non-negative finite number, got %g", v)
	}
	return nil
}
