// internal/milp/model.go
package milp

import (
	"math"

	"bentokaze/internal/models"
)

type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	default:
		return "="
	}
}

// Variable is a decision variable of the program. The concrete kinds are
// *Continuous and *Binary.
type Variable interface {
	// Index is the position of the variable in Model.Variables.
	Index() int
	Name() string
	Lower() float64
	Upper() float64
	isVariable()
}

// Continuous is the mass in grams assigned to one food item.
type Continuous struct {
	index int
	item  string
}

func (v *Continuous) Index() int     { return v.index }
func (v *Continuous) Name() string   { return v.item }
func (v *Continuous) Lower() float64 { return 0 }
func (v *Continuous) Upper() float64 { return math.Inf(1) }
func (v *Continuous) Item() string   { return v.item }
func (*Continuous) isVariable()      {}

// Binary is the used indicator of one food category.
type Binary struct {
	index    int
	category string
}

func (v *Binary) Index() int       { return v.index }
func (v *Binary) Name() string     { return "used_" + v.category }
func (v *Binary) Lower() float64   { return 0 }
func (v *Binary) Upper() float64   { return 1 }
func (v *Binary) Category() string { return v.category }
func (*Binary) isVariable()        {}

type Term struct {
	Var  Variable
	Coef float64
}

type Role int

const (
	RoleNutrient Role = iota
	RoleVolume
	RoleLinkLower
	RoleLinkUpper
)

func (r Role) String() string {
	switch r {
	case RoleNutrient:
		return "nutrient"
	case RoleVolume:
		return "volume"
	case RoleLinkLower:
		return "link-lower"
	default:
		return "link-upper"
	}
}

type Constraint struct {
	// Name is c1, c2, ... in insertion order.
	Name     string
	Terms    []Term
	Sense    Sense
	RHS      float64
	Role     Role
	Nutrient models.Nutrient
	Category string
}

// Model is a built mixed-integer linear program. Only Build creates one and
// nothing mutates it afterwards; accessors hand out copies.
type Model struct {
	name        string
	vars        []Variable
	mass        []*Continuous
	used        []*Binary
	objective   []Term
	constraints []Constraint
	catalog     *models.Catalog
	config      models.OptimizerConfig
	bigM        map[string]float64
}

func (m *Model) Name() string { return m.name }

func (m *Model) Variables() []Variable {
	return append([]Variable(nil), m.vars...)
}

func (m *Model) MassVariables() []*Continuous {
	return append([]*Continuous(nil), m.mass...)
}

func (m *Model) Binaries() []*Binary {
	return append([]*Binary(nil), m.used...)
}

func (m *Model) Objective() []Term {
	return append([]Term(nil), m.objective...)
}

func (m *Model) Constraints() []Constraint {
	out := make([]Constraint, len(m.constraints))
	for i, c := range m.constraints {
		c.Terms = append([]Term(nil), c.Terms...)
		out[i] = c
	}
	return out
}

func (m *Model) NumVariables() int   { return len(m.vars) }
func (m *Model) NumConstraints() int { return len(m.constraints) }

// CountRole returns the number of constraints with role r.
func (m *Model) CountRole(r Role) int {
	n := 0
	for _, c := range m.constraints {
		if c.Role == r {
			n++
		}
	}
	return n
}

func (m *Model) Catalog() *models.Catalog        { return m.catalog }
func (m *Model) Config() models.OptimizerConfig { return m.config }

// BigM returns the linking constant used for category. It is zero when the
// diversity rule is disabled.
func (m *Model) BigM(category string) float64 {
	return m.bigM[category]
}

// ObjectiveValue evaluates the objective at values, indexed like Variables.
func (m *Model) ObjectiveValue(values []float64) float64 {
	return evaluate(m.objective, values)
}

// Activity evaluates the left-hand side of constraint i at values.
func (m *Model) Activity(i int, values []float64) float64 {
	return evaluate(m.constraints[i].Terms, values)
}

func evaluate(terms []Term, values []float64) float64 {
	var sum float64
	for _, t := range terms {
		sum += t.Coef * values[t.Var.Index()]
	}
	return sum
}

// solutionEpsilon absorbs solver round-off around zero.
const solutionEpsilon = 1e-9

// Solution turns a solver assignment into a models.Solution. Assignments are
// only read for StatusOptimal; other statuses carry no values.
func (m *Model) Solution(status models.SolveStatus, values []float64) models.Solution {
	sol := models.Solution{Status: status}
	if status != models.StatusOptimal || len(values) != len(m.vars) {
		return sol
	}

	portion := m.config.PortionSize
	sol.Mass = make(map[string]float64, len(m.mass))
	sol.Nutrients = make(map[models.Nutrient]float64, len(models.TrackedNutrients))
	for _, v := range m.mass {
		mass := values[v.index]
		if math.Abs(mass) < solutionEpsilon {
			mass = 0
		}
		sol.Mass[v.item] = mass

		item, _ := m.catalog.Item(v.item)
		for _, n := range models.TrackedNutrients {
			sol.Nutrients[n] += item.NutrientValue(n) / portion * mass
		}
		density, _ := m.catalog.Density(item.Category)
		sol.Volume += mass / density
	}
	if len(m.used) > 0 {
		sol.CategoryUsed = make(map[string]bool, len(m.used))
		for _, v := range m.used {
			sol.CategoryUsed[v.category] = values[v.index] > 0.5
		}
	}
	sol.Cost = m.ObjectiveValue(values)
	return sol
}
