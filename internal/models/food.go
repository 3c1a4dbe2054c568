// internal/models/food.go
package models

import (
	"strings"
)

type FoodItem struct {
	Name      string  `json:"name" yaml:"name"`
	Category  string  `json:"category" yaml:"category"`
	Fat       float64 `json:"fat" yaml:"fat"`
	Carb      float64 `json:"carb" yaml:"carb"`
	Salt      float64 `json:"salt" yaml:"salt"`
	Protein   float64 `json:"protein" yaml:"protein"`
	UnitPrice float64 `json:"unit_price" yaml:"unit_price"`
}

// NutrientValue returns the amount of n per portion basis.
func (f FoodItem) NutrientValue(n Nutrient) float64 {
	switch n {
	case Fat:
		return f.Fat
	case Carb:
		return f.Carb
	case Salt:
		return f.Salt
	case Protein:
		return f.Protein
	}
	return 0
}

type CategoryDensity struct {
	Category string  `json:"category" yaml:"category"`
	Density  float64 `json:"density" yaml:"density"`
}

type Nutrient string

const (
	Fat     Nutrient = "fat"
	Protein Nutrient = "protein"
	Carb    Nutrient = "carb"
	Salt    Nutrient = "salt"
)

// TrackedNutrients lists the nutrients in the order their rows are emitted.
var TrackedNutrients = []Nutrient{Fat, Protein, Carb, Salt}

func ParseNutrient(s string) (Nutrient, bool) {
	n := Nutrient(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range TrackedNutrients {
		if n == known {
			return n, true
		}
	}
	return "", false
}

type Direction string

const (
	AtLeast Direction = "at-least"
	AtMost  Direction = "at-most"
)

// ParseDirection accepts the canonical names as well as the operator and
// min/max spellings used in config files.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "at-least", ">=", "min":
		return AtLeast, true
	case "at-most", "<=", "max":
		return AtMost, true
	}
	return "", false
}

// DefaultDirection is the conventional sense of a target on n: protein is a
// floor, the rest are ceilings.
func DefaultDirection(n Nutrient) Direction {
	if n == Protein {
		return AtLeast
	}
	return AtMost
}

type NutrientTarget struct {
	Nutrient  Nutrient  `json:"nutrient" yaml:"nutrient"`
	Bound     float64   `json:"bound" yaml:"bound"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// Catalog is the loaded food data. It is not validated here; the model
// builder rejects inconsistent catalogs.
type Catalog struct {
	items     []FoodItem
	densities []CategoryDensity
	byName    map[string]int
	byCat     map[string]int
}

func NewCatalog(items []FoodItem, densities []CategoryDensity) *Catalog {
	c := &Catalog{
		items:     append([]FoodItem(nil), items...),
		densities: append([]CategoryDensity(nil), densities...),
		byName:    make(map[string]int, len(items)),
		byCat:     make(map[string]int, len(densities)),
	}
	for i, item := range c.items {
		if _, exists := c.byName[item.Name]; !exists {
			c.byName[item.Name] = i
		}
	}
	for i, d := range c.densities {
		if _, exists := c.byCat[d.Category]; !exists {
			c.byCat[d.Category] = i
		}
	}
	return c
}

func (c *Catalog) Items() []FoodItem {
	return append([]FoodItem(nil), c.items...)
}

func (c *Catalog) Densities() []CategoryDensity {
	return append([]CategoryDensity(nil), c.densities...)
}

func (c *Catalog) Len() int {
	return len(c.items)
}

func (c *Catalog) Item(name string) (FoodItem, bool) {
	i, ok := c.byName[name]
	if !ok {
		return FoodItem{}, false
	}
	return c.items[i], true
}

func (c *Catalog) Density(category string) (float64, bool) {
	i, ok := c.byCat[category]
	if !ok {
		return 0, false
	}
	return c.densities[i].Density, true
}

// Categories returns the distinct item categories in order of first appearance.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range c.items {
		if !seen[item.Category] {
			seen[item.Category] = true
			out = append(out, item.Category)
		}
	}
	return out
}
