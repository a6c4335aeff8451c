package food

import (
	"log/slog"
)

// UnitOption is a unit the UI can offer for a food.
type UnitOption struct {
	Unit          string  `json:"unit"`
	Label         string  `json:"label"`
	GramsPerUnit  float64 `json:"grams_per_unit"`
	IsRecommended bool    `json:"is_recommended"`
}

// Converter maps (quantity, unit) pairs to gram equivalents using the
// category tables in Rules.
type Converter struct {
	rules *Rules
}

func NewConverter(rules *Rules) *Converter {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Converter{rules: rules}
}

// Category returns the name of the category food matches, or "generic".
func (c *Converter) Category(food string) string {
	if cat := c.rules.category(food); cat != nil {
		return cat.Name
	}
	return "generic"
}

// SuggestUnits returns the units offered for food, recommended unit first.
// Exactly one option has IsRecommended set.
func (c *Converter) SuggestUnits(food string) []UnitOption {
	table := c.table(food)

	out := make([]UnitOption, 0, len(table.Units))
	for _, u := range table.Units {
		if u.Unit == table.Recommended {
			out = append(out, UnitOption{Unit: u.Unit, Label: u.Label, GramsPerUnit: u.GramsPerUnit, IsRecommended: true})
			break
		}
	}
	for _, u := range table.Units {
		if u.Unit == table.Recommended {
			continue
		}
		out = append(out, UnitOption{Unit: u.Unit, Label: u.Label, GramsPerUnit: u.GramsPerUnit})
	}
	return out
}

// GramsPerUnit resolves unit for food: the category table first, then the
// generic table. ok is false when neither knows the unit.
func (c *Converter) GramsPerUnit(food, unit string) (grams float64, ok bool) {
	canonical := c.rules.canonicalUnit(unit)
	if u := c.table(food).find(canonical); u != nil {
		return u.GramsPerUnit, true
	}
	if u := c.rules.Generic.find(canonical); u != nil {
		return u.GramsPerUnit, true
	}
	return 1, false
}

// ToGrams converts quantity of unit into grams (or millilitres for liquids).
// Unknown units fall back to the identity conversion and are logged. The
// quantity is not validated or rounded.
func (c *Converter) ToGrams(food string, quantity float64, unit string) float64 {
	perUnit, ok := c.GramsPerUnit(food, unit)
	if !ok {
		slog.Warn("UNITS: Unknown unit, using identity conversion", "food", food, "unit", unit)
	}
	return quantity * perUnit
}

func (c *Converter) table(food string) UnitTable {
	if cat := c.rules.category(food); cat != nil {
		return cat.UnitTable
	}
	return c.rules.Generic
}
