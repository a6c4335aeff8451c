package food

import (
	"fmt"

	"github.com/shopspring/decimal"

	"mealvoice"
)

// Rescaler recomputes nutrition when the gram weight or cooking method of an
// item changes.
type Rescaler struct {
	rules *Rules
}

func NewRescaler(rules *Rules) *Rescaler {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Rescaler{rules: rules}
}

// Rescale scales base, measured at baseGrams, to newGrams. Calories are
// rounded to whole numbers and macros to one decimal place. A non-positive
// baseGrams returns ErrInvalidBaseQuantity.
func (r *Rescaler) Rescale(base Nutrition, baseGrams, newGrams float64) (Nutrition, error) {
	if baseGrams <= 0 {
		return Nutrition{}, fmt.Errorf("rescale from %v g: %w", baseGrams, mealvoice.ErrInvalidBaseQuantity)
	}
	factor := decimal.NewFromFloat(newGrams).Div(decimal.NewFromFloat(baseGrams))
	return Nutrition{
		Calories: scaleRound(base.Calories, factor, 0),
		Protein:  scaleRound(base.Protein, factor, 1),
		Carbs:    scaleRound(base.Carbs, factor, 1),
		Fat:      scaleRound(base.Fat, factor, 1),
	}, nil
}

// Multiplier returns the calorie/fat multiplier for a cooking method. Unknown
// or empty methods return 1.
func (r *Rescaler) Multiplier(method string) float64 {
	if m, ok := r.rules.multiplier(method); ok {
		return m.Multiplier
	}
	return 1
}

// CanonicalMethod returns the table name for a cooking method alias, or the
// input unchanged when the method is unknown.
func (r *Rescaler) CanonicalMethod(method string) string {
	if m, ok := r.rules.multiplier(method); ok {
		return m.Method
	}
	return method
}

// ApplyCookingMultiplier scales calories and fat by the method's multiplier.
// Protein and carbs are not affected by absorbed cooking fat.
func (r *Rescaler) ApplyCookingMultiplier(n Nutrition, method string) Nutrition {
	return r.applyFactor(n, decimal.NewFromFloat(r.Multiplier(method)))
}

// ChangeCookingMethod re-bases nutrition computed for method from onto method to.
func (r *Rescaler) ChangeCookingMethod(n Nutrition, from, to string) Nutrition {
	factor := decimal.NewFromFloat(r.Multiplier(to)).Div(decimal.NewFromFloat(r.Multiplier(from)))
	return r.applyFactor(n, factor)
}

func (r *Rescaler) applyFactor(n Nutrition, factor decimal.Decimal) Nutrition {
	return Nutrition{
		Calories: scaleRound(n.Calories, factor, 0),
		Protein:  n.Protein,
		Carbs:    n.Carbs,
		Fat:      scaleRound(n.Fat, factor, 1),
	}
}

// Round rounds calories to whole numbers and macros to one decimal place.
func Round(n Nutrition) Nutrition {
	one := decimal.NewFromInt(1)
	return Nutrition{
		Calories: scaleRound(n.Calories, one, 0),
		Protein:  scaleRound(n.Protein, one, 1),
		Carbs:    scaleRound(n.Carbs, one, 1),
		Fat:      scaleRound(n.Fat, one, 1),
	}
}

func scaleRound(v float64, factor decimal.Decimal, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Mul(factor).Round(places).Float64()
	return f
}
