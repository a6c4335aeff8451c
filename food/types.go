package food

// Nutrition holds the four macro fields tracked per food item.
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// Add returns the field-wise sum of n and o.
func (n Nutrition) Add(o Nutrition) Nutrition {
	return Nutrition{
		Calories: n.Calories + o.Calories,
		Protein:  n.Protein + o.Protein,
		Carbs:    n.Carbs + o.Carbs,
		Fat:      n.Fat + o.Fat,
	}
}

// RawFoodItem is one food as returned by the parsing model. Nutrition values
// describe the parsed Quantity and Unit. It is never mutated after parsing.
type RawFoodItem struct {
	Name                    string   `json:"name"`
	Calories                float64  `json:"calories"`
	Protein                 float64  `json:"protein"`
	Carbs                   float64  `json:"carbs"`
	Fat                     float64  `json:"fat"`
	Quantity                float64  `json:"quantity"`
	Unit                    string   `json:"unit"`
	CookingMethod           string   `json:"cooking_method,omitempty"`
	Confidence              float64  `json:"confidence"`
	NeedsQuantity           bool     `json:"needs_quantity"`
	NeedsCookingMethod      bool     `json:"needs_cooking_method"`
	SuggestedQuantity       []string `json:"suggested_quantity,omitempty"`
	SuggestedCookingMethods []string `json:"suggested_cooking_methods,omitempty"`
}

// Nutrition returns the item's macros as a Nutrition value.
func (r RawFoodItem) Nutrition() Nutrition {
	return Nutrition{Calories: r.Calories, Protein: r.Protein, Carbs: r.Carbs, Fat: r.Fat}
}

// ReconciledFoodItem is a RawFoodItem after flag correction and unit
// normalization. GramEquivalent is the only input nutrition math reads;
// Quantity and Unit are kept for display.
type ReconciledFoodItem struct {
	Name          string    `json:"name"`
	Nutrition     Nutrition `json:"nutrition"`
	Quantity      float64   `json:"quantity"`
	Unit          string    `json:"unit"`
	CookingMethod string    `json:"cooking_method,omitempty"`

	GramEquivalent float64 `json:"gram_equivalent"`

	NeedsQuantityModal bool `json:"needs_quantity_modal"`
	NeedsCookingModal  bool `json:"needs_cooking_modal"`

	OverallConfidence  float64 `json:"overall_confidence"`
	QuantityConfidence float64 `json:"quantity_confidence"`
	CookingConfidence  float64 `json:"cooking_confidence"`

	SuggestedQuantity       []string     `json:"suggested_quantity,omitempty"`
	SuggestedCookingMethods []string     `json:"suggested_cooking_methods,omitempty"`
	SuggestedUnits          []UnitOption `json:"suggested_units,omitempty"`

	UserModified       bool        `json:"user_modified"`
	OriginalAIEstimate RawFoodItem `json:"original_ai_estimate"`
}

// NeedsClarification reports whether the item must go through a modal before it can be confirmed.
func (r *ReconciledFoodItem) NeedsClarification() bool {
	return r.NeedsQuantityModal || r.NeedsCookingModal
}

// Totals sums the nutrition of items.
func Totals(items []*ReconciledFoodItem) Nutrition {
	var total Nutrition
	for _, it := range items {
		total = total.Add(it.Nutrition)
	}
	return total
}
