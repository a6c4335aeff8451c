package food

// Rule names which override decided a modal flag.
type Rule string

const (
	RuleNone            Rule = ""
	RuleClearPortion    Rule = "clear_portion"
	RuleVagueQuantity   Rule = "vague_quantity"
	RuleNoCookingNeeded Rule = "no_cooking_needed"
	RuleMethodStated    Rule = "method_stated"
)

// Flags is the corrected pair of modal flags for an item, plus the rules and
// keywords that produced them. A RuleNone flag is the model's own value.
type Flags struct {
	NeedsQuantityModal bool `json:"needs_quantity_modal"`
	NeedsCookingModal  bool `json:"needs_cooking_modal"`

	QuantityRule    Rule   `json:"quantity_rule,omitempty"`
	QuantityKeyword string `json:"quantity_keyword,omitempty"`
	CookingRule     Rule   `json:"cooking_rule,omitempty"`
	CookingKeyword  string `json:"cooking_keyword,omitempty"`
}

// Reconciler corrects the model's needsQuantity / needsCookingMethod flags
// using keyword rules on the food name. It has no state beyond its rules and
// is safe for concurrent use.
type Reconciler struct {
	rules *Rules
}

func NewReconciler(rules *Rules) *Reconciler {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Reconciler{rules: rules}
}

// Reconcile applies the override rules to item. The quantity and cooking
// flags are decided independently; within each, the first matching rule wins
// and no match keeps the model's value.
func (r *Reconciler) Reconcile(item RawFoodItem) Flags {
	name := normalizeText(item.Name)
	f := Flags{
		NeedsQuantityModal: item.NeedsQuantity,
		NeedsCookingModal:  item.NeedsCookingMethod,
	}

	if kw, ok := r.rules.clearPortion.match(name); ok {
		f.NeedsQuantityModal, f.QuantityRule, f.QuantityKeyword = false, RuleClearPortion, kw
	} else if kw, ok := r.rules.vague.match(name); ok {
		f.NeedsQuantityModal, f.QuantityRule, f.QuantityKeyword = true, RuleVagueQuantity, kw
	}

	if kw, ok := r.rules.noCooking.match(name); ok {
		f.NeedsCookingModal, f.CookingRule, f.CookingKeyword = false, RuleNoCookingNeeded, kw
	} else if kw, ok := r.rules.methodTerms.match(name); ok {
		f.NeedsCookingModal, f.CookingRule, f.CookingKeyword = false, RuleMethodStated, kw
	}

	return f
}
