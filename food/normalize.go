package food

import (
	"fmt"
	"log/slog"
	"math"
)

const (
	// defaultConfidence is used when the model reports no confidence at all.
	defaultConfidence = 0.5

	ruleConfidence      = 0.9
	vagueConfidence     = 0.4
	flaggedConfidenceMu = 0.6
)

// Normalizer turns raw model output into items the UI can render and the user
// can edit. It combines the Reconciler, Converter and Rescaler over one Rules set.
type Normalizer struct {
	converter  *Converter
	reconciler *Reconciler
	rescaler   *Rescaler
}

func NewNormalizer(rules *Rules) *Normalizer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Normalizer{
		converter:  NewConverter(rules),
		reconciler: NewReconciler(rules),
		rescaler:   NewRescaler(rules),
	}
}

func (n *Normalizer) Converter() *Converter   { return n.converter }
func (n *Normalizer) Reconciler() *Reconciler { return n.reconciler }
func (n *Normalizer) Rescaler() *Rescaler     { return n.rescaler }

// Normalize reconciles the modal flags of raw, computes its gram equivalent
// and derives confidence scores. It never fails: malformed values degrade to
// safe defaults.
func (n *Normalizer) Normalize(raw RawFoodItem) *ReconciledFoodItem {
	flags := n.reconciler.Reconcile(raw)

	grams := n.converter.ToGrams(raw.Name, raw.Quantity, raw.Unit)
	if grams < 0 || math.IsNaN(grams) || math.IsInf(grams, 0) {
		slog.Warn("NORMALIZE: Invalid gram equivalent, clamping to zero", "food", raw.Name, "quantity", raw.Quantity, "unit", raw.Unit)
		grams = 0
	}

	ai := clamp01(raw.Confidence)
	if raw.Confidence == 0 {
		ai = defaultConfidence
	}

	quantityConf := flagConfidence(ai, flags.NeedsQuantityModal, flags.QuantityRule)
	cookingConf := flagConfidence(ai, flags.NeedsCookingModal, flags.CookingRule)

	item := &ReconciledFoodItem{
		Name:                    raw.Name,
		Nutrition:               Round(raw.Nutrition()),
		Quantity:                raw.Quantity,
		Unit:                    raw.Unit,
		CookingMethod:           raw.CookingMethod,
		GramEquivalent:          grams,
		NeedsQuantityModal:      flags.NeedsQuantityModal,
		NeedsCookingModal:       flags.NeedsCookingModal,
		OverallConfidence:       round2((ai + quantityConf + cookingConf) / 3),
		QuantityConfidence:      quantityConf,
		CookingConfidence:       cookingConf,
		SuggestedQuantity:       raw.SuggestedQuantity,
		SuggestedCookingMethods: raw.SuggestedCookingMethods,
		SuggestedUnits:          n.converter.SuggestUnits(raw.Name),
		OriginalAIEstimate:      raw,
	}

	if flags.QuantityRule != RuleNone || flags.CookingRule != RuleNone {
		slog.Debug("NORMALIZE: Overrode model flags",
			"food", raw.Name,
			"quantity_rule", flags.QuantityRule,
			"quantity_keyword", flags.QuantityKeyword,
			"cooking_rule", flags.CookingRule,
			"cooking_keyword", flags.CookingKeyword,
		)
	}
	return item
}

// NormalizeAll normalizes each item in order.
func (n *Normalizer) NormalizeAll(raw []RawFoodItem) []*ReconciledFoodItem {
	out := make([]*ReconciledFoodItem, 0, len(raw))
	for _, r := range raw {
		out = append(out, n.Normalize(r))
	}
	return out
}

// Edit is a user change made through a clarification modal. Nil fields are left unchanged.
type Edit struct {
	Quantity      *float64
	Unit          *string
	CookingMethod *string
}

// ApplyEdit updates item in place from e. Nutrition is always recomputed from
// the original model estimate so repeated edits do not accumulate rounding.
func (n *Normalizer) ApplyEdit(item *ReconciledFoodItem, e Edit) error {
	orig := item.OriginalAIEstimate

	quantity, unit, method := item.Quantity, item.Unit, item.CookingMethod
	if e.Quantity != nil {
		if *e.Quantity <= 0 {
			return fmt.Errorf("quantity must be positive, got %v", *e.Quantity)
		}
		quantity = *e.Quantity
	}
	if e.Unit != nil {
		unit = *e.Unit
	}
	if e.CookingMethod != nil {
		method = n.rescaler.CanonicalMethod(*e.CookingMethod)
	}

	baseGrams := n.converter.ToGrams(orig.Name, orig.Quantity, orig.Unit)
	newGrams := n.converter.ToGrams(orig.Name, quantity, unit)
	if baseGrams <= 0 {
		// No usable model quantity: its nutrition is taken to describe one recommended unit.
		baseGrams = n.converter.SuggestUnits(orig.Name)[0].GramsPerUnit
		if newGrams <= 0 {
			newGrams = baseGrams
		}
		slog.Debug("NORMALIZE: Missing model quantity, assuming one recommended unit",
			"food", orig.Name, "quantity", orig.Quantity, "unit", orig.Unit, "base_grams", baseGrams)
	}

	scaled, err := n.rescaler.Rescale(orig.Nutrition(), baseGrams, newGrams)
	if err != nil {
		return fmt.Errorf("edit %q: %w", orig.Name, err)
	}
	if method != orig.CookingMethod {
		scaled = n.rescaler.ChangeCookingMethod(scaled, orig.CookingMethod, method)
	}

	item.Quantity, item.Unit, item.CookingMethod = quantity, unit, method
	item.GramEquivalent = newGrams
	item.Nutrition = scaled
	item.UserModified = true

	if e.Quantity != nil || e.Unit != nil {
		item.NeedsQuantityModal = false
		item.QuantityConfidence = 1
	}
	if e.CookingMethod != nil {
		item.NeedsCookingModal = false
		item.CookingConfidence = 1
	}
	return nil
}

func flagConfidence(ai float64, needsModal bool, rule Rule) float64 {
	switch rule {
	case RuleClearPortion, RuleNoCookingNeeded, RuleMethodStated:
		return math.Max(ai, ruleConfidence)
	case RuleVagueQuantity:
		return math.Min(ai, vagueConfidence)
	}
	if needsModal {
		return round2(ai * flaggedConfidenceMu)
	}
	return ai
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
