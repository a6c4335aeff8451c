package parser

import (
	"time"

	"mealvoice"
	"mealvoice/food"
)

// OutcomeKind tags a parse result.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeNoFood
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoFood:
		return "no_food"
	default:
		return "unknown"
	}
}

// Outcome is the result of a successful call to a parsing model. A call that
// fails is reported through the error return instead, wrapping one of
// mealvoice.ErrRateLimited, ErrNetwork or ErrInvalidCredential.
type Outcome struct {
	Kind    OutcomeKind        `json:"kind"`
	Items   []food.RawFoodItem `json:"items,omitempty"`
	Model   string             `json:"model"`
	Usage   mealvoice.Usage    `json:"usage"`
	Latency time.Duration      `json:"latency"`
}

// NewOutcome tags items as a success, or as no food when items is empty.
func NewOutcome(model string, items []food.RawFoodItem, usage mealvoice.Usage, latency time.Duration) Outcome {
	kind := OutcomeSuccess
	if len(items) == 0 {
		kind = OutcomeNoFood
		items = nil
	}
	return Outcome{Kind: kind, Items: items, Model: model, Usage: usage, Latency: latency}
}

// Found reports whether the outcome carries at least one food item.
func (o Outcome) Found() bool {
	return o.Kind == OutcomeSuccess && len(o.Items) > 0
}
