package mock

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"mealvoice"
	"mealvoice/parser"
)

const ModelID = "mock-nutrition"

type dish struct {
	keywords []string
	item     map[string]any
}

// catalog is a small set of Egyptian dishes the mock recognizes. Estimates
// are per the stated quantity, the way a real model would answer.
var catalog = []dish{
	{
		keywords: []string{"رز", "rice"},
		item: map[string]any{
			"name": "رز", "quantity": 1, "unit": "cups", "calories": 205, "protein": 4.3, "carbs": 44.5, "fat": 0.4,
			"confidence": 0.85, "needs_quantity": true, "needs_cooking_method": false,
			"suggested_quantity": []string{"1 كوب", "2 كوب", "1 طبق"},
		},
	},
	{
		keywords: []string{"فراخ", "دجاج", "chicken"},
		item: map[string]any{
			"name": "فراخ", "quantity": 1, "unit": "pieces", "calories": 165, "protein": 31, "carbs": 0, "fat": 3.6,
			"confidence": 0.7, "needs_quantity": false, "needs_cooking_method": true,
			"suggested_cooking_methods": []string{"Grilled", "Fried", "Boiled"},
		},
	},
	{
		keywords: []string{"عيش", "bread"},
		item: map[string]any{
			"name": "عيش بلدي", "quantity": 1, "unit": "pieces", "calories": 250, "protein": 8, "carbs": 50, "fat": 1.5,
			"confidence": 0.9, "needs_quantity": false, "needs_cooking_method": false,
		},
	},
	{
		keywords: []string{"فول", "foul", "fava"},
		item: map[string]any{
			"name": "فول مدمس", "quantity": 1, "unit": "bowls", "calories": 190, "protein": 13, "carbs": 33, "fat": 0.8,
			"confidence": 0.8, "needs_quantity": true, "needs_cooking_method": false,
		},
	},
	{
		keywords: []string{"شاي", "tea"},
		item: map[string]any{
			"name": "كوب شاي", "quantity": 1, "unit": "cups", "calories": 30, "protein": 0, "carbs": 8, "fat": 0,
			"confidence": 0.9, "needs_quantity": true, "needs_cooking_method": false,
		},
	},
	{
		keywords: []string{"كشري", "koshari"},
		item: map[string]any{
			"name": "كشري", "quantity": 1, "unit": "plates", "calories": 700, "protein": 20, "carbs": 120, "fat": 15,
			"confidence": 0.75, "needs_quantity": true, "needs_cooking_method": false,
		},
	},
}

// Client is a deterministic parser for local runs and demos. It recognizes
// dishes from a fixed catalog and returns the same JSON a model would.
type Client struct{}

func NewClient() *Client {
	return &Client{}
}

func (c *Client) Model() string { return ModelID }

func (c *Client) Parse(ctx context.Context, transcript string) (parser.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return parser.Outcome{}, err
	}
	slog.Info("PARSER: Mock invoked", "transcript_len", len(transcript))

	lower := strings.ToLower(transcript)
	foods := []map[string]any{}
	for _, d := range catalog {
		for _, kw := range d.keywords {
			if strings.Contains(lower, kw) {
				foods = append(foods, d.item)
				break
			}
		}
	}

	b, err := json.Marshal(map[string]any{"foods": foods})
	if err != nil {
		return parser.Outcome{}, err
	}
	items, err := parser.DecodeFoods(b)
	if err != nil {
		return parser.Outcome{}, err
	}

	usage := mealvoice.Usage{InputTokens: int64(len(transcript)), OutputTokens: int64(len(b))}
	return parser.NewOutcome(ModelID, items, usage, 0), nil
}
