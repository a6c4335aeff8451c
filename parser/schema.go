package parser

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
)

// FoodSchema describes the structured output expected from the parsing model.
// It is sent as the Ollama "format" and as the Bedrock tool input schema.
func FoodSchema() *jsonschema.Schema {
	zero := 0.0
	one := 1.0

	item := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":                 {Type: "string"},
			"quantity":             {Type: "number", Minimum: &zero},
			"unit":                 {Type: "string"},
			"cooking_method":       {Type: "string"},
			"calories":             {Type: "number", Minimum: &zero},
			"protein":              {Type: "number", Minimum: &zero},
			"carbs":                {Type: "number", Minimum: &zero},
			"fat":                  {Type: "number", Minimum: &zero},
			"confidence":           {Type: "number", Minimum: &zero, Maximum: &one},
			"needs_quantity":       {Type: "boolean"},
			"needs_cooking_method": {Type: "boolean"},
			"suggested_quantity": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string"},
			},
			"suggested_cooking_methods": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string"},
			},
		},
		Required: []string{"name", "quantity", "unit", "calories", "protein", "carbs", "fat", "confidence", "needs_quantity", "needs_cooking_method"},
	}

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"foods": {
				Type:  "array",
				Items: item,
			},
		},
		Required: []string{"foods"},
	}
}

// SchemaMap returns FoodSchema as a plain map, the shape SDK document types expect.
func SchemaMap() (map[string]any, error) {
	b, err := json.Marshal(FoodSchema())
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
