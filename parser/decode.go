package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"mealvoice/food"
)

// DecodeFoods extracts food items from a model response. Models are
// inconsistent about shape and types, so the decoder accepts:
//   - {"foods": [...]}, {"items": [...]}, {"food_items": [...]}, a bare array, or a single item
//   - numbers sent as strings ("12", "12.5g", "٣")
//   - confidence as a fraction or a percentage
//   - camelCase and snake_case keys, and a nested "nutrition" object
//
// Items without a name are dropped. An empty result is not an error.
func DecodeFoods(data []byte) ([]food.RawFoodItem, error) {
	data = stripFences(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty model response")
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		if obj := extractJSON(data); obj != nil {
			if err2 := json.Unmarshal(obj, &v); err2 != nil {
				return nil, fmt.Errorf("decode foods: %w", err)
			}
		} else {
			return nil, fmt.Errorf("decode foods: %w", err)
		}
	}

	var rawItems []any
	switch t := v.(type) {
	case []any:
		rawItems = t
	case map[string]any:
		found := false
		for _, key := range []string{"foods", "items", "food_items", "foodItems", "parsed_foods"} {
			if arr, ok := t[key].([]any); ok {
				rawItems, found = arr, true
				break
			}
			if t[key] == nil {
				if _, present := t[key]; present {
					found = true
					break
				}
			}
		}
		if !found {
			if _, ok := firstString(t, nameKeys...); ok {
				rawItems = []any{t}
			}
		}
	default:
		return nil, fmt.Errorf("decode foods: unexpected %T", v)
	}

	items := make([]food.RawFoodItem, 0, len(rawItems))
	for _, ri := range rawItems {
		m, ok := ri.(map[string]any)
		if !ok {
			continue
		}
		item, ok := decodeItem(m)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

var nameKeys = []string{"name", "food_name", "foodName", "food", "item", "arabic_name"}

func decodeItem(m map[string]any) (food.RawFoodItem, bool) {
	name, _ := firstString(m, nameKeys...)
	name = strings.TrimSpace(name)
	if name == "" {
		return food.RawFoodItem{}, false
	}

	src := m
	if n, ok := m["nutrition"].(map[string]any); ok {
		src = merge(m, n)
	}

	item := food.RawFoodItem{
		Name:          name,
		Calories:      nonNegative(firstNumber(src, "calories", "kcal", "energy", "calories_kcal")),
		Protein:       nonNegative(firstNumber(src, "protein", "protein_g", "proteins")),
		Carbs:         nonNegative(firstNumber(src, "carbs", "carbohydrates", "carbs_g", "carbohydrate")),
		Fat:           nonNegative(firstNumber(src, "fat", "fats", "fat_g", "total_fat")),
		CookingMethod: strings.TrimSpace(firstStringOr(m, "", "cooking_method", "cookingMethod", "method", "preparation")),
		Confidence:    confidence(firstNumber(m, "confidence", "overall_confidence", "overallConfidence", "score")),
		NeedsQuantity: firstBool(m, "needs_quantity", "needsQuantity", "needs_quantity_modal", "needsQuantityModal"),
		NeedsCookingMethod: firstBool(m,
			"needs_cooking_method", "needsCookingMethod", "needs_cooking_modal", "needsCookingModal"),
		SuggestedQuantity:       firstStrings(m, "suggested_quantity", "suggestedQuantity", "suggested_quantities", "suggestedQuantities"),
		SuggestedCookingMethods: firstStrings(m, "suggested_cooking_methods", "suggestedCookingMethods", "cooking_options"),
	}

	item.Quantity, item.Unit = quantityAndUnit(m)
	return item, true
}

func quantityAndUnit(m map[string]any) (float64, string) {
	unit := strings.TrimSpace(firstStringOr(m, "", "unit", "units", "measure", "unit_name"))

	for _, k := range []string{"quantity", "qty", "amount", "count"} {
		raw, ok := m[k]
		if !ok || raw == nil {
			continue
		}
		if s, ok := raw.(string); ok {
			q, rest := leadingNumber(s)
			if unit == "" {
				unit = strings.TrimSpace(rest)
			}
			return nonNegative(q), unit
		}
		return nonNegative(toFloat(raw)), unit
	}
	return 0, unit
}

func merge(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

func firstStringOr(m map[string]any, def string, keys ...string) string {
	if s, ok := firstString(m, keys...); ok {
		return s
	}
	return def
}

func firstNumber(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return toFloat(v)
		}
	}
	return 0
}

func firstBool(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t
		case float64:
			return t != 0
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "yes", "1", "y", "نعم", "اه", "أيوه":
				return true
			}
			return false
		}
	}
	return false
}

func firstStrings(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch t := m[k].(type) {
		case []any:
			out := make([]string, 0, len(t))
			for _, e := range t {
				switch ev := e.(type) {
				case string:
					if s := strings.TrimSpace(ev); s != "" {
						out = append(out, s)
					}
				case float64:
					out = append(out, strconv.FormatFloat(ev, 'f', -1, 64))
				}
			}
			if len(out) > 0 {
				return out
			}
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return []string{s}
			}
		}
	}
	return nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0
		}
		return t
	case string:
		f, _ := leadingNumber(t)
		return f
	case bool:
		if t {
			return 1
		}
	}
	return 0
}

// leadingNumber parses the number at the start of s, accepting Arabic-Indic
// digits and the Arabic decimal separator, and returns the remainder.
func leadingNumber(s string) (float64, string) {
	s = strings.TrimSpace(s)
	var b strings.Builder
	end := len(s)
scan:
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		case r == '٫':
			b.WriteRune('.')
		case r == '-' && i == 0:
			b.WriteRune(r)
		default:
			end = i
			break scan
		}
	}
	f, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, s
	}
	return f, strings.TrimLeftFunc(s[end:], unicode.IsSpace)
}

func confidence(v float64) float64 {
	switch {
	case v <= 0:
		return 0
	case v > 1 && v <= 100:
		return v / 100
	case v > 100:
		return 1
	}
	return v
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func stripFences(data []byte) []byte {
	data = bytes.TrimSpace(data)
	if !bytes.HasPrefix(data, []byte("```")) {
		return data
	}
	data = bytes.TrimPrefix(data, []byte("```"))
	if nl := bytes.IndexByte(data, '\n'); nl >= 0 {
		data = data[nl+1:]
	}
	data = bytes.TrimSuffix(bytes.TrimSpace(data), []byte("```"))
	return bytes.TrimSpace(data)
}

// extractJSON returns the outermost {...} block in data, for responses that
// wrap the JSON in prose.
func extractJSON(data []byte) []byte {
	start := bytes.IndexByte(data, '{')
	end := bytes.LastIndexByte(data, '}')
	if start < 0 || end <= start {
		return nil
	}
	return data[start : end+1]
}
