package food

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	r := DefaultRules()
	require.NotNil(t, r)

	names := make([]string, 0, len(r.Categories))
	for _, c := range r.Categories {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"meat", "rice", "bread", "vegetables", "fruit"}, names)

	wantGeneric := map[string]float64{
		"grams": 1, "pieces": 120, "cups": 240, "tablespoons": 15,
		"teaspoons": 5, "slices": 30, "bowls": 200, "servings": 150,
	}
	for unit, grams := range wantGeneric {
		u := r.Generic.find(unit)
		require.NotNil(t, u, unit)
		assert.Equal(t, grams, u.GramsPerUnit, unit)
	}
	assert.Equal(t, "grams", r.Generic.Recommended)

	assert.Contains(t, r.Quantity.Vague, "شوية")
	assert.Contains(t, r.Quantity.ClearPortion, "كوب")
	assert.Equal(t, []string{"steak", "teaspoon"}, r.exclusions["tea"])
	assert.Same(t, r, DefaultRules())
}

func TestParseRules_Custom(t *testing.T) {
	doc := []byte(`
categories:
  - name: soup
    keywords: [soup, "شوربة"]
    recommended: bowls
    units:
      - {unit: bowls, label: "طبق", grams_per_unit: 300}
generic:
  recommended: grams
  units:
    - {unit: grams, label: "جرام", grams_per_unit: 1}
unit_aliases:
  bowls: [bowl]
quantity:
  clear_portion: [bowl of]
  vague: [some]
cooking:
  no_cooking_needed: [gazpacho]
  method_terms: [simmered]
cooking_multipliers:
  - {method: Simmered, multiplier: 1.02, aliases: [simmer]}
`)

	r, err := ParseRules(doc)
	require.NoError(t, err)

	c := NewConverter(r)
	assert.Equal(t, 600.0, c.ToGrams("شوربة عدس", 2, "bowl"))
	assert.Equal(t, "soup", c.Category("Lentil soup"))

	rec := NewReconciler(r)
	f := rec.Reconcile(RawFoodItem{Name: "a bowl of soup", NeedsQuantity: true, NeedsCookingMethod: true})
	assert.False(t, f.NeedsQuantityModal)
	assert.True(t, f.NeedsCookingModal)

	rs := NewRescaler(r)
	assert.Equal(t, 1.02, rs.Multiplier("simmer"))
	assert.Equal(t, 1.0, rs.Multiplier("Fried"))
}

func TestParseRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "not yaml", doc: "categories: [unclosed"},
		{name: "empty generic", doc: "generic: {recommended: grams, units: []}"},
		{
			name: "generic without grams",
			doc:  "generic: {recommended: cups, units: [{unit: cups, label: c, grams_per_unit: 240}]}",
		},
		{
			name: "recommended unit missing",
			doc:  "generic: {recommended: bowls, units: [{unit: grams, label: g, grams_per_unit: 1}]}",
		},
		{
			name: "non-positive grams",
			doc:  "generic: {recommended: grams, units: [{unit: grams, label: g, grams_per_unit: 0}]}",
		},
		{
			name: "category without keywords",
			doc: `
generic: {recommended: grams, units: [{unit: grams, label: g, grams_per_unit: 1}]}
categories:
  - {name: x, recommended: grams, units: [{unit: grams, label: g, grams_per_unit: 1}]}`,
		},
		{
			name: "exclusion does not contain its keyword",
			doc: `
generic: {recommended: grams, units: [{unit: grams, label: g, grams_per_unit: 1}]}
keyword_exclusions:
  tea: [coffee]`,
		},
		{
			name: "bad multiplier",
			doc: `
generic: {recommended: grams, units: [{unit: grams, label: g, grams_per_unit: 1}]}
cooking_multipliers:
  - {method: Fried, multiplier: 0}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRules(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		r, err := LoadRules("")
		require.NoError(t, err)
		assert.Same(t, DefaultRules(), r)
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, defaultRulesYAML, 0644))

		r, err := LoadRules(path)
		require.NoError(t, err)
		assert.Len(t, r.Categories, 5)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
