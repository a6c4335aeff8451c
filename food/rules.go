package food

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// UnitDef is one row of a unit conversion table.
type UnitDef struct {
	Unit         string  `yaml:"unit"`
	Label        string  `yaml:"label"`
	GramsPerUnit float64 `yaml:"grams_per_unit"`
}

// UnitTable is an ordered list of units with one recommended default.
type UnitTable struct {
	Recommended string    `yaml:"recommended"`
	Units       []UnitDef `yaml:"units"`
}

// Category selects a unit table for foods whose name contains one of Keywords.
type Category struct {
	Name      string   `yaml:"name"`
	Keywords  []string `yaml:"keywords"`
	UnitTable `yaml:",inline"`
}

// CookingMultiplier scales calories and fat for a preparation method.
type CookingMultiplier struct {
	Method     string   `yaml:"method"`
	Multiplier float64  `yaml:"multiplier"`
	Aliases    []string `yaml:"aliases"`
}

// Rules is the data-driven table behind unit conversion, flag reconciliation
// and cooking multipliers. Build it with ParseRules, LoadRules or DefaultRules.
type Rules struct {
	Categories  []Category          `yaml:"categories"`
	Generic     UnitTable           `yaml:"generic"`
	UnitAliases map[string][]string `yaml:"unit_aliases"`
	Quantity    struct {
		ClearPortion []string `yaml:"clear_portion"`
		Vague        []string `yaml:"vague"`
	} `yaml:"quantity"`
	Cooking struct {
		NoCookingNeeded []string `yaml:"no_cooking_needed"`
		MethodTerms     []string `yaml:"method_terms"`
	} `yaml:"cooking"`
	CookingMultipliers []CookingMultiplier `yaml:"cooking_multipliers"`
	// KeywordExclusions lists, per keyword, longer words it must not match inside.
	KeywordExclusions map[string][]string `yaml:"keyword_exclusions"`

	exclusions       map[string][]string
	categoryKeywords []keywordSet
	aliases          map[string]string
	clearPortion     keywordSet
	vague            keywordSet
	noCooking        keywordSet
	methodTerms      keywordSet
	multipliers      map[string]CookingMultiplier
}

var (
	defaultRules     *Rules
	defaultRulesOnce sync.Once
)

// DefaultRules returns the rules embedded in the binary. It panics if the
// embedded table is invalid, which the package tests rule out.
func DefaultRules() *Rules {
	defaultRulesOnce.Do(func() {
		r, err := ParseRules(defaultRulesYAML)
		if err != nil {
			panic(fmt.Sprintf("food: invalid embedded rules: %v", err))
		}
		defaultRules = r
	})
	return defaultRules
}

// LoadRules reads a rules file from disk. An empty path yields the default rules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	r, err := ParseRules(b)
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return r, nil
}

// ParseRules decodes and validates a YAML rules document.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) compile() error {
	if err := validateTable("generic", r.Generic); err != nil {
		return err
	}
	if r.Generic.find("grams") == nil {
		return fmt.Errorf("generic table must define grams")
	}

	r.exclusions = map[string][]string{}
	for kw, words := range r.KeywordExclusions {
		nkw := normalizeText(kw)
		for _, w := range words {
			nw := normalizeText(w)
			if !strings.Contains(nw, nkw) {
				return fmt.Errorf("keyword exclusion %q does not contain %q", w, kw)
			}
			r.exclusions[nkw] = append(r.exclusions[nkw], nw)
		}
	}

	r.categoryKeywords = make([]keywordSet, len(r.Categories))
	for i, c := range r.Categories {
		if c.Name == "" {
			return fmt.Errorf("category %d has no name", i)
		}
		if len(c.Keywords) == 0 {
			return fmt.Errorf("category %q has no keywords", c.Name)
		}
		if err := validateTable(c.Name, c.UnitTable); err != nil {
			return err
		}
		r.categoryKeywords[i] = newKeywordSet(c.Keywords, r.exclusions)
	}

	r.aliases = map[string]string{}
	for canonical, aliases := range r.UnitAliases {
		r.aliases[normalizeText(canonical)] = canonical
		for _, a := range aliases {
			r.aliases[normalizeText(a)] = canonical
		}
	}

	r.clearPortion = newKeywordSet(r.Quantity.ClearPortion, r.exclusions)
	r.vague = newKeywordSet(r.Quantity.Vague, r.exclusions)
	r.noCooking = newKeywordSet(r.Cooking.NoCookingNeeded, r.exclusions)
	r.methodTerms = newKeywordSet(r.Cooking.MethodTerms, r.exclusions)

	r.multipliers = map[string]CookingMultiplier{}
	for _, m := range r.CookingMultipliers {
		if m.Method == "" || m.Multiplier <= 0 {
			return fmt.Errorf("invalid cooking multiplier %q: %v", m.Method, m.Multiplier)
		}
		r.multipliers[normalizeText(m.Method)] = m
		for _, a := range m.Aliases {
			r.multipliers[normalizeText(a)] = m
		}
	}
	return nil
}

func validateTable(name string, t UnitTable) error {
	if len(t.Units) == 0 {
		return fmt.Errorf("unit table %q is empty", name)
	}
	recommended := 0
	for _, u := range t.Units {
		if u.Unit == "" || u.GramsPerUnit <= 0 {
			return fmt.Errorf("unit table %q: invalid unit %q (%v g)", name, u.Unit, u.GramsPerUnit)
		}
		if u.Unit == t.Recommended {
			recommended++
		}
	}
	if recommended != 1 {
		return fmt.Errorf("unit table %q: recommended unit %q must appear exactly once", name, t.Recommended)
	}
	return nil
}

func (t UnitTable) find(unit string) *UnitDef {
	for i := range t.Units {
		if t.Units[i].Unit == unit {
			return &t.Units[i]
		}
	}
	return nil
}

// canonicalUnit maps a free-form unit onto a table unit name. Unknown units
// are returned normalized but otherwise unchanged.
func (r *Rules) canonicalUnit(unit string) string {
	n := normalizeText(unit)
	if c, ok := r.aliases[n]; ok {
		return c
	}
	return n
}

// category returns the first category whose keywords match name, or nil.
func (r *Rules) category(name string) *Category {
	n := normalizeText(name)
	for i, set := range r.categoryKeywords {
		if _, ok := set.match(n); ok {
			return &r.Categories[i]
		}
	}
	return nil
}

// multiplier looks up a cooking method by name or alias.
func (r *Rules) multiplier(method string) (CookingMultiplier, bool) {
	m, ok := r.multipliers[normalizeText(method)]
	return m, ok
}
