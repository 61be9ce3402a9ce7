package classifier

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/davidahmann/antibody/internal/crypto"
	"github.com/davidahmann/antibody/pkg/types"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

var ErrInvalidRulePack = errors.New("invalid rule pack")

type LoadedRules struct {
	Pack  RulePack
	Hash  string
	Bytes []byte
}

// DefaultRules returns the embedded rule pack.
func DefaultRules() (LoadedRules, error) {
	return ParseRules(defaultRules)
}

// LoadRules loads a YAML rule pack and computes its hash from raw bytes.
func LoadRules(path string) (LoadedRules, error) {
	// #nosec G304 -- path comes from operator-configured rules path.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedRules{}, err
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (LoadedRules, error) {
	var p RulePack
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return LoadedRules{}, fmt.Errorf("%w: %v", ErrInvalidRulePack, err)
	}
	if _, err := compile(p); err != nil {
		return LoadedRules{}, err
	}
	return LoadedRules{
		Pack:  p,
		Hash:  crypto.DigestWithPrefix(data),
		Bytes: data,
	}, nil
}

type compiledRule struct {
	category  types.RiskCategory
	baseScore int
	patterns  []*regexp.Regexp
}

type ruleSet struct {
	rules     []compiledRule
	injection []*regexp.Regexp
	boost     int
	cap       int
	hash      string
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidRulePack}, args...)...)
}

func compile(p RulePack) (*ruleSet, error) {
	set := &ruleSet{boost: p.Injection.Boost, cap: p.Injection.Cap}
	seen := map[types.RiskCategory]bool{}

	for i, r := range p.Rules {
		cat, err := types.ParseCategory(r.Category)
		if err != nil {
			return nil, invalid("rule %d: unknown category %q", i, r.Category)
		}
		if seen[cat] {
			return nil, invalid("rule %d: duplicate category %s", i, cat)
		}
		seen[cat] = true
		if r.BaseScore < 0 || r.BaseScore > 100 {
			return nil, invalid("rule %s: base_score %d outside [0,100]", cat, r.BaseScore)
		}
		patterns, err := compilePatterns(r.Patterns)
		if err != nil {
			return nil, invalid("rule %s: %v", cat, err)
		}
		set.rules = append(set.rules, compiledRule{category: cat, baseScore: r.BaseScore, patterns: patterns})
	}

	if p.Injection.Cap < 0 || p.Injection.Cap > 100 {
		return nil, invalid("injection cap %d outside [0,100]", p.Injection.Cap)
	}
	if p.Injection.Boost < 0 || p.Injection.Boost > 100 {
		return nil, invalid("injection boost %d outside [0,100]", p.Injection.Boost)
	}
	injection, err := compilePatterns(p.Injection.Patterns)
	if err != nil {
		return nil, invalid("injection: %v", err)
	}
	set.injection = injection

	// Evaluation order is the category enumeration, never file order.
	sort.SliceStable(set.rules, func(i, j int) bool {
		return set.rules[i].category < set.rules[j].category
	})
	return set, nil
}

func compilePatterns(src []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(src))
	for _, s := range src {
		re, err := regexp.Compile("(?i)" + s)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %v", s, err)
		}
		out = append(out, re)
	}
	return out, nil
}
