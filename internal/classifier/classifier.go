// Package classifier assigns a risk category and score to action text using
// a declarative rule pack of regular expressions.
package classifier

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/davidahmann/antibody/pkg/types"
)

type Classification struct {
	Category          types.RiskCategory `json:"category"`
	Score             int                `json:"score"`
	BaseScore         int                `json:"base_score"`
	InjectionDetected bool               `json:"injection_detected"`
	MatchedPatterns   int                `json:"matched_patterns"`
	Reasoning         string             `json:"reasoning"`
}

// Classifier is safe for concurrent use. Reload swaps the rule set atomically
// so in-flight calls finish against the set they started with.
type Classifier struct {
	rules atomic.Pointer[ruleSet]
}

// New builds a classifier from a loaded rule pack.
func New(loaded LoadedRules) (*Classifier, error) {
	set, err := compile(loaded.Pack)
	if err != nil {
		return nil, err
	}
	set.hash = loaded.Hash
	c := &Classifier{}
	c.rules.Store(set)
	return c, nil
}

// NewDefault builds a classifier from the embedded rule pack.
func NewDefault() (*Classifier, error) {
	loaded, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	return New(loaded)
}

// Reload replaces the active rule set. On error the previous set stays active.
func (c *Classifier) Reload(loaded LoadedRules) error {
	set, err := compile(loaded.Pack)
	if err != nil {
		return err
	}
	set.hash = loaded.Hash
	c.rules.Store(set)
	return nil
}

// RulesHash identifies the active rule pack.
func (c *Classifier) RulesHash() string {
	return c.rules.Load().hash
}

func (c *Classifier) Classify(text string, _ map[string]any) Classification {
	set := c.rules.Load()
	lower := strings.ToLower(text)

	out := Classification{Category: types.ReadOnly}
	if strings.TrimSpace(lower) == "" {
		out.Reasoning = reasoning(out, set.boost)
		return out
	}

	best := 0
	for _, r := range set.rules {
		for _, re := range r.patterns {
			if !re.MatchString(lower) {
				continue
			}
			out.MatchedPatterns++
			if r.baseScore > best {
				best = r.baseScore
				out.Category = r.category
			}
		}
	}
	out.BaseScore = best
	out.Score = best

	if set.detects(lower) {
		out.InjectionDetected = true
		out.Score = min(set.cap, best+set.boost)
	}
	out.Reasoning = reasoning(out, set.boost)
	return out
}

// DetectsInjection reports whether any injection phrase appears in text.
func (c *Classifier) DetectsInjection(text string) bool {
	return c.rules.Load().detects(strings.ToLower(text))
}

func (s *ruleSet) detects(lower string) bool {
	for _, re := range s.injection {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

func reasoning(c Classification, boost int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s, Base Score: %d", c.Category, c.BaseScore)
	if c.InjectionDetected {
		fmt.Fprintf(&b, " | INJECTION DETECTED (+%d)", boost)
	}
	if c.MatchedPatterns > 0 {
		fmt.Fprintf(&b, " | Matched patterns: %d", c.MatchedPatterns)
	}
	return b.String()
}
