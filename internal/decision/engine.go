// Package decision maps a final risk score onto an allow, confirm or block
// verdict.
package decision

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davidahmann/antibody/internal/crypto"
	"github.com/davidahmann/antibody/pkg/types"
)

const DecisionSchema = "antibody.decision.v1"

type Mode string

const (
	// ModeStrict asks a human to confirm high-risk actions.
	ModeStrict Mode = "strict"
	// ModeDemo blocks them outright.
	ModeDemo Mode = "demo"
)

var ErrInvalidConfig = errors.New("invalid decision config")

type Thresholds struct {
	AutoApprove  int `yaml:"auto_approve" json:"auto_approve"`
	Confirmation int `yaml:"confirmation" json:"confirmation"`
	Block        int `yaml:"block" json:"block"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{AutoApprove: 30, Confirmation: 70, Block: 90}
}

func (t Thresholds) Validate() error {
	if !(0 < t.AutoApprove && t.AutoApprove < t.Confirmation && t.Confirmation < t.Block && t.Block <= 100) {
		return fmt.Errorf("%w: thresholds must satisfy 0 < auto_approve(%d) < confirmation(%d) < block(%d) <= 100",
			ErrInvalidConfig, t.AutoApprove, t.Confirmation, t.Block)
	}
	return nil
}

type Config struct {
	Mode       Mode
	Thresholds Thresholds
	// Now defaults to time.Now.
	Now func() time.Time
}

type Input struct {
	Action      string
	RiskScore   int
	Category    types.RiskCategory
	Reasoning   string
	MemoryMatch bool
}

type Engine struct {
	mode       Mode
	thresholds Thresholds
	now        func() time.Time

	count      atomic.Int64
	mu         sync.Mutex
	byDecision map[types.Decision]int
}

func NewEngine(cfg Config) (*Engine, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeStrict
	case ModeStrict, ModeDemo:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, cfg.Mode)
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		mode:       cfg.Mode,
		thresholds: cfg.Thresholds,
		now:        cfg.Now,
		byDecision: map[types.Decision]int{},
	}, nil
}

func (e *Engine) Mode() Mode { return e.mode }

// Decide never fails. Scores outside [0,100] are clamped before banding.
func (e *Engine) Decide(in Input) types.DecisionResult {
	score := Clamp(in.RiskScore)
	t := e.thresholds

	var (
		decision types.Decision
		alert    types.AlertLevel
		reason   string
	)
	switch {
	case score < t.AutoApprove:
		decision, alert, reason = types.DecisionAutoApprove, types.AlertNone, "Low risk - auto-approved"
	case score < t.Confirmation:
		decision, alert, reason = types.DecisionApproveWithLogging, types.AlertInfo, "Medium risk - approved with enhanced logging"
	case score < t.Block:
		alert = types.AlertWarning
		if e.mode == ModeDemo {
			decision, reason = types.DecisionBlock, "High risk - blocked (demo mode)"
		} else {
			decision, reason = types.DecisionRequireConfirmation, "High risk - requires user confirmation"
		}
	default:
		decision, alert, reason = types.DecisionBlock, types.AlertCritical, "Critical risk - BLOCKED"
	}
	if in.MemoryMatch {
		reason += " | Similar action found in memory"
	}

	result := types.DecisionResult{
		Decision:   decision,
		RiskScore:  score,
		Category:   in.Category,
		Reasoning:  in.Reasoning + " | " + reason,
		Timestamp:  e.now().UTC().Format(time.RFC3339Nano),
		Action:     in.Action,
		ShouldLog:  decision != types.DecisionAutoApprove,
		AlertLevel: alert,
	}
	result.DecisionID = DecisionID(result)

	e.count.Add(1)
	e.mu.Lock()
	e.byDecision[decision]++
	e.mu.Unlock()
	return result
}

// DecisionID is the sha256 digest of the canonical view of a result. The
// view contains only strings and integers, so canonicalisation cannot fail.
func DecisionID(r types.DecisionResult) string {
	view := map[string]any{
		"schema":      DecisionSchema,
		"decision":    string(r.Decision),
		"risk_score":  r.RiskScore,
		"category":    r.Category.String(),
		"reasoning":   r.Reasoning,
		"timestamp":   r.Timestamp,
		"action":      r.Action,
		"should_log":  r.ShouldLog,
		"alert_level": string(r.AlertLevel),
	}
	canonical, err := crypto.Canonicalize(view)
	if err != nil {
		return ""
	}
	return crypto.DigestWithPrefix(canonical)
}

func (e *Engine) Count() int64 { return e.count.Load() }

type Stats struct {
	TotalDecisions int64                  `json:"total_decisions"`
	Mode           Mode                   `json:"mode"`
	DemoMode       bool                   `json:"demo_mode"`
	Thresholds     Thresholds             `json:"thresholds"`
	ByDecision     map[types.Decision]int `json:"by_decision"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	by := make(map[types.Decision]int, len(e.byDecision))
	for k, v := range e.byDecision {
		by[k] = v
	}
	e.mu.Unlock()
	return Stats{
		TotalDecisions: e.count.Load(),
		Mode:           e.mode,
		DemoMode:       e.mode == ModeDemo,
		Thresholds:     e.thresholds,
		ByDecision:     by,
	}
}

// Outcome maps a decision onto the outcome remembered for it.
func Outcome(d types.Decision) types.Outcome {
	switch d {
	case types.DecisionBlock:
		return types.OutcomeBlocked
	case types.DecisionRequireConfirmation:
		return types.OutcomeConfirmed
	default:
		return types.OutcomeApproved
	}
}

func Clamp(score int) int {
	return max(0, min(100, score))
}

var alertSymbols = map[types.AlertLevel]string{
	types.AlertNone:     "OK",
	types.AlertInfo:     "INFO",
	types.AlertWarning:  "WARN",
	types.AlertCritical: "BLOCK",
}

// Format renders a verdict for terminal output.
func Format(r types.ProcessResult) string {
	symbol, ok := alertSymbols[r.AlertLevel]
	if !ok {
		symbol = "?"
	}
	lines := []string{
		fmt.Sprintf("[%s] %s", symbol, strings.ToUpper(string(r.Decision))),
		"Action: " + r.Action,
		fmt.Sprintf("Risk Score: %d", r.RiskScore),
	}
	if r.Category != nil {
		lines = append(lines, "Category: "+r.Category.String())
	}
	if r.BlockedBy != "" {
		lines = append(lines, "Blocked By: "+r.BlockedBy)
	}
	lines = append(lines,
		"Alert Level: "+strings.ToUpper(string(r.AlertLevel)),
		"Reasoning: "+r.Reasoning,
	)
	if r.Ledger != nil {
		if r.Ledger.Recorded {
			lines = append(lines, "Ledger: "+r.Ledger.AnchorRef)
		} else {
			lines = append(lines, "Ledger: not recorded ("+r.Ledger.Reason+")")
		}
	}
	if r.ThreatPublished != nil {
		lines = append(lines, "Threat Published: "+r.ThreatPublished.ThreatID)
	}
	return strings.Join(lines, "\n")
}
