// Package pipeline runs one proposed action through the registry check,
// classification, memory, decision, ledger and threat publication stages.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/antibody/internal/classifier"
	"github.com/davidahmann/antibody/internal/decision"
	"github.com/davidahmann/antibody/internal/events"
	"github.com/davidahmann/antibody/internal/ledger"
	"github.com/davidahmann/antibody/internal/memory"
	"github.com/davidahmann/antibody/internal/registry"
	"github.com/davidahmann/antibody/pkg/types"
)

const (
	DefaultAgentID = "antibody"
	// PublishThreshold is the minimum final score at which a block is shared
	// with the threat registry.
	PublishThreshold = 90
)

type Classifier interface {
	Classify(text string, ctx map[string]any) classifier.Classification
}

type Memory interface {
	HasBeenBlocked(action string) (types.MemoryEntry, bool)
	RiskAdjustment(action string) int
	Add(ctx context.Context, in memory.AddInput) (types.MemoryEntry, error)
	Stats() memory.Stats
}

type Registry interface {
	IsKnownThreat(action string) (types.ThreatReport, bool)
	Publish(ctx context.Context, in registry.PublishInput) (types.ThreatReport, error)
	Stats() registry.Stats
}

type Engine interface {
	Decide(in decision.Input) types.DecisionResult
	Stats() decision.Stats
}

type LedgerLogger interface {
	Record(ctx context.Context, result types.DecisionResult, agentID string) types.LedgerRecord
}

type Alerts interface {
	Enqueue(ctx context.Context, result types.ProcessResult) (bool, error)
}

type Config struct {
	AgentID    string
	Classifier Classifier
	Memory     Memory
	Registry   Registry
	Engine     Engine
	// Ledger and Alerts are optional.
	Ledger LedgerLogger
	Alerts Alerts
	Events events.Sink

	NewRequestID func() string
	Now          func() time.Time
}

type Pipeline struct {
	// mu serialises the read-decide-append sequence so two similar actions
	// never decide against the same history.
	mu sync.Mutex

	agentID    string
	classifier Classifier
	memory     Memory
	registry   Registry
	engine     Engine
	ledger     LedgerLogger
	alerts     Alerts
	events     events.Sink
	newID      func() string
	now        func() time.Time
}

func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Classifier == nil:
		return nil, fmt.Errorf("pipeline: classifier is required")
	case cfg.Memory == nil:
		return nil, fmt.Errorf("pipeline: memory is required")
	case cfg.Registry == nil:
		return nil, fmt.Errorf("pipeline: registry is required")
	case cfg.Engine == nil:
		return nil, fmt.Errorf("pipeline: decision engine is required")
	}
	p := &Pipeline{
		agentID:    cfg.AgentID,
		classifier: cfg.Classifier,
		memory:     cfg.Memory,
		registry:   cfg.Registry,
		engine:     cfg.Engine,
		ledger:     cfg.Ledger,
		alerts:     cfg.Alerts,
		events:     cfg.Events,
		newID:      cfg.NewRequestID,
		now:        cfg.Now,
	}
	if p.agentID == "" {
		p.agentID = DefaultAgentID
	}
	if p.events == nil {
		p.events = events.Nop{}
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

func (p *Pipeline) AgentID() string { return p.agentID }

// Process always yields a verdict. Storage, ledger and alert failures
// degrade the result's side effects, never the decision.
func (p *Pipeline) Process(ctx context.Context, action types.Action) types.ProcessResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	requestID := p.newID()
	result := types.ProcessResult{
		RequestID: requestID,
		Action:    action.Text,
		Target:    action.Target,
		Timestamp: p.now().UTC().Format(time.RFC3339Nano),
	}

	if threat, ok := p.registry.IsKnownThreat(action.Text); ok {
		p.emit(ctx, requestID, events.StageRegistryCheck, nil, map[string]any{
			"known_threat": true,
			"threat_id":    threat.ThreatID,
		})
		known := threat
		result.Allowed = false
		result.BlockedBy = types.BlockedByThreatRegistry
		result.Decision = types.DecisionBlock
		result.RiskScore = threat.RiskScore
		result.BaseScore = threat.RiskScore
		result.AlertLevel = types.AlertCritical
		result.KnownThreat = &known
		result.Reasoning = fmt.Sprintf("Known threat %s (%s, severity %s) reported by %s",
			threat.ThreatID, threat.ThreatType, threat.Severity, threat.ReporterAgent)
		p.alert(ctx, result)
		p.finish(ctx, result)
		return result
	}
	p.emit(ctx, requestID, events.StageRegistryCheck, nil, map[string]any{"known_threat": false})

	cls := p.classifier.Classify(action.Text, action.Context)
	p.emit(ctx, requestID, events.StageClassify, nil, map[string]any{
		"category":           cls.Category.String(),
		"score":              cls.Score,
		"injection_detected": cls.InjectionDetected,
	})

	_, blocked := p.memory.HasBeenBlocked(action.Text)
	adjustment := p.memory.RiskAdjustment(action.Text)
	final := decision.Clamp(cls.Score + adjustment)
	p.emit(ctx, requestID, events.StageMemory, nil, map[string]any{
		"memory_match": blocked,
		"adjustment":   adjustment,
	})

	res := p.engine.Decide(decision.Input{
		Action:      action.Text,
		RiskScore:   final,
		Category:    cls.Category,
		Reasoning:   cls.Reasoning,
		MemoryMatch: blocked,
	})
	p.emit(ctx, requestID, events.StageDecide, nil, map[string]any{
		"decision":    string(res.Decision),
		"decision_id": res.DecisionID,
		"risk_score":  res.RiskScore,
	})

	_, err := p.memory.Add(ctx, memory.AddInput{
		Action:    action.Text,
		Target:    action.Target,
		RiskScore: res.RiskScore,
		Outcome:   decision.Outcome(res.Decision),
		Reason:    res.Reasoning,
		Category:  res.Category,
	})
	p.emit(ctx, requestID, events.StageRemember, err, nil)

	category := res.Category
	result.Allowed = res.Decision.Allowed()
	result.Decision = res.Decision
	result.DecisionID = res.DecisionID
	result.RiskScore = res.RiskScore
	result.BaseScore = cls.BaseScore
	result.MemoryAdjustment = adjustment
	result.MemoryMatch = blocked
	result.Category = &category
	result.Reasoning = res.Reasoning
	result.AlertLevel = res.AlertLevel

	if res.ShouldLog && p.ledger != nil {
		rec := p.ledger.Record(ctx, res, p.agentID)
		result.Ledger = &rec
		var ledgerErr error
		if !rec.Recorded {
			ledgerErr = fmt.Errorf("ledger record skipped: %s", rec.Reason)
		}
		p.emit(ctx, requestID, events.StageLedger, ledgerErr, map[string]any{
			"content_ref": rec.ContentRef,
			"anchor_ref":  rec.AnchorRef,
		})
	}

	if res.Decision == types.DecisionBlock && res.RiskScore >= PublishThreshold {
		report, err := p.registry.Publish(ctx, registry.PublishInput{
			Action:    action.Text,
			Category:  res.Category,
			RiskScore: res.RiskScore,
			Reporter:  p.agentID,
		})
		// Publish keeps the report in process even when persisting failed.
		if report.ThreatID != "" {
			result.ThreatPublished = &report
		}
		p.emit(ctx, requestID, events.StagePublish, err, map[string]any{"threat_id": report.ThreatID})
	}

	p.alert(ctx, result)
	p.finish(ctx, result)
	return result
}

func (p *Pipeline) alert(ctx context.Context, result types.ProcessResult) {
	if p.alerts == nil {
		return
	}
	queued, err := p.alerts.Enqueue(ctx, result)
	if queued || err != nil {
		p.emit(ctx, result.RequestID, events.StageAlert, err, map[string]any{"level": string(result.AlertLevel)})
	}
}

func (p *Pipeline) finish(ctx context.Context, result types.ProcessResult) {
	fields := map[string]any{
		"allowed":    result.Allowed,
		"decision":   string(result.Decision),
		"risk_score": result.RiskScore,
	}
	if result.BlockedBy != "" {
		fields["blocked_by"] = result.BlockedBy
	}
	p.emit(ctx, result.RequestID, events.StageResult, nil, fields)
}

func (p *Pipeline) emit(ctx context.Context, requestID string, stage events.Stage, err error, fields map[string]any) {
	p.events.Emit(ctx, events.Event{
		Stage:     stage,
		RequestID: requestID,
		Time:      p.now().UTC(),
		Fields:    fields,
		Err:       err,
	})
}

type Stats struct {
	AgentID  string         `json:"agent_id"`
	Decision decision.Stats `json:"decision"`
	Memory   memory.Stats   `json:"memory"`
	Registry registry.Stats `json:"registry"`
	Ledger   *ledger.Stats  `json:"ledger,omitempty"`
}

type ledgerStats interface {
	Stats() ledger.Stats
}

// Stats aggregates every component's counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := Stats{
		AgentID:  p.agentID,
		Decision: p.engine.Stats(),
		Memory:   p.memory.Stats(),
		Registry: p.registry.Stats(),
	}
	if ls, ok := p.ledger.(ledgerStats); ok {
		s := ls.Stats()
		out.Ledger = &s
	}
	return out
}
