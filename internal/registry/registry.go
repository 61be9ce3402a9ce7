// Package registry is the threat registry shared between agents: reports of
// actions that were blocked as critical, queried before anything else runs.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidahmann/antibody/internal/crypto"
	"github.com/davidahmann/antibody/internal/similarity"
	"github.com/davidahmann/antibody/internal/storage"
	"github.com/davidahmann/antibody/pkg/types"
)

const (
	DefaultThreshold = 0.6
	threatIDLen      = 16
	maxAppendRetries = 3
)

var cryptoAddress = regexp.MustCompile(`(?i)0x\w{2,}`)

// InjectionDetector recognises prompt-injection phrasing. The classifier
// satisfies it.
type InjectionDetector interface {
	DetectsInjection(text string) bool
}

type Options struct {
	Threshold float64
	Detector  InjectionDetector
	Now       func() time.Time
	Logger    *zap.Logger
}

type Registry struct {
	mu        sync.RWMutex
	threats   []types.ThreatReport
	published int
	// persisted counts the leading reports known to be in backend.
	persisted int

	backend   storage.HistoryStore
	threshold float64
	detector  InjectionDetector
	now       func() time.Time
	logger    *zap.Logger
}

type PublishInput struct {
	Action    string
	Category  types.RiskCategory
	RiskScore int
	Reporter  string
}

// New loads all known threats from backend. A load failure is logged and the
// registry starts empty.
func New(ctx context.Context, backend storage.HistoryStore, opts Options) *Registry {
	r := &Registry{
		backend:   backend,
		threshold: opts.Threshold,
		detector:  opts.Detector,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if r.threshold <= 0 {
		r.threshold = DefaultThreshold
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if backend == nil {
		return r
	}
	loaded, err := backend.LoadThreats(ctx)
	if err != nil {
		r.logger.Warn("threat registry unavailable, starting empty", zap.Error(err))
		return r
	}
	r.threats = loaded
	r.persisted = len(loaded)
	return r
}

// Publish appends a report. The report is kept in process even when the
// returned error reports that persisting it failed.
func (r *Registry) Publish(ctx context.Context, in PublishInput) (types.ThreatReport, error) {
	sourceHash := similarity.Fingerprint(in.Action)
	report := types.ThreatReport{
		ThreatID:      ThreatID(sourceHash, in.Reporter),
		ThreatType:    r.threatType(in.Action, in.Category),
		Pattern:       in.Action,
		SourceHash:    sourceHash,
		ReporterAgent: in.Reporter,
		Timestamp:     r.now().UTC().Format(time.RFC3339Nano),
		Severity:      SeverityFor(in.RiskScore),
		RiskScore:     in.RiskScore,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.threats = append(r.threats, report)
	r.published++
	if r.backend == nil {
		return report, nil
	}
	if err := r.flush(ctx); err != nil {
		return report, fmt.Errorf("persist threat: %w", err)
	}
	return report, nil
}

// flush appends every unpersisted report, reloading the backend list on a
// conflict and keeping the unpersisted reports after it.
func (r *Registry) flush(ctx context.Context) error {
	conflicts := 0
	for r.persisted < len(r.threats) {
		err := r.backend.AppendThreat(ctx, r.persisted, r.threats[r.persisted])
		switch {
		case err == nil:
			r.persisted++
		case errors.Is(err, storage.ErrConflict):
			conflicts++
			if conflicts >= maxAppendRetries {
				return err
			}
			loaded, loadErr := r.backend.LoadThreats(ctx)
			if loadErr != nil {
				return loadErr
			}
			pending := r.threats[r.persisted:]
			r.threats = append(loaded, pending...)
			r.persisted = len(loaded)
		default:
			return err
		}
	}
	return nil
}

func (r *Registry) threatType(action string, category types.RiskCategory) types.ThreatType {
	switch {
	case r.detectsInjection(action):
		return types.ThreatPromptInjection
	case category == types.Financial && cryptoAddress.MatchString(action):
		return types.ThreatMaliciousAddress
	case category == types.Destructive:
		return types.ThreatDestructiveCommand
	case category == types.PrivilegeEscalation:
		return types.ThreatPrivilegeEscalation
	default:
		return types.ThreatSuspiciousAction
	}
}

func (r *Registry) detectsInjection(action string) bool {
	if r.detector != nil {
		return r.detector.DetectsInjection(action)
	}
	lower := strings.ToLower(action)
	return strings.Contains(lower, "ignore") && strings.Contains(lower, "instruction")
}

// ThreatID derives the report id from the action fingerprint and reporter.
func ThreatID(sourceHash, reporter string) string {
	return crypto.ShortDigest([]byte(sourceHash+reporter), threatIDLen)
}

func SeverityFor(score int) types.Severity {
	switch {
	case score >= 90:
		return types.SeverityCritical
	case score >= 70:
		return types.SeverityHigh
	case score >= 40:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

// Query returns matching reports in insertion order. A threshold of zero or
// less uses the registry default.
func (r *Registry) Query(action string, threshold float64) []types.ThreatReport {
	if threshold <= 0 {
		threshold = r.threshold
	}
	q := similarity.NewQuery(action, threshold)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.ThreatReport
	for _, t := range r.threats {
		if q.Matches(t.Pattern, t.SourceHash) {
			out = append(out, t)
		}
	}
	return out
}

// IsKnownThreat returns the highest-scoring match; the first one wins a tie.
func (r *Registry) IsKnownThreat(action string) (types.ThreatReport, bool) {
	var (
		best  types.ThreatReport
		found bool
	)
	for _, t := range r.Query(action, 0) {
		if !found || t.RiskScore > best.RiskScore {
			best, found = t, true
		}
	}
	return best, found
}

// All returns every report in insertion order.
func (r *Registry) All() []types.ThreatReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.ThreatReport(nil), r.threats...)
}

type Stats struct {
	TotalThreats     int                    `json:"total_threats"`
	ThreatsPublished int                    `json:"threats_published"`
	BySeverity       map[types.Severity]int `json:"by_severity"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{
		TotalThreats:     len(r.threats),
		ThreatsPublished: r.published,
		BySeverity:       map[types.Severity]int{},
	}
	for _, t := range r.threats {
		st.BySeverity[t.Severity]++
	}
	return st
}
