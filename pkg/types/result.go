package types

const BlockedByThreatRegistry = "threat_registry"

// ProcessResult is the verdict returned to callers for one action.
type ProcessResult struct {
	RequestID        string        `json:"request_id"`
	Allowed          bool          `json:"allowed"`
	BlockedBy        string        `json:"blocked_by,omitempty"`
	Decision         Decision      `json:"decision"`
	DecisionID       string        `json:"decision_id,omitempty"`
	RiskScore        int           `json:"risk_score"`
	BaseScore        int           `json:"base_score"`
	MemoryAdjustment int           `json:"memory_adjustment"`
	MemoryMatch      bool          `json:"memory_match"`
	Category         *RiskCategory `json:"category,omitempty"`
	Reasoning        string        `json:"reasoning"`
	AlertLevel       AlertLevel    `json:"alert_level"`
	Ledger           *LedgerRecord `json:"ledger,omitempty"`
	KnownThreat      *ThreatReport `json:"threat_report,omitempty"`
	ThreatPublished  *ThreatReport `json:"threat_published,omitempty"`
	Action           string        `json:"action"`
	Target           string        `json:"target,omitempty"`
	Timestamp        string        `json:"timestamp"`
}
