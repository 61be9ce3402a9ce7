package types

type Decision string

const (
	DecisionAutoApprove         Decision = "auto_approve"
	DecisionApproveWithLogging  Decision = "approve_with_logging"
	DecisionRequireConfirmation Decision = "require_confirmation"
	DecisionBlock               Decision = "block"
)

// Allowed reports whether the action may proceed without a human.
func (d Decision) Allowed() bool {
	return d == DecisionAutoApprove || d == DecisionApproveWithLogging
}

type AlertLevel string

const (
	AlertNone     AlertLevel = "none"
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

type DecisionResult struct {
	DecisionID string       `json:"decision_id"`
	Decision   Decision     `json:"decision"`
	RiskScore  int          `json:"risk_score"`
	Category   RiskCategory `json:"category"`
	Reasoning  string       `json:"reasoning"`
	Timestamp  string       `json:"timestamp"`
	Action     string       `json:"action"`
	ShouldLog  bool         `json:"should_log"`
	AlertLevel AlertLevel   `json:"alert_level"`
}

// LedgerRecord is what the ledger reports back for one decision.
type LedgerRecord struct {
	Recorded   bool   `json:"recorded"`
	ContentRef string `json:"content_ref,omitempty"`
	AnchorRef  string `json:"anchor_ref,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
