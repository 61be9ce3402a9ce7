package types

type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeConfirmed Outcome = "confirmed"
)

// MemoryEntry is one immutable record of a processed action.
type MemoryEntry struct {
	Timestamp   string       `json:"timestamp"`
	Action      string       `json:"action"`
	Fingerprint string       `json:"action_hash"`
	Target      string       `json:"target"`
	RiskScore   int          `json:"risk_score"`
	Outcome     Outcome      `json:"outcome"`
	Reason      string       `json:"reason"`
	Category    RiskCategory `json:"category"`
}
