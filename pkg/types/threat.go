package types

type ThreatType string

const (
	ThreatPromptInjection     ThreatType = "prompt_injection"
	ThreatMaliciousAddress    ThreatType = "malicious_address"
	ThreatDestructiveCommand  ThreatType = "destructive_command"
	ThreatPrivilegeEscalation ThreatType = "privilege_escalation"
	ThreatSuspiciousAction    ThreatType = "suspicious_action"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ThreatReport is an immutable entry of the shared threat registry.
type ThreatReport struct {
	ThreatID      string     `json:"threat_id"`
	ThreatType    ThreatType `json:"threat_type"`
	Pattern       string     `json:"pattern"`
	SourceHash    string     `json:"source_hash"`
	ReporterAgent string     `json:"reporter_agent"`
	Timestamp     string     `json:"timestamp"`
	Severity      Severity   `json:"severity"`
	RiskScore     int        `json:"risk_score"`
}
