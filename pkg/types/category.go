package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RiskCategory is the closed set of action categories. The declaration order
// is the classifier's evaluation order and breaks equal-score ties.
type RiskCategory int

const (
	ReadOnly RiskCategory = iota
	WriteLocal
	WriteNetwork
	Financial
	Destructive
	PrivilegeEscalation
)

var categoryNames = [...]string{
	ReadOnly:            "READ_ONLY",
	WriteLocal:          "WRITE_LOCAL",
	WriteNetwork:        "WRITE_NETWORK",
	Financial:           "FINANCIAL",
	Destructive:         "DESTRUCTIVE",
	PrivilegeEscalation: "PRIVILEGE_ESCALATION",
}

// Categories returns every category in evaluation order.
func Categories() []RiskCategory {
	return []RiskCategory{ReadOnly, WriteLocal, WriteNetwork, Financial, Destructive, PrivilegeEscalation}
}

func (c RiskCategory) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("RiskCategory(%d)", int(c))
	}
	return categoryNames[c]
}

func (c RiskCategory) Valid() bool {
	return c >= ReadOnly && c <= PrivilegeEscalation
}

// ParseCategory accepts the upper-case name in any letter case.
func ParseCategory(s string) (RiskCategory, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if name == want {
			return RiskCategory(i), nil
		}
	}
	return 0, fmt.Errorf("unknown risk category %q", s)
}

func (c RiskCategory) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid risk category %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *RiskCategory) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c RiskCategory) MarshalJSON() ([]byte, error) {
	text, err := c.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

func (c *RiskCategory) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return c.UnmarshalText([]byte(s))
}
