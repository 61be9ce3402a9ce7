package types

import (
	"encoding/json"
	"testing"
)

func TestCategoryJSONRoundTrip(t *testing.T) {
	for _, c := range Categories() {
		data, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("marshal %v: %v", c, err)
		}
		var back RiskCategory
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != c {
			t.Fatalf("round trip mismatch: %v vs %v", back, c)
		}
	}
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" financial ")
	if err != nil || c != Financial {
		t.Fatalf("expected FINANCIAL, got %v err=%v", c, err)
	}
	if _, err := ParseCategory("NETWORK_READ"); err == nil {
		t.Fatalf("expected error for unknown category")
	}
	if _, err := json.Marshal(RiskCategory(42)); err == nil {
		t.Fatalf("expected error marshalling invalid category")
	}
}

func TestCategoryOrder(t *testing.T) {
	cats := Categories()
	for i := 1; i < len(cats); i++ {
		if cats[i] <= cats[i-1] {
			t.Fatalf("categories out of order at %d", i)
		}
	}
	if cats[0] != ReadOnly || cats[len(cats)-1] != PrivilegeEscalation {
		t.Fatalf("unexpected bounds: %v..%v", cats[0], cats[len(cats)-1])
	}
}

func TestDecisionAllowed(t *testing.T) {
	if !DecisionAutoApprove.Allowed() || !DecisionApproveWithLogging.Allowed() {
		t.Fatalf("approve decisions must be allowed")
	}
	if DecisionRequireConfirmation.Allowed() || DecisionBlock.Allowed() {
		t.Fatalf("confirm/block must not be allowed")
	}
}
