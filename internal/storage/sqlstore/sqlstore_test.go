package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/davidahmann/antibody/internal/storage"
	"github.com/davidahmann/antibody/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoriesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := types.MemoryEntry{
		Timestamp:   "2025-12-20T00:00:00Z",
		Action:      "send 10 units to 0xabc",
		Fingerprint: "0123456789abcdef",
		Target:      "0xabc",
		RiskScore:   95,
		Outcome:     types.OutcomeBlocked,
		Reason:      "Critical risk - BLOCKED",
		Category:    types.Financial,
	}
	if err := s.AppendMemory(ctx, 0, entry); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendMemory(ctx, 0, entry); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict for stale offset, got %v", err)
	}
	if err := s.AppendMemory(ctx, 5, entry); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict for gap, got %v", err)
	}

	got, err := s.LoadMemories(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0] != entry {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestThreatsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	reports := []types.ThreatReport{
		{ThreatID: "t1", ThreatType: types.ThreatPromptInjection, Pattern: "ignore all", SourceHash: "h1", ReporterAgent: "agent-a", Timestamp: "2025-12-20T00:00:00Z", Severity: types.SeverityCritical, RiskScore: 95},
		{ThreatID: "t2", ThreatType: types.ThreatDestructiveCommand, Pattern: "rm -rf /", SourceHash: "h2", ReporterAgent: "agent-b", Timestamp: "2025-12-20T00:00:01Z", Severity: types.SeverityHigh, RiskScore: 85},
	}
	for i, r := range reports {
		if err := s.AppendThreat(ctx, i, r); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	got, err := s.LoadThreats(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0] != reports[0] || got[1] != reports[1] {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLedgerEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e1 := storage.LedgerEntry{ContentRef: "sha256:c1", AnchorRef: "anchor:a1", DecisionID: "d1", AgentID: "agent", KeyID: "k", BlobJSON: []byte(`{"v":1}`), Sig: []byte("sig1"), CreatedAt: "2025-12-20T00:00:00Z"}
	e2 := storage.LedgerEntry{ContentRef: "sha256:c2", AnchorRef: "anchor:a2", DecisionID: "d2", AgentID: "agent", KeyID: "k", BlobJSON: []byte(`{"v":2}`), Sig: []byte("sig2"), CreatedAt: "2025-12-20T00:00:01Z"}
	for _, e := range []storage.LedgerEntry{e1, e2} {
		if err := s.PutLedgerEntry(ctx, e); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	dup := e1
	dup.ContentRef, dup.AnchorRef = "sha256:other", "anchor:other"
	if err := s.PutLedgerEntry(ctx, dup); err != nil {
		t.Fatalf("duplicate decision should be ignored: %v", err)
	}

	byContent, err := s.GetLedgerEntry(ctx, "sha256:c1")
	if err != nil || string(byContent.BlobJSON) != `{"v":1}` || string(byContent.Sig) != "sig1" {
		t.Fatalf("get by content: %+v %v", byContent, err)
	}
	byAnchor, err := s.GetLedgerEntry(ctx, "anchor:a2")
	if err != nil || byAnchor.DecisionID != "d2" {
		t.Fatalf("get by anchor: %+v %v", byAnchor, err)
	}
	byDecision, err := s.GetLedgerEntryByDecision(ctx, "d1")
	if err != nil || byDecision.ContentRef != "sha256:c1" {
		t.Fatalf("get by decision: %+v %v", byDecision, err)
	}
	if _, err := s.GetLedgerEntry(ctx, "sha256:missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := s.ListLedgerEntries(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].DecisionID != "d2" {
		t.Fatalf("expected newest first, got %+v", list)
	}
}

func TestAlertOutbox(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := storage.AlertRecord{
		NotificationID: "n1",
		RequestID:      "r1",
		Level:          "critical",
		MessageJSON:    []byte(`{"text":"blocked"}`),
		Status:         storage.AlertPending,
		NextAttemptAt:  "2025-12-20T00:00:00Z",
		CreatedAt:      "2025-12-20T00:00:00Z",
		UpdatedAt:      "2025-12-20T00:00:00Z",
	}
	if err := s.PutAlert(ctx, rec); err != nil {
		t.Fatalf("put alert: %v", err)
	}

	due, err := s.ListAlertsDue(ctx, "2025-12-20T00:00:01Z", 10)
	if err != nil || len(due) != 1 || string(due[0].MessageJSON) != `{"text":"blocked"}` {
		t.Fatalf("due: %+v %v", due, err)
	}
	notYet, err := s.ListAlertsDue(ctx, "2025-12-19T00:00:00Z", 10)
	if err != nil || len(notYet) != 0 {
		t.Fatalf("expected nothing due yet: %+v %v", notYet, err)
	}

	sent := "2025-12-20T00:00:02Z"
	rec.Status = storage.AlertSent
	rec.SentAt = &sent
	rec.AttemptCount = 1
	if err := s.PutAlert(ctx, rec); err != nil {
		t.Fatalf("update alert: %v", err)
	}
	due, err = s.ListAlertsDue(ctx, "2025-12-21T00:00:00Z", 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("sent alert still due: %+v %v", due, err)
	}
}
