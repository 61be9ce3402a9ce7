package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/davidahmann/antibody/pkg/types"
)

// InMemoryStore keeps everything in process. It backs tests and the
// "memory" storage driver.
type InMemoryStore struct {
	mu sync.Mutex

	memories []types.MemoryEntry
	threats  []types.ThreatReport

	ledger     []LedgerEntry
	byRef      map[string]int
	byDecision map[string]int

	alerts     map[string]AlertRecord
	alertOrder []string
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byRef:      make(map[string]int),
		byDecision: make(map[string]int),
		alerts:     make(map[string]AlertRecord),
	}
}

func (s *InMemoryStore) LoadMemories(context.Context) ([]types.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.MemoryEntry(nil), s.memories...), nil
}

func (s *InMemoryStore) AppendMemory(_ context.Context, seq int, entry types.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != len(s.memories) {
		return ErrConflict
	}
	s.memories = append(s.memories, entry)
	return nil
}

func (s *InMemoryStore) LoadThreats(context.Context) ([]types.ThreatReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ThreatReport(nil), s.threats...), nil
}

func (s *InMemoryStore) AppendThreat(_ context.Context, seq int, report types.ThreatReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != len(s.threats) {
		return ErrConflict
	}
	s.threats = append(s.threats, report)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) PutLedgerEntry(_ context.Context, entry LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byDecision[entry.DecisionID]; ok {
		return nil
	}
	idx := len(s.ledger)
	s.ledger = append(s.ledger, entry)
	s.byDecision[entry.DecisionID] = idx
	s.byRef[entry.ContentRef] = idx
	if entry.AnchorRef != "" {
		s.byRef[entry.AnchorRef] = idx
	}
	return nil
}

func (s *InMemoryStore) GetLedgerEntry(_ context.Context, ref string) (LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byRef[ref]
	if !ok {
		return LedgerEntry{}, ErrNotFound
	}
	return s.ledger[idx], nil
}

func (s *InMemoryStore) GetLedgerEntryByDecision(_ context.Context, decisionID string) (LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byDecision[decisionID]
	if !ok {
		return LedgerEntry{}, ErrNotFound
	}
	return s.ledger[idx], nil
}

func (s *InMemoryStore) ListLedgerEntries(_ context.Context, limit int) ([]LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit = listLimit(limit)
	out := make([]LedgerEntry, 0, min(limit, len(s.ledger)))
	for i := len(s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.ledger[i])
	}
	return out, nil
}

func (s *InMemoryStore) PutAlert(_ context.Context, rec AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[rec.NotificationID]; !ok {
		s.alertOrder = append(s.alertOrder, rec.NotificationID)
	}
	s.alerts[rec.NotificationID] = rec
	return nil
}

// GetAlert is used by tests and the outbox worker to inspect delivery state.
func (s *InMemoryStore) GetAlert(notificationID string) (AlertRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.alerts[notificationID]
	return rec, ok
}

func (s *InMemoryStore) ListAlertsDue(_ context.Context, now string, limit int) ([]AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit = listLimit(limit)
	out := []AlertRecord{}
	for _, id := range s.alertOrder {
		rec := s.alerts[id]
		if rec.Status != AlertPending || rec.NextAttemptAt > now {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
