// Package memory is the outcome memory: every processed action and what was
// decided for it, searchable by similarity.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidahmann/antibody/internal/similarity"
	"github.com/davidahmann/antibody/internal/storage"
	"github.com/davidahmann/antibody/pkg/types"
)

const (
	DefaultThreshold = 0.7
	BlockedPenalty   = 20
	maxAppendRetries = 3
)

type Options struct {
	// Threshold is the default similarity threshold for FindSimilar.
	Threshold float64
	Now       func() time.Time
	Logger    *zap.Logger
}

type Store struct {
	mu      sync.RWMutex
	entries []types.MemoryEntry
	// persisted counts the leading entries known to be in backend; the rest
	// of entries are pending and get re-appended on the next Add.
	persisted int
	backend   storage.HistoryStore
	threshold float64
	now       func() time.Time
	logger    *zap.Logger
}

type AddInput struct {
	Action    string
	Target    string
	RiskScore int
	Outcome   types.Outcome
	Reason    string
	Category  types.RiskCategory
}

// New loads the full history from backend. A load failure is logged and the
// store starts empty.
func New(ctx context.Context, backend storage.HistoryStore, opts Options) *Store {
	s := &Store{
		backend:   backend,
		threshold: opts.Threshold,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if s.threshold <= 0 {
		s.threshold = DefaultThreshold
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if backend == nil {
		return s
	}
	loaded, err := backend.LoadMemories(ctx)
	if err != nil {
		s.logger.Warn("memory history unavailable, starting empty", zap.Error(err))
		return s
	}
	s.entries = loaded
	s.persisted = len(loaded)
	return s
}

// Add records an outcome. The entry is kept in process even when the
// returned error reports that persisting it failed, and is appended to the
// backend again on the next Add.
func (s *Store) Add(ctx context.Context, in AddInput) (types.MemoryEntry, error) {
	entry := types.MemoryEntry{
		Timestamp:   s.now().UTC().Format(time.RFC3339Nano),
		Action:      in.Action,
		Fingerprint: similarity.Fingerprint(in.Action),
		Target:      in.Target,
		RiskScore:   in.RiskScore,
		Outcome:     in.Outcome,
		Reason:      in.Reason,
		Category:    in.Category,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		s.entries = append(s.entries, entry)
		return entry, nil
	}

	s.entries = append(s.entries, entry)
	if err := s.flush(ctx); err != nil {
		return entry, fmt.Errorf("persist memory: %w", err)
	}
	return entry, nil
}

// flush appends every pending entry at the persisted offset. On a conflict
// the backend history is reloaded and the pending entries are kept after it.
func (s *Store) flush(ctx context.Context) error {
	conflicts := 0
	for s.persisted < len(s.entries) {
		err := s.backend.AppendMemory(ctx, s.persisted, s.entries[s.persisted])
		switch {
		case err == nil:
			s.persisted++
		case errors.Is(err, storage.ErrConflict):
			conflicts++
			if conflicts >= maxAppendRetries {
				return err
			}
			loaded, loadErr := s.backend.LoadMemories(ctx)
			if loadErr != nil {
				return loadErr
			}
			pending := s.entries[s.persisted:]
			s.entries = append(loaded, pending...)
			s.persisted = len(loaded)
		default:
			return err
		}
	}
	return nil
}

// FindSimilar returns matching entries in insertion order. A threshold of
// zero or less uses the store default.
func (s *Store) FindSimilar(action string, threshold float64) []types.MemoryEntry {
	if threshold <= 0 {
		threshold = s.threshold
	}
	q := similarity.NewQuery(action, threshold)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.MemoryEntry
	for _, e := range s.entries {
		if q.Matches(e.Action, e.Fingerprint) {
			out = append(out, e)
		}
	}
	return out
}

// HasBeenBlocked returns the earliest similar entry whose outcome was blocked.
func (s *Store) HasBeenBlocked(action string) (types.MemoryEntry, bool) {
	for _, e := range s.FindSimilar(action, 0) {
		if e.Outcome == types.OutcomeBlocked {
			return e, true
		}
	}
	return types.MemoryEntry{}, false
}

func (s *Store) RiskAdjustment(action string) int {
	if _, ok := s.HasBeenBlocked(action); ok {
		return BlockedPenalty
	}
	return 0
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

type Stats struct {
	TotalEntries int `json:"total_entries"`
	Blocked      int `json:"blocked"`
	Approved     int `json:"approved"`
	Confirmed    int `json:"confirmed"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{TotalEntries: len(s.entries)}
	for _, e := range s.entries {
		switch e.Outcome {
		case types.OutcomeBlocked:
			st.Blocked++
		case types.OutcomeApproved:
			st.Approved++
		case types.OutcomeConfirmed:
			st.Confirmed++
		}
	}
	return st
}
