// Package storage persists outcome memory, the threat registry, ledger
// entries and the alert outbox.
package storage

import (
	"context"
	"errors"

	"github.com/davidahmann/antibody/pkg/types"
)

var (
	// ErrConflict is returned by an append whose offset does not match the
	// current length of the sequence.
	ErrConflict = errors.New("storage: append conflict")
	ErrNotFound = errors.New("storage: not found")
)

// HistoryStore holds the two append-only sequences. seq is the zero-based
// offset the caller expects the new element to occupy.
type HistoryStore interface {
	LoadMemories(ctx context.Context) ([]types.MemoryEntry, error)
	AppendMemory(ctx context.Context, seq int, entry types.MemoryEntry) error
	LoadThreats(ctx context.Context) ([]types.ThreatReport, error)
	AppendThreat(ctx context.Context, seq int, report types.ThreatReport) error
	Close() error
}

type LedgerStore interface {
	// PutLedgerEntry is idempotent per decision id; a second entry for the
	// same decision is ignored.
	PutLedgerEntry(ctx context.Context, entry LedgerEntry) error
	// GetLedgerEntry looks an entry up by content ref or anchor ref.
	GetLedgerEntry(ctx context.Context, ref string) (LedgerEntry, error)
	GetLedgerEntryByDecision(ctx context.Context, decisionID string) (LedgerEntry, error)
	// ListLedgerEntries returns the newest entries first.
	ListLedgerEntries(ctx context.Context, limit int) ([]LedgerEntry, error)
}

type AlertStore interface {
	PutAlert(ctx context.Context, rec AlertRecord) error
	ListAlertsDue(ctx context.Context, now string, limit int) ([]AlertRecord, error)
}

// Store is implemented by the backends that hold everything.
type Store interface {
	HistoryStore
	LedgerStore
	AlertStore
}

type LedgerEntry struct {
	ContentRef string
	AnchorRef  string
	DecisionID string
	AgentID    string
	KeyID      string
	BlobJSON   []byte
	Sig        []byte
	CreatedAt  string
}

const (
	AlertPending = "pending"
	AlertSent    = "sent"
)

type AlertRecord struct {
	NotificationID string
	RequestID      string
	Level          string
	MessageJSON    []byte
	Status         string // pending | sent
	AttemptCount   int
	NextAttemptAt  string
	LastError      *string
	SentAt         *string
	CreatedAt      string
	UpdatedAt      string
}

const defaultListLimit = 100

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
