// Package ledger writes a tamper-evident record for every decision worth
// keeping: a canonical JSON blob addressed by its digest, signed, and given
// an anchor reference derived from digest and signature.
package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/davidahmann/antibody/internal/crypto"
	"github.com/davidahmann/antibody/internal/intent"
	"github.com/davidahmann/antibody/internal/storage"
	"github.com/davidahmann/antibody/pkg/types"
)

const (
	BlobVersion     = "1.0"
	DefaultNetwork  = "testnet"
	anchorPrefix    = "anchor:"
	anchorDigestLen = 40
	noRecordReason  = "Low risk - no ledger record needed"
)

var (
	ErrDigestMismatch = errors.New("ledger entry digest mismatch")
	ErrSignature      = errors.New("ledger entry signature invalid")
	ErrAnchorMismatch = errors.New("ledger entry anchor mismatch")
	ErrNoPublicKey    = errors.New("ledger signer exposes no public key")
)

type Config struct {
	Network string
	Signer  Signer
	Store   storage.LedgerStore
	Now     func() time.Time
	Logger  *zap.Logger
}

type Logger struct {
	network string
	signer  Signer
	store   storage.LedgerStore
	now     func() time.Time
	logger  *zap.Logger

	written atomic.Int64
	failed  atomic.Int64
}

func NewLogger(cfg Config) (*Logger, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("ledger: missing signer")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("ledger: missing store")
	}
	if cfg.Network == "" {
		cfg.Network = DefaultNetwork
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Logger{
		network: cfg.Network,
		signer:  cfg.Signer,
		store:   cfg.Store,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}, nil
}

// Record writes the ledger entry for result. It never fails: problems are
// reported as Recorded=false with a reason. A decision already on the ledger
// returns its existing record.
func (l *Logger) Record(ctx context.Context, result types.DecisionResult, agentID string) types.LedgerRecord {
	if !result.ShouldLog {
		return types.LedgerRecord{Recorded: false, Reason: noRecordReason}
	}

	if existing, err := l.store.GetLedgerEntryByDecision(ctx, result.DecisionID); err == nil {
		return recordFor(existing)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return l.fail(result, "ledger lookup", err)
	}

	entry, err := l.build(result, agentID)
	if err != nil {
		return l.fail(result, "ledger build", err)
	}
	if err := l.store.PutLedgerEntry(ctx, entry); err != nil {
		return l.fail(result, "ledger store", err)
	}
	l.written.Add(1)
	return recordFor(entry)
}

func (l *Logger) fail(result types.DecisionResult, stage string, err error) types.LedgerRecord {
	l.failed.Add(1)
	l.logger.Warn("ledger record failed",
		zap.String("decision_id", result.DecisionID),
		zap.String("stage", stage),
		zap.Error(err),
	)
	return types.LedgerRecord{Recorded: false, Reason: fmt.Sprintf("%s: %v", stage, err)}
}

func recordFor(e storage.LedgerEntry) types.LedgerRecord {
	return types.LedgerRecord{
		Recorded:   true,
		ContentRef: e.ContentRef,
		AnchorRef:  e.AnchorRef,
		Timestamp:  e.CreatedAt,
	}
}

// Blob is the canonical view of a decision as it goes on the ledger.
func (l *Logger) Blob(result types.DecisionResult, agentID string) map[string]any {
	return map[string]any{
		"version":     BlobVersion,
		"agent_id":    agentID,
		"decision_id": result.DecisionID,
		"timestamp":   result.Timestamp,
		"action":      result.Action,
		"decision":    string(result.Decision),
		"risk_score":  result.RiskScore,
		"category":    result.Category.String(),
		"reasoning":   result.Reasoning,
		"alert_level": string(result.AlertLevel),
		"network":     l.network,
		"intent":      intent.Extract(result.Action).View(),
	}
}

func (l *Logger) build(result types.DecisionResult, agentID string) (storage.LedgerEntry, error) {
	canonical, err := crypto.Canonicalize(l.Blob(result, agentID))
	if err != nil {
		return storage.LedgerEntry{}, err
	}
	contentRef := crypto.DigestWithPrefix(canonical)
	sig, err := l.signer.SignEd25519(crypto.DigestBytes(canonical))
	if err != nil {
		return storage.LedgerEntry{}, err
	}
	return storage.LedgerEntry{
		ContentRef: contentRef,
		AnchorRef:  AnchorFor(contentRef, sig),
		DecisionID: result.DecisionID,
		AgentID:    agentID,
		KeyID:      l.signer.KeyID(),
		BlobJSON:   canonical,
		Sig:        sig,
		CreatedAt:  l.now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// AnchorFor derives the anchor reference binding a content ref to its
// signature.
func AnchorFor(contentRef string, sig []byte) string {
	return anchorPrefix + crypto.ShortDigest([]byte(contentRef+hex.EncodeToString(sig)), anchorDigestLen)
}

// Verify checks that an entry's blob matches its content ref, that the
// signature is valid for publicKey, and that the anchor was derived from both.
func Verify(entry storage.LedgerEntry, publicKey ed25519.PublicKey) error {
	if crypto.DigestWithPrefix(entry.BlobJSON) != entry.ContentRef {
		return ErrDigestMismatch
	}
	ok, err := crypto.VerifyEd25519(publicKey, crypto.DigestBytes(entry.BlobJSON), entry.Sig)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSignature
	}
	if AnchorFor(entry.ContentRef, entry.Sig) != entry.AnchorRef {
		return ErrAnchorMismatch
	}
	return nil
}

// Lookup fetches an entry by content or anchor ref and verifies it against
// the logger's own key.
func (l *Logger) Lookup(ctx context.Context, ref string) (storage.LedgerEntry, error) {
	entry, err := l.store.GetLedgerEntry(ctx, ref)
	if err != nil {
		return storage.LedgerEntry{}, err
	}
	pk, ok := l.signer.(interface{ PublicKey() ed25519.PublicKey })
	if !ok {
		return entry, ErrNoPublicKey
	}
	return entry, Verify(entry, pk.PublicKey())
}

// Recent lists the newest entries first.
func (l *Logger) Recent(ctx context.Context, limit int) ([]storage.LedgerEntry, error) {
	return l.store.ListLedgerEntries(ctx, limit)
}

type Stats struct {
	LogsWritten int64  `json:"logs_written"`
	Failures    int64  `json:"failures"`
	Network     string `json:"network"`
	KeyID       string `json:"key_id"`
}

func (l *Logger) Stats() Stats {
	return Stats{
		LogsWritten: l.written.Load(),
		Failures:    l.failed.Load(),
		Network:     l.network,
		KeyID:       l.signer.KeyID(),
	}
}
