// Package sqlstore is the SQLite backend, built on the pure-Go
// modernc.org/sqlite driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/davidahmann/antibody/internal/storage"
	"github.com/davidahmann/antibody/pkg/types"
)

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// OpenSQLite opens the database and applies migrations.
func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps per-connection
	// pragmas in force.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := configure(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := storage.Migrate(db, storage.DBSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return New(db), nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// appendAt inserts at offset seq only when the table currently holds
// exactly seq rows.
func (s *Store) appendAt(ctx context.Context, table string, seq int, insert string, args ...any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
			return err
		}
		if count != seq {
			return storage.ErrConflict
		}
		_, err := tx.ExecContext(ctx, insert, append([]any{seq}, args...)...)
		return err
	})
}

func (s *Store) LoadMemories(ctx context.Context) ([]types.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, action, action_hash, target, risk_score, outcome, reason, category
FROM memories ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.MemoryEntry{}
	for rows.Next() {
		var e types.MemoryEntry
		var outcome, category string
		if err := rows.Scan(&e.Timestamp, &e.Action, &e.Fingerprint, &e.Target, &e.RiskScore, &outcome, &e.Reason, &category); err != nil {
			return nil, err
		}
		e.Outcome = types.Outcome(outcome)
		if e.Category, err = types.ParseCategory(category); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AppendMemory(ctx context.Context, seq int, e types.MemoryEntry) error {
	return s.appendAt(ctx, "memories", seq,
		`INSERT INTO memories(seq, timestamp, action, action_hash, target, risk_score, outcome, reason, category)
VALUES(?,?,?,?,?,?,?,?,?)`,
		e.Timestamp, e.Action, e.Fingerprint, e.Target, e.RiskScore, string(e.Outcome), e.Reason, e.Category.String(),
	)
}

func (s *Store) LoadThreats(ctx context.Context) ([]types.ThreatReport, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT threat_id, threat_type, pattern, source_hash, reporter_agent, timestamp, severity, risk_score
FROM threats ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.ThreatReport{}
	for rows.Next() {
		var r types.ThreatReport
		var threatType, severity string
		if err := rows.Scan(&r.ThreatID, &threatType, &r.Pattern, &r.SourceHash, &r.ReporterAgent, &r.Timestamp, &severity, &r.RiskScore); err != nil {
			return nil, err
		}
		r.ThreatType = types.ThreatType(threatType)
		r.Severity = types.Severity(severity)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AppendThreat(ctx context.Context, seq int, r types.ThreatReport) error {
	return s.appendAt(ctx, "threats", seq,
		`INSERT INTO threats(seq, threat_id, threat_type, pattern, source_hash, reporter_agent, timestamp, severity, risk_score)
VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ThreatID, string(r.ThreatType), r.Pattern, r.SourceHash, r.ReporterAgent, r.Timestamp, string(r.Severity), r.RiskScore,
	)
}

func (s *Store) PutLedgerEntry(ctx context.Context, e storage.LedgerEntry) error {
	if e.ContentRef == "" || e.DecisionID == "" {
		return fmt.Errorf("missing content_ref or decision_id")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO ledger_entries(content_ref, anchor_ref, decision_id, agent_id, key_id, blob_json, sig, created_at)
VALUES(?,?,?,?,?,?,?,?) ON CONFLICT DO NOTHING`,
		e.ContentRef, e.AnchorRef, e.DecisionID, e.AgentID, e.KeyID, string(e.BlobJSON), e.Sig, e.CreatedAt,
	)
	return err
}

const ledgerColumns = `content_ref, anchor_ref, decision_id, agent_id, key_id, blob_json, sig, created_at`

func scanLedger(row interface{ Scan(...any) error }) (storage.LedgerEntry, error) {
	var e storage.LedgerEntry
	var blob string
	if err := row.Scan(&e.ContentRef, &e.AnchorRef, &e.DecisionID, &e.AgentID, &e.KeyID, &blob, &e.Sig, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.LedgerEntry{}, storage.ErrNotFound
		}
		return storage.LedgerEntry{}, err
	}
	e.BlobJSON = []byte(blob)
	return e, nil
}

func (s *Store) GetLedgerEntry(ctx context.Context, ref string) (storage.LedgerEntry, error) {
	return scanLedger(s.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE content_ref = ? OR anchor_ref = ?`, ref, ref))
}

func (s *Store) GetLedgerEntryByDecision(ctx context.Context, decisionID string) (storage.LedgerEntry, error) {
	return scanLedger(s.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE decision_id = ?`, decisionID))
}

func (s *Store) ListLedgerEntries(ctx context.Context, limit int) ([]storage.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) PutAlert(ctx context.Context, rec storage.AlertRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_outbox(notification_id, request_id, level, message_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(notification_id) DO UPDATE SET
  status=excluded.status,
  attempt_count=excluded.attempt_count,
  next_attempt_at=excluded.next_attempt_at,
  last_error=excluded.last_error,
  sent_at=excluded.sent_at,
  updated_at=excluded.updated_at`,
		rec.NotificationID,
		rec.RequestID,
		rec.Level,
		string(rec.MessageJSON),
		rec.Status,
		rec.AttemptCount,
		rec.NextAttemptAt,
		rec.LastError,
		rec.SentAt,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

func (s *Store) ListAlertsDue(ctx context.Context, now string, limit int) ([]storage.AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT notification_id, request_id, level, message_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at
FROM alert_outbox
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY created_at ASC
LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.AlertRecord{}
	for rows.Next() {
		var rec storage.AlertRecord
		var msg string
		if err := rows.Scan(&rec.NotificationID, &rec.RequestID, &rec.Level, &msg, &rec.Status, &rec.AttemptCount, &rec.NextAttemptAt, &rec.LastError, &rec.SentAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.MessageJSON = []byte(msg)
		out = append(out, rec)
	}
	return out, rows.Err()
}
