// Package pgstore is the Postgres backend, built on lib/pq.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/davidahmann/antibody/internal/storage"
	"github.com/davidahmann/antibody/pkg/types"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// OpenPostgres connects and applies migrations.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := storage.Migrate(db, storage.DBPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

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

// appendAt inserts at offset seq when the table holds exactly seq rows. Two
// writers racing past the count check collide on the seq primary key, which
// is reported as a conflict too.
func (s *Store) appendAt(ctx context.Context, table string, seq int, insert string, args ...any) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
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
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) LoadMemories(ctx context.Context) ([]types.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, action, action_hash, target, risk_score, outcome, reason, category
FROM antibody_memories ORDER BY seq ASC`)
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
	return s.appendAt(ctx, "antibody_memories", seq,
		`INSERT INTO antibody_memories(seq, timestamp, action, action_hash, target, risk_score, outcome, reason, category)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.Timestamp, e.Action, e.Fingerprint, e.Target, e.RiskScore, string(e.Outcome), e.Reason, e.Category.String(),
	)
}

func (s *Store) LoadThreats(ctx context.Context) ([]types.ThreatReport, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT threat_id, threat_type, pattern, source_hash, reporter_agent, timestamp, severity, risk_score
FROM antibody_threats ORDER BY seq ASC`)
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
	return s.appendAt(ctx, "antibody_threats", seq,
		`INSERT INTO antibody_threats(seq, threat_id, threat_type, pattern, source_hash, reporter_agent, timestamp, severity, risk_score)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ThreatID, string(r.ThreatType), r.Pattern, r.SourceHash, r.ReporterAgent, r.Timestamp, string(r.Severity), r.RiskScore,
	)
}

func (s *Store) PutLedgerEntry(ctx context.Context, e storage.LedgerEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if !json.Valid(e.BlobJSON) {
			return errors.New("invalid blob_json")
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO antibody_ledger_entries(content_ref, anchor_ref, decision_id, agent_id, key_id, blob_json, sig, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT DO NOTHING`,
			e.ContentRef, e.AnchorRef, e.DecisionID, e.AgentID, e.KeyID, string(e.BlobJSON), e.Sig, e.CreatedAt,
		)
		return err
	})
}

const ledgerColumns = `content_ref, anchor_ref, decision_id, agent_id, key_id, blob_json::text, sig, created_at::text`

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
	return scanLedger(s.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM antibody_ledger_entries WHERE content_ref = $1 OR anchor_ref = $1`, ref))
}

func (s *Store) GetLedgerEntryByDecision(ctx context.Context, decisionID string) (storage.LedgerEntry, error) {
	return scanLedger(s.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM antibody_ledger_entries WHERE decision_id = $1`, decisionID))
}

func (s *Store) ListLedgerEntries(ctx context.Context, limit int) ([]storage.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+ledgerColumns+` FROM antibody_ledger_entries ORDER BY created_at DESC, content_ref ASC LIMIT $1`, limit)
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
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if !json.Valid(rec.MessageJSON) {
			return errors.New("invalid message_json")
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO antibody_alert_outbox(notification_id, request_id, level, message_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
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
	})
}

func (s *Store) ListAlertsDue(ctx context.Context, now string, limit int) ([]storage.AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT notification_id, request_id, level, message_json::text, status, attempt_count, next_attempt_at::text, last_error, sent_at::text, created_at::text, updated_at::text
FROM antibody_alert_outbox
WHERE status = 'pending' AND next_attempt_at <= $1
ORDER BY created_at ASC
LIMIT $2`, now, limit)
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
