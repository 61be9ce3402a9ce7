// Package alert queues operator notifications for risky verdicts and
// delivers them with retry through a Poster.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidahmann/antibody/internal/storage"
	"github.com/davidahmann/antibody/pkg/types"
)

// Message is the payload stored in the outbox and handed to a Poster.
type Message struct {
	RequestID string           `json:"request_id"`
	Level     types.AlertLevel `json:"level"`
	Decision  types.Decision   `json:"decision"`
	BlockedBy string           `json:"blocked_by,omitempty"`
	RiskScore int              `json:"risk_score"`
	Category  string           `json:"category,omitempty"`
	ThreatID  string           `json:"threat_id,omitempty"`
	Action    string           `json:"action"`
	Target    string           `json:"target,omitempty"`
	Reasoning string           `json:"reasoning,omitempty"`
}

type Poster interface {
	Post(ctx context.Context, msg Message) error
}

// Outbox writes alert records for warning and critical results.
type Outbox struct {
	store storage.AlertStore
	now   func() time.Time
}

func NewOutbox(store storage.AlertStore, now func() time.Time) *Outbox {
	if now == nil {
		now = time.Now
	}
	return &Outbox{store: store, now: now}
}

// Alertable reports whether a result warrants an operator notification.
func Alertable(level types.AlertLevel) bool {
	return level == types.AlertWarning || level == types.AlertCritical
}

// NotificationID derives a stable id so re-enqueueing the same request
// overwrites instead of duplicating.
func NotificationID(requestID string) string {
	return "alert:" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(requestID)).String()
}

func MessageFor(result types.ProcessResult) Message {
	msg := Message{
		RequestID: result.RequestID,
		Level:     result.AlertLevel,
		Decision:  result.Decision,
		BlockedBy: result.BlockedBy,
		RiskScore: result.RiskScore,
		Action:    result.Action,
		Target:    result.Target,
		Reasoning: result.Reasoning,
	}
	if result.Category != nil {
		msg.Category = result.Category.String()
	}
	if result.KnownThreat != nil {
		msg.ThreatID = result.KnownThreat.ThreatID
	}
	return msg
}

// Enqueue stores a pending record for the result. It returns false without
// touching the store when the alert level does not call for one.
func (o *Outbox) Enqueue(ctx context.Context, result types.ProcessResult) (bool, error) {
	if o == nil || o.store == nil {
		return false, nil
	}
	if !Alertable(result.AlertLevel) {
		return false, nil
	}
	payload, err := json.Marshal(MessageFor(result))
	if err != nil {
		return false, fmt.Errorf("encode alert: %w", err)
	}
	now := o.now().UTC().Format(time.RFC3339)
	rec := storage.AlertRecord{
		NotificationID: NotificationID(result.RequestID),
		RequestID:      result.RequestID,
		Level:          string(result.AlertLevel),
		MessageJSON:    payload,
		Status:         storage.AlertPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.PutAlert(ctx, rec); err != nil {
		return false, fmt.Errorf("enqueue alert: %w", err)
	}
	return true, nil
}

// ProcessDue sends due pending records. Failed posts are rescheduled with
// exponential backoff; undecodable payloads are marked sent so they do not
// retry forever.
func ProcessDue(ctx context.Context, store storage.AlertStore, poster Poster, now time.Time, limit int) (int, error) {
	if store == nil {
		return 0, fmt.Errorf("missing alert store")
	}
	if poster == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}
	stamp := now.UTC().Format(time.RFC3339)

	due, err := store.ListAlertsDue(ctx, stamp, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if rec.Status != storage.AlertPending {
			continue
		}

		var msg Message
		if err := json.Unmarshal(rec.MessageJSON, &msg); err != nil {
			reason := "invalid message_json: " + err.Error()
			rec.LastError = &reason
			markSent(&rec, stamp)
		} else if err := poster.Post(ctx, msg); err != nil {
			rec.NextAttemptAt = now.UTC().Add(Backoff(rec.AttemptCount)).Format(time.RFC3339)
			rec.AttemptCount++
			reason := err.Error()
			rec.LastError = &reason
			rec.UpdatedAt = stamp
		} else {
			markSent(&rec, stamp)
		}

		if err := store.PutAlert(ctx, rec); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func markSent(rec *storage.AlertRecord, stamp string) {
	rec.Status = storage.AlertSent
	sentAt := stamp
	rec.SentAt = &sentAt
	rec.UpdatedAt = stamp
}

// Backoff is 5s, 10s, 20s, ... capped at 5m.
func Backoff(attemptCount int) time.Duration {
	const (
		base = 5 * time.Second
		max  = 5 * time.Minute
	)
	if attemptCount <= 0 {
		return base
	}
	if attemptCount >= 7 {
		return max
	}
	d := base << attemptCount
	if d > max {
		return max
	}
	return d
}

// Worker runs ProcessDue on demand; the gateway drives it from a cron entry.
type Worker struct {
	Store  storage.AlertStore
	Poster Poster
	Limit  int
	Now    func() time.Time
	Logger *zap.Logger
}

func (w *Worker) Run(ctx context.Context) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	n, err := ProcessDue(ctx, w.Store, w.Poster, now(), w.Limit)
	if err != nil {
		logger.Warn("alert outbox pass failed", zap.Int("processed", n), zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("alert outbox pass", zap.Int("processed", n))
	}
}
