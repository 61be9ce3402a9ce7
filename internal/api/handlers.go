package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/davidahmann/antibody/internal/auth"
	"github.com/davidahmann/antibody/internal/pipeline"
	"github.com/davidahmann/antibody/internal/storage"
	"github.com/davidahmann/antibody/pkg/types"
)

// maxBodyBytes bounds an action request.
const maxBodyBytes = 1 << 20

type Processor interface {
	Process(ctx context.Context, action types.Action) types.ProcessResult
	Stats() pipeline.Stats
}

type ThreatLister interface {
	All() []types.ThreatReport
	Query(action string, threshold float64) []types.ThreatReport
}

type LedgerReader interface {
	Lookup(ctx context.Context, ref string) (storage.LedgerEntry, error)
	Recent(ctx context.Context, limit int) ([]storage.LedgerEntry, error)
}

type Handler struct {
	Auth     auth.Authenticator
	Pipeline Processor
	Registry ThreatLister
	// Ledger is optional; without it the ledger route reports 501.
	Ledger LedgerReader
	Logger *zap.Logger
}

type ActionRequest struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	// Context may be an object or a string holding (possibly malformed) JSON.
	Context json.RawMessage `json:"context,omitempty"`
}

func (h *Handler) Actions(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.ensureAuth(w, r)
	if !ok {
		return
	}
	if h.Pipeline == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "pipeline not configured"})
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing action"})
		return
	}
	actionCtx, err := ParseContext(req.Context)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result := h.Pipeline.Process(r.Context(), types.Action{Text: req.Action, Target: req.Target, Context: actionCtx})
	h.logger().Info("action processed",
		zap.String("request_id", result.RequestID),
		zap.String("caller", claims.Subject),
		zap.String("decision", string(result.Decision)),
		zap.Int("risk_score", result.RiskScore),
	)
	writeJSON(w, http.StatusOK, result)
}

// ParseContext accepts an object, a string holding JSON, or nothing. Agents
// often emit almost-JSON, so a failed parse is retried after repair.
func ParseContext(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("invalid context: %w", err)
		}
		trimmed = strings.TrimSpace(inner)
		if trimmed == "" {
			return nil, nil
		}
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, nil
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid context: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, fmt.Errorf("invalid context: must be a JSON object")
	}
	return out, nil
}

func (h *Handler) Threats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	if h.Registry == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "threat registry not configured"})
		return
	}

	query := r.URL.Query()
	q := strings.TrimSpace(query.Get("q"))
	if q == "" {
		threats := h.Registry.All()
		writeJSON(w, http.StatusOK, map[string]any{"count": len(threats), "threats": threats})
		return
	}

	threshold := 0.0
	if raw := query.Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "threshold must be in (0,1]"})
			return
		}
		threshold = v
	}
	threats := h.Registry.Query(q, threshold)
	if threats == nil {
		threats = []types.ThreatReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "count": len(threats), "threats": threats})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	if h.Pipeline == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "pipeline not configured"})
		return
	}
	writeJSON(w, http.StatusOK, h.Pipeline.Stats())
}

// LedgerList returns the newest entries without verifying them.
func (h *Handler) LedgerList(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	if h.Ledger == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "ledger not configured"})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be in 1..500"})
			return
		}
		limit = v
	}

	entries, err := h.Ledger.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "entries": out})
}

func entryView(entry storage.LedgerEntry) map[string]any {
	return map[string]any{
		"content_ref": entry.ContentRef,
		"anchor_ref":  entry.AnchorRef,
		"decision_id": entry.DecisionID,
		"agent_id":    entry.AgentID,
		"key_id":      entry.KeyID,
		"created_at":  entry.CreatedAt,
		"blob":        json.RawMessage(entry.BlobJSON),
	}
}

func (h *Handler) LedgerEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	if h.Ledger == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "ledger not configured"})
		return
	}

	ref := r.PathValue("ref")
	if ref == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing ref"})
		return
	}

	entry, err := h.Ledger.Lookup(r.Context(), ref)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ledger entry not found"})
		return
	}
	if entry.ContentRef == "" && err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	body := entryView(entry)
	body["valid"] = err == nil
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) ensureAuth(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	if h.Auth == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": auth.ErrMissingBearer.Error()})
		return auth.Claims{}, false
	}
	claims, err := h.Auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return auth.Claims{}, false
	}
	return claims, true
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
