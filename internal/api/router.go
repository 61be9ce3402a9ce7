package api

import "net/http"

func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/actions", h.Actions)
	mux.HandleFunc("GET /v1/threats", h.Threats)
	mux.HandleFunc("GET /v1/stats", h.Stats)
	mux.HandleFunc("GET /v1/ledger", h.LedgerList)
	mux.HandleFunc("GET /v1/ledger/{ref}", h.LedgerEntry)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}
