package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/revenda/ledger/internal/delinquency"
)

// --- Payouts ---

func (h *Handlers) ListEligible(w http.ResponseWriter, r *http.Request) {
	at, ok := asOf(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid as_of")
		return
	}

	txns, err := h.svc.Payouts.EligibleTransactions(r.Context(), chi.URLParam(r, "revendaID"), at)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"total":        len(txns),
		"as_of":        at,
	})
}

func (h *Handlers) GetPayoutBatch(w http.ResponseWriter, r *http.Request) {
	at, ok := asOf(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid as_of")
		return
	}

	batch, err := h.svc.Payouts.BuildBatch(r.Context(), chi.URLParam(r, "revendaID"), at)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

func (h *Handlers) ExecutePayout(w http.ResponseWriter, r *http.Request) {
	at, ok := asOf(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid as_of")
		return
	}

	result, err := h.svc.Payouts.Execute(r.Context(), chi.URLParam(r, "revendaID"), at)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// --- Delinquency ---

func (h *Handlers) GetDelinquency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := delinquency.Scope{RevendaID: q.Get("revenda_id")}

	if parseBool(q.Get("ranked")) {
		entries, err := h.svc.Delinquency.Ranked(r.Context(), scope)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"customers": entries})
		return
	}

	counts, err := h.svc.Delinquency.OverdueCustomers(r.Context(), scope)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"customers": counts})
}

// --- Jobs ---

func (h *Handlers) RunBackfill(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var scope *string
	if id := q.Get("revenda_id"); id != "" {
		scope = &id
	}

	plans, err := h.svc.Reconciliation.Reconcile(r.Context(), scope)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	resp := map[string]any{"plans": plans}

	if parseBool(q.Get("settlements")) {
		settlements, err := h.svc.Reconciliation.ReconcileSettlements(r.Context(), scope)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		resp["settlements"] = settlements
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) RunDedupe(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Reconciliation.Clean(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// RunSweepOverdue defaults as_of to the ledger clock; a future as_of is
// rejected with 409.
func (h *Handlers) RunSweepOverdue(w http.ResponseWriter, r *http.Request) {
	var at time.Time
	if r.URL.Query().Get("as_of") != "" {
		var ok bool
		if at, ok = asOf(r); !ok {
			h.writeError(w, http.StatusBadRequest, "invalid as_of")
			return
		}
	}

	result, err := h.svc.Ledger.SweepOverdue(r.Context(), at)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) RunRelease(w http.ResponseWriter, r *http.Request) {
	at, ok := asOf(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid as_of")
		return
	}

	n, err := h.svc.Payouts.ReleaseDue(r.Context(), at)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"released_count": n, "as_of": at})
}

func (h *Handlers) RunReconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Reconciliation.RunFull(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}
