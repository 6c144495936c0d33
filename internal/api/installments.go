package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) GetInstallment(w http.ResponseWriter, r *http.Request) {
	inst, err := h.svc.Ledger.Installment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inst)
}

type markPaidRequest struct {
	PaidAt *time.Time `json:"paid_at,omitempty"`
}

func (h *Handlers) MarkInstallmentPaid(w http.ResponseWriter, r *http.Request) {
	var req markPaidRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	paidAt := time.Now().UTC()
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}

	inst, err := h.svc.Ledger.MarkPaid(r.Context(), chi.URLParam(r, "id"), paidAt)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inst)
}

func (h *Handlers) MarkInstallmentOverdue(w http.ResponseWriter, r *http.Request) {
	inst, err := h.svc.Ledger.MarkOverdue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inst)
}

func (h *Handlers) ReverseInstallment(w http.ResponseWriter, r *http.Request) {
	inst, err := h.svc.Ledger.Reverse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inst)
}

// GetPaymentCode returns the stored code, issuing one on first view.
func (h *Handlers) GetPaymentCode(w http.ResponseWriter, r *http.Request) {
	h.paymentCode(w, r, false)
}

// ReissuePaymentCode replaces the stored code with a fresh one.
func (h *Handlers) ReissuePaymentCode(w http.ResponseWriter, r *http.Request) {
	h.paymentCode(w, r, true)
}

func (h *Handlers) paymentCode(w http.ResponseWriter, r *http.Request, force bool) {
	payeeKey := r.URL.Query().Get("payee_key")
	if payeeKey == "" {
		payeeKey = h.svc.PayeeKey
	}

	code, err := h.svc.PaymentCodes.CodeForInstallment(r.Context(), chi.URLParam(r, "id"), payeeKey, force)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, code)
}
