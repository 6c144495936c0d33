package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/ingestion"
	"github.com/revenda/ledger/internal/money"
	"github.com/revenda/ledger/internal/paymentcode"
	"github.com/revenda/ledger/internal/payout"
	"github.com/revenda/ledger/internal/repository"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	svc    Services
	logger *zap.Logger
}

// --- helpers ---

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps service errors onto HTTP statuses. Invariant
// violations are flagged so callers can tell corrupt data from a bad request.
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsInvariantViolation(err):
		h.logger.Error("invariant violation", zap.Error(err))
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":               err.Error(),
			"invariant_violation": true,
		})
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPlanAlreadyExists), errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnsupportedInstallmentCount),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidFeeSchedule),
		errors.Is(err, paymentcode.ErrMissingPayeeKey):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payout.ErrEmptyBatch):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

// asOf reads the as_of query parameter, defaulting to now.
func asOf(r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return time.Now().UTC(), true
	}
	t := parseTime(raw)
	if t == nil {
		return time.Time{}, false
	}
	return *t, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

// decodeBody decodes an optional JSON body; an empty body leaves v alone.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// --- ImportOrders ---

func (h *Handlers) ImportOrders(w http.ResponseWriter, r *http.Request) {
	var data []byte
	format := r.URL.Query().Get("format")

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}
		if f := r.FormValue("format"); f != "" {
			format = f
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "file field is required: "+err.Error())
			return
		}
		defer file.Close()
		if data, err = io.ReadAll(file); err != nil {
			h.writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
			return
		}
	} else {
		var err error
		if data, err = io.ReadAll(io.LimitReader(r.Body, 32<<20)); err != nil {
			h.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}
	}

	if format == "" {
		h.writeError(w, http.StatusBadRequest, "format is required")
		return
	}

	result, err := h.svc.Ingestion.IngestOrders(r.Context(), data, format)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	status := http.StatusCreated
	if result.ImportID == ingestion.AlreadyIngested {
		status = http.StatusOK
	}
	h.writeJSON(w, status, result)
}

// --- Orders ---

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.OrderFilter{
		RevendaID:     q.Get("revenda_id"),
		PaymentMethod: domain.PaymentMethod(q.Get("payment_method")),
		From:          parseTime(q.Get("from")),
		To:            parseTime(q.Get("to")),
	}

	orders, err := h.svc.Orders.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"total":  len(orders),
	})
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Orders.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handlers) FinalizeOrder(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Checkout.Finalize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if out.PlanCreated || out.SettlementCreated {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, out)
}

func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.Ledger.Plan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

func (h *Handlers) GetOrderTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.svc.Transactions.GetByOrderID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"transaction":        txn,
		"net_amount_display": money.FormatBRL(txn.NetAmount),
	})
}

// --- Settlements ---

type recordSettlementRequest struct {
	OrderID     string              `json:"order_id"`
	GrossAmount decimal.Decimal     `json:"gross_amount"`
	FeeSchedule *domain.FeeSchedule `json:"fee_schedule,omitempty"`
}

func (h *Handlers) RecordSettlement(w http.ResponseWriter, r *http.Request) {
	var req recordSettlementRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.OrderID == "" {
		h.writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	order, err := h.svc.Orders.GetByID(r.Context(), req.OrderID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	fees := req.FeeSchedule
	if fees == nil {
		resolved, err := h.svc.Fees.FeeScheduleFor(order.RevendaID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		fees = &resolved
	}

	gross := req.GrossAmount
	if gross.IsZero() {
		gross = order.TotalAmount
	}

	txn, err := h.svc.Recorder.RecordSettlement(r.Context(), order.ID, gross, *fees)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txn)
}

func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TransactionFilter{
		RevendaID: q.Get("revenda_id"),
		OrderID:   q.Get("order_id"),
		Status:    q.Get("status"),
		From:      parseTime(q.Get("from")),
		To:        parseTime(q.Get("to")),
		Page:      parseIntDefault(q.Get("page"), 1),
		Limit:     parseIntDefault(q.Get("limit"), 50),
	}

	txns, total, err := h.svc.Transactions.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"total":        total,
		"page":         filter.Page,
		"limit":        filter.Limit,
	})
}
