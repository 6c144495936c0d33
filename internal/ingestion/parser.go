package ingestion

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/money"
)

// Supported feed formats.
const (
	FormatCSV    = "csv"
	FormatCSVERP = "csv_erp"
	FormatJSON   = "json"
)

// rawOrder is one feed line before validation.
type rawOrder struct {
	ID               string
	RevendaID        string
	CustomerID       string
	TotalAmount      string
	PaymentMethod    string
	InstallmentCount string
	CreatedAt        string
}

var isoLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func (r rawOrder) toOrder(layouts []string) (domain.Order, error) {
	if r.ID == "" || r.RevendaID == "" || r.CustomerID == "" {
		return domain.Order{}, fmt.Errorf("order, revenda and customer ids are required")
	}

	total, err := money.Parse(r.TotalAmount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("total: %w", err)
	}
	if !total.IsPositive() {
		return domain.Order{}, fmt.Errorf("%w: total %s", domain.ErrInvalidAmount, total)
	}

	method, err := parseMethod(r.PaymentMethod)
	if err != nil {
		return domain.Order{}, err
	}

	count := 1
	if s := strings.TrimSpace(r.InstallmentCount); s != "" {
		count, err = strconv.Atoi(s)
		if err != nil || count < 1 {
			return domain.Order{}, fmt.Errorf("installment count %q", r.InstallmentCount)
		}
	}
	if method == domain.PaymentMethodPix {
		count = 1
	}

	createdAt, err := parseTime(r.CreatedAt, layouts)
	if err != nil {
		return domain.Order{}, err
	}

	return domain.Order{
		ID:               r.ID,
		RevendaID:        r.RevendaID,
		CustomerID:       r.CustomerID,
		TotalAmount:      total,
		PaymentMethod:    method,
		InstallmentCount: count,
		CreatedAt:        createdAt.UTC(),
	}, nil
}

func parseMethod(s string) (domain.PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pix", "":
		return domain.PaymentMethodPix, nil
	case "installment", "installments", "parcelado":
		return domain.PaymentMethodInstallment, nil
	default:
		return "", fmt.Errorf("unknown payment method %q", s)
	}
}

func parseTime(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("created_at %q: unrecognised date", s)
}
