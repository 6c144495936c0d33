package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodPix         PaymentMethod = "pix"
	PaymentMethodInstallment PaymentMethod = "installment"
)

// Order is created by the order-placement collaborator and never mutated here.
type Order struct {
	ID               string          `json:"id"`
	RevendaID        string          `json:"revenda_id"`
	CustomerID       string          `json:"customer_id"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	InstallmentCount int             `json:"installment_count"`
	CreatedAt        time.Time       `json:"created_at"`
}

// UsesInstallments reports whether the order is paid through an installment plan.
func (o *Order) UsesInstallments() bool {
	return o.PaymentMethod == PaymentMethodInstallment && o.InstallmentCount > 1
}
