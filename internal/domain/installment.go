package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InstallmentStatus string

const (
	InstallmentPending  InstallmentStatus = "pending"
	InstallmentPaid     InstallmentStatus = "paid"
	InstallmentOverdue  InstallmentStatus = "overdue"
	InstallmentReversed InstallmentStatus = "reversed"
)

// transitions lists the legal installment status changes. Reversal returns a
// paid installment to pending; "reversed" only appears on legacy rows and has
// no outgoing edges.
var transitions = map[InstallmentStatus][]InstallmentStatus{
	InstallmentPending: {InstallmentPaid, InstallmentOverdue},
	InstallmentOverdue: {InstallmentPaid},
	InstallmentPaid:    {InstallmentPending},
}

// CanTransition reports whether an installment may move from one status to another.
func CanTransition(from, to InstallmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type InstallmentPlan struct {
	ID                   string          `json:"id"`
	OrderID              string          `json:"order_id"`
	InstallmentCount     int             `json:"installment_count"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	PerInstallmentAmount decimal.Decimal `json:"per_installment_amount"`
	CreatedAt            time.Time       `json:"created_at"`
	Installments         []Installment   `json:"installments,omitempty"`
}

type Installment struct {
	ID               string            `json:"id"`
	PlanID           string            `json:"plan_id"`
	Sequence         int               `json:"sequence"`
	Amount           decimal.Decimal   `json:"amount"`
	DueDate          time.Time         `json:"due_date"`
	Status           InstallmentStatus `json:"status"`
	PaidAt           *time.Time        `json:"paid_at,omitempty"`
	PaymentCode      string            `json:"payment_code,omitempty"`
	PaymentCodeImage string            `json:"payment_code_image,omitempty"`
	ReversedAt       *time.Time        `json:"reversed_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// HasPaymentCode reports whether a payment code was already issued.
func (i *Installment) HasPaymentCode() bool {
	return i.PaymentCode != ""
}

// InstallmentSpec is one row of a computed schedule, before persistence.
type InstallmentSpec struct {
	Sequence int               `json:"sequence"`
	Amount   decimal.Decimal   `json:"amount"`
	DueDate  time.Time         `json:"due_date"`
	Status   InstallmentStatus `json:"status"`
	PaidAt   *time.Time        `json:"paid_at,omitempty"`
}
