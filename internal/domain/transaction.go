package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPendingRelease TransactionStatus = "pending_release"
	TransactionReleased       TransactionStatus = "released"
	TransactionPaidOut        TransactionStatus = "paid_out"
)

// FinancialTransaction is the settlement record of an order. At most one
// survives per order.
type FinancialTransaction struct {
	ID                 string            `json:"id"`
	OrderID            string            `json:"order_id"`
	RevendaID          string            `json:"revenda_id"`
	GrossAmount        decimal.Decimal   `json:"gross_amount"`
	FeePercentage      decimal.Decimal   `json:"fee_percentage"`
	FeeFixed           decimal.Decimal   `json:"fee_fixed"`
	NetAmount          decimal.Decimal   `json:"net_amount"`
	Modality           FeeModality       `json:"modality"`
	PaidAt             time.Time         `json:"paid_at"`
	ExpectedPayoutDate time.Time         `json:"expected_payout_date"`
	Status             TransactionStatus `json:"status"`
	PayoutBatchID      string            `json:"payout_batch_id,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// SameAmounts reports whether two records for the same order agree on money.
func (t *FinancialTransaction) SameAmounts(o *FinancialTransaction) bool {
	return t.GrossAmount.Equal(o.GrossAmount) && t.NetAmount.Equal(o.NetAmount)
}
