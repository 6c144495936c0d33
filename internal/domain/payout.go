package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutBatch groups released transactions of one reseller. It is derived
// from transactions and handed to the payout executor; only its ID is
// stored, on the transactions it claimed. ID is empty for previews.
type PayoutBatch struct {
	ID           string                 `json:"id,omitempty"`
	RevendaID    string                 `json:"revenda_id"`
	AsOf         time.Time              `json:"as_of"`
	Transactions []FinancialTransaction `json:"transactions"`
	GrossTotal   decimal.Decimal        `json:"gross_total"`
	NetTotal     decimal.Decimal        `json:"net_total"`
}

// NewPayoutBatch totals the given transactions.
func NewPayoutBatch(revendaID string, asOf time.Time, txns []FinancialTransaction) *PayoutBatch {
	b := &PayoutBatch{
		RevendaID:    revendaID,
		AsOf:         asOf,
		Transactions: txns,
		GrossTotal:   decimal.Zero,
		NetTotal:     decimal.Zero,
	}
	for _, t := range txns {
		b.GrossTotal = b.GrossTotal.Add(t.GrossAmount)
		b.NetTotal = b.NetTotal.Add(t.NetAmount)
	}
	return b
}

// IDs returns the transaction ids in the batch.
func (b *PayoutBatch) IDs() []string {
	ids := make([]string, 0, len(b.Transactions))
	for _, t := range b.Transactions {
		ids = append(ids, t.ID)
	}
	return ids
}
