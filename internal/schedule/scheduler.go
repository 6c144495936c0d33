// Package schedule splits an order into its fixed installment schedule.
package schedule

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/money"
)

// dueOffsetDays holds the only supported schedules. Installment 1 is the
// down payment taken at checkout.
var dueOffsetDays = map[int][]int{
	2: {0, 15},
	3: {0, 15, 30},
}

// Schedule is the computed split of one order.
type Schedule struct {
	OrderID              string                   `json:"order_id"`
	TotalAmount          decimal.Decimal          `json:"total_amount"`
	InstallmentCount     int                      `json:"installment_count"`
	PerInstallmentAmount decimal.Decimal          `json:"per_installment_amount"`
	Specs                []domain.InstallmentSpec `json:"installments"`
}

// Compute splits totalAmount into installmentCount parts anchored at
// orderCreatedAt. The per-installment amount is rounded to centavos once and
// reused for every part, so parts always sum to amount*count even when that
// differs from the total by a remainder.
func Compute(orderID string, totalAmount decimal.Decimal, installmentCount int, orderCreatedAt time.Time) (*Schedule, error) {
	offsets, ok := dueOffsetDays[installmentCount]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnsupportedInstallmentCount, installmentCount)
	}
	if !totalAmount.IsPositive() {
		return nil, fmt.Errorf("%w: total %s must be positive", domain.ErrInvalidAmount, totalAmount)
	}

	per := money.Round(totalAmount.Div(decimal.NewFromInt(int64(installmentCount))))

	s := &Schedule{
		OrderID:              orderID,
		TotalAmount:          totalAmount,
		InstallmentCount:     installmentCount,
		PerInstallmentAmount: per,
		Specs:                make([]domain.InstallmentSpec, 0, installmentCount),
	}
	for i, days := range offsets {
		spec := domain.InstallmentSpec{
			Sequence: i + 1,
			Amount:   per,
			DueDate:  orderCreatedAt.AddDate(0, 0, days),
			Status:   domain.InstallmentPending,
		}
		if i == 0 {
			paidAt := orderCreatedAt
			spec.Status = domain.InstallmentPaid
			spec.PaidAt = &paidAt
		}
		s.Specs = append(s.Specs, spec)
	}
	return s, nil
}

// Remainder is what the rounded parts fail to cover (positive) or overshoot
// (negative) relative to the order total.
func (s *Schedule) Remainder() decimal.Decimal {
	return s.TotalAmount.Sub(s.PerInstallmentAmount.Mul(decimal.NewFromInt(int64(s.InstallmentCount))))
}
