package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type FeeModality string

const (
	ModalityImmediate FeeModality = "immediate"
	ModalityNextDay   FeeModality = "next_day"
	ModalityHold      FeeModality = "hold"
)

// FeeSchedule is the fee and payout-timing configuration applied to a
// reseller's transactions. Percentage is a fraction (0.0399 for 3.99%).
type FeeSchedule struct {
	Modality   FeeModality     `json:"modality"`
	Percentage decimal.Decimal `json:"percentage"`
	Fixed      decimal.Decimal `json:"fixed"`
	HoldDays   int             `json:"hold_days"`
}

// Validate rejects schedules that cannot produce a meaningful net amount.
func (f FeeSchedule) Validate() error {
	if f.Percentage.IsNegative() || f.Percentage.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: percentage %s outside [0,1]", ErrInvalidFeeSchedule, f.Percentage)
	}
	if f.Fixed.IsNegative() {
		return fmt.Errorf("%w: negative fixed fee %s", ErrInvalidFeeSchedule, f.Fixed)
	}
	switch f.Modality {
	case ModalityImmediate, ModalityNextDay:
	case ModalityHold:
		if f.HoldDays < 1 {
			return fmt.Errorf("%w: hold modality needs hold_days >= 1", ErrInvalidFeeSchedule)
		}
	default:
		return fmt.Errorf("%w: unknown modality %q", ErrInvalidFeeSchedule, f.Modality)
	}
	return nil
}

// PayoutDelayDays returns how many calendar days funds are held after payment.
func (f FeeSchedule) PayoutDelayDays() int {
	switch f.Modality {
	case ModalityNextDay:
		return 1
	case ModalityHold:
		return f.HoldDays
	default:
		return 0
	}
}
