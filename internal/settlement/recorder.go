// Package settlement records the single financial transaction of an order.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/metrics"
	"github.com/revenda/ledger/internal/money"
)

// Store is the slice of the data service the recorder needs.
type Store interface {
	CreateOrGet(ctx context.Context, t *domain.FinancialTransaction) (*domain.FinancialTransaction, bool, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.FinancialTransaction, error)
}

// OrderLookup resolves the order being settled.
type OrderLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
}

// FeeResolver supplies the fee schedule configured for a revenda.
type FeeResolver interface {
	FeeScheduleFor(revendaID string) (domain.FeeSchedule, error)
}

// Amounts is the outcome of applying a fee schedule to a gross amount.
type Amounts struct {
	Gross      decimal.Decimal
	Percentage decimal.Decimal
	Fixed      decimal.Decimal
	Net        decimal.Decimal
}

// ComputeNet applies fees: net = gross - gross*percentage - fixed, rounded to
// centavos. A negative result is a configuration error, never clamped.
func ComputeNet(gross decimal.Decimal, fees domain.FeeSchedule) (Amounts, error) {
	if !gross.IsPositive() {
		return Amounts{}, fmt.Errorf("%w: gross %s must be positive", domain.ErrInvalidAmount, gross)
	}
	if err := fees.Validate(); err != nil {
		return Amounts{}, err
	}

	net := money.Round(gross.Sub(gross.Mul(fees.Percentage)).Sub(fees.Fixed))
	if net.IsNegative() {
		return Amounts{}, fmt.Errorf("%w: gross %s, percentage %s, fixed %s",
			domain.ErrFeeExceedsGross, gross, fees.Percentage, fees.Fixed)
	}
	return Amounts{Gross: gross, Percentage: fees.Percentage, Fixed: fees.Fixed, Net: net}, nil
}

// ExpectedPayoutDate is when funds paid at paidAt become releasable.
func ExpectedPayoutDate(paidAt time.Time, fees domain.FeeSchedule) time.Time {
	return paidAt.AddDate(0, 0, fees.PayoutDelayDays())
}

// Recorder creates financial transactions, at most one per order.
type Recorder struct {
	store  Store
	orders OrderLookup
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Recorder)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(store Store, orders OrderLookup, logger *zap.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		store:  store,
		orders: orders,
		now:    time.Now,
		logger: logger.Named("settlement"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordSettlement records the order's transaction paid now. A second call
// for the same order returns the stored record instead of a new one.
func (r *Recorder) RecordSettlement(ctx context.Context, orderID string, grossAmount decimal.Decimal, fees domain.FeeSchedule) (*domain.FinancialTransaction, error) {
	txn, _, err := r.RecordSettlementAt(ctx, orderID, grossAmount, fees, r.now())
	return txn, err
}

// RecordSettlementAt is RecordSettlement with an explicit payment time, used
// when settling historical orders. created reports whether a new record was
// written.
func (r *Recorder) RecordSettlementAt(ctx context.Context, orderID string, grossAmount decimal.Decimal, fees domain.FeeSchedule, paidAt time.Time) (txn *domain.FinancialTransaction, created bool, err error) {
	existing, err := r.store.GetByOrderID(ctx, orderID)
	switch {
	case err == nil:
		metrics.SettlementsRecorded.WithLabelValues("existing").Inc()
		return existing, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("load settlement: %w", err)
	}

	amounts, err := ComputeNet(grossAmount, fees)
	if err != nil {
		metrics.SettlementsRecorded.WithLabelValues("rejected").Inc()
		if domain.IsInvariantViolation(err) {
			r.logger.Error("fee schedule exceeds gross amount",
				zap.String("order_id", orderID),
				zap.String("gross", grossAmount.String()),
				zap.Error(err),
			)
		}
		return nil, false, err
	}

	order, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, false, fmt.Errorf("load order: %w", err)
	}

	candidate := &domain.FinancialTransaction{
		ID:                 uuid.NewString(),
		OrderID:            orderID,
		RevendaID:          order.RevendaID,
		GrossAmount:        amounts.Gross,
		FeePercentage:      amounts.Percentage,
		FeeFixed:           amounts.Fixed,
		NetAmount:          amounts.Net,
		Modality:           fees.Modality,
		PaidAt:             paidAt,
		ExpectedPayoutDate: ExpectedPayoutDate(paidAt, fees),
		Status:             domain.TransactionPendingRelease,
		CreatedAt:          r.now(),
	}

	stored, created, err := r.store.CreateOrGet(ctx, candidate)
	if err != nil {
		return nil, false, fmt.Errorf("record settlement for order %s: %w", orderID, err)
	}

	if created {
		metrics.SettlementsRecorded.WithLabelValues("created").Inc()
		r.logger.Info("settlement recorded",
			zap.String("order_id", orderID),
			zap.String("gross", stored.GrossAmount.String()),
			zap.String("net", stored.NetAmount.String()),
			zap.String("modality", string(stored.Modality)),
			zap.Time("expected_payout", stored.ExpectedPayoutDate),
		)
	} else {
		metrics.SettlementsRecorded.WithLabelValues("existing").Inc()
	}
	return stored, created, nil
}

// SettleOrder records the transaction for an order using its total and the
// revenda's configured fees.
func (r *Recorder) SettleOrder(ctx context.Context, order *domain.Order, resolver FeeResolver, paidAt time.Time) (*domain.FinancialTransaction, bool, error) {
	fees, err := resolver.FeeScheduleFor(order.RevendaID)
	if err != nil {
		return nil, false, fmt.Errorf("fee schedule for revenda %s: %w", order.RevendaID, err)
	}
	return r.RecordSettlementAt(ctx, order.ID, order.TotalAmount, fees, paidAt)
}
