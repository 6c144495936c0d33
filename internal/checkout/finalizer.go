// Package checkout finalizes orders: installment plan first, then the
// order's settlement.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/ledger"
	"github.com/revenda/ledger/internal/schedule"
	"github.com/revenda/ledger/internal/settlement"
)

type OrderLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
}

// Outcome is what finalizing one order produced.
type Outcome struct {
	Order             *domain.Order                `json:"order"`
	Plan              *domain.InstallmentPlan      `json:"plan,omitempty"`
	Transaction       *domain.FinancialTransaction `json:"transaction"`
	PlanCreated       bool                         `json:"plan_created"`
	SettlementCreated bool                         `json:"settlement_created"`
}

type Finalizer struct {
	orders   OrderLookup
	ledger   *ledger.Ledger
	recorder *settlement.Recorder
	fees     settlement.FeeResolver
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Finalizer)

// WithClock sets the clock used as payment time of new settlements.
func WithClock(now func() time.Time) Option {
	return func(f *Finalizer) { f.now = now }
}

func NewFinalizer(
	orders OrderLookup,
	l *ledger.Ledger,
	recorder *settlement.Recorder,
	fees settlement.FeeResolver,
	logger *zap.Logger,
	opts ...Option,
) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Finalizer{
		orders:   orders,
		ledger:   l,
		recorder: recorder,
		fees:     fees,
		now:      time.Now,
		logger:   logger.Named("checkout"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize is safe to retry: an existing plan or settlement is returned
// rather than duplicated.
func (f *Finalizer) Finalize(ctx context.Context, orderID string) (*Outcome, error) {
	order, err := f.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Order: order}

	if order.UsesInstallments() {
		out.Plan, out.PlanCreated, err = f.ensurePlan(ctx, order)
		if err != nil {
			return nil, fmt.Errorf("plan for order %s: %w", orderID, err)
		}
	}

	out.Transaction, out.SettlementCreated, err = f.recorder.SettleOrder(ctx, order, f.fees, f.now())
	if err != nil {
		return nil, fmt.Errorf("settle order %s: %w", orderID, err)
	}

	f.logger.Info("order finalized",
		zap.String("order_id", orderID),
		zap.Bool("plan_created", out.PlanCreated),
		zap.Bool("settlement_created", out.SettlementCreated),
	)
	return out, nil
}

func (f *Finalizer) ensurePlan(ctx context.Context, order *domain.Order) (*domain.InstallmentPlan, bool, error) {
	s, err := schedule.Compute(order.ID, order.TotalAmount, order.InstallmentCount, order.CreatedAt)
	if err != nil {
		return nil, false, err
	}

	plan, err := f.ledger.CreatePlan(ctx, order.ID, s)
	if errors.Is(err, domain.ErrPlanAlreadyExists) {
		plan, err = f.ledger.Plan(ctx, order.ID)
		return plan, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return plan, true, nil
}
