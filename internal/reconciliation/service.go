// Package reconciliation repairs ledger state left behind by older code:
// installment orders without plans, orders without settlements, and orders
// holding duplicate settlements.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/ledger"
	"github.com/revenda/ledger/internal/metrics"
	"github.com/revenda/ledger/internal/schedule"
	"github.com/revenda/ledger/internal/settlement"
)

type OrderSource interface {
	ListInstallmentOrders(ctx context.Context, revendaID string) ([]domain.Order, error)
	ListWithoutSettlement(ctx context.Context, revendaID string) ([]domain.Order, error)
}

type PlanChecker interface {
	PlanExists(ctx context.Context, orderID string) (bool, error)
}

// SettlementStore is what the duplicate cleaner needs from the data service.
type SettlementStore interface {
	DuplicatedOrderIDs(ctx context.Context) ([]string, error)
	ListByOrderID(ctx context.Context, orderID string) ([]domain.FinancialTransaction, error)
	DeleteByIDs(ctx context.Context, orderID string, ids []string) (int, error)
	EnsureSettlementGuard(ctx context.Context) error
}

// Result summarises a full reconciliation run.
type Result struct {
	Plans       *domain.BatchResult `json:"plans"`
	Settlements *domain.BatchResult `json:"settlements"`
	Duplicates  *CleanResult        `json:"duplicates"`
}

// Service performs the backfill and repair jobs.
type Service struct {
	orders      OrderSource
	plans       PlanChecker
	ledger      *ledger.Ledger
	recorder    *settlement.Recorder
	fees        settlement.FeeResolver
	settlements SettlementStore
	logger      *zap.Logger
}

func NewService(
	orders OrderSource,
	plans PlanChecker,
	l *ledger.Ledger,
	recorder *settlement.Recorder,
	fees settlement.FeeResolver,
	settlements SettlementStore,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		orders:      orders,
		plans:       plans,
		ledger:      l,
		recorder:    recorder,
		fees:        fees,
		settlements: settlements,
		logger:      logger.Named("reconciliation"),
	}
}

// RunFull removes duplicate settlements, then backfills missing plans and
// settlements for every revenda.
func (s *Service) RunFull(ctx context.Context) (*Result, error) {
	dupes, err := s.Clean(ctx)
	if err != nil {
		return nil, fmt.Errorf("clean duplicates: %w", err)
	}

	plans, err := s.Reconcile(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("backfill plans: %w", err)
	}

	settlements, err := s.ReconcileSettlements(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("backfill settlements: %w", err)
	}

	s.logger.Info("reconciliation finished",
		zap.Int("duplicates_removed", dupes.Removed),
		zap.Int("plans_created", plans.Created),
		zap.Int("settlements_created", settlements.Created),
	)
	return &Result{Plans: plans, Settlements: settlements, Duplicates: dupes}, nil
}

// Reconcile creates installment plans for installment orders that lack one.
// Schedules are anchored at the order's creation time so due dates match
// what a checkout would have produced. Orders that already have a plan are
// skipped. A failing order is recorded and the run continues; a cancelled
// context stops the run between orders.
func (s *Service) Reconcile(ctx context.Context, scopeRevendaID *string) (*domain.BatchResult, error) {
	timer := prometheus.NewTimer(metrics.JobDuration.WithLabelValues("backfill_plans"))
	defer timer.ObserveDuration()

	orders, err := s.orders.ListInstallmentOrders(ctx, scope(scopeRevendaID))
	if err != nil {
		return nil, fmt.Errorf("list installment orders: %w", err)
	}

	result := &domain.BatchResult{}
	for i := range orders {
		if ctx.Err() != nil {
			s.logger.Warn("plan backfill interrupted", zap.Int("remaining", len(orders)-i))
			return result, nil
		}
		order := &orders[i]
		result.Processed++

		created, err := s.backfillPlan(ctx, order)
		switch {
		case err != nil:
			result.Fail(order.ID, err)
			metrics.JobItems.WithLabelValues("backfill_plans", "error").Inc()
			s.logger.Warn("plan backfill failed", zap.String("order_id", order.ID), zap.Error(err))
		case created:
			result.Created++
			metrics.JobItems.WithLabelValues("backfill_plans", "created").Inc()
		default:
			result.Skipped++
			metrics.JobItems.WithLabelValues("backfill_plans", "skipped").Inc()
		}
	}

	result.Completed = true
	s.logger.Info("plan backfill results",
		zap.Int("processed", result.Processed),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.ErrorCount),
	)
	return result, nil
}

func (s *Service) backfillPlan(ctx context.Context, order *domain.Order) (bool, error) {
	if !order.UsesInstallments() {
		return false, nil
	}

	exists, err := s.plans.PlanExists(ctx, order.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	sched, err := schedule.Compute(order.ID, order.TotalAmount, order.InstallmentCount, order.CreatedAt)
	if err != nil {
		return false, err
	}

	_, err = s.ledger.CreatePlan(ctx, order.ID, sched)
	if errors.Is(err, domain.ErrPlanAlreadyExists) {
		// A concurrent checkout got there first.
		return false, nil
	}
	return err == nil, err
}

// ReconcileSettlements records the missing financial transaction of every
// order without one, using the revenda's fee schedule and the order's
// creation time as payment time.
func (s *Service) ReconcileSettlements(ctx context.Context, scopeRevendaID *string) (*domain.BatchResult, error) {
	timer := prometheus.NewTimer(metrics.JobDuration.WithLabelValues("backfill_settlements"))
	defer timer.ObserveDuration()

	orders, err := s.orders.ListWithoutSettlement(ctx, scope(scopeRevendaID))
	if err != nil {
		return nil, fmt.Errorf("list orders without settlement: %w", err)
	}

	result := &domain.BatchResult{}
	for i := range orders {
		if ctx.Err() != nil {
			s.logger.Warn("settlement backfill interrupted", zap.Int("remaining", len(orders)-i))
			return result, nil
		}
		order := &orders[i]
		result.Processed++

		_, created, err := s.recorder.SettleOrder(ctx, order, s.fees, order.CreatedAt)
		switch {
		case err != nil:
			result.Fail(order.ID, err)
			metrics.JobItems.WithLabelValues("backfill_settlements", "error").Inc()
			s.logger.Warn("settlement backfill failed", zap.String("order_id", order.ID), zap.Error(err))
		case created:
			result.Created++
			metrics.JobItems.WithLabelValues("backfill_settlements", "created").Inc()
		default:
			result.Skipped++
			metrics.JobItems.WithLabelValues("backfill_settlements", "skipped").Inc()
		}
	}

	result.Completed = true
	s.logger.Info("settlement backfill results",
		zap.Int("processed", result.Processed),
		zap.Int("created", result.Created),
		zap.Int("errors", result.ErrorCount),
	)
	return result, nil
}

func scope(revendaID *string) string {
	if revendaID == nil {
		return ""
	}
	return *revendaID
}

// since is used for log fields on long runs.
func since(start time.Time) zap.Field {
	return zap.Duration("elapsed", time.Since(start))
}
