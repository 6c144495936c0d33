// Package ledger owns installment plans and the installment state machine.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/metrics"
	"github.com/revenda/ledger/internal/repository"
	"github.com/revenda/ledger/internal/schedule"
)

// Store is the slice of the data service the ledger needs.
type Store interface {
	CreatePlan(ctx context.Context, plan *domain.InstallmentPlan) error
	GetPlanByOrderID(ctx context.Context, orderID string) (*domain.InstallmentPlan, error)
	GetInstallment(ctx context.Context, id string) (*domain.Installment, error)
	ApplyTransition(ctx context.Context, t repository.Transition) (bool, error)
	ListPendingDueBefore(ctx context.Context, asOf time.Time) ([]domain.Installment, error)
}

// Ledger applies installment lifecycle transitions.
type Ledger struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Ledger)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(store Store, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		store:  store,
		now:    time.Now,
		logger: logger.Named("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreatePlan persists the plan computed by the scheduler. It fails with
// domain.ErrPlanAlreadyExists when the order already has one, which guards
// against double-checkout retries.
func (l *Ledger) CreatePlan(ctx context.Context, orderID string, s *schedule.Schedule) (*domain.InstallmentPlan, error) {
	if s == nil || len(s.Specs) == 0 {
		return nil, fmt.Errorf("%w: empty schedule for order %s", domain.ErrUnsupportedInstallmentCount, orderID)
	}
	if s.OrderID != "" && s.OrderID != orderID {
		return nil, fmt.Errorf("schedule computed for order %s, not %s", s.OrderID, orderID)
	}

	now := l.now()
	plan := &domain.InstallmentPlan{
		ID:                   uuid.NewString(),
		OrderID:              orderID,
		InstallmentCount:     s.InstallmentCount,
		TotalAmount:          s.TotalAmount,
		PerInstallmentAmount: s.PerInstallmentAmount,
		CreatedAt:            now,
		Installments:         make([]domain.Installment, 0, len(s.Specs)),
	}
	for _, spec := range s.Specs {
		plan.Installments = append(plan.Installments, domain.Installment{
			ID:        uuid.NewString(),
			PlanID:    plan.ID,
			Sequence:  spec.Sequence,
			Amount:    spec.Amount,
			DueDate:   spec.DueDate,
			Status:    spec.Status,
			PaidAt:    spec.PaidAt,
			CreatedAt: now,
		})
	}

	if err := l.store.CreatePlan(ctx, plan); err != nil {
		if errors.Is(err, domain.ErrPlanAlreadyExists) {
			metrics.PlansCreated.WithLabelValues("existing").Inc()
		}
		return nil, err
	}

	metrics.PlansCreated.WithLabelValues("created").Inc()
	l.logger.Info("installment plan created",
		zap.String("order_id", orderID),
		zap.Int("installments", plan.InstallmentCount),
		zap.String("per_installment", plan.PerInstallmentAmount.String()),
	)
	return plan, nil
}

// Plan returns the order's plan with its installments.
func (l *Ledger) Plan(ctx context.Context, orderID string) (*domain.InstallmentPlan, error) {
	return l.store.GetPlanByOrderID(ctx, orderID)
}

// Installment returns one installment.
func (l *Ledger) Installment(ctx context.Context, id string) (*domain.Installment, error) {
	return l.store.GetInstallment(ctx, id)
}

// MarkPaid settles a pending or overdue installment.
func (l *Ledger) MarkPaid(ctx context.Context, installmentID string, paidAt time.Time) (*domain.Installment, error) {
	return l.transition(ctx, installmentID, domain.InstallmentPaid, nil, func(inst *domain.Installment, t *repository.Transition) {
		t.PaidAt = &paidAt
		inst.PaidAt = &paidAt
	})
}

// MarkOverdue flags a pending installment whose due date has passed. Manual
// overrides before the due date are rejected.
func (l *Ledger) MarkOverdue(ctx context.Context, installmentID string) (*domain.Installment, error) {
	now := l.now()
	guard := func(inst *domain.Installment) error {
		if !inst.DueDate.Before(now) {
			return fmt.Errorf("%w: installment %s not due until %s",
				domain.ErrInvalidTransition, inst.ID, inst.DueDate.Format(time.DateOnly))
		}
		return nil
	}
	return l.transition(ctx, installmentID, domain.InstallmentOverdue, guard, nil)
}

// Reverse undoes a mistaken settlement: the installment goes back to
// pending and loses its payment timestamp. The order's financial
// transaction is left as is.
func (l *Ledger) Reverse(ctx context.Context, installmentID string) (*domain.Installment, error) {
	now := l.now()
	guard := func(inst *domain.Installment) error {
		if inst.Status != domain.InstallmentPaid {
			return fmt.Errorf("%w: only paid installments can be reversed, %s is %s",
				domain.ErrInvalidTransition, inst.ID, inst.Status)
		}
		return nil
	}
	return l.transition(ctx, installmentID, domain.InstallmentPending, guard, func(inst *domain.Installment, t *repository.Transition) {
		t.ReversedAt = &now
		inst.PaidAt = nil
		inst.ReversedAt = &now
	})
}

func (l *Ledger) transition(
	ctx context.Context,
	installmentID string,
	to domain.InstallmentStatus,
	guard func(*domain.Installment) error,
	apply func(*domain.Installment, *repository.Transition),
) (*domain.Installment, error) {
	inst, err := l.store.GetInstallment(ctx, installmentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.InstallmentTransitions.WithLabelValues("", string(to), "rejected").Inc()
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidTransition, err)
		}
		return nil, err
	}

	from := inst.Status
	reject := func(err error) (*domain.Installment, error) {
		metrics.InstallmentTransitions.WithLabelValues(string(from), string(to), "rejected").Inc()
		return nil, err
	}

	if guard != nil {
		if err := guard(inst); err != nil {
			return reject(err)
		}
	}
	if !domain.CanTransition(from, to) {
		return reject(fmt.Errorf("%w: installment %s cannot go from %s to %s",
			domain.ErrInvalidTransition, installmentID, from, to))
	}

	t := repository.Transition{ID: installmentID, From: from, To: to}
	if apply != nil {
		apply(inst, &t)
	}

	ok, err := l.store.ApplyTransition(ctx, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return reject(fmt.Errorf("%w: installment %s changed concurrently", domain.ErrInvalidTransition, installmentID))
	}

	inst.Status = to
	metrics.InstallmentTransitions.WithLabelValues(string(from), string(to), "applied").Inc()
	l.logger.Info("installment transition",
		zap.String("installment_id", installmentID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return inst, nil
}

// SweepOverdue marks every pending installment due before asOf as overdue.
// A zero asOf means now; an asOf later than now would flag installments
// before their due date and is rejected. Each installment is committed on
// its own; a cancelled context stops the sweep between installments and
// leaves the rest for the next run.
func (l *Ledger) SweepOverdue(ctx context.Context, asOf time.Time) (*domain.BatchResult, error) {
	now := l.now()
	if asOf.IsZero() {
		asOf = now
	}
	if asOf.After(now) {
		return nil, fmt.Errorf("%w: sweep as of %s is in the future",
			domain.ErrInvalidTransition, asOf.Format(time.RFC3339))
	}

	timer := prometheus.NewTimer(metrics.JobDuration.WithLabelValues("sweep_overdue"))
	defer timer.ObserveDuration()

	due, err := l.store.ListPendingDueBefore(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	result := &domain.BatchResult{}
	for _, inst := range due {
		if ctx.Err() != nil {
			l.logger.Warn("overdue sweep interrupted", zap.Int("remaining", len(due)-result.Processed))
			return result, nil
		}
		result.Processed++

		ok, err := l.store.ApplyTransition(ctx, repository.Transition{
			ID:   inst.ID,
			From: domain.InstallmentPending,
			To:   domain.InstallmentOverdue,
		})
		switch {
		case err != nil:
			result.Fail(inst.ID, err)
			metrics.JobItems.WithLabelValues("sweep_overdue", "error").Inc()
			l.logger.Warn("mark overdue failed", zap.String("installment_id", inst.ID), zap.Error(err))
		case !ok:
			result.Skipped++
			metrics.JobItems.WithLabelValues("sweep_overdue", "skipped").Inc()
		default:
			result.Created++
			metrics.JobItems.WithLabelValues("sweep_overdue", "applied").Inc()
			metrics.InstallmentTransitions.WithLabelValues(
				string(domain.InstallmentPending), string(domain.InstallmentOverdue), "applied").Inc()
		}
	}

	result.Completed = true
	l.logger.Info("overdue sweep finished",
		zap.Int("processed", result.Processed),
		zap.Int("marked", result.Created),
		zap.Int("errors", result.ErrorCount),
	)
	return result, nil
}
