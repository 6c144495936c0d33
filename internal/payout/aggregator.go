// Package payout selects released settlements and hands them to the payout
// rail.
package payout

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
	"github.com/revenda/ledger/internal/money"
)

type Store interface {
	ListEligibleForPayout(ctx context.Context, revendaID string, asOf time.Time) ([]domain.FinancialTransaction, error)
	ReleaseDue(ctx context.Context, asOf time.Time) (int, error)
	ClaimForPayout(ctx context.Context, batchID string, ids []string) (int, error)
	ListClaimed(ctx context.Context, revendaID string) ([]domain.FinancialTransaction, error)
	MarkPaidOut(ctx context.Context, ids []string) (int, error)
}

// Executor moves money to the reseller. A batch that failed part way is
// handed over again with the same ID, so executors deduplicate on
// PayoutBatch.ID.
type Executor interface {
	Execute(ctx context.Context, batch *domain.PayoutBatch) error
}

var ErrEmptyBatch = errors.New("no transactions eligible for payout")

// ExecuteResult reports what a payout run did.
type ExecuteResult struct {
	Batch   *domain.PayoutBatch `json:"batch"`
	PaidOut int                 `json:"paid_out_count"`
	Resumed bool                `json:"resumed"`
}

type Aggregator struct {
	store    Store
	executor Executor
	logger   *zap.Logger
}

func NewAggregator(store Store, executor Executor, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, executor: executor, logger: logger.Named("payout")}
}

// EligibleTransactions returns the revenda's released transactions whose
// expected payout date is at or before asOf.
func (a *Aggregator) EligibleTransactions(ctx context.Context, revendaID string, asOf time.Time) ([]domain.FinancialTransaction, error) {
	if revendaID == "" {
		return nil, errors.New("revenda id required")
	}
	txns, err := a.store.ListEligibleForPayout(ctx, revendaID, asOf)
	if err != nil {
		return nil, fmt.Errorf("eligible transactions for %s: %w", revendaID, err)
	}
	return txns, nil
}

// BuildBatch totals the eligible transactions without changing anything.
func (a *Aggregator) BuildBatch(ctx context.Context, revendaID string, asOf time.Time) (*domain.PayoutBatch, error) {
	txns, err := a.EligibleTransactions(ctx, revendaID, asOf)
	if err != nil {
		return nil, err
	}
	return domain.NewPayoutBatch(revendaID, asOf, txns), nil
}

// ReleaseDue makes pending transactions whose payout date has come eligible.
func (a *Aggregator) ReleaseDue(ctx context.Context, asOf time.Time) (int, error) {
	timer := prometheus.NewTimer(metrics.JobDuration.WithLabelValues("release"))
	defer timer.ObserveDuration()

	n, err := a.store.ReleaseDue(ctx, asOf)
	if err != nil {
		return 0, err
	}
	metrics.JobItems.WithLabelValues("release", "released").Add(float64(n))
	a.logger.Info("transactions released", zap.Int("count", n), zap.Time("as_of", asOf))
	return n, nil
}

// Execute hands the revenda's batch to the executor and marks its
// transactions paid out once the executor accepted it. The transactions are
// claimed under the batch ID first; a run that stops after the claim is
// resumed with the same batch by the next call instead of building a new one.
func (a *Aggregator) Execute(ctx context.Context, revendaID string, asOf time.Time) (*ExecuteResult, error) {
	if revendaID == "" {
		return nil, errors.New("revenda id required")
	}

	batch, resumed, err := a.claimBatch(ctx, revendaID, asOf)
	if err != nil {
		return nil, err
	}

	if err := a.executor.Execute(ctx, batch); err != nil {
		metrics.JobItems.WithLabelValues("payout", "error").Inc()
		return nil, fmt.Errorf("execute payout batch %s for %s: %w", batch.ID, revendaID, err)
	}

	paid, err := a.store.MarkPaidOut(ctx, batch.IDs())
	if err != nil {
		return nil, fmt.Errorf("mark batch %s paid out: %w", batch.ID, err)
	}
	if paid != len(batch.Transactions) {
		a.logger.Warn("some transactions changed status during payout",
			zap.String("revenda_id", revendaID),
			zap.String("batch_id", batch.ID),
			zap.Int("batch_size", len(batch.Transactions)),
			zap.Int("paid_out", paid),
		)
	}

	metrics.JobItems.WithLabelValues("payout", "paid_out").Add(float64(paid))
	a.logger.Info("payout executed",
		zap.String("revenda_id", revendaID),
		zap.String("batch_id", batch.ID),
		zap.Bool("resumed", resumed),
		zap.String("net_total", money.FormatBRL(batch.NetTotal)),
		zap.Int("transactions", paid),
	)
	return &ExecuteResult{Batch: batch, PaidOut: paid, Resumed: resumed}, nil
}

// claimBatch returns the revenda's unfinished batch if an earlier run left
// one, otherwise claims the eligible transactions under a new batch ID.
func (a *Aggregator) claimBatch(ctx context.Context, revendaID string, asOf time.Time) (*domain.PayoutBatch, bool, error) {
	claimed, err := a.store.ListClaimed(ctx, revendaID)
	if err != nil {
		return nil, false, fmt.Errorf("claimed transactions for %s: %w", revendaID, err)
	}
	if len(claimed) > 0 {
		batch := batchOf(revendaID, asOf, claimed[0].PayoutBatchID, claimed)
		a.logger.Warn("resuming unfinished payout batch",
			zap.String("revenda_id", revendaID),
			zap.String("batch_id", batch.ID),
			zap.Int("transactions", len(batch.Transactions)),
		)
		return batch, true, nil
	}

	eligible, err := a.EligibleTransactions(ctx, revendaID, asOf)
	if err != nil {
		return nil, false, err
	}
	if len(eligible) == 0 {
		return nil, false, ErrEmptyBatch
	}

	batchID := uuid.NewString()
	ids := make([]string, 0, len(eligible))
	for _, t := range eligible {
		ids = append(ids, t.ID)
	}
	if _, err := a.store.ClaimForPayout(ctx, batchID, ids); err != nil {
		return nil, false, fmt.Errorf("claim payout batch for %s: %w", revendaID, err)
	}

	claimed, err = a.store.ListClaimed(ctx, revendaID)
	if err != nil {
		return nil, false, fmt.Errorf("claimed transactions for %s: %w", revendaID, err)
	}
	batch := batchOf(revendaID, asOf, batchID, claimed)
	if len(batch.Transactions) == 0 {
		// A concurrent run claimed everything first.
		return nil, false, ErrEmptyBatch
	}
	return batch, false, nil
}

func batchOf(revendaID string, asOf time.Time, batchID string, txns []domain.FinancialTransaction) *domain.PayoutBatch {
	var rows []domain.FinancialTransaction
	for _, t := range txns {
		if t.PayoutBatchID == batchID {
			rows = append(rows, t)
		}
	}
	batch := domain.NewPayoutBatch(revendaID, asOf, rows)
	batch.ID = batchID
	return batch
}
