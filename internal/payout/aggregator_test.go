package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/repository"
	"github.com/revenda/ledger/internal/repository/repotest"
)

type recordingExecutor struct {
	batches  []*domain.PayoutBatch
	attempts []string
	err      error
}

func (e *recordingExecutor) Execute(_ context.Context, b *domain.PayoutBatch) error {
	e.attempts = append(e.attempts, b.ID)
	if e.err != nil {
		return e.err
	}
	e.batches = append(e.batches, b)
	return nil
}

type flakyPaidOut struct {
	*repository.TransactionRepo
	failures int
}

func (f *flakyPaidOut) MarkPaidOut(ctx context.Context, ids []string) (int, error) {
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("connection reset")
	}
	return f.TransactionRepo.MarkPaidOut(ctx, ids)
}

var day = repotest.Date(2024, 3, 1)

func seed(t *testing.T) (*repository.TransactionRepo, map[string]*domain.FinancialTransaction) {
	t.Helper()
	repo := repository.NewTransactionRepo(repotest.NewDB(t))
	ctx := context.Background()

	txns := map[string]*domain.FinancialTransaction{
		"due":    repotest.Transaction("O1", "R1", "100.00", day),
		"later":  repotest.Transaction("O2", "R1", "50.00", day),
		"other":  repotest.Transaction("O3", "R2", "70.00", day),
		"netted": repotest.Transaction("O4", "R1", "30.00", day),
	}
	txns["later"].ExpectedPayoutDate = day.AddDate(0, 0, 30)
	txns["netted"].NetAmount = decimal.RequireFromString("28.50")
	for _, txn := range txns {
		require.NoError(t, repo.InsertLegacy(ctx, txn))
	}
	return repo, txns
}

func TestEligibleTransactionsRequiresRelease(t *testing.T) {
	repo, _ := seed(t)
	agg := NewAggregator(repo, &recordingExecutor{}, nil)
	ctx := context.Background()

	eligible, err := agg.EligibleTransactions(ctx, "R1", day)
	require.NoError(t, err)
	assert.Empty(t, eligible, "pending_release is not eligible")

	released, err := agg.ReleaseDue(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 3, released)

	eligible, err = agg.EligibleTransactions(ctx, "R1", day)
	require.NoError(t, err)
	assert.Len(t, eligible, 2)

	eligible, err = agg.EligibleTransactions(ctx, "R1", day.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, eligible, "as-of before payout date")

	_, err = agg.EligibleTransactions(ctx, "", day)
	assert.Error(t, err)
}

func TestBuildBatchTotals(t *testing.T) {
	repo, _ := seed(t)
	agg := NewAggregator(repo, &recordingExecutor{}, nil)
	ctx := context.Background()
	_, err := agg.ReleaseDue(ctx, day)
	require.NoError(t, err)

	batch, err := agg.BuildBatch(ctx, "R1", day)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("130").Equal(batch.GrossTotal))
	assert.True(t, decimal.RequireFromString("128.5").Equal(batch.NetTotal))
}

func TestExecuteMarksPaidOut(t *testing.T) {
	repo, txns := seed(t)
	exec := &recordingExecutor{}
	agg := NewAggregator(repo, exec, nil)
	ctx := context.Background()
	_, err := agg.ReleaseDue(ctx, day)
	require.NoError(t, err)

	result, err := agg.Execute(ctx, "R1", day)
	require.NoError(t, err)
	assert.Equal(t, 2, result.PaidOut)
	require.Len(t, exec.batches, 1)
	assert.ElementsMatch(t, []string{txns["due"].ID, txns["netted"].ID}, exec.batches[0].IDs())
	assert.NotEmpty(t, exec.batches[0].ID)
	assert.False(t, result.Resumed)

	_, err = agg.Execute(ctx, "R1", day)
	assert.ErrorIs(t, err, ErrEmptyBatch, "paid out transactions are not paid twice")

	stored, err := repo.GetByOrderID(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionPaidOut, stored.Status)
}

func TestExecuteRetriesSameBatchAfterExecutorFailure(t *testing.T) {
	repo, _ := seed(t)
	exec := &recordingExecutor{err: errors.New("bank offline")}
	agg := NewAggregator(repo, exec, nil)
	ctx := context.Background()
	_, err := agg.ReleaseDue(ctx, day)
	require.NoError(t, err)

	_, err = agg.Execute(ctx, "R1", day)
	require.ErrorContains(t, err, "bank offline")

	eligible, err := agg.EligibleTransactions(ctx, "R1", day)
	require.NoError(t, err)
	assert.Len(t, eligible, 2, "still released")

	exec.err = nil
	result, err := agg.Execute(ctx, "R1", day)
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.Equal(t, 2, result.PaidOut)
	require.Len(t, exec.attempts, 2)
	assert.Equal(t, exec.attempts[0], exec.attempts[1], "retry reuses the batch id")
}

func TestExecuteDoesNotRepayAfterMarkFailure(t *testing.T) {
	repo, _ := seed(t)
	store := &flakyPaidOut{TransactionRepo: repo, failures: 1}
	exec := &recordingExecutor{}
	agg := NewAggregator(store, exec, nil)
	ctx := context.Background()
	_, err := agg.ReleaseDue(ctx, day)
	require.NoError(t, err)

	_, err = agg.Execute(ctx, "R1", day)
	require.ErrorContains(t, err, "connection reset")

	result, err := agg.Execute(ctx, "R1", day)
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.Equal(t, 2, result.PaidOut)

	require.Len(t, exec.batches, 2)
	assert.Equal(t, exec.batches[0].ID, exec.batches[1].ID, "executor can drop the repeat")
	assert.ElementsMatch(t, exec.batches[0].IDs(), exec.batches[1].IDs())

	_, err = agg.Execute(ctx, "R1", day)
	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.Len(t, exec.batches, 2)
}

func TestExecuteNewBatchSkipsClaimedTransactions(t *testing.T) {
	repo, txns := seed(t)
	agg := NewAggregator(repo, &recordingExecutor{}, nil)
	ctx := context.Background()
	_, err := agg.ReleaseDue(ctx, day)
	require.NoError(t, err)

	n, err := repo.ClaimForPayout(ctx, "other-batch", []string{txns["due"].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.ClaimForPayout(ctx, "late-batch", []string{txns["due"].ID, txns["later"].ID})
	require.NoError(t, err)
	assert.Zero(t, n, "claimed and pending_release rows are not claimed again")

	result, err := agg.Execute(ctx, "R1", day)
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.Equal(t, "other-batch", result.Batch.ID)
	assert.Equal(t, []string{txns["due"].ID}, result.Batch.IDs())

	result, err = agg.Execute(ctx, "R1", day)
	require.NoError(t, err)
	assert.False(t, result.Resumed)
	assert.Equal(t, []string{txns["netted"].ID}, result.Batch.IDs())
}

func TestLogExecutor(t *testing.T) {
	batch := domain.NewPayoutBatch("R1", day, []domain.FinancialTransaction{*repotest.Transaction("O1", "R1", "10.00", day)})
	assert.NoError(t, LogExecutor{}.Execute(context.Background(), batch))
}
