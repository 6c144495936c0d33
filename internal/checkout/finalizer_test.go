package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/ledger"
	"github.com/revenda/ledger/internal/repository"
	"github.com/revenda/ledger/internal/repository/repotest"
	"github.com/revenda/ledger/internal/settlement"
)

type flatFees struct{}

func (flatFees) FeeScheduleFor(string) (domain.FeeSchedule, error) {
	return domain.FeeSchedule{
		Modality:   domain.ModalityNextDay,
		Percentage: decimal.RequireFromString("0.02"),
	}, nil
}

func newFinalizer(t *testing.T, orders ...domain.Order) (*Finalizer, *repository.TransactionRepo) {
	t.Helper()
	db := repotest.NewDB(t)
	repotest.SeedOrders(t, db, orders...)

	now := repotest.Date(2024, 1, 10)
	clock := func() time.Time { return now }
	orderRepo := repository.NewOrderRepo(db)
	txns := repository.NewTransactionRepo(db)

	f := NewFinalizer(
		orderRepo,
		ledger.New(repository.NewInstallmentRepo(db), nil, ledger.WithClock(clock)),
		settlement.NewRecorder(txns, orderRepo, nil, settlement.WithClock(clock)),
		flatFees{},
		nil,
		WithClock(clock),
	)
	return f, txns
}

func TestFinalizeInstallmentOrder(t *testing.T) {
	day := repotest.Date(2024, 1, 10)
	f, _ := newFinalizer(t, repotest.Order("O1", "R1", "C1", "300.00", 3, day))

	out, err := f.Finalize(context.Background(), "O1")
	require.NoError(t, err)

	assert.True(t, out.PlanCreated)
	assert.True(t, out.SettlementCreated)
	require.NotNil(t, out.Plan)
	assert.Len(t, out.Plan.Installments, 3)
	assert.True(t, decimal.RequireFromString("294").Equal(out.Transaction.NetAmount))
	assert.True(t, out.Transaction.ExpectedPayoutDate.Equal(day.AddDate(0, 0, 1)))
}

func TestFinalizeIsRetrySafe(t *testing.T) {
	f, txns := newFinalizer(t, repotest.Order("O1", "R1", "C1", "200.00", 2, repotest.Date(2024, 1, 10)))
	ctx := context.Background()

	first, err := f.Finalize(ctx, "O1")
	require.NoError(t, err)
	second, err := f.Finalize(ctx, "O1")
	require.NoError(t, err)

	assert.False(t, second.PlanCreated)
	assert.False(t, second.SettlementCreated)
	assert.Equal(t, first.Plan.ID, second.Plan.ID)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	n, err := txns.CountByOrderID(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFinalizeSingleShotOrder(t *testing.T) {
	f, _ := newFinalizer(t, repotest.Order("O2", "R1", "C2", "80.00", 1, repotest.Date(2024, 1, 10)))

	out, err := f.Finalize(context.Background(), "O2")
	require.NoError(t, err)
	assert.Nil(t, out.Plan)
	assert.False(t, out.PlanCreated)
	assert.True(t, out.SettlementCreated)
}

func TestFinalizeUnsupportedCountRecordsNothing(t *testing.T) {
	f, txns := newFinalizer(t, repotest.Order("O3", "R1", "C3", "400.00", 4, repotest.Date(2024, 1, 10)))
	ctx := context.Background()

	_, err := f.Finalize(ctx, "O3")
	require.ErrorIs(t, err, domain.ErrUnsupportedInstallmentCount)

	n, err := txns.CountByOrderID(ctx, "O3")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFinalizeUnknownOrder(t *testing.T) {
	f, _ := newFinalizer(t)

	_, err := f.Finalize(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
