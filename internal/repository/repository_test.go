package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/repository"
	"github.com/revenda/ledger/internal/repository/repotest"
)

func newTransaction(orderID string, createdAt time.Time, gross string) *domain.FinancialTransaction {
	return repotest.Transaction(orderID, "rev-1", gross, createdAt)
}

func TestOrderRepoRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	repo := repository.NewOrderRepo(db)

	created := time.Date(2024, 1, 10, 14, 30, 15, 123, time.UTC)
	o := repotest.Order("O1", "rev-1", "cust-1", "300.00", 3, created)

	inserted, err := repo.BulkInsert(ctx, []domain.Order{o})
	require.NoError(t, err)
	assert.Len(t, inserted, 1)

	inserted, err = repo.BulkInsert(ctx, []domain.Order{o})
	require.NoError(t, err)
	assert.Empty(t, inserted, "second insert of the same id is ignored")

	got, err := repo.GetByID(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "rev-1", got.RevendaID)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, domain.PaymentMethodInstallment, got.PaymentMethod)
	assert.True(t, got.CreatedAt.Equal(created))

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderRepoListInstallmentOrders(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	repo := repository.NewOrderRepo(db)

	repotest.SeedOrders(t, db,
		repotest.Order("O2", "rev-1", "c1", "100", 2, repotest.Date(2024, 1, 2)),
		repotest.Order("O1", "rev-1", "c1", "100", 3, repotest.Date(2024, 1, 1)),
		repotest.Order("O3", "rev-2", "c2", "100", 2, repotest.Date(2024, 1, 3)),
		repotest.Order("O4", "rev-1", "c1", "100", 1, repotest.Date(2024, 1, 4)),
	)

	all, err := repo.ListInstallmentOrders(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "O1", all[0].ID, "oldest first")

	scoped, err := repo.ListInstallmentOrders(ctx, "rev-1")
	require.NoError(t, err)
	assert.Len(t, scoped, 2)
}

func TestInstallmentRepoCreatePlanConflict(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	repo := repository.NewInstallmentRepo(db)

	plan := func() *domain.InstallmentPlan {
		planID := uuid.NewString()
		return &domain.InstallmentPlan{
			ID:                   planID,
			OrderID:              "O1",
			InstallmentCount:     2,
			TotalAmount:          decimal.NewFromInt(200),
			PerInstallmentAmount: decimal.NewFromInt(100),
			CreatedAt:            time.Now(),
			Installments: []domain.Installment{
				{ID: uuid.NewString(), PlanID: planID, Sequence: 1, Amount: decimal.NewFromInt(100),
					DueDate: time.Now(), Status: domain.InstallmentPending, CreatedAt: time.Now()},
				{ID: uuid.NewString(), PlanID: planID, Sequence: 2, Amount: decimal.NewFromInt(100),
					DueDate: time.Now(), Status: domain.InstallmentPending, CreatedAt: time.Now()},
			},
		}
	}

	require.NoError(t, repo.CreatePlan(ctx, plan()))
	err := repo.CreatePlan(ctx, plan())
	assert.ErrorIs(t, err, domain.ErrPlanAlreadyExists)

	got, err := repo.GetPlanByOrderID(ctx, "O1")
	require.NoError(t, err)
	assert.Len(t, got.Installments, 2, "the losing plan wrote no installments")
}

func TestTransactionRepoCreateOrGetConcurrent(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	repo := repository.NewTransactionRepo(db)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*domain.FinancialTransaction, workers)
	createdCount := make([]bool, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], createdCount[i], errs[i] = repo.CreateOrGet(ctx, newTransaction("O1", time.Now(), "100"))
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
		if createdCount[i] {
			created++
		}
	}
	assert.Equal(t, 1, created)

	n, err := repo.CountByOrderID(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTransactionRepoGuardBlocksLegacyDuplicates(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	repo := repository.NewTransactionRepo(db)

	require.NoError(t, repo.InsertLegacy(ctx, newTransaction("O1", time.Now(), "10")))
	assert.Error(t, repo.InsertLegacy(ctx, newTransaction("O1", time.Now(), "10")))

	require.NoError(t, repo.DropSettlementGuard(ctx))
	require.NoError(t, repo.InsertLegacy(ctx, newTransaction("O1", time.Now(), "10")))

	dups, err := repo.DuplicatedOrderIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"O1"}, dups)

	assert.Error(t, repo.EnsureSettlementGuard(ctx), "guard cannot be installed over duplicates")
}

func TestTransactionRepoReleaseAndEligibility(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	repo := repository.NewTransactionRepo(db)

	day := repotest.Date(2024, 3, 1)
	early := newTransaction("O1", day, "50")
	late := newTransaction("O2", day, "70")
	late.ExpectedPayoutDate = day.AddDate(0, 0, 10)
	require.NoError(t, repo.InsertLegacy(ctx, early))
	require.NoError(t, repo.InsertLegacy(ctx, late))

	moved, err := repo.ReleaseDue(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	eligible, err := repo.ListEligibleForPayout(ctx, "rev-1", day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "O1", eligible[0].OrderID)

	paid, err := repo.MarkPaidOut(ctx, []string{early.ID, late.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, paid, "pending_release rows are not paid out")
}

func TestTransactionRepoClaimForPayout(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	repo := repository.NewTransactionRepo(db)

	day := repotest.Date(2024, 3, 1)
	a := newTransaction("O1", day, "50")
	b := newTransaction("O2", day, "70")
	pending := newTransaction("O3", day, "20")
	pending.ExpectedPayoutDate = day.AddDate(0, 0, 10)
	for _, txn := range []*domain.FinancialTransaction{a, b, pending} {
		require.NoError(t, repo.InsertLegacy(ctx, txn))
	}
	_, err := repo.ReleaseDue(ctx, day)
	require.NoError(t, err)

	n, err := repo.ClaimForPayout(ctx, "batch-1", []string{a.ID, pending.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "pending_release rows are not claimed")

	n, err = repo.ClaimForPayout(ctx, "batch-2", []string{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a claimed row keeps its batch")

	claimed, err := repo.ListClaimed(ctx, "rev-1")
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "batch-1", claimed[0].PayoutBatchID)
	assert.Equal(t, a.ID, claimed[0].ID)
	assert.Equal(t, "batch-2", claimed[1].PayoutBatchID)

	_, err = repo.MarkPaidOut(ctx, []string{a.ID})
	require.NoError(t, err)
	claimed, err = repo.ListClaimed(ctx, "rev-1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, b.ID, claimed[0].ID)

	stored, err := repo.GetByOrderID(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", stored.PayoutBatchID)
}

func TestImportRepoDuplicateHash(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	repo := repository.NewImportRepo(db)

	imp := &repository.OrderImport{ID: "I1", Format: "csv", FileHash: "abc", RecordCount: 2, ImportedAt: time.Now()}
	require.NoError(t, repo.Insert(ctx, imp))

	exists, err := repo.ExistsByHash(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, exists)

	imp.ID = "I2"
	assert.ErrorIs(t, repo.Insert(ctx, imp), repository.ErrImportExists)
}

func TestPostgresCreateOrGet(t *testing.T) {
	db := repotest.NewPostgresDB(t)
	repo := repository.NewTransactionRepo(db)
	ctx := context.Background()

	first, created, err := repo.CreateOrGet(ctx, newTransaction("PG1", time.Now(), "10"))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.CreateOrGet(ctx, newTransaction("PG1", time.Now(), "10"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}
