// Package repotest opens throwaway databases for tests.
package repotest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/repository"
)

// PostgresDSNEnv names the variable that switches tests to PostgreSQL.
const PostgresDSNEnv = "LEDGER_TEST_POSTGRES_DSN"

// NewDB opens a fresh SQLite database in a temporary directory.
func NewDB(t testing.TB) *repository.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := repository.Open(context.Background(), repository.DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, db.SettlementGuardErr())
	t.Cleanup(func() { db.Close() })
	return db
}

// NewPostgresDB opens the database named by LEDGER_TEST_POSTGRES_DSN and
// skips the test when it is unset.
func NewPostgresDB(t testing.TB) *repository.DB {
	t.Helper()

	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	db, err := repository.Open(context.Background(), repository.DriverPostgres, dsn)
	require.NoError(t, err)
	for _, table := range []string{"installments", "installment_plans", "financial_transactions", "orders", "order_imports"} {
		_, err := db.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Order builds an installment order with sensible defaults.
func Order(id, revendaID, customerID, total string, count int, createdAt time.Time) domain.Order {
	method := domain.PaymentMethodInstallment
	if count <= 1 {
		method = domain.PaymentMethodPix
		count = 1
	}
	return domain.Order{
		ID:               id,
		RevendaID:        revendaID,
		CustomerID:       customerID,
		TotalAmount:      decimal.RequireFromString(total),
		PaymentMethod:    method,
		InstallmentCount: count,
		CreatedAt:        createdAt,
	}
}

// SeedOrders inserts the given orders.
func SeedOrders(t testing.TB, db *repository.DB, orders ...domain.Order) {
	t.Helper()

	_, err := repository.NewOrderRepo(db).BulkInsert(context.Background(), orders)
	require.NoError(t, err)
}

// Transaction builds a fee-free financial transaction paid at createdAt.
func Transaction(orderID, revendaID, gross string, createdAt time.Time) *domain.FinancialTransaction {
	amount := decimal.RequireFromString(gross)
	return &domain.FinancialTransaction{
		ID:                 uuid.NewString(),
		OrderID:            orderID,
		RevendaID:          revendaID,
		GrossAmount:        amount,
		FeePercentage:      decimal.Zero,
		FeeFixed:           decimal.Zero,
		NetAmount:          amount,
		Modality:           domain.ModalityImmediate,
		PaidAt:             createdAt,
		ExpectedPayoutDate: createdAt,
		Status:             domain.TransactionPendingRelease,
		CreatedAt:          createdAt,
	}
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
