package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/repository"
	"github.com/revenda/ledger/internal/repository/repotest"
)

var paidDay = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newRecorder(t *testing.T) (*Recorder, *repository.TransactionRepo) {
	t.Helper()
	db := repotest.NewDB(t)
	repotest.SeedOrders(t, db,
		repotest.Order("O1", "R1", "C1", "100.00", 1, paidDay),
		repotest.Order("O2", "R1", "C2", "300.00", 3, paidDay),
	)
	txns := repository.NewTransactionRepo(db)
	rec := NewRecorder(txns, repository.NewOrderRepo(db), nil, WithClock(func() time.Time { return paidDay }))
	return rec, txns
}

func TestComputeNet(t *testing.T) {
	cases := map[string]struct {
		gross string
		fees  domain.FeeSchedule
		net   string
	}{
		"percentage and fixed": {
			gross: "100.00",
			fees:  domain.FeeSchedule{Modality: domain.ModalityImmediate, Percentage: dec("0.0399"), Fixed: dec("0.50")},
			net:   "95.51",
		},
		"rounds to centavos": {
			gross: "33.33",
			fees:  domain.FeeSchedule{Modality: domain.ModalityNextDay, Percentage: dec("0.025"), Fixed: decimal.Zero},
			net:   "32.5",
		},
		"no fees": {
			gross: "10.00",
			fees:  domain.FeeSchedule{Modality: domain.ModalityImmediate},
			net:   "10",
		},
		"fees consume everything": {
			gross: "1.00",
			fees:  domain.FeeSchedule{Modality: domain.ModalityImmediate, Fixed: dec("1.00")},
			net:   "0",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ComputeNet(dec(tc.gross), tc.fees)
			require.NoError(t, err)
			assert.True(t, dec(tc.net).Equal(got.Net), "net = %s", got.Net)
		})
	}
}

func TestComputeNetRejects(t *testing.T) {
	_, err := ComputeNet(dec("1.00"), domain.FeeSchedule{Modality: domain.ModalityImmediate, Fixed: dec("1.50")})
	assert.ErrorIs(t, err, domain.ErrFeeExceedsGross)
	assert.True(t, domain.IsInvariantViolation(err))

	_, err = ComputeNet(dec("10.00"), domain.FeeSchedule{Modality: "weekly"})
	assert.ErrorIs(t, err, domain.ErrInvalidFeeSchedule)
	assert.False(t, domain.IsInvariantViolation(err))

	_, err = ComputeNet(dec("10.00"), domain.FeeSchedule{Modality: domain.ModalityImmediate, Percentage: dec("-0.1")})
	assert.ErrorIs(t, err, domain.ErrInvalidFeeSchedule)

	_, err = ComputeNet(decimal.Zero, domain.FeeSchedule{Modality: domain.ModalityImmediate})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestExpectedPayoutDate(t *testing.T) {
	assert.Equal(t, paidDay, ExpectedPayoutDate(paidDay, domain.FeeSchedule{Modality: domain.ModalityImmediate}))
	assert.Equal(t, paidDay.AddDate(0, 0, 1), ExpectedPayoutDate(paidDay, domain.FeeSchedule{Modality: domain.ModalityNextDay}))
	assert.Equal(t, paidDay.AddDate(0, 0, 30), ExpectedPayoutDate(paidDay, domain.FeeSchedule{Modality: domain.ModalityHold, HoldDays: 30}))
}

func TestRecordSettlement(t *testing.T) {
	rec, _ := newRecorder(t)
	fees := domain.FeeSchedule{Modality: domain.ModalityNextDay, Percentage: dec("0.0399"), Fixed: dec("0.50")}

	txn, err := rec.RecordSettlement(context.Background(), "O1", dec("100.00"), fees)
	require.NoError(t, err)

	assert.Equal(t, "O1", txn.OrderID)
	assert.Equal(t, "R1", txn.RevendaID)
	assert.True(t, dec("95.51").Equal(txn.NetAmount))
	assert.Equal(t, domain.TransactionPendingRelease, txn.Status)
	assert.True(t, txn.PaidAt.Equal(paidDay))
	assert.True(t, txn.ExpectedPayoutDate.Equal(paidDay.AddDate(0, 0, 1)))
}

func TestRecordSettlementIsIdempotent(t *testing.T) {
	rec, txns := newRecorder(t)
	ctx := context.Background()
	fees := domain.FeeSchedule{Modality: domain.ModalityImmediate, Percentage: dec("0.01")}

	first, err := rec.RecordSettlement(ctx, "O2", dec("300.00"), fees)
	require.NoError(t, err)

	// Different inputs on a retry still return the stored record.
	second, created, err := rec.RecordSettlementAt(ctx, "O2", dec("999.00"), fees, paidDay.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, dec("300").Equal(second.GrossAmount))

	n, err := txns.CountByOrderID(ctx, "O2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordSettlementConcurrent(t *testing.T) {
	rec, txns := newRecorder(t)
	ctx := context.Background()
	fees := domain.FeeSchedule{Modality: domain.ModalityHold, HoldDays: 7}

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn, err := rec.RecordSettlement(ctx, "O1", dec("100.00"), fees)
			if assert.NoError(t, err) {
				ids[i] = txn.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	n, err := txns.CountByOrderID(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordSettlementFeeExceedsGross(t *testing.T) {
	rec, txns := newRecorder(t)
	ctx := context.Background()

	_, err := rec.RecordSettlement(ctx, "O1", dec("1.00"), domain.FeeSchedule{Modality: domain.ModalityImmediate, Fixed: dec("2.00")})
	require.ErrorIs(t, err, domain.ErrFeeExceedsGross)

	n, err := txns.CountByOrderID(ctx, "O1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordSettlementUnknownOrder(t *testing.T) {
	rec, _ := newRecorder(t)

	_, err := rec.RecordSettlement(context.Background(), "missing", dec("10.00"), domain.FeeSchedule{Modality: domain.ModalityImmediate})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type fixedFees struct {
	fees domain.FeeSchedule
	err  error
}

func (f fixedFees) FeeScheduleFor(string) (domain.FeeSchedule, error) { return f.fees, f.err }

func TestSettleOrder(t *testing.T) {
	rec, _ := newRecorder(t)
	order := repotest.Order("O2", "R1", "C2", "300.00", 3, paidDay)

	txn, created, err := rec.SettleOrder(context.Background(), &order,
		fixedFees{fees: domain.FeeSchedule{Modality: domain.ModalityImmediate, Fixed: dec("1.00")}}, paidDay)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, dec("299").Equal(txn.NetAmount))

	_, _, err = rec.SettleOrder(context.Background(), &order, fixedFees{err: errors.New("no config")}, paidDay)
	assert.ErrorContains(t, err, "no config")
}
