package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/revenda/ledger/internal/domain"
)

const (
	transactionColumns = `id, order_id, revenda_id, gross_amount, fee_percentage, fee_fixed, net_amount,
		modality, paid_at, expected_payout_date, status, payout_batch_id, created_at`

	// settlementGuardIndex enforces one financial transaction per order. It
	// can only be installed once duplicates left by older code are removed.
	settlementGuardIndex = "ux_financial_transactions_order"
	settlementGuardDDL   = "CREATE UNIQUE INDEX IF NOT EXISTS " + settlementGuardIndex + " ON financial_transactions(order_id)"
)

type TransactionRepo struct {
	db *DB
}

func NewTransactionRepo(db *DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// EnsureSettlementGuard installs the unique order index. It fails while
// duplicate transactions exist.
func (r *TransactionRepo) EnsureSettlementGuard(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, settlementGuardDDL); err != nil {
		return fmt.Errorf("create %s: %w", settlementGuardIndex, err)
	}
	r.db.guardErr = nil
	return nil
}

// DropSettlementGuard removes the unique order index. Only used to load
// legacy data that predates it.
func (r *TransactionRepo) DropSettlementGuard(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DROP INDEX IF EXISTS "+settlementGuardIndex)
	return err
}

// CreateOrGet is the idempotent insert primitive: it writes t unless the
// order already has a transaction, and returns the stored record either way.
// created reports whether t was the one written.
func (r *TransactionRepo) CreateOrGet(ctx context.Context, t *domain.FinancialTransaction) (*domain.FinancialTransaction, bool, error) {
	existing, err := r.GetByOrderID(ctx, t.OrderID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO financial_transactions (`+transactionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT DO NOTHING`),
		transactionArgs(t)...,
	)
	if err != nil {
		if !isUniqueViolation(err) {
			return nil, false, fmt.Errorf("insert transaction: %w", err)
		}
	} else if ra, _ := res.RowsAffected(); ra > 0 {
		stored, err := r.GetByOrderID(ctx, t.OrderID)
		if err != nil {
			return nil, false, err
		}
		return stored, stored.ID == t.ID, nil
	}

	stored, err := r.GetByOrderID(ctx, t.OrderID)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

// InsertLegacy writes a transaction without any idempotency handling. Used
// when importing rows from systems that predate the settlement guard.
func (r *TransactionRepo) InsertLegacy(ctx context.Context, t *domain.FinancialTransaction) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO financial_transactions (`+transactionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		transactionArgs(t)...,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByOrderID returns the earliest transaction of the order.
func (r *TransactionRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.FinancialTransaction, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(
		"SELECT "+transactionColumns+" FROM financial_transactions WHERE order_id = ? ORDER BY created_at, id LIMIT 1"),
		orderID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction for order %s: %w", orderID, domain.ErrNotFound)
	}
	return t, err
}

// ListByOrderID returns every transaction of the order, earliest first.
func (r *TransactionRepo) ListByOrderID(ctx context.Context, orderID string) ([]domain.FinancialTransaction, error) {
	return r.query(ctx,
		"SELECT "+transactionColumns+" FROM financial_transactions WHERE order_id = ? ORDER BY created_at, id",
		orderID)
}

// CountByOrderID returns how many transaction rows the order has.
func (r *TransactionRepo) CountByOrderID(ctx context.Context, orderID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		r.db.Rebind("SELECT COUNT(*) FROM financial_transactions WHERE order_id = ?"), orderID).Scan(&n)
	return n, err
}

// DuplicatedOrderIDs returns orders holding more than one transaction.
func (r *TransactionRepo) DuplicatedOrderIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id FROM financial_transactions
		GROUP BY order_id HAVING COUNT(*) > 1
		ORDER BY order_id`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteByIDs removes the given transactions of one order atomically and
// returns how many rows went away.
func (r *TransactionRepo) DeleteByIDs(ctx context.Context, orderID string, ids []string) (int, error) {
	deleted := 0
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx,
				r.db.Rebind("DELETE FROM financial_transactions WHERE id = ? AND order_id = ?"), id, orderID)
			if err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			ra, _ := res.RowsAffected()
			deleted += int(ra)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

type TransactionFilter struct {
	RevendaID string
	OrderID   string
	Status    string
	From      *time.Time
	To        *time.Time
	Page      int
	Limit     int
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilter) ([]domain.FinancialTransaction, int, error) {
	where, args := buildTransactionWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx,
		r.db.Rebind("SELECT COUNT(*) FROM financial_transactions"+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	args = append(args, f.Limit, offset)
	txns, err := r.query(ctx,
		"SELECT "+transactionColumns+" FROM financial_transactions"+where+
			" ORDER BY created_at DESC, id LIMIT ? OFFSET ?", args...)
	return txns, total, err
}

// ListEligibleForPayout returns released transactions of a revenda whose
// expected payout date is at or before asOf.
func (r *TransactionRepo) ListEligibleForPayout(ctx context.Context, revendaID string, asOf time.Time) ([]domain.FinancialTransaction, error) {
	return r.query(ctx,
		"SELECT "+transactionColumns+` FROM financial_transactions
		WHERE revenda_id = ? AND status = ? AND expected_payout_date <= ?
		ORDER BY expected_payout_date, created_at, id`,
		revendaID, string(domain.TransactionReleased), formatTime(asOf))
}

// ReleaseDue moves pending_release transactions whose payout date has come
// to released, returning how many moved.
func (r *TransactionRepo) ReleaseDue(ctx context.Context, asOf time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE financial_transactions SET status = ?
		WHERE status = ? AND expected_payout_date <= ?`),
		string(domain.TransactionReleased), string(domain.TransactionPendingRelease), formatTime(asOf),
	)
	if err != nil {
		return 0, fmt.Errorf("release: %w", err)
	}
	ra, _ := res.RowsAffected()
	return int(ra), nil
}

// ClaimForPayout tags released transactions that no batch holds yet with
// batchID, in one transaction, and returns how many it tagged.
func (r *TransactionRepo) ClaimForPayout(ctx context.Context, batchID string, ids []string) (int, error) {
	claimed := 0
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, r.db.Rebind(
				`UPDATE financial_transactions SET payout_batch_id = ?
				WHERE id = ? AND status = ? AND payout_batch_id IS NULL`),
				batchID, id, string(domain.TransactionReleased),
			)
			if err != nil {
				return fmt.Errorf("claim %s: %w", id, err)
			}
			ra, _ := res.RowsAffected()
			claimed += int(ra)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return claimed, nil
}

// ListClaimed returns the revenda's transactions that a payout batch holds
// but that are not paid out yet, grouped by batch.
func (r *TransactionRepo) ListClaimed(ctx context.Context, revendaID string) ([]domain.FinancialTransaction, error) {
	return r.query(ctx,
		"SELECT "+transactionColumns+` FROM financial_transactions
		WHERE revenda_id = ? AND status = ? AND payout_batch_id IS NOT NULL
		ORDER BY payout_batch_id, expected_payout_date, created_at, id`,
		revendaID, string(domain.TransactionReleased))
}

// MarkPaidOut moves released transactions to paid_out in one transaction.
// Rows that are no longer released are left untouched and not counted.
func (r *TransactionRepo) MarkPaidOut(ctx context.Context, ids []string) (int, error) {
	moved := 0
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, r.db.Rebind(
				"UPDATE financial_transactions SET status = ? WHERE id = ? AND status = ?"),
				string(domain.TransactionPaidOut), id, string(domain.TransactionReleased),
			)
			if err != nil {
				return fmt.Errorf("mark %s paid out: %w", id, err)
			}
			ra, _ := res.RowsAffected()
			moved += int(ra)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

func (r *TransactionRepo) query(ctx context.Context, query string, args ...any) ([]domain.FinancialTransaction, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var txns []domain.FinancialTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

func buildTransactionWhere(f TransactionFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.RevendaID != "" {
		clauses = append(clauses, "revenda_id = ?")
		args = append(args, f.RevendaID)
	}
	if f.OrderID != "" {
		clauses = append(clauses, "order_id = ?")
		args = append(args, f.OrderID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func transactionArgs(t *domain.FinancialTransaction) []any {
	return []any{
		t.ID, t.OrderID, t.RevendaID, t.GrossAmount, t.FeePercentage, t.FeeFixed, t.NetAmount,
		string(t.Modality), formatTime(t.PaidAt), formatTime(t.ExpectedPayoutDate),
		string(t.Status), nullableString(t.PayoutBatchID), formatTime(t.CreatedAt),
	}
}

func scanTransaction(s scanner) (*domain.FinancialTransaction, error) {
	var t domain.FinancialTransaction
	var modality, status, paidAt, payoutDate, createdAt string
	var batchID sql.NullString

	err := s.Scan(
		&t.ID, &t.OrderID, &t.RevendaID, &t.GrossAmount, &t.FeePercentage, &t.FeeFixed, &t.NetAmount,
		&modality, &paidAt, &payoutDate, &status, &batchID, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	t.PayoutBatchID = batchID.String

	t.Modality = domain.FeeModality(modality)
	t.Status = domain.TransactionStatus(status)
	if t.PaidAt, err = parseTime(paidAt); err != nil {
		return nil, err
	}
	if t.ExpectedPayoutDate, err = parseTime(payoutDate); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &t, nil
}
