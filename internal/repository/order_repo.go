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

const orderColumns = `id, revenda_id, customer_id, total_amount, payment_method, installment_count, created_at`

type OrderRepo struct {
	db *DB
}

func NewOrderRepo(db *DB) *OrderRepo {
	return &OrderRepo{db: db}
}

// BulkInsert stores orders in one transaction, skipping ids already present.
// It returns the orders that were actually written.
func (r *OrderRepo) BulkInsert(ctx context.Context, orders []domain.Order) ([]domain.Order, error) {
	var inserted []domain.Order
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.db.Rebind(
			`INSERT INTO orders (`+orderColumns+`)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT DO NOTHING`),
		)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for i := range orders {
			o := &orders[i]
			res, err := stmt.ExecContext(ctx,
				o.ID, o.RevendaID, o.CustomerID, o.TotalAmount, string(o.PaymentMethod),
				o.InstallmentCount, formatTime(o.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("insert row %d: %w", i, err)
			}
			if ra, _ := res.RowsAffected(); ra > 0 {
				inserted = append(inserted, *o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func (r *OrderRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&count)
	return count, err
}

// GetByID returns domain.ErrNotFound when the order does not exist.
func (r *OrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind("SELECT "+orderColumns+" FROM orders WHERE id = ?"), id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return o, err
}

type OrderFilter struct {
	RevendaID     string
	PaymentMethod domain.PaymentMethod
	From          *time.Time
	To            *time.Time
}

// List returns orders oldest first.
func (r *OrderRepo) List(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	where, args := buildOrderWhere(f)
	rows, err := r.db.QueryContext(ctx,
		r.db.Rebind("SELECT "+orderColumns+" FROM orders"+where+" ORDER BY created_at, id"), args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// ListInstallmentOrders returns every order paid in installments, optionally
// restricted to one revenda.
func (r *OrderRepo) ListInstallmentOrders(ctx context.Context, revendaID string) ([]domain.Order, error) {
	return r.List(ctx, OrderFilter{RevendaID: revendaID, PaymentMethod: domain.PaymentMethodInstallment})
}

// ListWithoutSettlement returns orders that have no financial transaction.
func (r *OrderRepo) ListWithoutSettlement(ctx context.Context, revendaID string) ([]domain.Order, error) {
	query := `
		SELECT o.id, o.revenda_id, o.customer_id, o.total_amount, o.payment_method,
		       o.installment_count, o.created_at
		FROM orders o
		LEFT JOIN financial_transactions ft ON ft.order_id = o.id
		WHERE ft.id IS NULL`
	var args []any
	if revendaID != "" {
		query += " AND o.revenda_id = ?"
		args = append(args, revendaID)
	}
	query += " ORDER BY o.created_at, o.id"

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func buildOrderWhere(f OrderFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.RevendaID != "" {
		clauses = append(clauses, "revenda_id = ?")
		args = append(args, f.RevendaID)
	}
	if f.PaymentMethod != "" {
		clauses = append(clauses, "payment_method = ?")
		args = append(args, string(f.PaymentMethod))
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

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	var method, createdAt string

	err := s.Scan(
		&o.ID, &o.RevendaID, &o.CustomerID, &o.TotalAmount, &method,
		&o.InstallmentCount, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	o.PaymentMethod = domain.PaymentMethod(method)
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &o, nil
}
