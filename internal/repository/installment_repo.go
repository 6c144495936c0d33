package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/revenda/ledger/internal/domain"
)

const (
	planColumns        = `id, order_id, installment_count, total_amount, per_installment_amount, created_at`
	installmentColumns = `id, plan_id, sequence, amount, due_date, status, paid_at,
		payment_code, payment_code_image, reversed_at, created_at`
)

type InstallmentRepo struct {
	db *DB
}

func NewInstallmentRepo(db *DB) *InstallmentRepo {
	return &InstallmentRepo{db: db}
}

// CreatePlan writes a plan and all its installments in one transaction. The
// unique order key makes concurrent attempts converge: the loser gets
// domain.ErrPlanAlreadyExists and nothing is written for it.
func (r *InstallmentRepo) CreatePlan(ctx context.Context, plan *domain.InstallmentPlan) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.db.Rebind(
			`INSERT INTO installment_plans (`+planColumns+`)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT (order_id) DO NOTHING`),
			plan.ID, plan.OrderID, plan.InstallmentCount, plan.TotalAmount,
			plan.PerInstallmentAmount, formatTime(plan.CreatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("order %s: %w", plan.OrderID, domain.ErrPlanAlreadyExists)
			}
			return fmt.Errorf("insert plan: %w", err)
		}
		if ra, _ := res.RowsAffected(); ra == 0 {
			return fmt.Errorf("order %s: %w", plan.OrderID, domain.ErrPlanAlreadyExists)
		}

		stmt, err := tx.PrepareContext(ctx, r.db.Rebind(
			`INSERT INTO installments (`+installmentColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for i := range plan.Installments {
			inst := &plan.Installments[i]
			_, err := stmt.ExecContext(ctx,
				inst.ID, plan.ID, inst.Sequence, inst.Amount, formatTime(inst.DueDate),
				string(inst.Status), formatNullableTime(inst.PaidAt),
				nullableString(inst.PaymentCode), nullableString(inst.PaymentCodeImage),
				formatNullableTime(inst.ReversedAt), formatTime(inst.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("insert installment %d: %w", inst.Sequence, err)
			}
		}
		return nil
	})
}

// PlanExists reports whether the order already has an installment plan.
func (r *InstallmentRepo) PlanExists(ctx context.Context, orderID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		r.db.Rebind("SELECT COUNT(*) FROM installment_plans WHERE order_id = ?"), orderID,
	).Scan(&count)
	return count > 0, err
}

// GetPlanByOrderID returns the plan with its installments ordered by sequence.
func (r *InstallmentRepo) GetPlanByOrderID(ctx context.Context, orderID string) (*domain.InstallmentPlan, error) {
	row := r.db.QueryRowContext(ctx,
		r.db.Rebind("SELECT "+planColumns+" FROM installment_plans WHERE order_id = ?"), orderID)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan for order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		r.db.Rebind("SELECT "+installmentColumns+" FROM installments WHERE plan_id = ? ORDER BY sequence"), plan.ID)
	if err != nil {
		return nil, fmt.Errorf("query installments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		plan.Installments = append(plan.Installments, *inst)
	}
	return plan, rows.Err()
}

// GetInstallment returns domain.ErrNotFound when the installment does not exist.
func (r *InstallmentRepo) GetInstallment(ctx context.Context, id string) (*domain.Installment, error) {
	row := r.db.QueryRowContext(ctx,
		r.db.Rebind("SELECT "+installmentColumns+" FROM installments WHERE id = ?"), id)
	inst, err := scanInstallment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("installment %s: %w", id, domain.ErrNotFound)
	}
	return inst, err
}

// Transition is a compare-and-set status change. PaidAt and ReversedAt are
// written as given (nil clears paid_at; nil keeps reversed_at).
type Transition struct {
	ID         string
	From       domain.InstallmentStatus
	To         domain.InstallmentStatus
	PaidAt     *time.Time
	ReversedAt *time.Time
}

// ApplyTransition reports false when the installment was not in the
// expected status any more.
func (r *InstallmentRepo) ApplyTransition(ctx context.Context, t Transition) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE installments
		SET status = ?, paid_at = ?, reversed_at = COALESCE(?, reversed_at)
		WHERE id = ? AND status = ?`),
		string(t.To), formatNullableTime(t.PaidAt), formatNullableTime(t.ReversedAt),
		t.ID, string(t.From),
	)
	if err != nil {
		return false, fmt.Errorf("update installment %s: %w", t.ID, err)
	}
	ra, _ := res.RowsAffected()
	return ra > 0, nil
}

// ListPendingDueBefore returns pending installments whose due date has passed.
func (r *InstallmentRepo) ListPendingDueBefore(ctx context.Context, asOf time.Time) ([]domain.Installment, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(
		"SELECT "+installmentColumns+" FROM installments WHERE status = ? AND due_date < ? ORDER BY due_date, id"),
		string(domain.InstallmentPending), formatTime(asOf),
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// SetPaymentCode stores a payment code. Unless force is set the write only
// happens when no code is stored yet; the result reports whether it happened.
func (r *InstallmentRepo) SetPaymentCode(ctx context.Context, id, code, image string, force bool) (bool, error) {
	query := `UPDATE installments SET payment_code = ?, payment_code_image = ? WHERE id = ?`
	if !force {
		query += ` AND (payment_code IS NULL OR payment_code = '')`
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), code, nullableString(image), id)
	if err != nil {
		return false, fmt.Errorf("set payment code %s: %w", id, err)
	}
	ra, _ := res.RowsAffected()
	return ra > 0, nil
}

// OverdueCountsByCustomer counts overdue installments per customer through
// plan and order. An empty revendaID means all resellers.
func (r *InstallmentRepo) OverdueCountsByCustomer(ctx context.Context, revendaID string) (map[string]int, error) {
	query := `
		SELECT o.customer_id, COUNT(*)
		FROM installments i
		JOIN installment_plans p ON p.id = i.plan_id
		JOIN orders o ON o.id = p.order_id
		WHERE i.status = ?`
	args := []any{string(domain.InstallmentOverdue)}
	if revendaID != "" {
		query += " AND o.revenda_id = ?"
		args = append(args, revendaID)
	}
	query += " GROUP BY o.customer_id"

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var customerID string
		var n int
		if err := rows.Scan(&customerID, &n); err != nil {
			return nil, err
		}
		counts[customerID] = n
	}
	return counts, rows.Err()
}

func scanPlan(s scanner) (*domain.InstallmentPlan, error) {
	var p domain.InstallmentPlan
	var createdAt string

	err := s.Scan(&p.ID, &p.OrderID, &p.InstallmentCount, &p.TotalAmount, &p.PerInstallmentAmount, &createdAt)
	if err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanInstallment(s scanner) (*domain.Installment, error) {
	var inst domain.Installment
	var status, dueDate, createdAt string
	var paidAt, code, image, reversedAt sql.NullString

	err := s.Scan(
		&inst.ID, &inst.PlanID, &inst.Sequence, &inst.Amount, &dueDate, &status, &paidAt,
		&code, &image, &reversedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	inst.Status = domain.InstallmentStatus(status)
	inst.PaymentCode = code.String
	inst.PaymentCodeImage = image.String
	if inst.DueDate, err = parseTime(dueDate); err != nil {
		return nil, err
	}
	if inst.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if inst.PaidAt, err = parseNullableTime(paidAt); err != nil {
		return nil, err
	}
	if inst.ReversedAt, err = parseNullableTime(reversedAt); err != nil {
		return nil, err
	}
	return &inst, nil
}
