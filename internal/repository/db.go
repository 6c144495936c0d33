package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// DB is the transactional data service. Queries are written with "?"
// placeholders and rebound for the active driver.
type DB struct {
	*sql.DB
	driver   string
	guardErr error
}

// Open connects to the data store and ensures all required tables exist.
// For SQLite pass a file path (or ":memory:"); for PostgreSQL a pgx DSN.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite, "sqlite3", "":
		driver = DriverSQLite
	case DriverPostgres, "postgres", "postgresql":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db := &DB{DB: sqlDB, driver: driver}

	if driver == DriverSQLite {
		// One connection: SQLite serializes writers anyway, and ":memory:"
		// databases are per connection.
		sqlDB.SetMaxOpenConns(1)

		// Enable WAL mode for better concurrent read performance.
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("set wal mode: %w", err)
		}
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	} else if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if err := db.createTables(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	// Databases carrying duplicate settlements from older code cannot take
	// the unique index until the duplicate cleaner has run.
	if _, err := sqlDB.ExecContext(ctx, settlementGuardDDL); err != nil {
		db.guardErr = err
	}

	return db, nil
}

// SettlementGuardErr returns why the one-transaction-per-order index could
// not be installed at open time, or nil when it is in place.
func (db *DB) SettlementGuardErr() error {
	return db.guardErr
}

// Rebind rewrites "?" placeholders into the driver's native form.
func (db *DB) Rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (db *DB) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			revenda_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			total_amount TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			installment_count INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_revenda ON orders(revenda_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_method ON orders(payment_method)`,

		`CREATE TABLE IF NOT EXISTS installment_plans (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			installment_count INTEGER NOT NULL,
			total_amount TEXT NOT NULL,
			per_installment_amount TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS installments (
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL REFERENCES installment_plans(id),
			sequence INTEGER NOT NULL,
			amount TEXT NOT NULL,
			due_date TEXT NOT NULL,
			status TEXT NOT NULL,
			paid_at TEXT,
			payment_code TEXT,
			payment_code_image TEXT,
			reversed_at TEXT,
			created_at TEXT NOT NULL,
			UNIQUE (plan_id, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_installments_status ON installments(status)`,
		`CREATE INDEX IF NOT EXISTS idx_installments_due_date ON installments(due_date)`,

		`CREATE TABLE IF NOT EXISTS financial_transactions (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			revenda_id TEXT NOT NULL,
			gross_amount TEXT NOT NULL,
			fee_percentage TEXT NOT NULL,
			fee_fixed TEXT NOT NULL,
			net_amount TEXT NOT NULL,
			modality TEXT NOT NULL,
			paid_at TEXT NOT NULL,
			expected_payout_date TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_financial_transactions_order ON financial_transactions(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_financial_transactions_payout ON financial_transactions(revenda_id, status, expected_payout_date)`,

		`CREATE TABLE IF NOT EXISTS order_imports (
			id TEXT PRIMARY KEY,
			format TEXT NOT NULL,
			file_hash TEXT UNIQUE NOT NULL,
			record_count INTEGER NOT NULL,
			imported_at TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	// Tables created before payout batches were tracked lack the column.
	return db.addColumn(ctx, "financial_transactions", "payout_batch_id", "TEXT")
}

func (db *DB) addColumn(ctx context.Context, table, column, typ string) error {
	if db.driver == DriverPostgres {
		_, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, column, typ))
		return err
	}

	var n int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ))
	return err
}

// isUniqueViolation reports whether err is a unique-constraint failure on
// either backend.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}
