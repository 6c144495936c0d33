package repository

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrImportExists is returned when a feed with the same hash was already imported.
var ErrImportExists = errors.New("order feed already imported")

type OrderImport struct {
	ID          string    `json:"id"`
	Format      string    `json:"format"`
	FileHash    string    `json:"file_hash"`
	RecordCount int       `json:"record_count"`
	ImportedAt  time.Time `json:"imported_at"`
}

type ImportRepo struct {
	db *DB
}

func NewImportRepo(db *DB) *ImportRepo {
	return &ImportRepo{db: db}
}

// ExistsByHash checks whether a feed with the given file hash has already
// been imported (idempotency check).
func (r *ImportRepo) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		r.db.Rebind("SELECT COUNT(*) FROM order_imports WHERE file_hash = ?"), hash,
	).Scan(&count)
	return count > 0, err
}

// Insert records an import. Two concurrent imports of the same file race on
// the unique hash; the loser gets ErrImportExists.
func (r *ImportRepo) Insert(ctx context.Context, imp *OrderImport) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO order_imports (id, format, file_hash, record_count, imported_at)
		VALUES (?,?,?,?,?)`),
		imp.ID, imp.Format, imp.FileHash, imp.RecordCount, formatTime(imp.ImportedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrImportExists
		}
		return fmt.Errorf("insert import: %w", err)
	}
	return nil
}
