// Package ingestion imports order feeds and finalizes the new orders.
package ingestion

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/revenda/ledger/internal/checkout"
	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/metrics"
	"github.com/revenda/ledger/internal/repository"
)

// AlreadyIngested is the import id reported for a feed seen before.
const AlreadyIngested = "already-ingested"

type OrderStore interface {
	BulkInsert(ctx context.Context, orders []domain.Order) ([]domain.Order, error)
}

type ImportStore interface {
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	Insert(ctx context.Context, imp *repository.OrderImport) error
}

type Finalizer interface {
	Finalize(ctx context.Context, orderID string) (*checkout.Outcome, error)
}

// IngestResult is returned from a successful ingestion.
type IngestResult struct {
	ImportID          string             `json:"import_id"`
	BatchID           string             `json:"batch_id,omitempty"`
	RecordsParsed     int                `json:"records_parsed"`
	OrdersInserted    int                `json:"orders_inserted"`
	DuplicatesSkipped int                `json:"duplicates_skipped"`
	Finalized         int                `json:"finalized"`
	ErrorCount        int                `json:"error_count"`
	Errors            []domain.ItemError `json:"errors,omitempty"`
}

// Service handles ingestion of order feeds.
type Service struct {
	orders    OrderStore
	imports   ImportStore
	finalizer Finalizer
	logger    *zap.Logger
}

func NewService(orders OrderStore, imports ImportStore, finalizer Finalizer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		orders:    orders,
		imports:   imports,
		finalizer: finalizer,
		logger:    logger.Named("ingestion"),
	}
}

// IngestOrders parses an order feed, stores the orders it has not seen and
// finalizes each new one. Feeding the same file twice is a no-op.
//
// format must be one of: csv, csv_erp, json
func (s *Service) IngestOrders(ctx context.Context, data []byte, format string) (*IngestResult, error) {
	// Idempotency check via file hash.
	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	exists, err := s.imports.ExistsByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("check hash: %w", err)
	}
	if exists {
		return &IngestResult{ImportID: AlreadyIngested}, nil
	}

	var orders []domain.Order
	var batchID string
	switch format {
	case FormatCSV:
		orders, err = ParseOrdersCSV(data)
	case FormatCSVERP:
		orders, err = ParseERPCSV(data)
	case FormatJSON:
		orders, batchID, err = ParseOrdersJSON(data)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}

	// Orders go in before the import row: a failed insert leaves the hash
	// unrecorded so the same file can be retried. BulkInsert ignores the
	// orders a partial earlier attempt already stored.
	inserted, err := s.orders.BulkInsert(ctx, orders)
	if err != nil {
		return nil, fmt.Errorf("insert orders: %w", err)
	}

	imp := &repository.OrderImport{
		ID:          uuid.NewString(),
		Format:      format,
		FileHash:    hash,
		RecordCount: len(orders),
		ImportedAt:  time.Now(),
	}
	if err := s.imports.Insert(ctx, imp); err != nil {
		if errors.Is(err, repository.ErrImportExists) {
			return &IngestResult{ImportID: AlreadyIngested}, nil
		}
		return nil, fmt.Errorf("insert import: %w", err)
	}

	result := &IngestResult{
		ImportID:          imp.ID,
		BatchID:           batchID,
		RecordsParsed:     len(orders),
		OrdersInserted:    len(inserted),
		DuplicatesSkipped: len(orders) - len(inserted),
	}

	for _, order := range inserted {
		if ctx.Err() != nil {
			s.logger.Warn("finalization interrupted; run the backfill to finish",
				zap.String("import_id", imp.ID),
				zap.Int("remaining", len(inserted)-result.Finalized-result.ErrorCount),
			)
			break
		}
		if _, err := s.finalizer.Finalize(ctx, order.ID); err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, domain.ItemError{ID: order.ID, Error: err.Error()})
			metrics.JobItems.WithLabelValues("ingest", "error").Inc()
			s.logger.Warn("finalize imported order failed", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		result.Finalized++
		metrics.JobItems.WithLabelValues("ingest", "finalized").Inc()
	}

	s.logger.Info("order feed ingested",
		zap.String("import_id", imp.ID),
		zap.String("format", format),
		zap.Int("records", len(orders)),
		zap.Int("new", len(inserted)),
		zap.Int("finalized", result.Finalized),
		zap.Int("errors", result.ErrorCount),
	)
	return result, nil
}
