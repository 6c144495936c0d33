package reconciliation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/metrics"
)

// CleanResult summarises a duplicate-settlement cleanup.
type CleanResult struct {
	Groups          int                `json:"groups"`
	Removed         int                `json:"removed"`
	AmountConflicts int                `json:"amount_conflicts"`
	ErrorCount      int                `json:"error_count"`
	Errors          []domain.ItemError `json:"errors,omitempty"`
	GuardInstalled  bool               `json:"guard_installed"`
	Completed       bool               `json:"completed"`
}

// Clean collapses every order holding several financial transactions to
// its earliest one (by creation time, id breaking ties). Each order is
// cleaned in its own database transaction. Groups whose records disagree on
// amounts are still collapsed but counted and logged as conflicts. Once no
// duplicates remain the one-per-order unique index is installed, so a
// second run removes nothing. A cancelled context stops the run between
// orders and leaves the index uninstalled.
func (s *Service) Clean(ctx context.Context) (*CleanResult, error) {
	timer := prometheus.NewTimer(metrics.JobDuration.WithLabelValues("dedupe"))
	defer timer.ObserveDuration()
	start := time.Now()

	orderIDs, err := s.settlements.DuplicatedOrderIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}

	result := &CleanResult{}
	for _, orderID := range orderIDs {
		if ctx.Err() != nil {
			s.logger.Warn("duplicate cleanup interrupted", zap.Int("remaining", len(orderIDs)-result.Groups))
			return result, nil
		}
		result.Groups++

		removed, conflict, err := s.cleanOrder(ctx, orderID)
		if err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, domain.ItemError{ID: orderID, Error: err.Error()})
			metrics.JobItems.WithLabelValues("dedupe", "error").Inc()
			s.logger.Warn("duplicate cleanup failed", zap.String("order_id", orderID), zap.Error(err))
			continue
		}
		result.Removed += removed
		if conflict {
			result.AmountConflicts++
		}
		metrics.JobItems.WithLabelValues("dedupe", "removed").Add(float64(removed))
	}
	result.Completed = true

	if result.ErrorCount == 0 {
		if err := s.settlements.EnsureSettlementGuard(ctx); err != nil {
			return result, fmt.Errorf("install settlement guard: %w", err)
		}
		result.GuardInstalled = true
	}

	s.logger.Info("duplicate cleanup results",
		zap.Int("groups", result.Groups),
		zap.Int("removed", result.Removed),
		zap.Int("amount_conflicts", result.AmountConflicts),
		zap.Int("errors", result.ErrorCount),
		since(start),
	)
	return result, nil
}

func (s *Service) cleanOrder(ctx context.Context, orderID string) (removed int, conflict bool, err error) {
	txns, err := s.settlements.ListByOrderID(ctx, orderID)
	if err != nil {
		return 0, false, err
	}
	if len(txns) < 2 {
		return 0, false, nil
	}

	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].CreatedAt.Before(txns[j].CreatedAt)
		}
		return txns[i].ID < txns[j].ID
	})

	keep := &txns[0]
	drop := make([]string, 0, len(txns)-1)
	for i := 1; i < len(txns); i++ {
		if !keep.SameAmounts(&txns[i]) {
			conflict = true
		}
		drop = append(drop, txns[i].ID)
	}

	if conflict {
		s.logger.Error("duplicate settlements disagree on amounts",
			zap.String("order_id", orderID),
			zap.String("kept_id", keep.ID),
			zap.String("kept_gross", keep.GrossAmount.String()),
			zap.String("kept_net", keep.NetAmount.String()),
			zap.Strings("removed_ids", drop),
			zap.Error(domain.ErrDuplicateConflict),
		)
	}

	removed, err = s.settlements.DeleteByIDs(ctx, orderID, drop)
	if err != nil {
		return 0, conflict, err
	}
	s.logger.Info("duplicate settlements removed",
		zap.String("order_id", orderID),
		zap.String("kept_id", keep.ID),
		zap.Int("removed", removed),
	)
	return removed, conflict, nil
}
