package payout

import (
	"context"

	"go.uber.org/zap"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/money"
)

// LogExecutor records the hand-off without moving money. It stands in
// until a banking rail is wired.
type LogExecutor struct {
	Logger *zap.Logger
}

func (e LogExecutor) Execute(_ context.Context, batch *domain.PayoutBatch) error {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("payout batch handed off",
		zap.String("batch_id", batch.ID),
		zap.String("revenda_id", batch.RevendaID),
		zap.Time("as_of", batch.AsOf),
		zap.Int("transactions", len(batch.Transactions)),
		zap.String("gross_total", money.FormatBRL(batch.GrossTotal)),
		zap.String("net_total", money.FormatBRL(batch.NetTotal)),
	)
	return nil
}
