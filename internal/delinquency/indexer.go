// Package delinquency reports customers with overdue installments.
package delinquency

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

type Store interface {
	OverdueCountsByCustomer(ctx context.Context, revendaID string) (map[string]int, error)
}

// Scope narrows the index to one revenda. The zero value covers all.
type Scope struct {
	RevendaID string
}

// Entry is one customer's overdue count.
type Entry struct {
	CustomerID   string `json:"customer_id"`
	OverdueCount int    `json:"overdue_count"`
}

type Indexer struct {
	store  Store
	logger *zap.Logger
}

func NewIndexer(store Store, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{store: store, logger: logger.Named("delinquency")}
}

// OverdueCustomers maps each customer with overdue installments to how
// many they have.
func (x *Indexer) OverdueCustomers(ctx context.Context, scope Scope) (map[string]int, error) {
	counts, err := x.store.OverdueCountsByCustomer(ctx, scope.RevendaID)
	if err != nil {
		return nil, fmt.Errorf("overdue customers: %w", err)
	}
	x.logger.Debug("delinquency index built",
		zap.String("revenda_id", scope.RevendaID),
		zap.Int("customers", len(counts)),
	)
	return counts, nil
}

// Ranked returns the same index sorted by overdue count, highest first.
func (x *Indexer) Ranked(ctx context.Context, scope Scope) ([]Entry, error) {
	counts, err := x.OverdueCustomers(ctx, scope)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(counts))
	for id, n := range counts {
		entries = append(entries, Entry{CustomerID: id, OverdueCount: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].OverdueCount != entries[j].OverdueCount {
			return entries[i].OverdueCount > entries[j].OverdueCount
		}
		return entries[i].CustomerID < entries[j].CustomerID
	})
	return entries, nil
}
