package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/revenda/ledger/internal/domain"
)

// orderFeed is the top-level JSON structure of the order feed.
type orderFeed struct {
	BatchID string      `json:"batch_id"`
	Orders  []feedEntry `json:"orders"`
}

// Amounts arrive as strings or numbers depending on the producer.
type feedEntry struct {
	ID               string      `json:"id"`
	RevendaID        string      `json:"revenda_id"`
	CustomerID       string      `json:"customer_id"`
	TotalAmount      json.Number `json:"total_amount"`
	PaymentMethod    string      `json:"payment_method"`
	InstallmentCount int         `json:"installment_count"`
	CreatedAt        string      `json:"created_at"`
}

// ParseOrdersJSON parses the JSON order feed.
func ParseOrdersJSON(data []byte) ([]domain.Order, string, error) {
	var feed orderFeed
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, "", fmt.Errorf("unmarshal: %w", err)
	}

	orders := make([]domain.Order, 0, len(feed.Orders))
	for i, entry := range feed.Orders {
		raw := rawOrder{
			ID:            entry.ID,
			RevendaID:     entry.RevendaID,
			CustomerID:    entry.CustomerID,
			TotalAmount:   entry.TotalAmount.String(),
			PaymentMethod: entry.PaymentMethod,
			CreatedAt:     entry.CreatedAt,
		}
		if entry.InstallmentCount != 0 {
			raw.InstallmentCount = fmt.Sprint(entry.InstallmentCount)
		}
		order, err := raw.toOrder(isoLayouts)
		if err != nil {
			return nil, "", fmt.Errorf("record %d: %w", i, err)
		}
		orders = append(orders, order)
	}

	return orders, feed.BatchID, nil
}
