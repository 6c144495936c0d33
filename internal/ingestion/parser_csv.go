package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/revenda/ledger/internal/domain"
)

// ParseOrdersCSV parses the storefront order export.
//
// Expected header:
//
//	order_id,revenda_id,customer_id,total_amount,payment_method,installment_count,created_at
func ParseOrdersCSV(data []byte) ([]domain.Order, error) {
	return parseDelimited(data, ',', isoLayouts)
}

var erpLayouts = []string{"02/01/2006 15:04", "02/01/2006 15:04:05", "02/01/2006"}

// ParseERPCSV parses the back-office ERP export: semicolon separated,
// Brazilian amounts ("1.234,56") and dates ("10/01/2024 14:30").
//
// Expected header:
//
//	PEDIDO;REVENDA;CLIENTE;VALOR_TOTAL;FORMA_PAGAMENTO;PARCELAS;DATA
func ParseERPCSV(data []byte) ([]domain.Order, error) {
	return parseDelimited(data, ';', erpLayouts)
}

const orderColumns = 7

func parseDelimited(data []byte, comma rune, layouts []string) ([]domain.Order, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.Comma = comma
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < orderColumns {
		return nil, fmt.Errorf("expected %d columns, got %d", orderColumns, len(header))
	}

	var orders []domain.Order
	lineNum := 1

	for {
		lineNum++
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(row) < orderColumns {
			continue
		}

		raw := rawOrder{
			ID:               strings.TrimSpace(row[0]),
			RevendaID:        strings.TrimSpace(row[1]),
			CustomerID:       strings.TrimSpace(row[2]),
			TotalAmount:      strings.TrimSpace(row[3]),
			PaymentMethod:    strings.TrimSpace(row[4]),
			InstallmentCount: strings.TrimSpace(row[5]),
			CreatedAt:        strings.TrimSpace(row[6]),
		}
		order, err := raw.toOrder(layouts)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		orders = append(orders, order)
	}

	return orders, nil
}
