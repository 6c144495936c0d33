package ingestion

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revenda/ledger/internal/domain"
)

func TestParseOrdersCSV(t *testing.T) {
	data := []byte(`order_id,revenda_id,customer_id,total_amount,payment_method,installment_count,created_at
O1,R1,C1,300.00,installment,3,2024-01-10T14:30:00Z
O2,R1,C2,49.90,pix,,2024-01-11
O3,R2,C3,10.00,pix,3,2024-01-12 08:00:00
`)

	orders, err := ParseOrdersCSV(data)
	require.NoError(t, err)
	require.Len(t, orders, 3)

	assert.Equal(t, domain.Order{
		ID:               "O1",
		RevendaID:        "R1",
		CustomerID:       "C1",
		TotalAmount:      decimal.RequireFromString("300.00"),
		PaymentMethod:    domain.PaymentMethodInstallment,
		InstallmentCount: 3,
		CreatedAt:        time.Date(2024, 1, 10, 14, 30, 0, 0, time.UTC),
	}, orders[0])
	assert.Equal(t, 1, orders[1].InstallmentCount)
	assert.Equal(t, 1, orders[2].InstallmentCount, "pix orders are single-shot")
}

func TestParseOrdersCSVErrors(t *testing.T) {
	cases := map[string]string{
		"short header": "order_id,revenda_id\n",
		"bad amount":   "h1,h2,h3,h4,h5,h6,h7\nO1,R1,C1,abc,pix,1,2024-01-10\n",
		"zero amount":  "h1,h2,h3,h4,h5,h6,h7\nO1,R1,C1,0,pix,1,2024-01-10\n",
		"bad method":   "h1,h2,h3,h4,h5,h6,h7\nO1,R1,C1,10,boleto,1,2024-01-10\n",
		"bad count":    "h1,h2,h3,h4,h5,h6,h7\nO1,R1,C1,10,installment,0,2024-01-10\n",
		"bad date":     "h1,h2,h3,h4,h5,h6,h7\nO1,R1,C1,10,pix,1,10/01/2024\n",
		"missing id":   "h1,h2,h3,h4,h5,h6,h7\n,R1,C1,10,pix,1,2024-01-10\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOrdersCSV([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestParseERPCSV(t *testing.T) {
	data := []byte("PEDIDO;REVENDA;CLIENTE;VALOR_TOTAL;FORMA_PAGAMENTO;PARCELAS;DATA\n" +
		"O9;R1;C1;1.234,56;PARCELADO;2;10/01/2024 14:30\n")

	orders, err := ParseERPCSV(data)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, decimal.RequireFromString("1234.56").Equal(orders[0].TotalAmount))
	assert.Equal(t, domain.PaymentMethodInstallment, orders[0].PaymentMethod)
	assert.Equal(t, time.Date(2024, 1, 10, 14, 30, 0, 0, time.UTC), orders[0].CreatedAt)
}

func TestParseOrdersJSON(t *testing.T) {
	data := []byte(`{
		"batch_id": "B-1",
		"orders": [
			{"id": "O1", "revenda_id": "R1", "customer_id": "C1", "total_amount": "300.00",
			 "payment_method": "installment", "installment_count": 3, "created_at": "2024-01-10T00:00:00Z"},
			{"id": "O2", "revenda_id": "R1", "customer_id": "C2", "total_amount": 80.5,
			 "payment_method": "pix", "created_at": "2024-01-10T12:00:00-03:00"}
		]
	}`)

	orders, batchID, err := ParseOrdersJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "B-1", batchID)
	require.Len(t, orders, 2)
	assert.Equal(t, 3, orders[0].InstallmentCount)
	assert.True(t, decimal.RequireFromString("80.5").Equal(orders[1].TotalAmount))
	assert.Equal(t, time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC), orders[1].CreatedAt)

	_, _, err = ParseOrdersJSON([]byte(`{"orders": [{"id": "O1"}]}`))
	assert.Error(t, err)
}

func TestSampleFeedsAgree(t *testing.T) {
	read := func(name string) []byte {
		data, err := os.ReadFile(filepath.Join("..", "..", "testdata", name))
		require.NoError(t, err)
		return data
	}

	fromJSON, batchID, err := ParseOrdersJSON(read("orders.json"))
	require.NoError(t, err)
	assert.Equal(t, "FEED-2024-01", batchID)

	fromCSV, err := ParseOrdersCSV(read("orders.csv"))
	require.NoError(t, err)
	fromERP, err := ParseERPCSV(read("orders_erp.csv"))
	require.NoError(t, err)

	require.Len(t, fromJSON, 60)
	require.Len(t, fromCSV, len(fromJSON))
	require.Len(t, fromERP, len(fromJSON))
	for i, want := range fromJSON {
		for _, got := range []domain.Order{fromCSV[i], fromERP[i]} {
			assert.Equal(t, want.ID, got.ID)
			assert.True(t, want.TotalAmount.Equal(got.TotalAmount), "order %s", want.ID)
			assert.Equal(t, want.InstallmentCount, got.InstallmentCount, "order %s", want.ID)
			assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "order %s", want.ID)
		}
	}
}
