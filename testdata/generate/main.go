// Command generate writes the sample order feeds under testdata/.
//
//	go run ./testdata/generate
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/revenda/ledger/internal/money"
)

const orderCount = 60

type order struct {
	ID               string          `json:"id"`
	RevendaID        string          `json:"revenda_id"`
	CustomerID       string          `json:"customer_id"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PaymentMethod    string          `json:"payment_method"`
	InstallmentCount int             `json:"installment_count"`
	CreatedAt        time.Time       `json:"created_at"`
}

type feed struct {
	BatchID string  `json:"batch_id"`
	Orders  []order `json:"orders"`
}

func main() {
	baseDir := findTestdataDir()
	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

	// The values follow fixed arithmetic patterns so reruns produce the
	// same files byte for byte.
	orders := make([]order, 0, orderCount)
	for i := 1; i <= orderCount; i++ {
		cents := int64(2000 + (i*3719)%48000)
		o := order{
			ID:               fmt.Sprintf("PED-%04d", i),
			RevendaID:        fmt.Sprintf("REV-%02d", i%4+1),
			CustomerID:       fmt.Sprintf("CLI-%03d", (i*7)%23+1),
			TotalAmount:      decimal.New(cents, -2),
			PaymentMethod:    "pix",
			InstallmentCount: 1,
			CreatedAt:        start.Add(time.Duration(i*631) * time.Minute),
		}
		switch i % 5 {
		case 1, 3:
			o.PaymentMethod = "installment"
			o.InstallmentCount = 3
		case 2:
			o.PaymentMethod = "installment"
			o.InstallmentCount = 2
		}
		orders = append(orders, o)
	}

	writeJSONFile(filepath.Join(baseDir, "orders.json"), feed{BatchID: "FEED-2024-01", Orders: orders})
	fmt.Printf("Generated %d orders -> orders.json\n", len(orders))

	writeStorefrontCSV(filepath.Join(baseDir, "orders.csv"), orders)
	writeERPCSV(filepath.Join(baseDir, "orders_erp.csv"), orders)

	fmt.Println("Test data generation complete.")
}

func writeStorefrontCSV(path string, orders []order) {
	writeCSV(path, ',', []string{
		"order_id", "revenda_id", "customer_id", "total_amount",
		"payment_method", "installment_count", "created_at",
	}, orders, func(o order) []string {
		return []string{
			o.ID, o.RevendaID, o.CustomerID, o.TotalAmount.StringFixed(2),
			o.PaymentMethod, fmt.Sprint(o.InstallmentCount), o.CreatedAt.Format(time.RFC3339),
		}
	})
	fmt.Printf("Generated %d storefront CSV records -> %s\n", len(orders), filepath.Base(path))
}

func writeERPCSV(path string, orders []order) {
	writeCSV(path, ';', []string{
		"PEDIDO", "REVENDA", "CLIENTE", "VALOR_TOTAL", "FORMA_PAGAMENTO", "PARCELAS", "DATA",
	}, orders, func(o order) []string {
		method := "PIX"
		if o.InstallmentCount > 1 {
			method = "PARCELADO"
		}
		return []string{
			o.ID, o.RevendaID, o.CustomerID, money.FormatBRL(o.TotalAmount),
			method, fmt.Sprint(o.InstallmentCount), o.CreatedAt.Format("02/01/2006 15:04"),
		}
	})
	fmt.Printf("Generated %d ERP CSV records -> %s\n", len(orders), filepath.Base(path))
}

func writeCSV(path string, comma rune, header []string, orders []order, row func(order) []string) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = comma
	defer w.Flush()

	if err := w.Write(header); err != nil {
		panic(err)
	}
	for _, o := range orders {
		if err := w.Write(row(o)); err != nil {
			panic(err)
		}
	}
}

func writeJSONFile(path string, v any) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
}

func findTestdataDir() string {
	for _, c := range []string{"testdata", "../testdata", "../../testdata"} {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	return "testdata"
}
