package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "ledger.db",
		},
		PaymentCode: PaymentCodeConfig{
			Gateway:      "static",
			Timeout:      20 * time.Second,
			MerchantName: "REVENDA",
			City:         "SAO PAULO",
			ImageBaseURL: "https://api.qrserver.com/v1/create-qr-code/",
		},
		Fees: FeesConfig{
			Default: FeeConfig{
				Modality:   "next_day",
				Percentage: "0.0399",
				Fixed:      "0.00",
			},
		},
		Seed: SeedConfig{
			Enabled: true,
			Path:    "testdata/orders.json",
		},
	}
}
