// Package paymentcode issues instant-payment codes for installments.
package paymentcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentCode is a copy-paste payment string plus a scannable image.
type PaymentCode struct {
	DisplayText    string `json:"display_text"`
	ImageReference string `json:"image_reference"`
}

// Gateway produces payment codes. Implementations talk to the payment
// provider or build codes locally.
type Gateway interface {
	GeneratePaymentCode(ctx context.Context, amount decimal.Decimal, description, payeeKey string) (PaymentCode, error)
}

const defaultGatewayTimeout = 20 * time.Second

// HTTPGateway requests codes from a provider over JSON.
type HTTPGateway struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPGateway(endpoint, apiKey string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &HTTPGateway{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type gatewayRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
	PayeeKey    string `json:"payee_key"`
}

type gatewayResponse struct {
	PaymentCode string `json:"payment_code"`
	ImageURL    string `json:"image_url"`
	Error       string `json:"error"`
}

func (g *HTTPGateway) GeneratePaymentCode(ctx context.Context, amount decimal.Decimal, description, payeeKey string) (PaymentCode, error) {
	buf, err := json.Marshal(gatewayRequest{
		Amount:      amount.StringFixed(2),
		Description: description,
		PayeeKey:    payeeKey,
	})
	if err != nil {
		return PaymentCode{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(buf))
	if err != nil {
		return PaymentCode{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return PaymentCode{}, fmt.Errorf("payment gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PaymentCode{}, fmt.Errorf("read gateway response: %w", err)
	}

	var out gatewayResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return PaymentCode{}, fmt.Errorf("invalid gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = fmt.Sprintf("payment gateway failed with status %d", resp.StatusCode)
		}
		return PaymentCode{}, errors.New(msg)
	}
	if strings.TrimSpace(out.PaymentCode) == "" {
		return PaymentCode{}, errors.New("gateway response missing payment_code")
	}

	return PaymentCode{DisplayText: out.PaymentCode, ImageReference: out.ImageURL}, nil
}
