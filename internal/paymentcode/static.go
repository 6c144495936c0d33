package paymentcode

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// StaticGateway builds BR Code (EMV merchant-presented) payloads locally
// without contacting a provider. Useful for development and tests.
type StaticGateway struct {
	MerchantName string
	City         string
	ImageBaseURL string
}

const (
	pixGUI            = "br.gov.bcb.pix"
	currencyBRL       = "986"
	maxMerchantName   = 25
	maxCity           = 15
	maxTxIDLength     = 25
	maxDescriptionLen = 72
	maxFieldLen       = 99
)

func (g StaticGateway) GeneratePaymentCode(_ context.Context, amount decimal.Decimal, description, payeeKey string) (PaymentCode, error) {
	if payeeKey == "" {
		return PaymentCode{}, ErrMissingPayeeKey
	}

	payload := BuildBRCode(BRCode{
		PayeeKey:     payeeKey,
		Description:  description,
		Amount:       amount,
		MerchantName: g.merchantName(),
		City:         g.city(),
	})

	code := PaymentCode{DisplayText: payload}
	if g.ImageBaseURL != "" {
		code.ImageReference = g.ImageBaseURL + "?data=" + url.QueryEscape(payload)
	}
	return code, nil
}

func (g StaticGateway) merchantName() string {
	if g.MerchantName == "" {
		return "REVENDA"
	}
	return g.MerchantName
}

func (g StaticGateway) city() string {
	if g.City == "" {
		return "SAO PAULO"
	}
	return g.City
}

// BRCode holds the fields of a static instant-payment code.
type BRCode struct {
	PayeeKey     string
	Description  string
	Amount       decimal.Decimal
	MerchantName string
	City         string
	TxID         string
}

// BuildBRCode renders the EMV TLV payload including its CRC16 checksum.
func BuildBRCode(c BRCode) string {
	account := tlv("00", pixGUI) + tlv("01", c.PayeeKey)
	// TLV lengths are two digits, so the description gets what is left.
	if room := min(maxFieldLen-len(account)-4, maxDescriptionLen); c.Description != "" && room > 0 {
		account += tlv("02", truncate(c.Description, room))
	}

	txID := c.TxID
	if txID == "" {
		txID = "***"
	}

	var b strings.Builder
	b.WriteString(tlv("00", "01"))
	b.WriteString(tlv("26", account))
	b.WriteString(tlv("52", "0000"))
	b.WriteString(tlv("53", currencyBRL))
	if c.Amount.IsPositive() {
		b.WriteString(tlv("54", c.Amount.StringFixed(2)))
	}
	b.WriteString(tlv("58", "BR"))
	b.WriteString(tlv("59", truncate(c.MerchantName, maxMerchantName)))
	b.WriteString(tlv("60", truncate(c.City, maxCity)))
	b.WriteString(tlv("62", tlv("05", truncate(txID, maxTxIDLength))))
	b.WriteString("6304")

	payload := b.String()
	return payload + fmt.Sprintf("%04X", CRC16(payload))
}

// CRC16 computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
func CRC16(s string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(s); i++ {
		crc ^= uint16(s[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func tlv(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
