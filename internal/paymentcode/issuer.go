package paymentcode

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/revenda/ledger/internal/domain"
	"github.com/revenda/ledger/internal/metrics"
)

// Store reads installments and caches their codes.
type Store interface {
	GetInstallment(ctx context.Context, id string) (*domain.Installment, error)
	SetPaymentCode(ctx context.Context, id, code, image string, force bool) (bool, error)
}

var ErrMissingPayeeKey = errors.New("payee key required")

type Issuer struct {
	gateway Gateway
	store   Store
	logger  *zap.Logger
}

func NewIssuer(gateway Gateway, store Store, logger *zap.Logger) *Issuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Issuer{gateway: gateway, store: store, logger: logger.Named("paymentcode")}
}

// IssueCode asks the gateway for a fresh code.
func (i *Issuer) IssueCode(ctx context.Context, amount decimal.Decimal, description, payeeKey string) (PaymentCode, error) {
	if !amount.IsPositive() {
		return PaymentCode{}, fmt.Errorf("%w: amount %s must be positive", domain.ErrInvalidAmount, amount)
	}
	if payeeKey == "" {
		return PaymentCode{}, ErrMissingPayeeKey
	}

	code, err := i.gateway.GeneratePaymentCode(ctx, amount, description, payeeKey)
	if err != nil {
		metrics.PaymentCodesIssued.WithLabelValues("error").Inc()
		return PaymentCode{}, fmt.Errorf("generate payment code: %w", err)
	}
	metrics.PaymentCodesIssued.WithLabelValues("issued").Inc()
	return code, nil
}

// CodeForInstallment returns the installment's stored code, issuing and
// storing one first when none exists or force is set. Paid installments
// without a code cannot get one.
func (i *Issuer) CodeForInstallment(ctx context.Context, installmentID, payeeKey string, force bool) (PaymentCode, error) {
	inst, err := i.store.GetInstallment(ctx, installmentID)
	if err != nil {
		return PaymentCode{}, err
	}

	if inst.HasPaymentCode() && !force {
		metrics.PaymentCodesIssued.WithLabelValues("cached").Inc()
		return stored(inst), nil
	}
	if inst.Status == domain.InstallmentPaid {
		return PaymentCode{}, fmt.Errorf("%w: installment %s is already paid", domain.ErrInvalidTransition, installmentID)
	}

	description := fmt.Sprintf("Parcela %d", inst.Sequence)
	code, err := i.IssueCode(ctx, inst.Amount, description, payeeKey)
	if err != nil {
		return PaymentCode{}, err
	}

	written, err := i.store.SetPaymentCode(ctx, installmentID, code.DisplayText, code.ImageReference, force)
	if err != nil {
		return PaymentCode{}, fmt.Errorf("store payment code: %w", err)
	}
	if !written {
		// Another request stored a code first; return that one.
		current, err := i.store.GetInstallment(ctx, installmentID)
		if err != nil {
			return PaymentCode{}, err
		}
		return stored(current), nil
	}

	i.logger.Info("payment code issued",
		zap.String("installment_id", installmentID),
		zap.Int("sequence", inst.Sequence),
		zap.Bool("forced", force),
	)
	return code, nil
}

func stored(inst *domain.Installment) PaymentCode {
	return PaymentCode{DisplayText: inst.PaymentCode, ImageReference: inst.PaymentCodeImage}
}
