// Package app wires repositories and services into one graph shared by the
// HTTP server and the CLI jobs.
package app

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/revenda/ledger/internal/api"
	"github.com/revenda/ledger/internal/checkout"
	"github.com/revenda/ledger/internal/config"
	"github.com/revenda/ledger/internal/delinquency"
	"github.com/revenda/ledger/internal/ingestion"
	"github.com/revenda/ledger/internal/ledger"
	"github.com/revenda/ledger/internal/paymentcode"
	"github.com/revenda/ledger/internal/payout"
	"github.com/revenda/ledger/internal/reconciliation"
	"github.com/revenda/ledger/internal/repository"
	"github.com/revenda/ledger/internal/settlement"
)

type App struct {
	DB     *repository.DB
	Config *config.Config
	Logger *zap.Logger

	Orders       *repository.OrderRepo
	Installments *repository.InstallmentRepo
	Transactions *repository.TransactionRepo
	Imports      *repository.ImportRepo

	Ledger         *ledger.Ledger
	Recorder       *settlement.Recorder
	Checkout       *checkout.Finalizer
	PaymentCodes   *paymentcode.Issuer
	Payouts        *payout.Aggregator
	Delinquency    *delinquency.Indexer
	Reconciliation *reconciliation.Service
	Ingestion      *ingestion.Service
}

type Option func(*options)

type options struct {
	now      func() time.Time
	gateway  paymentcode.Gateway
	executor payout.Executor
}

// WithClock fixes the clock of the ledger and the settlement recorder.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithGateway overrides the payment code gateway chosen by configuration.
func WithGateway(g paymentcode.Gateway) Option {
	return func(o *options) { o.gateway = g }
}

// WithExecutor overrides the payout executor.
func WithExecutor(e payout.Executor) Option {
	return func(o *options) { o.executor = e }
}

func New(db *repository.DB, cfg *config.Config, logger *zap.Logger, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.gateway == nil {
		o.gateway = Gateway(cfg.PaymentCode)
	}
	if o.executor == nil {
		o.executor = payout.LogExecutor{Logger: logger.Named("payout")}
	}

	a := &App{
		DB:           db,
		Config:       cfg,
		Logger:       logger,
		Orders:       repository.NewOrderRepo(db),
		Installments: repository.NewInstallmentRepo(db),
		Transactions: repository.NewTransactionRepo(db),
		Imports:      repository.NewImportRepo(db),
	}

	a.Ledger = ledger.New(a.Installments, logger, ledger.WithClock(o.now))
	a.Recorder = settlement.NewRecorder(a.Transactions, a.Orders, logger, settlement.WithClock(o.now))
	a.Checkout = checkout.NewFinalizer(a.Orders, a.Ledger, a.Recorder, cfg, logger, checkout.WithClock(o.now))
	a.PaymentCodes = paymentcode.NewIssuer(o.gateway, a.Installments, logger)
	a.Payouts = payout.NewAggregator(a.Transactions, o.executor, logger)
	a.Delinquency = delinquency.NewIndexer(a.Installments, logger)
	a.Reconciliation = reconciliation.NewService(a.Orders, a.Installments, a.Ledger, a.Recorder, cfg, a.Transactions, logger)
	a.Ingestion = ingestion.NewService(a.Orders, a.Imports, a.Checkout, logger)
	return a
}

// Gateway builds the payment code gateway named by configuration.
func Gateway(c config.PaymentCodeConfig) paymentcode.Gateway {
	if c.Gateway == "http" {
		return paymentcode.NewHTTPGateway(c.Endpoint, c.APIKey, c.Timeout)
	}
	return paymentcode.StaticGateway{
		MerchantName: c.MerchantName,
		City:         c.City,
		ImageBaseURL: c.ImageBaseURL,
	}
}

// Router returns the HTTP handler serving every API route.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.Services{
		Orders:         a.Orders,
		Transactions:   a.Transactions,
		Ledger:         a.Ledger,
		Checkout:       a.Checkout,
		Recorder:       a.Recorder,
		Fees:           a.Config,
		PaymentCodes:   a.PaymentCodes,
		PayeeKey:       a.Config.PaymentCode.PayeeKey,
		Payouts:        a.Payouts,
		Delinquency:    a.Delinquency,
		Reconciliation: a.Reconciliation,
		Ingestion:      a.Ingestion,
	}, a.Logger)
}
