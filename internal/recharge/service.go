package recharge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/auth"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
	"github.com/lexconsult/lexconsult_wallet/internal/logging"
	"github.com/lexconsult/lexconsult_wallet/internal/metrics"
	"github.com/lexconsult/lexconsult_wallet/internal/notification"
	"github.com/lexconsult/lexconsult_wallet/internal/wallet"
)

const defaultGatewayTimeout = 10 * time.Second

// Options tunes payment intake.
type Options struct {
	SigningSecret   string
	DefaultCurrency string
	GatewayTimeout  time.Duration
	Notifier        notification.Notifier
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Service turns verified external payments into ledger credits.
type Service struct {
	ledger  *wallet.Service
	gateway OrderGateway
	opts    Options
	logger  *slog.Logger
}

// Verification is the outcome of a verified payment. Duplicate is set when
// the intent had already been completed and nothing was credited.
type Verification struct {
	Transaction ledger.Transaction `json:"transaction"`
	Currency    string             `json:"currency"`
	NewBalance  int64              `json:"new_balance"`
	Duplicate   bool               `json:"duplicate"`
}

// NewService constructs the intake. A nil gateway uses StaticOrderGateway.
func NewService(ledgerSvc *wallet.Service, gw OrderGateway, opts Options) *Service {
	if gw == nil {
		gw = StaticOrderGateway{}
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = defaultGatewayTimeout
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "INR"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{ledger: ledgerSvc, gateway: gw, opts: opts, logger: logger}
}

// CreateOrder opens an external order for amount and records it as a
// created payment intent owned by the caller.
func (s *Service) CreateOrder(ctx context.Context, caller auth.Caller, amount int64, currency string) (ledger.PaymentIntent, error) {
	if amount <= 0 {
		return ledger.PaymentIntent{}, apperr.New(apperr.InvalidArgument, "amount must be positive")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	if _, err := s.ledger.Balance(ctx, caller.ID); err != nil {
		return ledger.PaymentIntent{}, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	orderID, err := s.gateway.CreateOrder(gctx, OrderRequest{
		Receipt:   fmt.Sprintf("receipt_%s_%d", caller.ID, time.Now().UnixNano()),
		AccountID: caller.ID,
		Amount:    amount,
		Currency:  currency,
	})
	cancel()
	if err != nil {
		s.logger.Error("create payment order", "account_id", caller.ID, "amount", amount, "error", err)
		return ledger.PaymentIntent{}, apperr.Wrap(apperr.ExternalGateway, "payment provider unavailable", err)
	}

	var intent ledger.PaymentIntent
	err = s.ledger.Atomically(ctx, wallet.Op{Name: "create_order", AccountID: caller.ID, Amount: amount}, func(ctx context.Context, u *wallet.Unit) error {
		intent = ledger.PaymentIntent{
			OrderID:   orderID,
			AccountID: caller.ID,
			Amount:    amount,
			Currency:  currency,
			Status:    ledger.IntentCreated,
			CreatedAt: u.Now(),
		}
		return u.Records().CreatePaymentIntent(ctx, intent)
	})
	if err != nil {
		return ledger.PaymentIntent{}, err
	}
	s.logger.Info("payment order created", "order_id", orderID, "account_id", caller.ID, "amount", amount)
	return intent, nil
}

// Verify checks the provider signature and credits the intent's amount to
// the caller exactly once. A repeated verification returns the transaction
// recorded the first time.
func (s *Service) Verify(ctx context.Context, caller auth.Caller, orderID, paymentID, signature string) (Verification, error) {
	if orderID == "" || paymentID == "" || signature == "" {
		return Verification{}, apperr.New(apperr.InvalidArgument, "order id, payment id and signature are required")
	}
	if s.opts.SigningSecret == "" {
		return Verification{}, apperr.New(apperr.FailedPrecondition, "payment verification is not configured")
	}
	if !ValidSignature(s.opts.SigningSecret, orderID, paymentID, signature) {
		s.opts.Metrics.ObservePaymentVerification("bad_signature")
		s.logger.Warn("payment signature mismatch", "order_id", orderID, "account_id", caller.ID)
		return Verification{}, apperr.New(apperr.InvalidArgument, "invalid payment signature")
	}

	var out Verification
	err := s.ledger.Atomically(ctx, wallet.Op{Name: "verify_payment", EntityID: orderID, AccountID: caller.ID}, func(ctx context.Context, u *wallet.Unit) error {
		out = Verification{}
		intent, err := u.Records().PaymentIntent(ctx, orderID)
		if errors.Is(err, ledger.ErrNotFound) {
			return apperr.New(apperr.NotFound, "payment order not found")
		}
		if err != nil {
			return err
		}
		if intent.AccountID != caller.ID {
			return apperr.New(apperr.PermissionDenied, "payment order belongs to another account")
		}
		u.Describe(caller.ID, intent.Amount)

		if intent.Status == ledger.IntentCompleted {
			txn, err := u.Records().Transaction(ctx, intent.TransactionID)
			if err != nil {
				return err
			}
			acct, err := u.Account(ctx, caller.ID)
			if err != nil {
				return err
			}
			out = Verification{Transaction: txn, Currency: intent.Currency, NewBalance: acct.Balance, Duplicate: true}
			return nil
		}

		txn, err := u.Credit(ctx, wallet.Entry{
			AccountID:       caller.ID,
			Amount:          intent.Amount,
			Kind:            ledger.KindRecharge,
			RelatedEntityID: orderID,
			Description:     "wallet recharge via order " + orderID,
		})
		if err != nil {
			return err
		}
		now := u.Now()
		intent.Status = ledger.IntentCompleted
		intent.ExternalPaymentID = paymentID
		intent.TransactionID = txn.ID
		intent.CompletedAt = &now
		if err := u.Records().UpdatePaymentIntent(ctx, intent); err != nil {
			return err
		}
		out = Verification{Transaction: txn, Currency: intent.Currency, NewBalance: txn.BalanceAfter}
		return nil
	})
	if err != nil {
		return Verification{}, err
	}

	if out.Duplicate {
		s.opts.Metrics.ObservePaymentVerification("duplicate")
		return out, nil
	}
	s.opts.Metrics.ObservePaymentVerification("credited")
	s.logger.Info("payment verified",
		"order_id", orderID,
		"payment_id", paymentID,
		"account_id", caller.ID,
		"amount", out.Transaction.Amount,
		"transaction_id", out.Transaction.ID,
	)
	notification.Dispatch(ctx, s.opts.Notifier, s.logger, notification.Message{
		Kind:        notification.KindRechargeCompleted,
		Destination: caller.ID,
		Body:        fmt.Sprintf("Your wallet was recharged with %s", notification.FormatAmount(out.Transaction.Amount, out.Currency)),
	})
	return out, nil
}
