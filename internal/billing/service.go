package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
	"github.com/lexconsult/lexconsult_wallet/internal/logging"
	"github.com/lexconsult/lexconsult_wallet/internal/metrics"
	"github.com/lexconsult/lexconsult_wallet/internal/notification"
	"github.com/lexconsult/lexconsult_wallet/internal/wallet"
)

const (
	// MaxCallDuration bounds a single settlement to one week of talk time.
	MaxCallDuration = 7 * 24 * 60 * 60
	// MaxRatePerMinute bounds the registered rate.
	MaxRatePerMinute = 100_000_000
)

var callTypes = map[string]bool{"audio": true, "video": true, "chat": true}

// Service meters calls and settles them as transfers from payer to payee.
type Service struct {
	ledger   *wallet.Service
	notifier notification.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	currency string
}

// NewService constructs a billing service.
func NewService(ledger *wallet.Service, notifier notification.Notifier, logger *slog.Logger, m *metrics.Metrics, currency string) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{ledger: ledger, notifier: notifier, logger: logger, metrics: m, currency: currency}
}

// RegisterCall records the billing terms of a call. Registering the same call
// twice is a no-op, also when both registrations race to create it;
// registering different terms under an existing id fails.
func (s *Service) RegisterCall(ctx context.Context, call ledger.Call) (ledger.Call, error) {
	switch {
	case call.ID == "" || call.PayerID == "" || call.PayeeID == "":
		return ledger.Call{}, apperr.New(apperr.InvalidArgument, "call id, payer and payee are required")
	case call.PayerID == call.PayeeID:
		return ledger.Call{}, apperr.New(apperr.InvalidArgument, "payer and payee must differ")
	case !callTypes[call.CallType]:
		return ledger.Call{}, apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown call type %q", call.CallType))
	case call.RatePerMinute < 0 || call.RatePerMinute > MaxRatePerMinute:
		return ledger.Call{}, apperr.New(apperr.InvalidArgument, "rate per minute is out of range")
	}

	var stored ledger.Call
	err := s.ledger.AtomicallyCreate(ctx, wallet.Op{Name: "register_call", EntityID: call.ID, AccountID: call.PayerID}, func(ctx context.Context, u *wallet.Unit) error {
		recs := u.Records()
		existing, err := recs.Call(ctx, call.ID)
		if err == nil {
			if !sameTerms(existing, call) {
				return apperr.New(apperr.FailedPrecondition, "call already registered with different terms")
			}
			stored = existing
			return nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		for _, id := range []string{call.PayerID, call.PayeeID} {
			if _, err := u.Account(ctx, id); err != nil {
				return err
			}
		}
		stored = call
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = u.Now()
		}
		return recs.CreateCall(ctx, stored)
	})
	return stored, err
}

func sameTerms(a, b ledger.Call) bool {
	return a.PayerID == b.PayerID && a.PayeeID == b.PayeeID && a.CallType == b.CallType && a.RatePerMinute == b.RatePerMinute
}

// Settlement is the outcome of settling a call.
type Settlement struct {
	Record     ledger.CallBillingRecord `json:"record"`
	Cost       int64                    `json:"cost"`
	NewBalance int64                    `json:"new_balance"`
	Duplicate  bool                     `json:"duplicate"`
}

// Settle charges the payer for a finished call. A call is settled at most
// once: later attempts return the recorded outcome. When the payer cannot
// cover the cost the record is closed as insufficient_funds and the returned
// error is failed-precondition.
func (s *Service) Settle(ctx context.Context, callerID, callID string, durationSeconds int64) (Settlement, error) {
	if durationSeconds < 0 || durationSeconds > MaxCallDuration {
		return Settlement{}, apperr.New(apperr.InvalidArgument, "duration is out of range")
	}

	var out Settlement
	err := s.ledger.Atomically(ctx, wallet.Op{Name: "settle_call", EntityID: callID, AccountID: callerID}, func(ctx context.Context, u *wallet.Unit) error {
		out = Settlement{}
		recs := u.Records()

		call, err := recs.Call(ctx, callID)
		if errors.Is(err, ledger.ErrNotFound) {
			return apperr.New(apperr.NotFound, "call not found")
		}
		if err != nil {
			return err
		}
		if call.PayerID != callerID {
			return apperr.New(apperr.PermissionDenied, "only the paying party can settle this call")
		}

		rec, err := recs.BillingRecord(ctx, callID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			rec = ledger.CallBillingRecord{
				CallID:           call.ID,
				PayerID:          call.PayerID,
				PayeeID:          call.PayeeID,
				RatePerMinute:    call.RatePerMinute,
				SettlementStatus: ledger.SettlementUnsettled,
				CreatedAt:        call.CreatedAt,
			}
		case err != nil:
			return err
		case rec.Terminal():
			out.Duplicate = true
			out.Record = rec
			out.Cost = rec.ComputedCost
			return s.readBalance(ctx, u, call.PayerID, &out)
		}

		cost := ComputeCost(call.RatePerMinute, durationSeconds)
		u.Describe(call.PayerID, cost)
		rec.DurationSeconds = durationSeconds
		rec.ComputedCost = cost
		rec.SettlementStatus = ledger.SettlementSettled

		if cost > 0 {
			debit, credit, err := u.Transfer(ctx, wallet.TransferInput{
				From:            call.PayerID,
				To:              call.PayeeID,
				Amount:          cost,
				Kind:            ledger.KindCallCharge,
				RelatedEntityID: call.ID,
				Description:     fmt.Sprintf("%s call, %ds", call.CallType, durationSeconds),
			})
			switch {
			case errors.Is(err, ledger.ErrInsufficientFunds):
				rec.SettlementStatus = ledger.SettlementInsufficientFunds
			case err != nil:
				return err
			default:
				rec.DebitTransactionID = debit.ID
				rec.CreditTransactionID = credit.ID
			}
		}

		settledAt := u.Now()
		rec.SettledAt = &settledAt
		if err := recs.SaveBillingRecord(ctx, rec); err != nil {
			return err
		}
		out.Record = rec
		out.Cost = cost
		return s.readBalance(ctx, u, call.PayerID, &out)
	})
	if err != nil {
		return Settlement{}, err
	}

	outcome := out.Record.SettlementStatus
	if out.Duplicate {
		outcome = "duplicate"
	}
	s.metrics.ObserveSettlement(outcome)

	if out.Record.SettlementStatus == ledger.SettlementInsufficientFunds {
		s.logger.Warn("call settlement short of funds",
			"call_id", callID,
			"account_id", out.Record.PayerID,
			"amount", out.Cost,
		)
		return out, apperr.New(apperr.FailedPrecondition, "insufficient funds to settle the call").WithDetails(map[string]any{
			"call_id":           callID,
			"settlement_status": out.Record.SettlementStatus,
			"cost":              out.Cost,
		})
	}

	if !out.Duplicate && out.Cost > 0 {
		notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
			Kind:        notification.KindCallSettled,
			Destination: out.Record.PayeeID,
			Body:        fmt.Sprintf("You earned %s for call %s", notification.FormatAmount(out.Cost, s.currency), callID),
		})
	}
	return out, nil
}

func (s *Service) readBalance(ctx context.Context, u *wallet.Unit, accountID string, out *Settlement) error {
	acct, err := u.Account(ctx, accountID)
	if err != nil {
		return err
	}
	out.NewBalance = acct.Balance
	return nil
}

// Record returns the billing record of a call to either party.
func (s *Service) Record(ctx context.Context, callerID, callID string) (ledger.CallBillingRecord, error) {
	var rec ledger.CallBillingRecord
	err := s.ledger.Atomically(ctx, wallet.Op{Name: "billing_record", EntityID: callID, AccountID: callerID}, func(ctx context.Context, u *wallet.Unit) error {
		recs := u.Records()
		call, err := recs.Call(ctx, callID)
		if errors.Is(err, ledger.ErrNotFound) {
			return apperr.New(apperr.NotFound, "call not found")
		}
		if err != nil {
			return err
		}
		if callerID != call.PayerID && callerID != call.PayeeID {
			return apperr.New(apperr.PermissionDenied, "not a party to this call")
		}
		rec, err = recs.BillingRecord(ctx, callID)
		if errors.Is(err, ledger.ErrNotFound) {
			rec = ledger.CallBillingRecord{
				CallID:           call.ID,
				PayerID:          call.PayerID,
				PayeeID:          call.PayeeID,
				RatePerMinute:    call.RatePerMinute,
				SettlementStatus: ledger.SettlementUnsettled,
				CreatedAt:        call.CreatedAt,
			}
			return nil
		}
		return err
	})
	return rec, err
}
