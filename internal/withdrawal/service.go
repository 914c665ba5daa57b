package withdrawal

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

const (
	defaultGatewayTimeout = 10 * time.Second
	defaultStoreTimeout   = 10 * time.Second
	defaultListLimit      = 50
	maxListLimit          = 200
)

// Options tunes the withdrawal workflow.
type Options struct {
	Currency       string
	GatewayTimeout time.Duration
	StoreTimeout   time.Duration
	Notifier       notification.Notifier
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Service runs the withdrawal state machine: pending, then approved or
// rejected. Approval debits the ledger before the payout is sent.
type Service struct {
	store   ledger.Store
	ledger  *wallet.Service
	gateway PayoutGateway
	opts    Options
	logger  *slog.Logger
}

// NewService constructs the workflow. A nil gateway uses StaticGateway.
func NewService(store ledger.Store, ledgerSvc *wallet.Service, gw PayoutGateway, opts Options) *Service {
	if gw == nil {
		gw = StaticGateway{}
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = defaultGatewayTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{store: store, ledger: ledgerSvc, gateway: gw, opts: opts, logger: logger}
}

// Request creates a pending withdrawal. The balance check is informational;
// approval enforces it again when the debit happens.
func (s *Service) Request(ctx context.Context, caller auth.Caller, amount int64, dest ledger.BankDetails) (ledger.WithdrawalRequest, error) {
	if !caller.Is(ledger.RoleLawyer) {
		return ledger.WithdrawalRequest{}, apperr.New(apperr.PermissionDenied, "only lawyers can request withdrawals")
	}
	if amount <= 0 {
		return ledger.WithdrawalRequest{}, apperr.New(apperr.InvalidArgument, "amount must be positive")
	}
	if err := validateDestination(dest); err != nil {
		return ledger.WithdrawalRequest{}, err
	}

	var w ledger.WithdrawalRequest
	err := s.ledger.Atomically(ctx, wallet.Op{Name: "request_withdrawal", AccountID: caller.ID, Amount: amount}, func(ctx context.Context, u *wallet.Unit) error {
		acct, err := u.Account(ctx, caller.ID)
		if err != nil {
			return err
		}
		if amount > acct.Balance {
			return apperr.New(apperr.FailedPrecondition, "amount exceeds the available balance")
		}
		w = ledger.WithdrawalRequest{
			ID:           u.NewID(),
			AccountID:    caller.ID,
			Amount:       amount,
			Destination:  dest,
			Status:       ledger.WithdrawalPending,
			PayoutStatus: ledger.PayoutNone,
			RequestedAt:  u.Now(),
		}
		return u.Records().CreateWithdrawal(ctx, w)
	})
	if err != nil {
		return ledger.WithdrawalRequest{}, err
	}

	s.opts.Metrics.ObserveWithdrawal("requested")
	s.logger.Info("withdrawal requested",
		"withdrawal_id", w.ID,
		"account_id", w.AccountID,
		"amount", w.Amount,
		"destination", dest.Masked(),
	)
	return w, nil
}

func validateDestination(d ledger.BankDetails) error {
	missing := make([]string, 0, 3)
	if strings.TrimSpace(d.AccountNumber) == "" {
		missing = append(missing, "account_number")
	}
	if strings.TrimSpace(d.IFSCCode) == "" {
		missing = append(missing, "ifsc_code")
	}
	if strings.TrimSpace(d.AccountHolderName) == "" {
		missing = append(missing, "account_holder_name")
	}
	if len(missing) > 0 {
		return apperr.New(apperr.InvalidArgument, "bank details are incomplete").WithDetails(map[string]any{"missing": missing})
	}
	return nil
}

func requireProcessor(admin auth.Caller) error {
	if !admin.Is(ledger.RoleSuperAdmin) {
		return apperr.New(apperr.PermissionDenied, "only super admins can process withdrawals")
	}
	return nil
}

// loadPending reads a withdrawal that must still be pending.
func loadPending(ctx context.Context, recs ledger.Records, id string) (ledger.WithdrawalRequest, error) {
	w, err := recs.Withdrawal(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return w, apperr.New(apperr.NotFound, "withdrawal not found")
	}
	if err != nil {
		return w, err
	}
	if w.Status != ledger.WithdrawalPending {
		return w, apperr.New(apperr.FailedPrecondition, fmt.Sprintf("withdrawal already %s", w.Status))
	}
	return w, nil
}

// Reject closes a pending withdrawal without touching the ledger.
func (s *Service) Reject(ctx context.Context, admin auth.Caller, id, notes string) (ledger.WithdrawalRequest, error) {
	if err := requireProcessor(admin); err != nil {
		return ledger.WithdrawalRequest{}, err
	}

	var w ledger.WithdrawalRequest
	err := s.ledger.Atomically(ctx, wallet.Op{Name: "reject_withdrawal", EntityID: id}, func(ctx context.Context, u *wallet.Unit) error {
		var err error
		w, err = loadPending(ctx, u.Records(), id)
		if err != nil {
			return err
		}
		u.Describe(w.AccountID, w.Amount)
		now := u.Now()
		w.Status = ledger.WithdrawalRejected
		w.Notes = notes
		w.ProcessedBy = admin.ID
		w.ProcessedAt = &now
		return u.Records().UpdateWithdrawal(ctx, w)
	})
	if err != nil {
		return ledger.WithdrawalRequest{}, err
	}

	s.opts.Metrics.ObserveWithdrawal("rejected")
	notification.Dispatch(ctx, s.opts.Notifier, s.logger, notification.Message{
		Kind:        notification.KindWithdrawalRejected,
		Destination: w.AccountID,
		Body:        fmt.Sprintf("Your withdrawal of %s was rejected", notification.FormatAmount(w.Amount, s.opts.Currency)),
	})
	return w, nil
}

// Approve debits the withdrawal amount and sends the payout. If the provider
// cannot be reached or reports the payout as failed after the debit
// committed, the withdrawal stays approved with payout status
// reconciliation_required and an external-gateway error is returned. A payout
// the provider has only queued stays pending until RefreshPayout sees it
// processed.
func (s *Service) Approve(ctx context.Context, admin auth.Caller, id, notes string) (ledger.WithdrawalRequest, error) {
	if err := requireProcessor(admin); err != nil {
		return ledger.WithdrawalRequest{}, err
	}

	var w ledger.WithdrawalRequest
	err := s.ledger.Atomically(ctx, wallet.Op{Name: "approve_withdrawal", EntityID: id}, func(ctx context.Context, u *wallet.Unit) error {
		var err error
		w, err = loadPending(ctx, u.Records(), id)
		if err != nil {
			return err
		}
		u.Describe(w.AccountID, w.Amount)
		debit, err := u.Debit(ctx, wallet.Entry{
			AccountID:       w.AccountID,
			Amount:          w.Amount,
			Kind:            ledger.KindWithdrawal,
			RelatedEntityID: w.ID,
			Description:     "withdrawal to " + w.Destination.Masked(),
		})
		if err != nil {
			return err
		}
		now := u.Now()
		w.Status = ledger.WithdrawalApproved
		w.PayoutStatus = ledger.PayoutPending
		w.SettlementTransactionID = debit.ID
		w.Notes = notes
		w.ProcessedBy = admin.ID
		w.ProcessedAt = &now
		return u.Records().UpdateWithdrawal(ctx, w)
	})
	if err != nil {
		return ledger.WithdrawalRequest{}, err
	}
	s.opts.Metrics.ObserveWithdrawal("approved")

	// The debit is committed; the payout and its bookkeeping outlive the caller.
	return s.sendPayout(context.WithoutCancel(ctx), "approve_withdrawal", w)
}

// RetryPayout re-sends the payout of an approved withdrawal whose payout was
// not confirmed. The provider deduplicates on the settlement transaction id.
func (s *Service) RetryPayout(ctx context.Context, admin auth.Caller, id string) (ledger.WithdrawalRequest, error) {
	if err := requireProcessor(admin); err != nil {
		return ledger.WithdrawalRequest{}, err
	}

	var w ledger.WithdrawalRequest
	err := s.ledger.Atomically(ctx, wallet.Op{Name: "retry_payout", EntityID: id}, func(ctx context.Context, u *wallet.Unit) error {
		var err error
		w, err = loadUnconfirmed(ctx, u, id)
		return err
	})
	if err != nil {
		return ledger.WithdrawalRequest{}, err
	}

	s.logger.Info("retrying payout", "withdrawal_id", w.ID, "account_id", w.AccountID, "operator", admin.ID)
	return s.sendPayout(context.WithoutCancel(ctx), "retry_payout", w)
}

// RefreshPayout asks the provider for the current state of a payout and
// stores it. Admins may refresh any withdrawal, lawyers only their own. A
// payout the provider reports as failed moves to reconciliation_required; the
// call itself only fails when the provider cannot be reached.
func (s *Service) RefreshPayout(ctx context.Context, caller auth.Caller, id string) (ledger.WithdrawalRequest, error) {
	var w ledger.WithdrawalRequest
	err := s.ledger.Atomically(ctx, wallet.Op{Name: "refresh_payout", EntityID: id}, func(ctx context.Context, u *wallet.Unit) error {
		var err error
		w, err = u.Records().Withdrawal(ctx, id)
		if errors.Is(err, ledger.ErrNotFound) {
			return apperr.New(apperr.NotFound, "withdrawal not found")
		}
		if err != nil {
			return err
		}
		u.Describe(w.AccountID, w.Amount)
		if !caller.Is(ledger.RoleAdmin, ledger.RoleSuperAdmin) && caller.ID != w.AccountID {
			return apperr.New(apperr.PermissionDenied, "not allowed to view this payout")
		}
		if w.Status != ledger.WithdrawalApproved {
			return apperr.New(apperr.FailedPrecondition, "only approved withdrawals have a payout")
		}
		return nil
	})
	if err != nil {
		return ledger.WithdrawalRequest{}, err
	}
	if w.PayoutStatus == ledger.PayoutConfirmed {
		return w, nil
	}
	if w.PayoutReference == "" {
		return w, apperr.New(apperr.FailedPrecondition, "the payout has no provider reference, retry it instead").
			WithDetails(map[string]any{"withdrawal_id": w.ID, "payout_status": w.PayoutStatus})
	}

	ctx = context.WithoutCancel(ctx)
	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	res, err := s.gateway.Status(gctx, w.PayoutReference)
	cancel()
	if err != nil {
		s.logger.Warn("payout status lookup failed",
			"withdrawal_id", w.ID,
			"payout_reference", w.PayoutReference,
			"error", err,
		)
		return w, apperr.Wrap(apperr.ExternalGateway, "payout provider unavailable", err)
	}

	state, cause := payoutState(res)
	stored, previous, err := s.storePayoutState(ctx, w, state, res.Reference)
	if err != nil {
		return w, err
	}
	if stored.PayoutStatus != previous {
		s.announce(ctx, "refresh_payout", stored, previous, cause)
	}
	return stored, nil
}

// loadUnconfirmed reads an approved withdrawal whose payout is not confirmed.
func loadUnconfirmed(ctx context.Context, u *wallet.Unit, id string) (ledger.WithdrawalRequest, error) {
	w, err := u.Records().Withdrawal(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return w, apperr.New(apperr.NotFound, "withdrawal not found")
	}
	if err != nil {
		return w, err
	}
	u.Describe(w.AccountID, w.Amount)
	if w.Status != ledger.WithdrawalApproved {
		return w, apperr.New(apperr.FailedPrecondition, "only approved withdrawals have a payout")
	}
	if w.PayoutStatus == ledger.PayoutConfirmed {
		return w, apperr.New(apperr.FailedPrecondition, "payout already confirmed")
	}
	return w, nil
}

// ErrPayoutFailed reports a payout the provider accepted and then refused.
var ErrPayoutFailed = errors.New("payout failed at provider")

// payoutState maps the provider's payout status onto the withdrawal's payout
// status. A non-nil error explains a payout that needs reconciliation.
func payoutState(res PayoutResult) (string, error) {
	switch strings.ToLower(strings.TrimSpace(res.Status)) {
	case "processed":
		return ledger.PayoutConfirmed, nil
	case "queued", "pending", "processing":
		return ledger.PayoutPending, nil
	case "rejected", "failed", "reversed", "cancelled":
		return ledger.PayoutReconciliationRequired, fmt.Errorf("%w: %s is %s", ErrPayoutFailed, res.Reference, res.Status)
	}
	return ledger.PayoutReconciliationRequired, fmt.Errorf("%w: %s has unknown status %q", ErrPayoutFailed, res.Reference, res.Status)
}

func (s *Service) sendPayout(ctx context.Context, operation string, w ledger.WithdrawalRequest) (ledger.WithdrawalRequest, error) {
	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	res, payoutErr := s.gateway.Payout(gctx, PayoutRequest{
		IdempotencyKey: w.SettlementTransactionID,
		WithdrawalID:   w.ID,
		AccountID:      w.AccountID,
		Amount:         w.Amount,
		Currency:       s.opts.Currency,
		Destination:    w.Destination,
	})
	cancel()

	state := ledger.PayoutReconciliationRequired
	if payoutErr == nil {
		state, payoutErr = payoutState(res)
	}

	stored, previous, err := s.storePayoutState(ctx, w, state, res.Reference)
	if err != nil {
		s.logger.Error("payout outcome not recorded",
			"operation", operation,
			"withdrawal_id", w.ID,
			"account_id", w.AccountID,
			"amount", w.Amount,
			"payout_status", state,
			"payout_reference", res.Reference,
			"error", err,
		)
		return stored, err
	}
	s.announce(ctx, operation, stored, previous, payoutErr)

	if stored.PayoutStatus == ledger.PayoutReconciliationRequired {
		return stored, apperr.Wrap(apperr.ExternalGateway, "payout gateway failed; the withdrawal needs reconciliation", payoutErr).
			WithDetails(map[string]any{
				"withdrawal_id":   stored.ID,
				"payout_status":   stored.PayoutStatus,
				"provider_status": res.Status,
			})
	}
	return stored, nil
}

// storePayoutState writes state and a known reference onto the withdrawal. A
// confirmed payout is never downgraded. It returns the stored record and the
// payout status it held before.
func (s *Service) storePayoutState(ctx context.Context, w ledger.WithdrawalRequest, state, reference string) (ledger.WithdrawalRequest, string, error) {
	previous := w.PayoutStatus
	err := s.ledger.Atomically(ctx, wallet.Op{Name: "record_payout", EntityID: w.ID, AccountID: w.AccountID, Amount: w.Amount}, func(ctx context.Context, u *wallet.Unit) error {
		current, err := u.Records().Withdrawal(ctx, w.ID)
		if err != nil {
			return err
		}
		previous = current.PayoutStatus
		w = current
		if current.PayoutStatus == ledger.PayoutConfirmed {
			return nil
		}
		w.PayoutStatus = state
		if reference != "" {
			w.PayoutReference = reference
		}
		return u.Records().UpdateWithdrawal(ctx, w)
	})
	return w, previous, err
}

// announce reports the payout status w now holds.
func (s *Service) announce(ctx context.Context, operation string, w ledger.WithdrawalRequest, previous string, cause error) {
	switch w.PayoutStatus {
	case ledger.PayoutConfirmed:
		if previous == ledger.PayoutConfirmed {
			return
		}
		s.opts.Metrics.ObserveWithdrawal("paid_out")
		s.logger.Info("payout confirmed", "operation", operation, "withdrawal_id", w.ID, "payout_reference", w.PayoutReference)
		notification.Dispatch(ctx, s.opts.Notifier, s.logger, notification.Message{
			Kind:        notification.KindWithdrawalApproved,
			Destination: w.AccountID,
			Body:        fmt.Sprintf("Your withdrawal of %s is on its way", notification.FormatAmount(w.Amount, s.opts.Currency)),
		})
	case ledger.PayoutPending:
		s.logger.Info("payout accepted, awaiting provider",
			"operation", operation,
			"withdrawal_id", w.ID,
			"payout_reference", w.PayoutReference,
		)
	case ledger.PayoutReconciliationRequired:
		s.opts.Metrics.ObserveReconciliationRequired()
		s.logger.Error("payout failed after debit, reconciliation required",
			"operation", operation,
			"withdrawal_id", w.ID,
			"account_id", w.AccountID,
			"amount", w.Amount,
			"settlement_transaction_id", w.SettlementTransactionID,
			"payout_reference", w.PayoutReference,
			"error", cause,
		)
		if previous == ledger.PayoutReconciliationRequired {
			return
		}
		notification.Dispatch(ctx, s.opts.Notifier, s.logger, notification.Message{
			Kind:        notification.KindPayoutFailed,
			Destination: w.AccountID,
			Body:        "Your withdrawal was approved but the bank transfer is delayed",
		})
	}
}

// DestinationCheck is the outcome of validating a destination account. The
// account number is masked.
type DestinationCheck struct {
	Reference      string `json:"validation_id"`
	Status         string `json:"status"`
	AccountStatus  string `json:"account_status"`
	Valid          bool   `json:"valid"`
	RegisteredName string `json:"registered_name,omitempty"`
	AccountNumber  string `json:"account_number"`
	IFSCCode       string `json:"ifsc_code"`
}

// ValidateDestination checks a bank account with the payout provider before
// a withdrawal is filed against it.
func (s *Service) ValidateDestination(ctx context.Context, caller auth.Caller, dest ledger.BankDetails) (DestinationCheck, error) {
	if !caller.Is(ledger.RoleLawyer, ledger.RoleAdmin, ledger.RoleSuperAdmin) {
		return DestinationCheck{}, apperr.New(apperr.PermissionDenied, "only lawyers and admins can validate accounts")
	}
	if err := validateDestination(dest); err != nil {
		return DestinationCheck{}, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	v, err := s.gateway.ValidateAccount(gctx, dest)
	cancel()
	if err != nil {
		s.logger.Warn("account validation failed", "account_id", caller.ID, "destination", dest.Masked(), "error", err)
		return DestinationCheck{}, apperr.Wrap(apperr.ExternalGateway, "payout provider unavailable", err)
	}

	check := DestinationCheck{
		Reference:      v.Reference,
		Status:         v.Status,
		AccountStatus:  v.AccountStatus,
		Valid:          v.Active(),
		RegisteredName: v.RegisteredName,
		AccountNumber:  dest.Masked(),
		IFSCCode:       dest.IFSCCode,
	}
	s.logger.Info("destination validated",
		"account_id", caller.ID,
		"destination", check.AccountNumber,
		"account_status", check.AccountStatus,
	)
	return check, nil
}

// Pending lists withdrawals awaiting a decision, newest first.
func (s *Service) Pending(ctx context.Context, admin auth.Caller, limit int) ([]ledger.WithdrawalRequest, error) {
	if !admin.Is(ledger.RoleAdmin, ledger.RoleSuperAdmin) {
		return nil, apperr.New(apperr.PermissionDenied, "only admins can list pending withdrawals")
	}
	return s.list(ctx, ledger.WithdrawalFilter{Status: ledger.WithdrawalPending, Limit: clampLimit(limit)})
}

// History lists the caller's own withdrawals, newest first.
func (s *Service) History(ctx context.Context, caller auth.Caller, limit int) ([]ledger.WithdrawalRequest, error) {
	return s.list(ctx, ledger.WithdrawalFilter{AccountID: caller.ID, Limit: clampLimit(limit)})
}

func (s *Service) list(ctx context.Context, f ledger.WithdrawalFilter) ([]ledger.WithdrawalRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	out, err := s.store.Withdrawals(ctx, f)
	if err != nil {
		s.logger.Error("list withdrawals", "account_id", f.AccountID, "status", f.Status, "error", err)
		return nil, apperr.Wrap(apperr.Internal, "list withdrawals", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}
