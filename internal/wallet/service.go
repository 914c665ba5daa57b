package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
	"github.com/lexconsult/lexconsult_wallet/internal/logging"
	"github.com/lexconsult/lexconsult_wallet/internal/metrics"
)

const (
	defaultMaxAttempts     = 5
	defaultStoreTimeout    = 10 * time.Second
	defaultHistoryMaxLimit = 200
	baseBackoff            = 5 * time.Millisecond
	maxBackoff             = 200 * time.Millisecond
)

// Options tunes the account ledger.
type Options struct {
	MaxAttempts     int
	StoreTimeout    time.Duration
	HistoryMaxLimit int
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Service owns account balances. It is the only component that writes them.
type Service struct {
	store   ledger.Store
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

// NewService builds an account ledger over store.
func NewService(store ledger.Store, opts Options) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.HistoryMaxLimit <= 0 {
		opts.HistoryMaxLimit = defaultHistoryMaxLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		store:   store,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Op describes an atomic unit for logging. EntityID names the workflow record
// the unit acts on, such as a withdrawal or a call.
type Op struct {
	Name      string
	EntityID  string
	AccountID string
	Amount    int64
}

func (o Op) attrs() []any {
	attrs := []any{slog.String("operation", o.Name)}
	if o.EntityID != "" {
		attrs = append(attrs, slog.String("entity_id", o.EntityID))
	}
	if o.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", o.AccountID))
	}
	if o.Amount != 0 {
		attrs = append(attrs, slog.Int64("amount", o.Amount))
	}
	return attrs
}

// Atomically runs fn as one atomic unit. A unit that loses an optimistic race
// is rerun from scratch, so fn must not have effects outside the unit.
func (s *Service) Atomically(ctx context.Context, op Op, fn func(ctx context.Context, u *Unit) error) error {
	var err error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		var u *Unit
		err = s.withTimeout(ctx, func(ctx context.Context) error {
			return s.store.Atomic(ctx, func(tx ledger.Tx) error {
				u = &Unit{svc: s, tx: tx, op: &op}
				return fn(ctx, u)
			})
		})
		if err == nil {
			for _, txn := range u.written {
				s.metrics.ObserveMutation(string(txn.Kind), string(txn.Direction))
			}
			return nil
		}
		if !errors.Is(err, ledger.ErrConcurrentModification) {
			return s.translate(op, err)
		}

		exhausted := attempt == s.opts.MaxAttempts
		s.metrics.ObserveConflict(op.Name, exhausted)
		if exhausted {
			break
		}
		if werr := sleep(ctx, backoff(attempt)); werr != nil {
			return s.translate(op, werr)
		}
	}

	s.logger.Warn("ledger unit retries exhausted", append(op.attrs(), slog.Int("attempts", s.opts.MaxAttempts))...)
	return apperr.Wrap(apperr.Conflict, "the account is busy, retry the operation", err)
}

// AtomicallyCreate runs fn like Atomically for a unit that creates a record
// when it is absent. If a concurrent creator commits the record first, fn is
// run once more so it reads the winner's row.
func (s *Service) AtomicallyCreate(ctx context.Context, op Op, fn func(ctx context.Context, u *Unit) error) error {
	err := s.Atomically(ctx, op, fn)
	if errors.Is(err, ledger.ErrAlreadyExists) {
		s.logger.Debug("lost create race, reading the committed record", op.attrs()...)
		err = s.Atomically(ctx, op, fn)
	}
	return err
}

func (s *Service) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	return fn(ctx)
}

// translate maps store failures onto client error kinds. Anything unexpected
// is logged and surfaced as internal.
func (s *Service) translate(op Op, err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		if appErr.Kind == apperr.Internal {
			s.logger.Error("ledger operation failed", append(op.attrs(), slog.Any("error", err))...)
		}
		return err
	case errors.Is(err, ledger.ErrAccountNotFound):
		return apperr.Wrap(apperr.NotFound, "account not found", err)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return apperr.Wrap(apperr.FailedPrecondition, "insufficient funds", err)
	case errors.Is(err, ledger.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, "record not found", err)
	case errors.Is(err, ledger.ErrAlreadyExists):
		return apperr.Wrap(apperr.FailedPrecondition, "record already exists", err)
	}
	s.logger.Error("ledger operation failed", append(op.attrs(), slog.Any("error", err))...)
	return apperr.Wrap(apperr.Internal, "ledger operation failed", err)
}

func backoff(attempt int) time.Duration {
	d := maxBackoff
	if attempt < 6 {
		d = min(baseBackoff<<(attempt-1), maxBackoff)
	}
	return d/2 + rand.N(d/2+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Open provisions a zero-balance account. Opening an existing account with the
// same role returns it unchanged, including when a concurrent Open created it.
func (s *Service) Open(ctx context.Context, accountID string, role ledger.Role) (ledger.Account, error) {
	if accountID == "" {
		return ledger.Account{}, apperr.New(apperr.InvalidArgument, "account id is required")
	}
	if !role.Valid() {
		return ledger.Account{}, apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown role %q", role))
	}

	var acct ledger.Account
	err := s.AtomicallyCreate(ctx, Op{Name: "open_account", AccountID: accountID}, func(ctx context.Context, u *Unit) error {
		existing, err := u.tx.Account(ctx, accountID)
		if err == nil {
			if existing.Role != role {
				return apperr.New(apperr.FailedPrecondition, "account exists with a different role")
			}
			acct = existing
			return nil
		}
		if !errors.Is(err, ledger.ErrAccountNotFound) {
			return err
		}
		now := s.now()
		acct = ledger.Account{ID: accountID, Role: role, CreatedAt: now, UpdatedAt: now}
		return u.tx.CreateAccount(ctx, acct)
	})
	return acct, err
}

// Credit adds e.Amount to the account.
func (s *Service) Credit(ctx context.Context, e Entry) (ledger.Transaction, error) {
	var txn ledger.Transaction
	err := s.Atomically(ctx, Op{Name: "credit", AccountID: e.AccountID, Amount: e.Amount}, func(ctx context.Context, u *Unit) error {
		var err error
		txn, err = u.Credit(ctx, e)
		return err
	})
	return txn, err
}

// Debit removes e.Amount from the account. It fails with failed-precondition
// when the amount exceeds the balance.
func (s *Service) Debit(ctx context.Context, e Entry) (ledger.Transaction, error) {
	var txn ledger.Transaction
	err := s.Atomically(ctx, Op{Name: "debit", AccountID: e.AccountID, Amount: e.Amount}, func(ctx context.Context, u *Unit) error {
		var err error
		txn, err = u.Debit(ctx, e)
		return err
	})
	return txn, err
}

// Transfer moves money between two accounts in one unit.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (debit, credit ledger.Transaction, err error) {
	err = s.Atomically(ctx, Op{Name: "transfer", AccountID: in.From, Amount: in.Amount}, func(ctx context.Context, u *Unit) error {
		var err error
		debit, credit, err = u.Transfer(ctx, in)
		return err
	})
	return debit, credit, err
}

// Balance returns the account's current state.
func (s *Service) Balance(ctx context.Context, accountID string) (ledger.Account, error) {
	var acct ledger.Account
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		acct, err = s.store.Account(ctx, accountID)
		return err
	})
	if err != nil {
		return ledger.Account{}, s.translate(Op{Name: "balance", AccountID: accountID}, err)
	}
	return acct, nil
}
