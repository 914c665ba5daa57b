package wallet

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
)

// Entry is one balance mutation.
type Entry struct {
	AccountID       string
	Amount          int64
	Kind            ledger.Kind
	RelatedEntityID string
	Description     string
}

// TransferInput moves Amount from From to To.
type TransferInput struct {
	From            string
	To              string
	Amount          int64
	Kind            ledger.Kind
	RelatedEntityID string
	Description     string
}

// Unit is the handle passed to Atomically. Balance mutations go through its
// methods; every other record is reached through Records.
type Unit struct {
	svc     *Service
	tx      ledger.Tx
	op      *Op
	written []ledger.Transaction
}

type recordsView struct {
	ledger.Records
}

// Records returns the non-balance records of the unit.
func (u *Unit) Records() ledger.Records {
	return recordsView{u.tx}
}

// Account reads an account inside the unit.
func (u *Unit) Account(ctx context.Context, id string) (ledger.Account, error) {
	return u.tx.Account(ctx, id)
}

// Describe records the account and amount the unit acts on once they are
// known, so a failing unit is logged with them.
func (u *Unit) Describe(accountID string, amount int64) {
	if u.op == nil {
		return
	}
	u.op.AccountID = accountID
	u.op.Amount = amount
}

// NewID returns a fresh identifier.
func (u *Unit) NewID() string { return u.svc.newID() }

// Now returns the unit's clock reading in UTC.
func (u *Unit) Now() time.Time { return u.svc.now() }

func (u *Unit) Credit(ctx context.Context, e Entry) (ledger.Transaction, error) {
	return u.apply(ctx, e, ledger.Credit)
}

func (u *Unit) Debit(ctx context.Context, e Entry) (ledger.Transaction, error) {
	return u.apply(ctx, e, ledger.Debit)
}

// Transfer debits in.From and credits in.To. Both accounts are read in id
// order before either is written.
func (u *Unit) Transfer(ctx context.Context, in TransferInput) (debit, credit ledger.Transaction, err error) {
	if in.From == in.To {
		return debit, credit, apperr.New(apperr.InvalidArgument, "cannot transfer to the same account")
	}
	ids := []string{in.From, in.To}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := u.tx.Account(ctx, id); err != nil {
			return debit, credit, err
		}
	}

	debit, err = u.apply(ctx, Entry{
		AccountID:       in.From,
		Amount:          in.Amount,
		Kind:            in.Kind,
		RelatedEntityID: in.RelatedEntityID,
		Description:     in.Description,
	}, ledger.Debit)
	if err != nil {
		return debit, credit, err
	}
	credit, err = u.apply(ctx, Entry{
		AccountID:       in.To,
		Amount:          in.Amount,
		Kind:            in.Kind,
		RelatedEntityID: in.RelatedEntityID,
		Description:     in.Description,
	}, ledger.Credit)
	return debit, credit, err
}

func (u *Unit) apply(ctx context.Context, e Entry, dir ledger.Direction) (ledger.Transaction, error) {
	if err := validateEntry(e); err != nil {
		return ledger.Transaction{}, err
	}

	acct, err := u.tx.Account(ctx, e.AccountID)
	if err != nil {
		return ledger.Transaction{}, err
	}

	after := acct.Balance
	switch dir {
	case ledger.Credit:
		if e.Amount > math.MaxInt64-acct.Balance {
			return ledger.Transaction{}, apperr.New(apperr.InvalidArgument, "amount overflows the balance")
		}
		after += e.Amount
	case ledger.Debit:
		if e.Amount > acct.Balance {
			return ledger.Transaction{}, fmt.Errorf("debit %d from %s: %w", e.Amount, e.AccountID, ledger.ErrInsufficientFunds)
		}
		after -= e.Amount
	}

	if err := u.tx.SetBalance(ctx, acct.ID, acct.Version, after); err != nil {
		return ledger.Transaction{}, err
	}

	txn := ledger.Transaction{
		ID:              u.svc.newID(),
		AccountID:       acct.ID,
		Amount:          e.Amount,
		Direction:       dir,
		Kind:            e.Kind,
		RelatedEntityID: e.RelatedEntityID,
		BalanceBefore:   acct.Balance,
		BalanceAfter:    after,
		Description:     e.Description,
		Status:          ledger.TxnStatusCompleted,
		CreatedAt:       u.svc.now(),
	}
	if err := u.tx.AppendTransaction(ctx, txn); err != nil {
		return ledger.Transaction{}, err
	}
	u.written = append(u.written, txn)
	return txn, nil
}

func validateEntry(e Entry) error {
	switch {
	case e.AccountID == "":
		return apperr.New(apperr.InvalidArgument, "account id is required")
	case e.Amount <= 0:
		return apperr.New(apperr.InvalidArgument, "amount must be positive")
	case !e.Kind.Valid():
		return apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown transaction kind %q", e.Kind))
	}
	return nil
}
