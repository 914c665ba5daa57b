package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientFunds occurs when an account lacks the available balance
	// to cover a requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound indicates the referenced balance holder does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNotFound is returned for any other missing record (call, billing
	// record, withdrawal, payment intent, transaction).
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when a create targets an existing key.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrConcurrentModification reports that an atomic unit observed state that
	// changed before it could commit. Callers retry the whole unit.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Store is the transactional handle the ledger services are constructed with.
type Store interface {
	// Atomic runs fn as one atomic unit. Either every write performed through
	// the Tx commits or none does.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	Account(ctx context.Context, id string) (Account, error)
	History(ctx context.Context, accountID string, q HistoryQuery) ([]Transaction, error)
	Withdrawals(ctx context.Context, f WithdrawalFilter) ([]WithdrawalRequest, error)
	Ping(ctx context.Context) error
}

// Records is the part of a unit that does not touch balances.
type Records interface {
	Transaction(ctx context.Context, id string) (Transaction, error)

	Call(ctx context.Context, id string) (Call, error)
	CreateCall(ctx context.Context, call Call) error

	BillingRecord(ctx context.Context, callID string) (CallBillingRecord, error)
	SaveBillingRecord(ctx context.Context, rec CallBillingRecord) error

	Withdrawal(ctx context.Context, id string) (WithdrawalRequest, error)
	CreateWithdrawal(ctx context.Context, w WithdrawalRequest) error
	UpdateWithdrawal(ctx context.Context, w WithdrawalRequest) error

	PaymentIntent(ctx context.Context, orderID string) (PaymentIntent, error)
	CreatePaymentIntent(ctx context.Context, p PaymentIntent) error
	UpdatePaymentIntent(ctx context.Context, p PaymentIntent) error
}

// Tx is the view of the store inside one atomic unit.
type Tx interface {
	Records

	Account(ctx context.Context, id string) (Account, error)
	CreateAccount(ctx context.Context, acct Account) error
	// SetBalance writes a new balance if the stored version still equals
	// expectedVersion, bumping the version by one.
	SetBalance(ctx context.Context, id string, expectedVersion, balance int64) error
	AppendTransaction(ctx context.Context, txn Transaction) error
}
