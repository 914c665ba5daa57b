package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

// PostgresStore persists accounts, the transaction log and workflow records in
// PostgreSQL. Every row a unit mutates is locked with SELECT ... FOR UPDATE and
// balance writes are additionally guarded by the account version.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

// Atomic runs fn inside a database transaction.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *PostgresStore) Account(ctx context.Context, id string) (Account, error) {
	return scanAccount(s.db.QueryRow(ctx, `SELECT id, role, balance, version, created_at, updated_at
        FROM accounts WHERE id = $1`, id))
}

func (s *PostgresStore) History(ctx context.Context, accountID string, q HistoryQuery) ([]Transaction, error) {
	column := "created_at"
	if q.OrderBy == OrderByAmount {
		column = "amount"
	}
	dir := "DESC"
	if q.Ascending {
		dir = "ASC"
	}
	query := fmt.Sprintf(`SELECT id, account_id, amount, direction, kind, related_entity_id,
            balance_before, balance_after, description, status, created_at
        FROM transactions WHERE account_id = $1
        ORDER BY %s %s, seq %s`, column, dir, dir)
	args := []any{accountID}
	if q.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Withdrawals(ctx context.Context, f WithdrawalFilter) ([]WithdrawalRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.AccountID != "" {
		args = append(args, f.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := withdrawalColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY requested_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]WithdrawalRequest, 0)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Account(ctx context.Context, id string) (Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, `SELECT id, role, balance, version, created_at, updated_at
        FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

func (t *postgresTx) CreateAccount(ctx context.Context, acct Account) error {
	cmd, err := t.tx.Exec(ctx, `INSERT INTO accounts (id, role, balance, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		acct.ID, string(acct.Role), acct.Balance, acct.Version, acct.CreatedAt.UTC(), acct.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (t *postgresTx) SetBalance(ctx context.Context, id string, expectedVersion, balance int64) error {
	if balance < 0 {
		return ErrInsufficientFunds
	}
	cmd, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $1, version = version + 1, updated_at = $2
        WHERE id = $3 AND version = $4`, balance, time.Now().UTC(), id, expectedVersion)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrConcurrentModification
	}
	return nil
}

func (t *postgresTx) AppendTransaction(ctx context.Context, txn Transaction) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO transactions (id, account_id, amount, direction, kind, related_entity_id,
            balance_before, balance_after, description, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		txn.ID, txn.AccountID, txn.Amount, string(txn.Direction), string(txn.Kind), txn.RelatedEntityID,
		txn.BalanceBefore, txn.BalanceAfter, txn.Description, txn.Status, txn.CreatedAt.UTC())
	return err
}

func (t *postgresTx) Transaction(ctx context.Context, id string) (Transaction, error) {
	row := t.tx.QueryRow(ctx, `SELECT id, account_id, amount, direction, kind, related_entity_id,
            balance_before, balance_after, description, status, created_at
        FROM transactions WHERE id = $1`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	return txn, err
}

func (t *postgresTx) Call(ctx context.Context, id string) (Call, error) {
	var c Call
	err := t.tx.QueryRow(ctx, `SELECT id, payer_id, payee_id, call_type, rate_per_minute, created_at
        FROM calls WHERE id = $1 FOR UPDATE`, id).
		Scan(&c.ID, &c.PayerID, &c.PayeeID, &c.CallType, &c.RatePerMinute, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, err
}

func (t *postgresTx) CreateCall(ctx context.Context, c Call) error {
	cmd, err := t.tx.Exec(ctx, `INSERT INTO calls (id, payer_id, payee_id, call_type, rate_per_minute, created_at)
        VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		c.ID, c.PayerID, c.PayeeID, c.CallType, c.RatePerMinute, c.CreatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (t *postgresTx) BillingRecord(ctx context.Context, callID string) (CallBillingRecord, error) {
	var r CallBillingRecord
	err := t.tx.QueryRow(ctx, `SELECT call_id, payer_id, payee_id, rate_per_minute, duration_seconds, computed_cost,
            settlement_status, debit_transaction_id, credit_transaction_id, created_at, settled_at
        FROM call_billing_records WHERE call_id = $1 FOR UPDATE`, callID).
		Scan(&r.CallID, &r.PayerID, &r.PayeeID, &r.RatePerMinute, &r.DurationSeconds, &r.ComputedCost,
			&r.SettlementStatus, &r.DebitTransactionID, &r.CreditTransactionID, &r.CreatedAt, &r.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallBillingRecord{}, ErrNotFound
	}
	return r, err
}

func (t *postgresTx) SaveBillingRecord(ctx context.Context, r CallBillingRecord) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO call_billing_records (call_id, payer_id, payee_id, rate_per_minute,
            duration_seconds, computed_cost, settlement_status, debit_transaction_id, credit_transaction_id,
            created_at, settled_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (call_id) DO UPDATE SET
            duration_seconds = EXCLUDED.duration_seconds,
            computed_cost = EXCLUDED.computed_cost,
            settlement_status = EXCLUDED.settlement_status,
            debit_transaction_id = EXCLUDED.debit_transaction_id,
            credit_transaction_id = EXCLUDED.credit_transaction_id,
            settled_at = EXCLUDED.settled_at`,
		r.CallID, r.PayerID, r.PayeeID, r.RatePerMinute, r.DurationSeconds, r.ComputedCost,
		r.SettlementStatus, r.DebitTransactionID, r.CreditTransactionID, r.CreatedAt.UTC(), r.SettledAt)
	return err
}

const withdrawalColumns = `SELECT id, account_id, amount, bank_account_number, bank_ifsc_code, bank_account_holder,
        bank_name, status, payout_status, payout_reference, notes, processed_by, settlement_transaction_id,
        requested_at, processed_at
    FROM withdrawals`

func (t *postgresTx) Withdrawal(ctx context.Context, id string) (WithdrawalRequest, error) {
	w, err := scanWithdrawal(t.tx.QueryRow(ctx, withdrawalColumns+` WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return WithdrawalRequest{}, ErrNotFound
	}
	return w, err
}

func (t *postgresTx) CreateWithdrawal(ctx context.Context, w WithdrawalRequest) error {
	cmd, err := t.tx.Exec(ctx, `INSERT INTO withdrawals (id, account_id, amount, bank_account_number, bank_ifsc_code,
            bank_account_holder, bank_name, status, payout_status, payout_reference, notes, processed_by,
            settlement_transaction_id, requested_at, processed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        ON CONFLICT (id) DO NOTHING`,
		w.ID, w.AccountID, w.Amount, w.Destination.AccountNumber, w.Destination.IFSCCode,
		w.Destination.AccountHolderName, w.Destination.BankName, w.Status, w.PayoutStatus, w.PayoutReference,
		w.Notes, w.ProcessedBy, w.SettlementTransactionID, w.RequestedAt.UTC(), w.ProcessedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (t *postgresTx) UpdateWithdrawal(ctx context.Context, w WithdrawalRequest) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE withdrawals SET status = $1, payout_status = $2, payout_reference = $3,
            notes = $4, processed_by = $5, settlement_transaction_id = $6, processed_at = $7
        WHERE id = $8`,
		w.Status, w.PayoutStatus, w.PayoutReference, w.Notes, w.ProcessedBy, w.SettlementTransactionID,
		w.ProcessedAt, w.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) PaymentIntent(ctx context.Context, orderID string) (PaymentIntent, error) {
	var p PaymentIntent
	err := t.tx.QueryRow(ctx, `SELECT order_id, account_id, amount, currency, status, external_payment_id,
            transaction_id, created_at, completed_at
        FROM payment_intents WHERE order_id = $1 FOR UPDATE`, orderID).
		Scan(&p.OrderID, &p.AccountID, &p.Amount, &p.Currency, &p.Status, &p.ExternalPaymentID,
			&p.TransactionID, &p.CreatedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentIntent{}, ErrNotFound
	}
	return p, err
}

func (t *postgresTx) CreatePaymentIntent(ctx context.Context, p PaymentIntent) error {
	cmd, err := t.tx.Exec(ctx, `INSERT INTO payment_intents (order_id, account_id, amount, currency, status,
            external_payment_id, transaction_id, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (order_id) DO NOTHING`,
		p.OrderID, p.AccountID, p.Amount, p.Currency, p.Status, p.ExternalPaymentID, p.TransactionID,
		p.CreatedAt.UTC(), p.CompletedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (t *postgresTx) UpdatePaymentIntent(ctx context.Context, p PaymentIntent) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE payment_intents SET status = $1, external_payment_id = $2,
            transaction_id = $3, completed_at = $4
        WHERE order_id = $5`, p.Status, p.ExternalPaymentID, p.TransactionID, p.CompletedAt, p.OrderID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a    Account
		role string
	)
	if err := row.Scan(&a.ID, &role, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.Role = Role(role)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t         Transaction
		direction string
		kind      string
	)
	if err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &direction, &kind, &t.RelatedEntityID,
		&t.BalanceBefore, &t.BalanceAfter, &t.Description, &t.Status, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	t.Direction = Direction(direction)
	t.Kind = Kind(kind)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func scanWithdrawal(row pgx.Row) (WithdrawalRequest, error) {
	var w WithdrawalRequest
	if err := row.Scan(&w.ID, &w.AccountID, &w.Amount, &w.Destination.AccountNumber, &w.Destination.IFSCCode,
		&w.Destination.AccountHolderName, &w.Destination.BankName, &w.Status, &w.PayoutStatus,
		&w.PayoutReference, &w.Notes, &w.ProcessedBy, &w.SettlementTransactionID, &w.RequestedAt,
		&w.ProcessedAt); err != nil {
		return WithdrawalRequest{}, err
	}
	w.RequestedAt = w.RequestedAt.UTC()
	return w, nil
}

// mapPgError folds retryable Postgres failures into ErrConcurrentModification
// and constraint failures into the store's sentinel errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrConcurrentModification, pgErr.Code)
	case pgUniqueViolation:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.ConstraintName)
	case pgCheckViolation:
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, pgErr.ConstraintName)
	}
	return err
}
