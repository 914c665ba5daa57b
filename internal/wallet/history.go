package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
)

const defaultHistoryLimit = 50

// HistoryParams are the client-facing paging options of a transaction history.
type HistoryParams struct {
	Limit     int
	OrderBy   string
	Direction string
}

// History returns one page of the account's transaction log. Defaults are
// limit 50, ordered by createdAt, newest first.
func (s *Service) History(ctx context.Context, accountID string, p HistoryParams) ([]ledger.Transaction, error) {
	q, err := s.historyQuery(p)
	if err != nil {
		return nil, err
	}

	var txns []ledger.Transaction
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		txns, err = s.store.History(ctx, accountID, q)
		return err
	})
	if err != nil {
		return nil, s.translate(Op{Name: "history", AccountID: accountID}, err)
	}
	return txns, nil
}

func (s *Service) historyQuery(p HistoryParams) (ledger.HistoryQuery, error) {
	q := ledger.HistoryQuery{Limit: p.Limit, OrderBy: ledger.OrderByCreatedAt}
	switch {
	case q.Limit < 0:
		return q, apperr.New(apperr.InvalidArgument, "limit must not be negative")
	case q.Limit == 0:
		q.Limit = defaultHistoryLimit
	case q.Limit > s.opts.HistoryMaxLimit:
		q.Limit = s.opts.HistoryMaxLimit
	}

	switch p.OrderBy {
	case "", ledger.OrderByCreatedAt:
	case ledger.OrderByAmount:
		q.OrderBy = ledger.OrderByAmount
	default:
		return q, apperr.New(apperr.InvalidArgument, fmt.Sprintf("cannot order by %q", p.OrderBy))
	}

	switch strings.ToLower(p.Direction) {
	case "", "desc":
	case "asc":
		q.Ascending = true
	default:
		return q, apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown direction %q", p.Direction))
	}
	return q, nil
}

const reconcileReads = 3

// Reconciliation compares a stored balance with its transaction log.
// BrokenLinks counts entries whose balance_before differs from the previous
// entry's balance_after.
type Reconciliation struct {
	AccountID   string `json:"account_id"`
	Balance     int64  `json:"balance"`
	LoggedSum   int64  `json:"logged_sum"`
	Entries     int    `json:"entries"`
	BrokenLinks int    `json:"broken_links"`
	Consistent  bool   `json:"consistent"`
}

// Reconcile checks the account's transaction log against its stored balance.
// Every entry must satisfy balance_after = balance_before + signed amount, must
// start from the previous entry's balance_after (the first from zero), and the
// signed sum must equal the last balance_after and the stored balance.
//
// The log is read between two reads of the account. When a concurrent unit
// moves the version in between, the read is repeated; if it never settles,
// only the log's own chain is checked.
func (s *Service) Reconcile(ctx context.Context, accountID string) (Reconciliation, error) {
	var (
		acct   ledger.Account
		txns   []ledger.Transaction
		stable bool
	)
	for attempt := 0; attempt < reconcileReads && !stable; attempt++ {
		before, err := s.Balance(ctx, accountID)
		if err != nil {
			return Reconciliation{}, err
		}
		err = s.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			txns, err = s.store.History(ctx, accountID, ledger.HistoryQuery{OrderBy: ledger.OrderByCreatedAt, Ascending: true})
			return err
		})
		if err != nil {
			return Reconciliation{}, s.translate(Op{Name: "reconcile", AccountID: accountID}, err)
		}
		after, err := s.Balance(ctx, accountID)
		if err != nil {
			return Reconciliation{}, err
		}
		acct, stable = after, before.Version == after.Version
	}

	r := checkChain(accountID, txns)
	r.Balance = acct.Balance
	if !stable {
		s.logger.Warn("account kept changing during reconciliation, stored balance not compared",
			"account_id", accountID,
			"attempts", reconcileReads,
		)
	} else if r.LoggedSum != acct.Balance {
		r.Consistent = false
	}
	if !r.Consistent {
		s.logger.Error("ledger reconciliation mismatch",
			"account_id", accountID,
			"balance", acct.Balance,
			"logged_sum", r.LoggedSum,
			"broken_links", r.BrokenLinks,
		)
	}
	return r, nil
}

// checkChain verifies an ascending log on its own.
func checkChain(accountID string, txns []ledger.Transaction) Reconciliation {
	r := Reconciliation{AccountID: accountID, Entries: len(txns), Consistent: true}
	var prev int64
	for _, txn := range txns {
		if txn.BalanceAfter != txn.BalanceBefore+txn.Signed() {
			r.Consistent = false
		}
		if txn.BalanceBefore != prev {
			r.BrokenLinks++
			r.Consistent = false
		}
		prev = txn.BalanceAfter
		r.LoggedSum += txn.Signed()
	}
	if r.LoggedSum != prev {
		r.Consistent = false
	}
	return r
}
