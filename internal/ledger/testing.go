package ledger

import (
	"context"
	"time"
)

// SeedAccount opens an account holding balance for tests. A non-zero balance is
// recorded as a single recharge credit so the log still reconciles.
func SeedAccount(store Store, id string, role Role, balance int64) error {
	ctx := context.Background()
	now := time.Now().UTC()
	return store.Atomic(ctx, func(tx Tx) error {
		acct := Account{ID: id, Role: role, CreatedAt: now, UpdatedAt: now}
		if err := tx.CreateAccount(ctx, acct); err != nil {
			return err
		}
		if balance == 0 {
			return nil
		}
		if err := tx.SetBalance(ctx, id, 0, balance); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, Transaction{
			ID:              "seed-" + id,
			AccountID:       id,
			Amount:          balance,
			Direction:       Credit,
			Kind:            KindRecharge,
			RelatedEntityID: "seed",
			BalanceBefore:   0,
			BalanceAfter:    balance,
			Description:     "seed balance",
			Status:          TxnStatusCompleted,
			CreatedAt:       now,
		})
	})
}
