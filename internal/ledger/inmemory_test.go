package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestInMemoryStore_AtomicCommitsAllOrNothing(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := SeedAccount(s, "acct-a", RoleClient, 1_000); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx Tx) error {
		acct, err := tx.Account(ctx, "acct-a")
		if err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, acct.ID, acct.Version, 0); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	acct, err := s.Account(ctx, "acct-a")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.Balance != 1_000 {
		t.Fatalf("expected balance 1000 after rollback, got %d", acct.Balance)
	}
}

func TestInMemoryStore_StaleReadConflicts(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := SeedAccount(s, "acct-a", RoleClient, 1_000); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := s.Atomic(ctx, func(tx Tx) error {
		acct, err := tx.Account(ctx, "acct-a")
		if err != nil {
			return err
		}
		// A second unit commits between this unit's read and its commit.
		if err := s.Atomic(ctx, func(inner Tx) error {
			a, err := inner.Account(ctx, "acct-a")
			if err != nil {
				return err
			}
			return inner.SetBalance(ctx, a.ID, a.Version, a.Balance-100)
		}); err != nil {
			return err
		}
		return tx.SetBalance(ctx, acct.ID, acct.Version, acct.Balance-500)
	})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}

	acct, _ := s.Account(ctx, "acct-a")
	if acct.Balance != 900 {
		t.Fatalf("expected balance 900, got %d", acct.Balance)
	}
}

func TestInMemoryStore_SetBalanceChecksVersionAndSign(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := SeedAccount(s, "acct-a", RoleClient, 100); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := s.Atomic(ctx, func(tx Tx) error {
		return tx.SetBalance(ctx, "acct-a", 0, 50)
	})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected version mismatch, got %v", err)
	}

	err = s.Atomic(ctx, func(tx Tx) error {
		acct, err := tx.Account(ctx, "acct-a")
		if err != nil {
			return err
		}
		return tx.SetBalance(ctx, acct.ID, acct.Version, -1)
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	err = s.Atomic(ctx, func(tx Tx) error {
		return tx.SetBalance(ctx, "missing", 0, 10)
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestInMemoryStore_CreateRejectsDuplicates(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := SeedAccount(s, "acct-a", RoleClient, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := SeedAccount(s, "acct-a", RoleClient, 0); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}

	call := Call{ID: "call-1", PayerID: "acct-a", PayeeID: "acct-b", RatePerMinute: 60, CreatedAt: time.Now()}
	if err := s.Atomic(ctx, func(tx Tx) error { return tx.CreateCall(ctx, call) }); err != nil {
		t.Fatalf("create call: %v", err)
	}
	if err := s.Atomic(ctx, func(tx Tx) error { return tx.CreateCall(ctx, call) }); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected duplicate call rejected, got %v", err)
	}

	err := s.Atomic(ctx, func(tx Tx) error {
		return tx.UpdateWithdrawal(ctx, WithdrawalRequest{ID: "nope"})
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}

func TestInMemoryStore_ConcurrentUnitsSerialize(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := SeedAccount(s, "acct-a", RoleClient, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := s.Atomic(ctx, func(tx Tx) error {
					acct, err := tx.Account(ctx, "acct-a")
					if err != nil {
						return err
					}
					return tx.SetBalance(ctx, acct.ID, acct.Version, acct.Balance+10)
				})
				if errors.Is(err, ErrConcurrentModification) {
					continue
				}
				if err != nil {
					t.Errorf("unit failed: %v", err)
				}
				return
			}
		}()
	}
	wg.Wait()

	acct, _ := s.Account(ctx, "acct-a")
	if acct.Balance != workers*10 {
		t.Fatalf("expected balance %d, got %d", workers*10, acct.Balance)
	}
}

func TestInMemoryStore_HistoryOrdering(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := SeedAccount(s, "acct-a", RoleClient, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	amounts := []int64{300, 100, 200}
	base := time.Now().UTC()
	err := s.Atomic(ctx, func(tx Tx) error {
		balance := int64(0)
		for i, amt := range amounts {
			if err := tx.AppendTransaction(ctx, Transaction{
				ID:            fmt.Sprintf("txn-%d", i),
				AccountID:     "acct-a",
				Amount:        amt,
				Direction:     Credit,
				Kind:          KindRecharge,
				BalanceBefore: balance,
				BalanceAfter:  balance + amt,
				Status:        TxnStatusCompleted,
				CreatedAt:     base.Add(time.Duration(i) * time.Second),
			}); err != nil {
				return err
			}
			balance += amt
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	desc, err := s.History(ctx, "acct-a", HistoryQuery{Limit: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(desc) != 2 || desc[0].ID != "txn-2" || desc[1].ID != "txn-1" {
		t.Fatalf("unexpected newest-first page: %+v", desc)
	}

	byAmount, err := s.History(ctx, "acct-a", HistoryQuery{Limit: 10, OrderBy: OrderByAmount, Ascending: true})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(byAmount) != 3 || byAmount[0].Amount != 100 || byAmount[2].Amount != 300 {
		t.Fatalf("unexpected amount ordering: %+v", byAmount)
	}

	empty, err := s.History(ctx, "acct-b", HistoryQuery{Limit: 10})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty history, got %d", len(empty))
	}
}

func TestInMemoryStore_WithdrawalsFilter(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	base := time.Now().UTC()
	err := s.Atomic(ctx, func(tx Tx) error {
		for i, status := range []string{WithdrawalPending, WithdrawalRejected, WithdrawalPending} {
			if err := tx.CreateWithdrawal(ctx, WithdrawalRequest{
				ID:          fmt.Sprintf("wd-%d", i),
				AccountID:   "lawyer-1",
				Amount:      100,
				Status:      status,
				RequestedAt: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("create withdrawals: %v", err)
	}

	pending, err := s.Withdrawals(ctx, WithdrawalFilter{Status: WithdrawalPending})
	if err != nil {
		t.Fatalf("withdrawals: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "wd-2" {
		t.Fatalf("unexpected pending list: %+v", pending)
	}
}

func TestBankDetailsMasked(t *testing.T) {
	b := BankDetails{AccountNumber: "1234567890"}
	if got := b.Masked(); got != "******7890" {
		t.Fatalf("unexpected mask %q", got)
	}
}
