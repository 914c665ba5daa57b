package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
)

const (
	prefixAccount    = "account:"
	prefixTxn        = "txn:"
	prefixCall       = "call:"
	prefixBilling    = "billing:"
	prefixWithdrawal = "withdrawal:"
	prefixIntent     = "intent:"
)

type entry struct {
	version int64
	value   any
}

// inMemoryStore keeps every record under a versioned key. Units run without
// holding the lock and validate their read set at commit, so units touching
// disjoint keys never block or conflict with each other.
type inMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	logs    map[string][]Transaction
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests
// and local development.
func NewInMemory() Store {
	return &inMemoryStore{
		entries: make(map[string]entry),
		logs:    make(map[string][]Transaction),
	}
}

func (s *inMemoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &inMemoryTx{
		store:  s,
		reads:  make(map[string]entry),
		writes: make(map[string]any),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *inMemoryStore) commit(tx *inMemoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range tx.reads {
		if s.entries[key].version != seen.version {
			return ErrConcurrentModification
		}
	}
	for _, key := range tx.order {
		current := s.entries[key]
		s.entries[key] = entry{version: current.version + 1, value: tx.writes[key]}
	}
	for _, txn := range tx.appended {
		s.logs[txn.AccountID] = append(s.logs[txn.AccountID], txn)
	}
	return nil
}

func (s *inMemoryStore) Account(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[prefixAccount+id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return e.value.(Account), nil
}

func (s *inMemoryStore) History(_ context.Context, accountID string, q HistoryQuery) ([]Transaction, error) {
	s.mu.RLock()
	out := make([]Transaction, len(s.logs[accountID]))
	copy(out, s.logs[accountID])
	s.mu.RUnlock()

	// The log is already in commit order, which is createdAt order.
	if q.OrderBy == OrderByAmount {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Amount < out[j].Amount })
	}
	if !q.Ascending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *inMemoryStore) Withdrawals(_ context.Context, f WithdrawalFilter) ([]WithdrawalRequest, error) {
	s.mu.RLock()
	out := make([]WithdrawalRequest, 0)
	for key, e := range s.entries {
		if !strings.HasPrefix(key, prefixWithdrawal) {
			continue
		}
		w := e.value.(WithdrawalRequest)
		if f.AccountID != "" && w.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		out = append(out, w)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *inMemoryStore) Ping(context.Context) error { return nil }

type inMemoryTx struct {
	store    *inMemoryStore
	reads    map[string]entry
	writes   map[string]any
	order    []string
	appended []Transaction
}

func (t *inMemoryTx) get(key string) (any, bool) {
	if v, ok := t.writes[key]; ok {
		return v, true
	}
	if e, ok := t.reads[key]; ok {
		return e.value, e.version > 0
	}
	t.store.mu.RLock()
	e := t.store.entries[key]
	t.store.mu.RUnlock()
	t.reads[key] = e
	return e.value, e.version > 0
}

func (t *inMemoryTx) put(key string, value any) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = value
}

func (t *inMemoryTx) create(key string, value any) error {
	if _, exists := t.get(key); exists {
		return ErrAlreadyExists
	}
	t.put(key, value)
	return nil
}

func (t *inMemoryTx) update(key string, value any) error {
	if _, exists := t.get(key); !exists {
		return ErrNotFound
	}
	t.put(key, value)
	return nil
}

func (t *inMemoryTx) Account(_ context.Context, id string) (Account, error) {
	v, ok := t.get(prefixAccount + id)
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return v.(Account), nil
}

func (t *inMemoryTx) CreateAccount(_ context.Context, acct Account) error {
	return t.create(prefixAccount+acct.ID, acct)
}

func (t *inMemoryTx) SetBalance(_ context.Context, id string, expectedVersion, balance int64) error {
	v, ok := t.get(prefixAccount + id)
	if !ok {
		return ErrAccountNotFound
	}
	acct := v.(Account)
	if acct.Version != expectedVersion {
		return ErrConcurrentModification
	}
	if balance < 0 {
		return ErrInsufficientFunds
	}
	acct.Balance = balance
	acct.Version++
	t.put(prefixAccount+id, acct)
	return nil
}

func (t *inMemoryTx) AppendTransaction(_ context.Context, txn Transaction) error {
	if err := t.create(prefixTxn+txn.ID, txn); err != nil {
		return err
	}
	t.appended = append(t.appended, txn)
	return nil
}

func (t *inMemoryTx) Transaction(_ context.Context, id string) (Transaction, error) {
	v, ok := t.get(prefixTxn + id)
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return v.(Transaction), nil
}

func (t *inMemoryTx) Call(_ context.Context, id string) (Call, error) {
	v, ok := t.get(prefixCall + id)
	if !ok {
		return Call{}, ErrNotFound
	}
	return v.(Call), nil
}

func (t *inMemoryTx) CreateCall(_ context.Context, call Call) error {
	return t.create(prefixCall+call.ID, call)
}

func (t *inMemoryTx) BillingRecord(_ context.Context, callID string) (CallBillingRecord, error) {
	v, ok := t.get(prefixBilling + callID)
	if !ok {
		return CallBillingRecord{}, ErrNotFound
	}
	return v.(CallBillingRecord), nil
}

func (t *inMemoryTx) SaveBillingRecord(_ context.Context, rec CallBillingRecord) error {
	t.get(prefixBilling + rec.CallID)
	t.put(prefixBilling+rec.CallID, rec)
	return nil
}

func (t *inMemoryTx) Withdrawal(_ context.Context, id string) (WithdrawalRequest, error) {
	v, ok := t.get(prefixWithdrawal + id)
	if !ok {
		return WithdrawalRequest{}, ErrNotFound
	}
	return v.(WithdrawalRequest), nil
}

func (t *inMemoryTx) CreateWithdrawal(_ context.Context, w WithdrawalRequest) error {
	return t.create(prefixWithdrawal+w.ID, w)
}

func (t *inMemoryTx) UpdateWithdrawal(_ context.Context, w WithdrawalRequest) error {
	return t.update(prefixWithdrawal+w.ID, w)
}

func (t *inMemoryTx) PaymentIntent(_ context.Context, orderID string) (PaymentIntent, error) {
	v, ok := t.get(prefixIntent + orderID)
	if !ok {
		return PaymentIntent{}, ErrNotFound
	}
	return v.(PaymentIntent), nil
}

func (t *inMemoryTx) CreatePaymentIntent(_ context.Context, p PaymentIntent) error {
	return t.create(prefixIntent+p.OrderID, p)
}

func (t *inMemoryTx) UpdatePaymentIntent(_ context.Context, p PaymentIntent) error {
	return t.update(prefixIntent+p.OrderID, p)
}
