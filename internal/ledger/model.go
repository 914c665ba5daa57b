package ledger

import "time"

// Role identifies what kind of balance holder an account belongs to.
type Role string

const (
	RoleClient     Role = "client"
	RoleLawyer     Role = "lawyer"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
	RoleSystem     Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleLawyer, RoleAdmin, RoleSuperAdmin, RoleSystem:
		return true
	}
	return false
}

// Direction of a balance mutation.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Kind classifies what produced a transaction.
type Kind string

const (
	KindCallCharge       Kind = "call_charge"
	KindRecharge         Kind = "recharge"
	KindWithdrawal       Kind = "withdrawal"
	KindRefund           Kind = "refund"
	KindPayoutCorrection Kind = "payout_correction"
)

// Valid reports whether k is a known transaction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCallCharge, KindRecharge, KindWithdrawal, KindRefund, KindPayoutCorrection:
		return true
	}
	return false
}

const (
	TxnStatusCompleted = "completed"
	TxnStatusFailed    = "failed"
)

// Account is a balance holder. Balance is in minor currency units and never negative.
type Account struct {
	ID        string    `json:"account_id"`
	Role      Role      `json:"role"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is an immutable record of one balance mutation.
type Transaction struct {
	ID              string    `json:"transaction_id"`
	AccountID       string    `json:"account_id"`
	Amount          int64     `json:"amount"`
	Direction       Direction `json:"direction"`
	Kind            Kind      `json:"kind"`
	RelatedEntityID string    `json:"related_entity_id"`
	BalanceBefore   int64     `json:"balance_before"`
	BalanceAfter    int64     `json:"balance_after"`
	Description     string    `json:"description,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// Signed returns the amount with the sign implied by the direction.
func (t Transaction) Signed() int64 {
	if t.Direction == Debit {
		return -t.Amount
	}
	return t.Amount
}

// Call is the billing projection of a consultation call registered by the
// signalling service.
type Call struct {
	ID            string    `json:"call_id"`
	PayerID       string    `json:"payer_id"`
	PayeeID       string    `json:"payee_id"`
	CallType      string    `json:"call_type"`
	RatePerMinute int64     `json:"rate_per_minute"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	SettlementUnsettled         = "unsettled"
	SettlementSettled           = "settled"
	SettlementInsufficientFunds = "insufficient_funds"
)

// CallBillingRecord tracks the settlement of one call. It is settled at most once.
type CallBillingRecord struct {
	CallID              string     `json:"call_id"`
	PayerID             string     `json:"payer_id"`
	PayeeID             string     `json:"payee_id"`
	RatePerMinute       int64      `json:"rate_per_minute"`
	DurationSeconds     int64      `json:"duration_seconds"`
	ComputedCost        int64      `json:"computed_cost"`
	SettlementStatus    string     `json:"settlement_status"`
	DebitTransactionID  string     `json:"debit_transaction_id,omitempty"`
	CreditTransactionID string     `json:"credit_transaction_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	SettledAt           *time.Time `json:"settled_at,omitempty"`
}

// Terminal reports whether the record can no longer be settled.
func (r CallBillingRecord) Terminal() bool {
	return r.SettlementStatus == SettlementSettled || r.SettlementStatus == SettlementInsufficientFunds
}

const (
	WithdrawalPending  = "pending"
	WithdrawalApproved = "approved"
	WithdrawalRejected = "rejected"

	PayoutNone                   = "none"
	PayoutPending                = "pending"
	PayoutConfirmed              = "confirmed"
	PayoutReconciliationRequired = "reconciliation_required"
)

// BankDetails is the payout destination of a withdrawal.
type BankDetails struct {
	AccountNumber     string `json:"account_number" yaml:"account_number"`
	IFSCCode          string `json:"ifsc_code" yaml:"ifsc_code"`
	AccountHolderName string `json:"account_holder_name" yaml:"account_holder_name"`
	BankName          string `json:"bank_name,omitempty" yaml:"bank_name"`
}

// Masked returns the account number with all but the last four digits hidden.
func (b BankDetails) Masked() string {
	n := len(b.AccountNumber)
	if n <= 4 {
		return b.AccountNumber
	}
	masked := make([]byte, n)
	for i := range masked {
		if i < n-4 {
			masked[i] = '*'
		} else {
			masked[i] = b.AccountNumber[i]
		}
	}
	return string(masked)
}

// WithdrawalRequest is a payee's request to cash out balance.
type WithdrawalRequest struct {
	ID                      string      `json:"withdrawal_id"`
	AccountID               string      `json:"account_id"`
	Amount                  int64       `json:"amount"`
	Destination             BankDetails `json:"payout_destination"`
	Status                  string      `json:"status"`
	PayoutStatus            string      `json:"payout_status"`
	PayoutReference         string      `json:"payout_reference,omitempty"`
	Notes                   string      `json:"notes,omitempty"`
	ProcessedBy             string      `json:"processed_by,omitempty"`
	SettlementTransactionID string      `json:"settlement_transaction_id,omitempty"`
	RequestedAt             time.Time   `json:"requested_at"`
	ProcessedAt             *time.Time  `json:"processed_at,omitempty"`
}

const (
	IntentCreated   = "created"
	IntentCompleted = "completed"
)

// PaymentIntent is a pending external recharge.
type PaymentIntent struct {
	OrderID           string     `json:"order_id"`
	AccountID         string     `json:"account_id"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	ExternalPaymentID string     `json:"external_payment_id,omitempty"`
	TransactionID     string     `json:"transaction_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Fields a transaction history can be ordered by.
const (
	OrderByCreatedAt = "createdAt"
	OrderByAmount    = "amount"
)

// HistoryQuery selects a page of an account's transaction log. A zero Limit
// returns the whole log.
type HistoryQuery struct {
	Limit     int
	OrderBy   string
	Ascending bool
}

// WithdrawalFilter selects withdrawal requests. Empty fields match everything.
type WithdrawalFilter struct {
	AccountID string
	Status    string
	Limit     int
}
