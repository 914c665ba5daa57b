package withdrawal

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/lexconsult/lexconsult_wallet/internal/gateway"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
)

// PayoutGateway sends money to a bank account outside the platform.
type PayoutGateway interface {
	Payout(ctx context.Context, req PayoutRequest) (PayoutResult, error)
	// Status fetches the provider's current view of a payout.
	Status(ctx context.Context, reference string) (PayoutResult, error)
	// ValidateAccount asks the provider whether a destination account exists.
	ValidateAccount(ctx context.Context, dest ledger.BankDetails) (AccountValidation, error)
}

// PayoutRequest describes one payout. IdempotencyKey is stable across retries
// of the same withdrawal.
type PayoutRequest struct {
	IdempotencyKey string
	WithdrawalID   string
	AccountID      string
	Amount         int64
	Currency       string
	Destination    ledger.BankDetails
}

// PayoutResult is the provider's acknowledgement. Status is the provider's
// own vocabulary; see payoutState.
type PayoutResult struct {
	Reference string
	Status    string
}

// AccountValidation is the provider's answer about a destination account.
type AccountValidation struct {
	Reference      string
	Status         string
	AccountStatus  string
	RegisteredName string
}

// Active reports whether the provider found the account able to receive money.
func (v AccountValidation) Active() bool {
	return strings.EqualFold(v.AccountStatus, "active")
}

// StaticGateway accepts every payout with a synthetic reference.
type StaticGateway struct{}

func (StaticGateway) Payout(_ context.Context, _ PayoutRequest) (PayoutResult, error) {
	return PayoutResult{Reference: "pout_" + uuid.NewString(), Status: "processed"}, nil
}

func (StaticGateway) Status(_ context.Context, reference string) (PayoutResult, error) {
	return PayoutResult{Reference: reference, Status: "processed"}, nil
}

func (StaticGateway) ValidateAccount(_ context.Context, dest ledger.BankDetails) (AccountValidation, error) {
	return AccountValidation{
		Reference:      "fav_" + uuid.NewString(),
		Status:         "completed",
		AccountStatus:  "active",
		RegisteredName: dest.AccountHolderName,
	}, nil
}

// HTTPGateway posts payouts to the provider's REST API.
type HTTPGateway struct {
	client *gateway.Client
}

func NewHTTPGateway(client *gateway.Client) *HTTPGateway {
	return &HTTPGateway{client: client}
}

type payoutBody struct {
	Amount             int64       `json:"amount"`
	Currency           string      `json:"currency"`
	Mode               string      `json:"mode"`
	Purpose            string      `json:"purpose"`
	ReferenceID        string      `json:"reference_id"`
	QueueIfLowBalance  bool        `json:"queue_if_low_balance"`
	FundAccount        fundAccount `json:"fund_account"`
	Narration          string      `json:"narration,omitempty"`
	PayoutAccountOwner string      `json:"notes_account_id,omitempty"`
}

type fundAccount struct {
	AccountType string      `json:"account_type"`
	BankAccount bankAccount `json:"bank_account"`
}

type bankAccount struct {
	Name          string `json:"name"`
	IFSC          string `json:"ifsc"`
	AccountNumber string `json:"account_number"`
}

type payoutResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (g *HTTPGateway) Payout(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	body := payoutBody{
		Amount:            req.Amount,
		Currency:          req.Currency,
		Mode:              "IMPS",
		Purpose:           "payout",
		ReferenceID:       req.IdempotencyKey,
		QueueIfLowBalance: false,
		FundAccount: fundAccount{
			AccountType: "bank_account",
			BankAccount: bankAccount{
				Name:          req.Destination.AccountHolderName,
				IFSC:          req.Destination.IFSCCode,
				AccountNumber: req.Destination.AccountNumber,
			},
		},
		Narration:          "withdrawal " + req.WithdrawalID,
		PayoutAccountOwner: req.AccountID,
	}

	var resp payoutResponse
	if err := g.client.PostJSON(ctx, "/payouts", req.IdempotencyKey, body, &resp); err != nil {
		return PayoutResult{}, err
	}
	return PayoutResult{Reference: resp.ID, Status: resp.Status}, nil
}

func (g *HTTPGateway) Status(ctx context.Context, reference string) (PayoutResult, error) {
	var resp payoutResponse
	if err := g.client.GetJSON(ctx, "/payouts/"+url.PathEscape(reference), &resp); err != nil {
		return PayoutResult{}, err
	}
	return PayoutResult{Reference: resp.ID, Status: resp.Status}, nil
}

type validationBody struct {
	FundAccount fundAccount `json:"fund_account"`
	Amount      int64       `json:"amount"`
	Currency    string      `json:"currency"`
}

type validationResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Results struct {
		AccountStatus  string `json:"account_status"`
		RegisteredName string `json:"registered_name"`
	} `json:"results"`
}

// ValidateAccount runs a penny-drop validation of dest.
func (g *HTTPGateway) ValidateAccount(ctx context.Context, dest ledger.BankDetails) (AccountValidation, error) {
	body := validationBody{
		FundAccount: fundAccount{
			AccountType: "bank_account",
			BankAccount: bankAccount{
				Name:          dest.AccountHolderName,
				IFSC:          dest.IFSCCode,
				AccountNumber: dest.AccountNumber,
			},
		},
		Amount:   100,
		Currency: "INR",
	}

	var resp validationResponse
	if err := g.client.PostJSON(ctx, "/fund_accounts/validations", "", body, &resp); err != nil {
		return AccountValidation{}, err
	}
	return AccountValidation{
		Reference:      resp.ID,
		Status:         resp.Status,
		AccountStatus:  resp.Results.AccountStatus,
		RegisteredName: resp.Results.RegisteredName,
	}, nil
}
