package recharge

import (
	"context"

	"github.com/google/uuid"

	"github.com/lexconsult/lexconsult_wallet/internal/gateway"
)

// OrderGateway opens an order with the external payment provider.
type OrderGateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (string, error)
}

// OrderRequest describes the recharge the client is about to pay for.
type OrderRequest struct {
	Receipt   string
	AccountID string
	Amount    int64
	Currency  string
}

// StaticOrderGateway issues local order ids without calling a provider.
type StaticOrderGateway struct{}

func (StaticOrderGateway) CreateOrder(_ context.Context, _ OrderRequest) (string, error) {
	return "order_" + uuid.NewString(), nil
}

// HTTPOrderGateway creates orders through the provider's REST API.
type HTTPOrderGateway struct {
	client *gateway.Client
}

func NewHTTPOrderGateway(client *gateway.Client) *HTTPOrderGateway {
	return &HTTPOrderGateway{client: client}
}

type orderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (g *HTTPOrderGateway) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	body := orderBody{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    map[string]string{"account_id": req.AccountID},
	}
	var resp orderResponse
	if err := g.client.PostJSON(ctx, "/orders", req.Receipt, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", gateway.ErrUnavailable
	}
	return resp.ID, nil
}
