package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"bn-hedge-bot/internal/bnc/rest"
	"bn-hedge-bot/internal/hedge"
)

const weightPlaceOrder = 1

// BinanceClient submits futures MARKET orders over the signed REST transport.
type BinanceClient struct {
	rest *rest.Client
}

func NewBinanceClient(restClient *rest.Client) *BinanceClient {
	return &BinanceClient{rest: restClient}
}

func (c *BinanceClient) PlaceFuturesOrder(ctx context.Context, order hedge.Order, clientOrderID string) (string, error) {
	if order.Symbol == "" || order.Quantity <= 0 {
		return "", fmt.Errorf("invalid order: symbol %q quantity %.8f", order.Symbol, order.Quantity)
	}
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(order.Quantity, 'f', -1, 64))
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}
	body, err := c.rest.PostFuturesSigned(ctx, "/fapi/v1/order", params, weightPlaceOrder)
	if err != nil {
		return "", fmt.Errorf("place order %s %s %.8f: %w", order.Symbol, order.Side, order.Quantity, err)
	}
	var payload struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("place order %s: %w", order.Symbol, err)
	}
	if payload.OrderID == 0 {
		return "", fmt.Errorf("place order %s: missing order id in response", order.Symbol)
	}
	return strconv.FormatInt(payload.OrderID, 10), nil
}
