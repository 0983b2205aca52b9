package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"ai-trade-bot-go/internal/exchange"
	"go.uber.org/zap"
)

// CreateOrderResponse represents the response from creating a new futures
// order with newOrderRespType=RESULT.
type CreateOrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	AvgPrice      string `json:"avgPrice"`
	OrigQuantity  string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

// SetLeverage sets the initial leverage of a contract.
func (c *RestClient) SetLeverage(ctx context.Context, coin string, leverage int) error {
	query := c.signedQuery(map[string]string{
		"symbol":   c.Symbol(coin),
		"leverage": strconv.Itoa(leverage),
	})

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(query)

	if _, err := c.doRequest(ctx, "POST", "/fapi/v1/leverage", req, 1); err != nil {
		return fmt.Errorf("failed to set leverage: %w", err)
	}
	return nil
}

// PlaceOrder sends a market order. Opening orders set the contract leverage
// first. The order is tried once; retry is up to the caller.
func (c *RestClient) PlaceOrder(ctx context.Context, order exchange.Order) (*exchange.Fill, error) {
	symbol := c.Symbol(order.Coin)

	if !order.ReduceOnly && order.Leverage > 0 {
		if err := c.SetLeverage(ctx, order.Coin, order.Leverage); err != nil {
			return nil, err
		}
	}

	qty := formatQuantity(order.Quantity, c.stepSize(ctx, symbol))
	if q, _ := strconv.ParseFloat(qty, 64); q <= 0 {
		return nil, fmt.Errorf("%w: quantity %v below lot size of %s", exchange.ErrUnknown, order.Quantity, symbol)
	}

	params := map[string]string{
		"symbol":           symbol,
		"side":             order.Side,
		"type":             OrderTypeMarket,
		"quantity":         qty,
		"newOrderRespType": "RESULT",
	}
	if order.ClientID != "" {
		params["newClientOrderId"] = order.ClientID
	}
	if order.ReduceOnly {
		params["reduceOnly"] = "true"
	}

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(c.signedQuery(params)).
		SetResult(&CreateOrderResponse{})

	resp, err := c.doRequest(ctx, "POST", "/fapi/v1/order", req, 1)
	if err != nil {
		c.logger.Error("Failed to create order",
			zap.Error(err),
			zap.String("symbol", symbol),
			zap.String("client_id", order.ClientID),
		)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*CreateOrderResponse)
	filled, _ := strconv.ParseFloat(result.ExecutedQty, 64)
	if filled <= 0 {
		return nil, fmt.Errorf("%w: order %d not filled (status %s)", exchange.ErrUnknown, result.OrderID, result.Status)
	}
	price, _ := strconv.ParseFloat(result.AvgPrice, 64)
	if price <= 0 {
		price = order.Price
	}

	c.logger.Info("Successfully created order",
		zap.String("symbol", symbol),
		zap.Int64("order_id", result.OrderID),
		zap.Float64("filled_qty", filled),
		zap.Float64("avg_price", price),
	)
	return &exchange.Fill{
		OrderID:     strconv.FormatInt(result.OrderID, 10),
		FilledQty:   filled,
		FilledPrice: price,
	}, nil
}

// QueryOrderResponse is the state of one order as returned by the query
// order endpoint.
type QueryOrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
}

// LookupOrder queries an order by the client id it was sent with. Orders the
// exchange does not know, and orders that ended without a fill, yield
// exchange.ErrOrderNotFound. An order that is still open is an error of its
// own: it may fill later and must not be sent again.
func (c *RestClient) LookupOrder(ctx context.Context, coin, clientID string) (*exchange.Fill, error) {
	symbol := c.Symbol(coin)
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetResult(&QueryOrderResponse{})

	query := c.signedQuery(map[string]string{
		"symbol":            symbol,
		"origClientOrderId": clientID,
	})
	resp, err := c.doRequest(ctx, "GET", "/fapi/v1/order?"+query, req, c.retries)
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			return nil, exchange.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	result := resp.Result().(*QueryOrderResponse)
	filled, _ := strconv.ParseFloat(result.ExecutedQty, 64)
	if filled <= 0 {
		switch result.Status {
		case "NEW", "PARTIALLY_FILLED":
			return nil, fmt.Errorf("%w: order %d still %s", exchange.ErrUnknown, result.OrderID, result.Status)
		}
		return nil, fmt.Errorf("%w: order %d ended %s without a fill", exchange.ErrOrderNotFound, result.OrderID, result.Status)
	}
	price, _ := strconv.ParseFloat(result.AvgPrice, 64)

	c.logger.Info("Found order by client id",
		zap.String("symbol", symbol),
		zap.String("client_id", clientID),
		zap.Int64("order_id", result.OrderID),
		zap.String("status", result.Status),
		zap.Float64("filled_qty", filled),
	)
	return &exchange.Fill{
		OrderID:     strconv.FormatInt(result.OrderID, 10),
		FilledQty:   filled,
		FilledPrice: price,
	}, nil
}

// PositionRisk is one entry of the position information endpoint.
type PositionRisk struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
	MarkPrice   string `json:"markPrice"`
	Leverage    string `json:"leverage"`
}

// Positions returns the open positions of the account by coin. A negative
// position amount is a short.
func (c *RestClient) Positions(ctx context.Context) (map[string]exchange.Position, error) {
	var risks []PositionRisk
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetResult(&risks)

	if _, err := c.doRequest(ctx, "GET", "/fapi/v2/positionRisk?"+c.signedQuery(nil), req, c.retries); err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	positions := make(map[string]exchange.Position)
	for _, r := range risks {
		amt, err := strconv.ParseFloat(r.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		coin, ok := c.coin(r.Symbol)
		if !ok {
			continue
		}
		side := exchange.PositionLong
		if amt < 0 {
			side = exchange.PositionShort
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		lev, _ := strconv.Atoi(r.Leverage)
		positions[coin] = exchange.Position{
			Coin:       coin,
			Side:       side,
			Quantity:   math.Abs(amt),
			EntryPrice: entry,
			Leverage:   lev,
		}
	}
	return positions, nil
}

// ValidateCredentials reads the futures account with the configured key.
func (c *RestClient) ValidateCredentials(ctx context.Context) error {
	if c.apiKey == "" || c.secretKey == "" {
		return fmt.Errorf("%w: no API key configured", exchange.ErrAuth)
	}
	type accountResponse struct {
		CanTrade           bool   `json:"canTrade"`
		AvailableBalance   string `json:"availableBalance"`
		TotalWalletBalance string `json:"totalWalletBalance"`
	}

	// The signed query goes on the path verbatim so its parameter order
	// matches the signature.
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetResult(&accountResponse{})

	resp, err := c.doRequest(ctx, "GET", "/fapi/v2/account?"+c.signedQuery(nil), req, 1)
	if err != nil {
		return fmt.Errorf("failed to read account: %w", err)
	}
	account := resp.Result().(*accountResponse)
	if !account.CanTrade {
		return errors.Join(exchange.ErrAuth, errors.New("account cannot trade"))
	}
	c.logger.Info("Credentials validated", zap.String("available_balance", account.AvailableBalance))
	return nil
}
