package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"ai-trade-bot-go/internal/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ticker24h is one entry of the 24h rolling statistics endpoint.
type Ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// Quotes fetches the 24h ticker for all contracts and keeps the requested
// coins. Coins without a parseable price are left out. When daily klines are
// enabled each quote carries its technical indicators; a coin whose history
// cannot be read keeps a bare quote.
func (c *RestClient) Quotes(ctx context.Context, coins []string) (map[string]exchange.Quote, error) {
	var tickers []Ticker24h

	req := c.client.R().
		SetResult(&tickers).
		SetHeader("Content-Type", "application/json")

	if _, err := c.doRequest(ctx, "GET", "/fapi/v1/ticker/24hr", req, c.retries); err != nil {
		return nil, fmt.Errorf("failed to get tickers: %w", err)
	}

	bySymbol := make(map[string]Ticker24h, len(tickers))
	for _, t := range tickers {
		bySymbol[t.Symbol] = t
	}

	quotes := make(map[string]exchange.Quote, len(coins))
	for _, coin := range coins {
		t, ok := bySymbol[c.Symbol(coin)]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(t.LastPrice, 64)
		if err != nil || price <= 0 {
			continue
		}
		change, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
		q := exchange.Quote{Coin: coin, Price: price, Change24h: change}
		if c.klineDays > 0 {
			closes, err := c.DailyCloses(ctx, coin, c.klineDays)
			if err != nil {
				c.logger.Warn("Daily klines unavailable", zap.String("coin", coin), zap.Error(err))
			} else {
				q.Indicators = exchange.ComputeIndicators(closes)
			}
		}
		quotes[coin] = q
	}
	return quotes, nil
}

// DailyCloses returns the close prices of the last days daily klines of a
// coin, oldest first. The last close belongs to the running day.
func (c *RestClient) DailyCloses(ctx context.Context, coin string, days int) ([]float64, error) {
	var klines [][]json.RawMessage

	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol":   c.Symbol(coin),
			"interval": "1d",
			"limit":    strconv.Itoa(days),
		}).
		SetResult(&klines)

	if _, err := c.doRequest(ctx, "GET", "/fapi/v1/klines", req, c.retries); err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	closes := make([]float64, 0, len(klines))
	for _, k := range klines {
		if len(k) < 5 {
			return nil, fmt.Errorf("%w: short kline for %s", exchange.ErrUnknown, coin)
		}
		var raw string
		if err := json.Unmarshal(k[4], &raw); err != nil {
			return nil, fmt.Errorf("%w: kline close for %s: %v", exchange.ErrUnknown, coin, err)
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: kline close %q for %s", exchange.ErrUnknown, raw, coin)
		}
		closes = append(closes, price)
	}
	return closes, nil
}

// GetMarkPrice fetches the contract mark price of one coin.
func (c *RestClient) GetMarkPrice(ctx context.Context, coin string) (float64, error) {
	type premiumIndex struct {
		Symbol    string `json:"symbol"`
		MarkPrice string `json:"markPrice"`
	}

	req := c.client.R().
		SetQueryParam("symbol", c.Symbol(coin)).
		SetResult(&premiumIndex{})

	resp, err := c.doRequest(ctx, "GET", "/fapi/v1/premiumIndex", req, c.retries)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", exchange.ErrPriceUnavailable, err)
	}
	result := resp.Result().(*premiumIndex)
	price, err := strconv.ParseFloat(result.MarkPrice, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("%w: mark price %q for %s", exchange.ErrPriceUnavailable, result.MarkPrice, coin)
	}
	return price, nil
}

// ExchangeInfoResponse represents the full response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific contract.
type SymbolInfo struct {
	Symbol  string   `json:"symbol"`
	Status  string   `json:"status"`
	Filters []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol.
// We are interested in the LOT_SIZE filter to get the stepSize.
type Filter struct {
	FilterType string `json:"filterType"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
}

// GetExchangeInfo fetches contract trading rules.
func (c *RestClient) GetExchangeInfo(ctx context.Context) (*ExchangeInfoResponse, error) {
	var exchangeInfo ExchangeInfoResponse

	req := c.client.R().
		SetResult(&exchangeInfo).
		SetHeader("Content-Type", "application/json")

	resp, err := c.doRequest(ctx, "GET", "/fapi/v1/exchangeInfo", req, c.retries)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	return resp.Result().(*ExchangeInfoResponse), nil
}

// stepSize returns the cached LOT_SIZE step of a symbol, loading exchange
// info on first use.
func (c *RestClient) stepSize(ctx context.Context, symbol string) string {
	c.mu.Lock()
	step, ok := c.steps[symbol]
	c.mu.Unlock()
	if ok {
		return step
	}

	info, err := c.GetExchangeInfo(ctx)
	if err != nil {
		c.logger.Warn("Exchange info unavailable, using default precision")
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				c.steps[s.Symbol] = f.StepSize
			}
		}
	}
	return c.steps[symbol]
}

// formatQuantity rounds a quantity down to the symbol's step size.
func formatQuantity(qty float64, step string) string {
	q := decimal.NewFromFloat(qty)
	s, err := decimal.NewFromString(step)
	if err != nil || !s.IsPositive() {
		return q.Truncate(8).String()
	}
	return q.Div(s).Floor().Mul(s).Truncate(int32(-s.Exponent())).String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
