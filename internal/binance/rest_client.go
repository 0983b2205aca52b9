package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/exchange"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL         = "https://fapi.binance.com"
	testnetBaseURL  = "https://testnet.binancefuture.com"
	recvWindow      = "5000" // How long a request is valid in milliseconds
	OrderTypeMarket = "MARKET"
)

// Credentials is an API key pair for signed endpoints.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// ParseCredentials splits the stored "apiKey:secretKey" form.
func ParseCredentials(s string) (Credentials, error) {
	key, secret, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || key == "" || secret == "" {
		return Credentials{}, errors.New("credential must have the form apiKey:secretKey")
	}
	return Credentials{APIKey: key, SecretKey: secret}, nil
}

// RestClient is a client for the Binance USDⓈ-M futures REST API. It serves
// both as a market data source and as a live execution target.
type RestClient struct {
	client     *resty.Client
	apiKey     string
	secretKey  string
	quoteAsset string
	retries    int
	klineDays  int
	logger     *zap.Logger
	limiter    *rate.Limiter

	mu    sync.Mutex
	steps map[string]string
}

var (
	_ exchange.Adapter      = (*RestClient)(nil)
	_ exchange.MarketSource = (*RestClient)(nil)
)

// NewRestClient creates a new Binance futures client. Sandbox routes every
// call to the futures testnet.
func NewRestClient(cfg *config.Binance, creds Credentials, sandbox bool, logger *zap.Logger) *RestClient {
	base := baseURL
	if sandbox {
		base = testnetBaseURL
		logger.Warn("Using Binance Futures Testnet")
	} else {
		logger.Info("Using Binance Futures Production API")
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
		logger.Info("Using configured Binance endpoint", zap.String("base_url", base))
	}

	client := resty.New().SetBaseURL(base)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	retries := cfg.MarketRetries
	if retries < 1 {
		retries = 1
	}
	quote := cfg.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}
	days := cfg.IndicatorDays
	if days > 0 && days < exchange.IndicatorPeriod {
		days = exchange.IndicatorPeriod
	}

	return &RestClient{
		client:     client,
		apiKey:     creds.APIKey,
		secretKey:  creds.SecretKey,
		quoteAsset: quote,
		retries:    retries,
		klineDays:  days,
		logger:     logger,
		limiter:    limiter,
		steps:      map[string]string{},
	}
}

// Symbol maps a coin to its perpetual contract symbol.
func (c *RestClient) Symbol(coin string) string {
	return strings.ToUpper(coin) + c.quoteAsset
}

// coin maps a contract symbol back to its coin. Contracts quoted in another
// asset are not ours.
func (c *RestClient) coin(symbol string) (string, bool) {
	coin, ok := strings.CutSuffix(symbol, c.quoteAsset)
	return coin, ok && coin != ""
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedQuery stamps and signs a parameter set.
func (c *RestClient) signedQuery(params map[string]string) string {
	var b strings.Builder
	for _, k := range sortedKeys(params) {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	if b.Len() > 0 {
		b.WriteByte('&')
	}
	fmt.Fprintf(&b, "timestamp=%d&recvWindow=%s", time.Now().UnixMilli(), recvWindow)
	query := b.String()
	return query + "&signature=" + c.sign(query)
}

// apiError is the error body Binance returns.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// classify maps a failed response onto the exchange error taxonomy.
func classify(resp *resty.Response, err error) error {
	if resp == nil || resp.RawResponse == nil {
		return fmt.Errorf("%w: %v", exchange.ErrUnavailable, err)
	}
	status := resp.StatusCode()
	var body apiError
	_ = json.Unmarshal(resp.Body(), &body)
	detail := fmt.Sprintf("status %s: %s", resp.Status(), strings.TrimSpace(resp.String()))

	switch {
	case status == http.StatusTooManyRequests || status == 418:
		wrapped := fmt.Errorf("%w: %s", exchange.ErrRateLimited, detail)
		if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
			return &exchange.RetryAfterError{Err: wrapped, After: time.Duration(seconds) * time.Second}
		}
		return wrapped
	case status == http.StatusUnauthorized || status == http.StatusForbidden,
		body.Code == -2014, body.Code == -2015, body.Code == -1022:
		return fmt.Errorf("%w: %s", exchange.ErrAuth, detail)
	case body.Code == -2019 || body.Code == -2018:
		return fmt.Errorf("%w: %s", exchange.ErrInsufficientFunds, detail)
	case body.Code == -2013:
		return fmt.Errorf("%w: %s", exchange.ErrOrderNotFound, detail)
	case status >= 500:
		return fmt.Errorf("%w: %s", exchange.ErrUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s", exchange.ErrUnknown, detail)
	}
}

// doRequest handles the actual request execution with rate limiting and retry
// logic. attempts bounds the tries; only rate limits, server errors and
// network failures are retried.
func (c *RestClient) doRequest(ctx context.Context, method, path string, req *resty.Request, attempts int) (*resty.Response, error) {
	var lastErr error
	req.SetContext(ctx)

	for i := 0; i < attempts; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+path))
		resp, err := req.Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = classify(resp, err)
		if !exchange.IsRetryable(lastErr) || i == attempts-1 {
			break
		}

		var retryAfter time.Duration
		var ra *exchange.RetryAfterError
		if errors.As(lastErr, &ra) {
			retryAfter = ra.After
		}
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(lastErr),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed: %w", lastErr)
}
