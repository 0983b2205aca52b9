package trader

import (
	"fmt"
	"sync"
	"time"

	"ai-trade-bot-go/internal/ai"
	"ai-trade-bot-go/internal/binance"
	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/credentials"
	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/metrics"
	"ai-trade-bot-go/internal/models"
	"go.uber.org/zap"
)

// reveal decrypts a stored secret. Without a cipher, values are taken as
// plaintext.
func reveal(cipher *credentials.Cipher, stored string) (string, error) {
	if cipher == nil || stored == "" {
		return stored, nil
	}
	return cipher.Decrypt(stored)
}

type cachedAdapter struct {
	key     string
	adapter exchange.Adapter
}

// NewAdapterFactory wires paper models to exchange.Simulated and live models
// to a Binance futures client built from the decrypted credential. Live
// clients are cached per model until the credential or sandbox flag changes.
func NewAdapterFactory(cfg *config.Config, cipher *credentials.Cipher, market exchange.MarketSource, logger *zap.Logger) AdapterFactory {
	sim := exchange.NewSimulated(market)
	var mu sync.Mutex
	cache := map[uint]cachedAdapter{}

	return func(m models.Model) (exchange.Adapter, error) {
		if !m.IsLive() {
			return sim, nil
		}
		if m.ExchangeCredential == "" {
			return nil, fmt.Errorf("%w: no exchange credential configured", exchange.ErrAuth)
		}

		key := fmt.Sprintf("%t|%s", m.Sandbox, m.ExchangeCredential)
		mu.Lock()
		defer mu.Unlock()
		if c, ok := cache[m.ID]; ok && c.key == key {
			return c.adapter, nil
		}

		plain, err := reveal(cipher, m.ExchangeCredential)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", exchange.ErrAuth, err)
		}
		creds, err := binance.ParseCredentials(plain)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", exchange.ErrAuth, err)
		}
		client := binance.NewRestClient(&cfg.Binance, creds, m.Sandbox,
			logger.Named("binance").With(zap.Uint("model_id", m.ID)))
		cache[m.ID] = cachedAdapter{key: key, adapter: client}
		return client, nil
	}
}

type cachedClient struct {
	key    string
	client ai.Client
}

// NewClientFactory builds one OpenAI compatible client per model, reporting
// request latency to met.
func NewClientFactory(cfg *config.Config, cipher *credentials.Cipher, met *metrics.Metrics, logger *zap.Logger) ClientFactory {
	var mu sync.Mutex
	cache := map[uint]cachedClient{}

	return func(m models.Model) (ai.Client, error) {
		if m.AIKey == "" {
			return nil, fmt.Errorf("model %s has no AI key configured", m.Name)
		}

		key := m.AIBaseURL + "|" + m.AIModel + "|" + m.AIKey
		mu.Lock()
		defer mu.Unlock()
		if c, ok := cache[m.ID]; ok && c.key == key {
			return c.client, nil
		}

		apiKey, err := reveal(cipher, m.AIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt AI key: %w", err)
		}
		client := ai.NewOpenAIClient(cfg.AI, m.AIBaseURL, m.AIModel, apiKey, logger.With(zap.Uint("model_id", m.ID)))
		if met != nil {
			client.ObserveLatency(func(d time.Duration) { met.AILatency.Observe(d.Seconds()) })
		}
		cache[m.ID] = cachedClient{key: key, client: client}
		return client, nil
	}
}
