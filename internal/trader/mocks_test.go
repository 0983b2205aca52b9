package trader

import (
	"context"
	"sync"
	"testing"
	"time"

	"ai-trade-bot-go/internal/ai"
	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/database"
	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/metrics"
	"ai-trade-bot-go/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MockMarket is a mock type for the exchange.MarketSource interface.
type MockMarket struct {
	mock.Mock
}

func (m *MockMarket) Quotes(ctx context.Context, coins []string) (map[string]exchange.Quote, error) {
	args := m.Called(ctx, coins)
	quotes, _ := args.Get(0).(map[string]exchange.Quote)
	return quotes, args.Error(1)
}

// MockAdapter is a mock type for the exchange.Adapter interface.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) GetMarkPrice(ctx context.Context, coin string) (float64, error) {
	args := m.Called(ctx, coin)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockAdapter) PlaceOrder(ctx context.Context, order exchange.Order) (*exchange.Fill, error) {
	args := m.Called(ctx, order)
	fill, _ := args.Get(0).(*exchange.Fill)
	return fill, args.Error(1)
}

func (m *MockAdapter) LookupOrder(ctx context.Context, coin, clientID string) (*exchange.Fill, error) {
	args := m.Called(ctx, coin, clientID)
	fill, _ := args.Get(0).(*exchange.Fill)
	return fill, args.Error(1)
}

func (m *MockAdapter) Positions(ctx context.Context) (map[string]exchange.Position, error) {
	args := m.Called(ctx)
	positions, _ := args.Get(0).(map[string]exchange.Position)
	return positions, args.Error(1)
}

func (m *MockAdapter) ValidateCredentials(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockQuotingAdapter is an execution target that also serves quotes, the
// way a testnet client does.
type MockQuotingAdapter struct {
	MockAdapter
}

func (m *MockQuotingAdapter) Quotes(ctx context.Context, coins []string) (map[string]exchange.Quote, error) {
	args := m.Called(ctx, coins)
	quotes, _ := args.Get(0).(map[string]exchange.Quote)
	return quotes, args.Error(1)
}

// MockClient is a mock type for the ai.Client interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Decide(ctx context.Context, req ai.Request) (*ai.DecisionSet, error) {
	args := m.Called(ctx, req)
	set, _ := args.Get(0).(*ai.DecisionSet)
	return set, args.Error(1)
}

type harness struct {
	engine  *Engine
	db      *gorm.DB
	model   models.Model
	market  *MockMarket
	adapter exchange.Adapter
	client  *MockClient
	metrics *metrics.Metrics

	mu    sync.Mutex
	slept []time.Duration
}

func (h *harness) sleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.slept...)
}

func testConfig(mc config.ModelConfig) *config.Config {
	return &config.Config{
		AI: config.AI{
			TimeoutSeconds: 5,
			Attempts:       2,
			RetryDelayMs:   10,
			RecentTrades:   5,
		},
		Engine: config.Engine{
			CycleTimeoutSeconds: 30,
			ExecutionAttempts:   3,
			BackoffBaseMs:       100,
			BackoffMaxMs:        250,
		},
		Models: []config.ModelConfig{mc},
	}
}

// setupEngine seeds one model and wires an engine around mocks. A nil
// adapter selects the simulated exchange backed by the market mock.
func setupEngine(t *testing.T, mc config.ModelConfig, adapter exchange.Adapter) *harness {
	t.Helper()
	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)

	cfg := testConfig(mc)
	seeded, err := database.SeedModels(db, cfg)
	require.NoError(t, err)

	h := &harness{
		db:      db,
		model:   seeded[0],
		market:  new(MockMarket),
		client:  new(MockClient),
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	}
	if adapter == nil {
		adapter = exchange.NewSimulated(h.market)
	}
	h.adapter = adapter

	h.engine = NewEngine(zap.NewNop(), cfg, db, Deps{
		Market:   h.market,
		Adapters: func(models.Model) (exchange.Adapter, error) { return h.adapter, nil },
		Clients:  func(models.Model) (ai.Client, error) { return h.client, nil },
		Metrics:  h.metrics,
	})
	h.engine.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.slept = append(h.slept, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	return h
}

func quotes(prices map[string]float64) map[string]exchange.Quote {
	out := make(map[string]exchange.Quote, len(prices))
	for coin, p := range prices {
		out[coin] = exchange.Quote{Coin: coin, Price: p}
	}
	return out
}

func decisions(d map[string]ai.Decision) *ai.DecisionSet {
	return &ai.DecisionSet{Decisions: d, Shape: ai.ShapeCanonical, Raw: "{}"}
}
