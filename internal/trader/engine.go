package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ai-trade-bot-go/internal/ai"
	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/database"
	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/ledger"
	"ai-trade-bot-go/internal/metrics"
	"ai-trade-bot-go/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrModelNotFound is returned for unknown model ids and names.
var ErrModelNotFound = errors.New("model not found")

// AdapterFactory builds the execution target of a model.
type AdapterFactory func(m models.Model) (exchange.Adapter, error)

// ClientFactory builds the AI decision client of a model.
type ClientFactory func(m models.Model) (ai.Client, error)

// Deps are the collaborators of the engine.
type Deps struct {
	Market   exchange.MarketSource
	Adapters AdapterFactory
	Clients  ClientFactory
	Metrics  *metrics.Metrics
}

// Engine schedules one independent decision loop per model. Cycles of the
// same model never overlap.
type Engine struct {
	UUID      string
	Name      string
	StartTime time.Time

	logger   *zap.Logger
	cfg      *config.Config
	db       *gorm.DB
	ledger   *ledger.Ledger
	market   exchange.MarketSource
	adapters AdapterFactory
	clients  ClientFactory
	metrics  *metrics.Metrics

	aiPolicy     AIPolicy
	retry        RetryPolicy
	cycleTimeout time.Duration
	syncInterval time.Duration
	recentTrades int
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	base    context.Context
	runners map[uint]*modelRunner
	wg      sync.WaitGroup
}

// modelRunner is the per-model slot of the engine. lock is a one-slot
// semaphore held for the duration of a cycle.
type modelRunner struct {
	id       uint
	name     string
	lock     chan struct{}
	cancel   context.CancelFunc
	interval time.Duration

	mu   sync.Mutex
	last *CycleOutcome
}

func (r *modelRunner) tryAcquire() bool {
	select {
	case r.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (r *modelRunner) acquire(ctx context.Context) error {
	select {
	case r.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *modelRunner) release() { <-r.lock }

func (r *modelRunner) busy() bool { return len(r.lock) > 0 }

func (r *modelRunner) setLast(out *CycleOutcome) {
	r.mu.Lock()
	r.last = out
	r.mu.Unlock()
}

func (r *modelRunner) lastOutcome() *CycleOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// NewEngine creates a new trading engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, db *gorm.DB, deps Deps) *Engine {
	m := deps.Metrics
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	cycleTimeout := time.Duration(cfg.Engine.CycleTimeoutSeconds) * time.Second
	if cycleTimeout <= 0 {
		cycleTimeout = 5 * time.Minute
	}
	syncInterval := time.Duration(cfg.Engine.SyncIntervalSeconds) * time.Second
	if syncInterval <= 0 {
		syncInterval = time.Minute
	}
	recent := cfg.AI.RecentTrades
	if recent <= 0 {
		recent = 10
	}

	return &Engine{
		UUID:      uuid.NewString(),
		Name:      "ai-trader",
		StartTime: time.Now(),
		logger:    logger.Named("engine"),
		cfg:       cfg,
		db:        db,
		ledger:    ledger.New(db, logger),
		market:    deps.Market,
		adapters:  deps.Adapters,
		clients:   deps.Clients,
		metrics:   m,
		aiPolicy: AIPolicy{
			Timeout:  time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
			Attempts: cfg.AI.Attempts,
			Delay:    time.Duration(cfg.AI.RetryDelayMs) * time.Millisecond,
		},
		retry: RetryPolicy{
			Attempts:  cfg.Engine.ExecutionAttempts,
			BaseDelay: time.Duration(cfg.Engine.BackoffBaseMs) * time.Millisecond,
			MaxDelay:  time.Duration(cfg.Engine.BackoffMaxMs) * time.Millisecond,
		},
		cycleTimeout: cycleTimeout,
		syncInterval: syncInterval,
		recentTrades: recent,
		now:          time.Now,
		sleep:        sleepContext,
		runners:      make(map[uint]*modelRunner),
	}
}

// Ledger exposes the position ledger the engine books into.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Run starts the schedules of all auto-trading models and keeps them in sync
// with the database until ctx is cancelled. It returns after in-flight cycles
// have finished.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Starting trading engine...")
	e.mu.Lock()
	e.base = ctx
	e.mu.Unlock()

	if err := e.Sync(ctx); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	ticker := time.NewTicker(e.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			e.Shutdown()
			return nil
		case <-ticker.C:
			if err := e.Sync(ctx); err != nil {
				e.logger.Error("Model sync failed", zap.Error(err))
			}
		}
	}
}

// Sync reloads the models and starts, restarts or stops their schedules.
// Models with auto trading off, or live models blocked by a credential
// failure, are not scheduled.
func (e *Engine) Sync(ctx context.Context) error {
	var all []models.Model
	if err := e.db.WithContext(ctx).Find(&all).Error; err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	for _, m := range all {
		if err := e.ledger.OpenAccount(ctx, m.ID, m.InitialCapital); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[uint]bool, len(all))
	for _, m := range all {
		seen[m.ID] = true
		r := e.runnerLocked(m.ID, m.Name)
		want := m.AutoTrading && m.Interval() > 0 && !(m.IsLive() && m.LiveDisabled)

		switch {
		case want && r.cancel == nil:
			e.scheduleLocked(r, m.Interval())
		case want && r.interval != m.Interval():
			r.cancel()
			r.cancel = nil
			e.scheduleLocked(r, m.Interval())
		case !want && r.cancel != nil:
			e.logger.Info("Unscheduling model", zap.Uint("model_id", m.ID), zap.String("model", m.Name))
			r.cancel()
			r.cancel = nil
		}
	}
	for id, r := range e.runners {
		if !seen[id] && r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
	}
	e.updateGaugeLocked()
	return nil
}

// Stop ends the schedule of a model. A cycle already executing runs to
// completion.
func (e *Engine) Stop(modelID uint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runners[modelID]; ok && r.cancel != nil {
		r.cancel()
		r.cancel = nil
		e.logger.Info("Stopped model schedule", zap.Uint("model_id", modelID))
	}
	e.updateGaugeLocked()
}

// Shutdown stops every schedule and waits for in-flight cycles.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, r := range e.runners {
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
	}
	e.updateGaugeLocked()
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) runnerLocked(id uint, name string) *modelRunner {
	r, ok := e.runners[id]
	if !ok {
		r = &modelRunner{id: id, lock: make(chan struct{}, 1)}
		e.runners[id] = r
	}
	if name != "" {
		r.name = name
	}
	return r
}

func (e *Engine) runner(id uint, name string) *modelRunner {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runnerLocked(id, name)
}

func (e *Engine) updateGaugeLocked() {
	n := 0
	for _, r := range e.runners {
		if r.cancel != nil {
			n++
		}
	}
	e.metrics.ActiveRunners.Set(float64(n))
}

func (e *Engine) scheduleLocked(r *modelRunner, interval time.Duration) {
	base := e.base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	r.cancel = cancel
	r.interval = interval

	e.logger.Info("Scheduling model",
		zap.Uint("model_id", r.id),
		zap.String("model", r.name),
		zap.Duration("interval", interval))

	e.wg.Add(1)
	go e.loop(ctx, r, interval)
}

func (e *Engine) loop(ctx context.Context, r *modelRunner, interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx, r)
		}
	}
}

// tick starts a scheduled cycle unless the previous one is still running.
func (e *Engine) tick(ctx context.Context, r *modelRunner) {
	if !r.tryAcquire() {
		e.metrics.SkippedTicks.WithLabelValues(r.name).Inc()
		e.logger.Warn("Previous cycle still running, skipping tick",
			zap.Uint("model_id", r.id), zap.String("model", r.name))
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer r.release()

		m, err := e.Model(ctx, r.id)
		if err != nil {
			e.logger.Error("Failed to load model for cycle", zap.Uint("model_id", r.id), zap.Error(err))
			return
		}
		if !m.AutoTrading {
			return
		}
		r.setLast(e.runCycle(ctx, *m, TriggerScheduled))
	}()
}

// ExecuteNow runs one cycle for a model and returns its outcome. It waits for
// a running cycle of the same model to finish first.
func (e *Engine) ExecuteNow(ctx context.Context, modelID uint) (*CycleOutcome, error) {
	m, err := e.Model(ctx, modelID)
	if err != nil {
		return nil, err
	}
	r := e.runner(m.ID, m.Name)
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	// Reload under the lock so the cycle sees status changes of the last one.
	if m, err = e.Model(ctx, modelID); err != nil {
		return nil, err
	}
	out := e.runCycle(ctx, *m, TriggerManual)
	r.setLast(out)
	return out, nil
}

// Model loads a model by id.
func (e *Engine) Model(ctx context.Context, id uint) (*models.Model, error) {
	var m models.Model
	if err := e.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ModelByName loads a model by its configured name.
func (e *Engine) ModelByName(ctx context.Context, name string) (*models.Model, error) {
	var m models.Model
	if err := e.db.WithContext(ctx).Where("name = ?", name).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Portfolio values the ledger of a model at current market prices. Coins the
// market source cannot price are reported as unpriced.
func (e *Engine) Portfolio(ctx context.Context, modelID uint) (*ledger.Snapshot, error) {
	m, err := e.Model(ctx, modelID)
	if err != nil {
		return nil, err
	}
	positions, err := e.ledger.Positions(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	marks := map[string]float64{}
	var adapter exchange.Adapter
	if m.IsLive() && m.Sandbox {
		if adapter, err = e.adapters(*m); err != nil {
			e.logger.Warn("Sandbox adapter unavailable for portfolio", zap.Error(err))
		}
	}
	if market := e.marketFor(*m, adapter); len(positions) > 0 && market != nil {
		coins := make([]string, 0, len(positions))
		for _, p := range positions {
			coins = append(coins, p.Coin)
		}
		quotes, err := market.Quotes(ctx, coins)
		if err != nil {
			e.logger.Warn("Market data unavailable for portfolio", zap.Error(err))
		}
		for coin, q := range quotes {
			marks[coin] = q.Price
		}
	}
	return e.ledger.Snapshot(ctx, m.ID, marks)
}

// marketFor returns the quote source of a model. Sandbox models are priced
// by the testnet they trade on when their adapter can quote.
func (e *Engine) marketFor(m models.Model, adapter exchange.Adapter) exchange.MarketSource {
	if m.IsLive() && m.Sandbox {
		if market, ok := adapter.(exchange.MarketSource); ok {
			return market
		}
	}
	return e.market
}

// ValidateCredentials checks the exchange credentials of a model. Success
// lifts a live trading block; an authentication failure sets one.
func (e *Engine) ValidateCredentials(ctx context.Context, modelID uint) error {
	m, err := e.Model(ctx, modelID)
	if err != nil {
		return err
	}
	log := e.logger.With(zap.Uint("model_id", m.ID), zap.String("model", m.Name))

	adapter, err := e.adapters(*m)
	if err == nil {
		err = adapter.ValidateCredentials(ctx)
	}
	if err != nil {
		if m.IsLive() && errors.Is(err, exchange.ErrAuth) {
			log.Warn("Credential validation failed, disabling live trading", zap.Error(err))
			if dbErr := database.SetLiveDisabled(e.db.WithContext(ctx), m.ID, true, err.Error()); dbErr != nil {
				log.Error("Failed to persist live trading status", zap.Error(dbErr))
			}
			e.Stop(m.ID)
		}
		return err
	}

	if m.LiveDisabled {
		if err := database.SetLiveDisabled(e.db.WithContext(ctx), m.ID, false, ""); err != nil {
			return err
		}
		log.Info("Credentials valid, live trading re-enabled")
		return e.Sync(ctx)
	}
	return nil
}

// RunnerStatus describes the scheduling state of one model.
type RunnerStatus struct {
	ModelID      uint   `json:"model_id"`
	Model        string `json:"model"`
	Mode         string `json:"mode"`
	Scheduled    bool   `json:"scheduled"`
	Running      bool   `json:"running"`
	Interval     string `json:"interval"`
	LiveDisabled bool   `json:"live_disabled"`
	LastCycleID  string `json:"last_cycle_id,omitempty"`
	LastResult   string `json:"last_result,omitempty"`
	LastFinished string `json:"last_finished,omitempty"`
}

// Status reports every known model, ordered by id.
func (e *Engine) Status(ctx context.Context) ([]RunnerStatus, error) {
	var all []models.Model
	if err := e.db.WithContext(ctx).Order("id").Find(&all).Error; err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RunnerStatus, 0, len(all))
	for _, m := range all {
		st := RunnerStatus{
			ModelID:      m.ID,
			Model:        m.Name,
			Mode:         m.Mode,
			Interval:     m.Interval().String(),
			LiveDisabled: m.LiveDisabled,
		}
		if r, ok := e.runners[m.ID]; ok {
			st.Scheduled = r.cancel != nil
			st.Running = r.busy()
			if last := r.lastOutcome(); last != nil {
				st.LastCycleID = last.CycleID
				st.LastResult = last.Result()
				st.LastFinished = last.FinishedAt.Format(time.RFC3339)
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
