package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"ai-trade-bot-go/internal/ai"
	"ai-trade-bot-go/internal/database"
	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/ledger"
	"ai-trade-bot-go/internal/logger"
	"ai-trade-bot-go/internal/models"
	"ai-trade-bot-go/internal/monitor"
	"ai-trade-bot-go/internal/risk"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is a step of the decision cycle.
type State string

const (
	StateIdle           State = "IDLE"
	StateFetchingMarket State = "FETCHING_MARKET"
	StateAwaitingAI     State = "AWAITING_AI"
	StateValidating     State = "VALIDATING"
	StateExecuting      State = "EXECUTING"
	StateSettling       State = "SETTLING"
	StateFailed         State = "FAILED"
)

// Cycle failure reasons.
const (
	FailNoMarketData = "no_market_data"
	FailTimeout      = "timeout"
	FailLiveDisabled = "live_disabled"
	FailInternal     = "internal"
)

// Per-coin result statuses.
const (
	StatusHold     = "hold"
	StatusRejected = "rejected"
	StatusClamped  = "clamped"
	StatusExecuted = "executed"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
)

// Per-coin result reasons set by the cycle itself.
const (
	ReasonUnbooked         = "unbooked"
	ReasonUnresolved       = "order_unresolved"
	ReasonPositionMismatch = "position_mismatch"
)

// Position mismatch reasons.
const (
	MismatchMissingOnExchange = "missing_on_exchange"
	MismatchMissingInLedger   = "missing_in_ledger"
	MismatchSide              = "side_mismatch"
	MismatchQuantity          = "quantity_mismatch"
)

// quantityTolerance absorbs float noise when comparing ledger and exchange
// quantities.
const quantityTolerance = 1e-8

// errUnresolved marks an order whose placement failed ambiguously and whose
// lookup failed as well. It is never sent again within the cycle.
var errUnresolved = errors.New("order state unknown")

// Cycle triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// settleTimeout bounds bookkeeping that must finish even when the cycle
// context has expired.
const settleTimeout = 10 * time.Second

// CoinResult is what happened to one coin in a cycle.
type CoinResult struct {
	Coin            string   `json:"coin"`
	Signal          string   `json:"signal"`
	Status          string   `json:"status"`
	Reason          string   `json:"reason,omitempty"`
	Adjustments     []string `json:"adjustments,omitempty"`
	Quantity        float64  `json:"quantity,omitempty"`
	Price           float64  `json:"price,omitempty"`
	Leverage        int      `json:"leverage,omitempty"`
	RealizedPnL     float64  `json:"realized_pnl,omitempty"`
	OrderID         string   `json:"order_id,omitempty"`
	ExchangeOrderID string   `json:"exchange_order_id,omitempty"`
	Attempts        int      `json:"attempts,omitempty"`
}

// Mismatch is a difference between a ledger position and the position the
// exchange holds for the same coin.
type Mismatch struct {
	Coin         string  `json:"coin"`
	Reason       string  `json:"reason"`
	LedgerSide   string  `json:"ledger_side,omitempty"`
	LedgerQty    float64 `json:"ledger_quantity,omitempty"`
	ExchangeSide string  `json:"exchange_side,omitempty"`
	ExchangeQty  float64 `json:"exchange_quantity,omitempty"`
}

// UnbookedFill is an order the exchange executed but the ledger failed to
// book. The ledger no longer matches the account until it is repaired.
type UnbookedFill struct {
	Coin            string  `json:"coin"`
	Signal          string  `json:"signal"`
	OrderID         string  `json:"order_id"`
	ExchangeOrderID string  `json:"exchange_order_id"`
	Quantity        float64 `json:"quantity"`
	Price           float64 `json:"price"`
	Leverage        int     `json:"leverage"`
	Error           string  `json:"error"`
}

// CycleOutcome is the full record of one decision cycle.
type CycleOutcome struct {
	CycleID    string                    `json:"cycle_id"`
	ModelID    uint                      `json:"model_id"`
	Model      string                    `json:"model"`
	Trigger    string                    `json:"trigger"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	State      State                     `json:"state"`
	Failure    string                    `json:"failure,omitempty"`
	Trace      []State                   `json:"trace"`
	Market     map[string]exchange.Quote `json:"market,omitempty"`
	Mismatches []Mismatch                `json:"mismatches,omitempty"`
	Protective []CoinResult              `json:"protective,omitempty"`
	Decisions  *ai.DecisionSet           `json:"decisions,omitempty"`
	Results    []CoinResult              `json:"results"`
	Unbooked   []UnbookedFill            `json:"unbooked,omitempty"`
	Snapshot   *ledger.Snapshot          `json:"snapshot,omitempty"`
}

func (o *CycleOutcome) enter(s State) {
	o.State = s
	if n := len(o.Trace); n == 0 || o.Trace[n-1] != s {
		o.Trace = append(o.Trace, s)
	}
}

func (o *CycleOutcome) fail(reason string) {
	o.Failure = reason
	o.enter(StateFailed)
}

// Completed reports whether the cycle went through settlement.
func (o *CycleOutcome) Completed() bool {
	return o.State == StateIdle
}

// Result is "completed" or the failure reason.
func (o *CycleOutcome) Result() string {
	if o.Failure != "" {
		return o.Failure
	}
	return "completed"
}

// AIPolicy bounds the decision request. Running out of attempts yields an
// all-hold decision set, never a failed cycle.
type AIPolicy struct {
	Timeout  time.Duration
	Attempts int
	Delay    time.Duration
}

// RetryPolicy bounds order placement. Only retryable exchange errors are
// retried, with exponential backoff.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// plan is an order about to be executed.
type plan struct {
	Coin     string
	Signal   models.Signal
	Side     models.Side
	Quantity float64
	Price    float64
	Leverage int
	Reason   string
}

// exchangeSide maps a plan onto a buy or sell. Closing a long sells.
func (p plan) exchangeSide() string {
	buy := p.Side == models.SideLong
	if p.Signal == models.SignalClose {
		buy = !buy
	}
	if buy {
		return exchange.SideBuy
	}
	return exchange.SideSell
}

type cycle struct {
	e       *Engine
	model   models.Model
	policy  risk.Policy
	log     *zap.Logger
	adapter exchange.Adapter
	out     *CycleOutcome

	marks       map[string]float64
	remote      map[string]exchange.Position // nil when not reconciled
	mismatched  map[string]bool
	liveBlocked bool
	prompt      string
	response    string
}

// runCycle executes one decision cycle for a model. The cycle is detached
// from parent cancellation and bounded by the cycle timeout instead, so
// stopping a schedule never interrupts a running cycle.
func (e *Engine) runCycle(parent context.Context, m models.Model, trigger string) *CycleOutcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.cycleTimeout)
	defer cancel()

	id := uuid.NewString()
	c := &cycle{
		e:      e,
		model:  m,
		policy: risk.PolicyFor(m),
		log:    logger.ForModel(e.logger, m.ID, m.Name).With(zap.String("cycle_id", id), zap.String("trigger", trigger)),
		out: &CycleOutcome{
			CycleID:   id,
			ModelID:   m.ID,
			Model:     m.Name,
			Trigger:   trigger,
			StartedAt: e.now(),
			State:     StateIdle,
		},
		marks:      map[string]float64{},
		mismatched: map[string]bool{},
	}

	c.log.Info("Starting decision cycle")
	c.run(ctx)
	c.finish(ctx)
	return c.out
}

func (c *cycle) run(ctx context.Context) {
	coins := c.model.CoinList()

	if c.model.IsLive() && c.model.LiveDisabled {
		c.log.Warn("Live trading disabled, skipping cycle", zap.String("reason", c.model.LiveDisabledReason))
		c.out.fail(FailLiveDisabled)
		return
	}
	adapter, err := c.e.adapters(c.model)
	if err != nil {
		c.log.Error("Failed to build execution adapter", zap.Error(err))
		if c.model.IsLive() {
			c.disableLive(ctx, err)
			c.out.fail(FailLiveDisabled)
		} else {
			c.out.fail(FailInternal)
		}
		return
	}
	c.adapter = adapter

	c.out.enter(StateFetchingMarket)
	quotes, err := c.e.marketFor(c.model, adapter).Quotes(ctx, coins)
	if err != nil {
		c.log.Warn("Market data unavailable", zap.Error(err))
	}
	c.out.Market = quotes
	for coin, q := range quotes {
		if q.Price > 0 {
			c.marks[coin] = q.Price
		}
	}

	// Stop-loss and take-profit run before anything that can fail.
	c.protect(ctx)

	if len(c.out.Market) == 0 {
		c.out.fail(FailNoMarketData)
		return
	}
	if c.expired(ctx) {
		return
	}

	c.out.enter(StateAwaitingAI)
	set, err := c.decide(ctx, coins)
	if err != nil {
		c.log.Error("Failed to prepare decision request", zap.Error(err))
		c.out.fail(FailInternal)
		return
	}
	c.out.Decisions = set

	// Validation and execution alternate per coin so every verdict sees the
	// ledger as left by the previous order.
	c.out.enter(StateValidating)
	for _, coin := range coins {
		if c.expired(ctx) {
			return
		}
		res := c.process(ctx, coin, set.Decisions[coin])
		c.out.Results = append(c.out.Results, res)
	}
	if c.expired(ctx) {
		return
	}

	c.out.enter(StateSettling)
	snap, err := c.e.ledger.Snapshot(ctx, c.model.ID, c.marks)
	if err != nil {
		c.log.Error("Failed to compute portfolio snapshot", zap.Error(err))
		c.out.fail(FailInternal)
		return
	}
	if err := c.e.ledger.RecordSnapshot(ctx, c.out.CycleID, snap); err != nil {
		c.log.Error("Failed to record portfolio snapshot", zap.Error(err))
	}
	c.out.Snapshot = snap
	c.out.enter(StateIdle)
}

func (c *cycle) expired(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	c.log.Warn("Cycle timed out", zap.String("state", string(c.out.State)))
	c.out.fail(FailTimeout)
	return true
}

// protect closes every position whose mark crossed its stop-loss or
// take-profit. Coins missing from the market view are priced through the
// adapter. Live positions the exchange does not confirm are left alone.
func (c *cycle) protect(ctx context.Context) {
	positions, err := c.e.ledger.Positions(ctx, c.model.ID)
	if err != nil {
		c.log.Error("Failed to load positions for protective scan", zap.Error(err))
		return
	}
	confirmed := c.reconcile(ctx, positions)
	for _, p := range positions {
		if _, ok := c.marks[p.Coin]; ok {
			continue
		}
		price, err := c.adapter.GetMarkPrice(ctx, p.Coin)
		if err != nil {
			c.log.Warn("No mark price for open position", zap.String("coin", p.Coin), zap.Error(err))
			continue
		}
		c.marks[p.Coin] = price
	}

	for _, t := range monitor.Scan(confirmed, c.marks, monitor.ThresholdsFor(c.model)) {
		c.e.metrics.ProtectiveTriggers.WithLabelValues(t.Reason).Inc()
		c.log.Warn("Protective close triggered",
			zap.String("coin", t.Coin),
			zap.String("reason", t.Reason),
			zap.Float64("avg_entry", t.AvgEntry),
			zap.Float64("mark", t.Mark),
			zap.Float64("return", t.Return))

		res := c.execute(ctx, plan{
			Coin:     t.Coin,
			Signal:   models.SignalClose,
			Side:     t.Side,
			Quantity: t.Quantity,
			Price:    t.Mark,
			Leverage: t.Leverage,
			Reason:   t.Reason,
		})
		if res.Reason == "" {
			res.Reason = t.Reason
		}
		c.out.Protective = append(c.out.Protective, res)
	}
}

// reconcile compares the ledger positions of a live model with the positions
// held on the exchange and records every difference. It returns the
// positions the exchange confirms, capped at the exchange quantity. A coin
// missing on the exchange or held on the other side is excluded from trading
// for the rest of the cycle.
func (c *cycle) reconcile(ctx context.Context, positions []models.Position) []models.Position {
	if !c.model.IsLive() {
		return positions
	}
	remote, err := c.adapter.Positions(ctx)
	if err != nil {
		c.log.Warn("Exchange positions unavailable, trusting the ledger", zap.Error(err))
		return positions
	}
	if remote == nil {
		return positions
	}
	c.remote = remote

	confirmed := make([]models.Position, 0, len(positions))
	booked := make(map[string]bool, len(positions))
	for _, p := range positions {
		booked[p.Coin] = true
		r, ok := remote[p.Coin]
		m := Mismatch{
			Coin:         p.Coin,
			LedgerSide:   string(p.Side),
			LedgerQty:    p.Quantity,
			ExchangeSide: r.Side,
			ExchangeQty:  r.Quantity,
		}
		switch {
		case !ok:
			m.Reason = MismatchMissingOnExchange
		case r.Side != string(p.Side):
			m.Reason = MismatchSide
		case math.Abs(r.Quantity-p.Quantity) > quantityTolerance:
			m.Reason = MismatchQuantity
			p.Quantity = math.Min(p.Quantity, r.Quantity)
		}
		if m.Reason != "" {
			c.mismatch(m)
		}
		if m.Reason == MismatchMissingOnExchange || m.Reason == MismatchSide {
			c.mismatched[p.Coin] = true
			continue
		}
		confirmed = append(confirmed, p)
	}

	unbooked := make([]string, 0)
	for coin := range remote {
		if !booked[coin] {
			unbooked = append(unbooked, coin)
		}
	}
	sort.Strings(unbooked)
	for _, coin := range unbooked {
		r := remote[coin]
		c.mismatch(Mismatch{
			Coin:         coin,
			Reason:       MismatchMissingInLedger,
			ExchangeSide: r.Side,
			ExchangeQty:  r.Quantity,
		})
	}
	return confirmed
}

func (c *cycle) mismatch(m Mismatch) {
	c.e.metrics.PositionMismatches.WithLabelValues(m.Reason).Inc()
	c.log.Warn("Ledger position does not match the exchange",
		zap.String("coin", m.Coin),
		zap.String("reason", m.Reason),
		zap.String("ledger_side", m.LedgerSide),
		zap.Float64("ledger_quantity", m.LedgerQty),
		zap.String("exchange_side", m.ExchangeSide),
		zap.Float64("exchange_quantity", m.ExchangeQty))
	c.out.Mismatches = append(c.out.Mismatches, m)
}

// decide asks the AI for a decision set under the AI policy. Every failure
// short of a broken ledger degrades to an all-hold set.
func (c *cycle) decide(ctx context.Context, coins []string) (*ai.DecisionSet, error) {
	snap, err := c.e.ledger.Snapshot(ctx, c.model.ID, c.marks)
	if err != nil {
		return nil, err
	}
	trades, err := c.e.ledger.RecentTrades(ctx, c.model.ID, c.e.recentTrades)
	if err != nil {
		return nil, err
	}

	req := ai.Request{
		ModelName:      c.model.Name,
		Instruction:    c.model.SystemPrompt,
		InitialCapital: c.model.InitialCapital,
		Coins:          coins,
		Market:         c.out.Market,
		Snapshot:       snap,
		RecentTrades:   trades,
		Policy:         c.policy,
		Now:            c.e.now(),
	}
	c.prompt = ai.BuildPrompt(req)

	client, err := c.e.clients(c.model)
	if err != nil {
		c.log.Error("AI client unavailable, holding all coins", zap.Error(err))
		c.e.metrics.AIFallbacks.Inc()
		return ai.HoldAll(coins, err.Error()), nil
	}

	p := c.e.aiPolicy
	attempts := max(p.Attempts, 1)
	var lastErr error
	for i := 1; i <= attempts; i++ {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		set, err := client.Decide(actx, req)
		cancel()
		if err == nil {
			c.response = set.Raw
			c.log.Info("AI decision received", zap.Int("attempt", i), zap.String("shape", set.Shape))
			return set, nil
		}
		lastErr = err
		c.log.Warn("AI decision failed", zap.Int("attempt", i), zap.Int("max_attempts", attempts), zap.Error(err))
		if i < attempts {
			if err := c.e.sleep(ctx, p.Delay); err != nil {
				break
			}
		}
	}

	c.log.Warn("AI unavailable, holding all coins", zap.Error(lastErr))
	c.e.metrics.AIFallbacks.Inc()
	return ai.HoldAll(coins, lastErr.Error()), nil
}

// process validates and executes the decision for one coin.
func (c *cycle) process(ctx context.Context, coin string, d ai.Decision) CoinResult {
	res := CoinResult{Coin: coin, Signal: string(d.Signal), Quantity: d.Quantity, Leverage: d.Leverage}

	sig, ok := d.Signal.OrderSignal()
	if !ok {
		res.Signal = string(ai.SignalHold)
		res.Status = StatusHold
		return res
	}
	quote, ok := c.out.Market[coin]
	if !ok || quote.Price <= 0 {
		res.Status = StatusSkipped
		res.Reason = FailNoMarketData
		return res
	}
	if c.mismatched[coin] {
		res.Status = StatusSkipped
		res.Reason = ReasonPositionMismatch
		return res
	}

	c.out.enter(StateValidating)
	snap, err := c.e.ledger.Snapshot(ctx, c.model.ID, c.marks)
	if err != nil {
		c.log.Error("Failed to load ledger state", zap.String("coin", coin), zap.Error(err))
		res.Status = StatusFailed
		res.Reason = FailInternal
		return res
	}
	var pos *models.Position
	for i := range snap.Positions {
		if snap.Positions[i].Coin == coin {
			pos = &snap.Positions[i].Position
		}
	}

	qty, lev := d.Quantity, d.Leverage
	side := sig.Side()
	if pos != nil {
		if sig == models.SignalClose {
			// Missing or oversized close quantities close the whole position.
			if qty <= 0 || qty > pos.Quantity {
				qty = pos.Quantity
			}
			if r, ok := c.remote[coin]; ok && qty > r.Quantity {
				qty = r.Quantity
			}
			side = pos.Side
			lev = pos.Leverage
		} else if pos.Side == side {
			lev = pos.Leverage
		}
	}

	verdict := risk.Evaluate(c.policy, risk.Proposal{
		Coin:          coin,
		Signal:        sig,
		Quantity:      qty,
		Leverage:      lev,
		Price:         quote.Price,
		Equity:        snap.TotalEquity,
		OpenPositions: len(snap.Positions),
		HasPosition:   pos != nil,
	})
	c.e.metrics.RiskVerdicts.WithLabelValues(verdict.Outcome.String(), verdict.Reason).Inc()

	if !verdict.Allowed() {
		c.log.Info("Order rejected by risk policy",
			zap.String("coin", coin),
			zap.String("signal", string(sig)),
			zap.String("reason", verdict.Reason))
		res.Status = StatusRejected
		res.Reason = verdict.Reason
		res.Quantity = qty
		res.Leverage = verdict.Leverage
		return res
	}
	if verdict.Outcome == risk.Clamp {
		c.log.Info("Order clamped by risk policy",
			zap.String("coin", coin),
			zap.Strings("adjustments", verdict.Adjustments),
			zap.Float64("requested_quantity", qty),
			zap.Float64("quantity", verdict.Quantity),
			zap.Int("requested_leverage", lev),
			zap.Int("leverage", verdict.Leverage))
	}

	reason := models.ReasonAI
	if c.out.Trigger == TriggerManual {
		reason = models.ReasonManual
	}

	c.out.enter(StateExecuting)
	exec := c.execute(ctx, plan{
		Coin:     coin,
		Signal:   sig,
		Side:     side,
		Quantity: verdict.Quantity,
		Price:    quote.Price,
		Leverage: verdict.Leverage,
		Reason:   reason,
	})
	exec.Signal = string(d.Signal)
	if exec.Status == StatusExecuted && verdict.Outcome == risk.Clamp {
		exec.Status = StatusClamped
		exec.Adjustments = verdict.Adjustments
	}
	return exec
}

// execute sends one order to the adapter and books the fill.
func (c *cycle) execute(ctx context.Context, p plan) CoinResult {
	res := CoinResult{
		Coin:     p.Coin,
		Signal:   string(p.Signal),
		Quantity: p.Quantity,
		Price:    p.Price,
		Leverage: p.Leverage,
	}
	defer func() {
		c.e.metrics.Executions.WithLabelValues(c.model.Mode, res.Status).Inc()
	}()

	if c.model.IsLive() && c.liveBlocked {
		res.Status = StatusFailed
		res.Reason = FailLiveDisabled
		return res
	}

	order := ledger.Order{
		ID:        uuid.NewString(),
		ModelID:   c.model.ID,
		Coin:      p.Coin,
		Signal:    p.Signal,
		Quantity:  p.Quantity,
		Price:     p.Price,
		Leverage:  p.Leverage,
		Reason:    p.Reason,
		Simulated: !c.model.IsLive(),
		At:        c.e.now(),
	}
	res.OrderID = order.ID

	// Orders the ledger would refuse never reach the exchange.
	if err := c.e.ledger.Preflight(ctx, order); err != nil {
		c.log.Info("Order refused by ledger", zap.String("coin", p.Coin), zap.Error(err))
		res.Status = StatusRejected
		res.Reason = ledger.Reason(err)
		return res
	}

	fill, attempts, err := c.place(ctx, exchange.Order{
		ClientID:   order.ID,
		Coin:       p.Coin,
		Side:       p.exchangeSide(),
		Quantity:   p.Quantity,
		Price:      p.Price,
		Leverage:   p.Leverage,
		ReduceOnly: p.Signal == models.SignalClose,
	})
	res.Attempts = attempts
	if err != nil {
		res.Status, res.Reason = StatusFailed, exchangeReason(err)
		switch {
		case errors.Is(err, exchange.ErrAuth):
			c.disableLive(ctx, err)
		case errors.Is(err, exchange.ErrInsufficientFunds):
			res.Status = StatusRejected
		}
		c.log.Warn("Order not executed",
			zap.String("coin", p.Coin),
			zap.String("status", res.Status),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return res
	}

	order.Quantity = fill.FilledQty
	order.Price = fill.FilledPrice
	res.ExchangeOrderID = fill.OrderID

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	result, err := c.e.ledger.ApplyOrder(sctx, order)
	if err != nil {
		c.log.Error("Filled order could not be booked",
			zap.String("coin", p.Coin),
			zap.String("order_id", order.ID),
			zap.String("exchange_order_id", fill.OrderID),
			zap.String("ledger_reason", ledger.Reason(err)),
			zap.Error(err))
		c.e.metrics.UnbookedFills.Inc()
		c.out.Unbooked = append(c.out.Unbooked, UnbookedFill{
			Coin:            p.Coin,
			Signal:          string(p.Signal),
			OrderID:         order.ID,
			ExchangeOrderID: fill.OrderID,
			Quantity:        fill.FilledQty,
			Price:           fill.FilledPrice,
			Leverage:        p.Leverage,
			Error:           err.Error(),
		})
		res.Status = StatusFailed
		res.Reason = ReasonUnbooked
		return res
	}

	res.Status = StatusExecuted
	res.Quantity = result.Trade.Quantity
	res.Price = result.Trade.Price
	res.Leverage = result.Trade.Leverage
	res.RealizedPnL = result.RealizedPnL
	return res
}

// place submits an order under the retry policy and reports the attempts made.
// After a failure that may have reached the exchange the order is looked up
// by its client id: a fill found there is returned, and the order is only
// sent again when the exchange never accepted it.
func (c *cycle) place(ctx context.Context, order exchange.Order) (*exchange.Fill, int, error) {
	attempts := max(c.e.retry.Attempts, 1)
	for i := 1; ; i++ {
		fill, err := c.adapter.PlaceOrder(ctx, order)
		if err == nil {
			return fill, i, nil
		}
		if exchange.IsAmbiguous(err) {
			fill, lerr := c.lookup(ctx, order)
			if lerr == nil {
				c.log.Warn("Order placement failed after the exchange filled it",
					zap.String("coin", order.Coin),
					zap.String("client_id", order.ClientID),
					zap.String("exchange_order_id", fill.OrderID),
					zap.Error(err))
				return fill, i, nil
			}
			if !errors.Is(lerr, exchange.ErrOrderNotFound) {
				return nil, i, fmt.Errorf("%w: %w (lookup: %w)", errUnresolved, err, lerr)
			}
		}
		if !exchange.IsRetryable(err) || i >= attempts || ctx.Err() != nil {
			return nil, i, err
		}

		wait := c.e.retry.Backoff(i)
		var ra *exchange.RetryAfterError
		if errors.As(err, &ra) && ra.After > wait {
			wait = ra.After
		}
		c.e.metrics.ExchangeRetries.Inc()
		c.log.Warn("Order placement failed, retrying",
			zap.String("coin", order.Coin),
			zap.Int("attempt", i),
			zap.Duration("retry_after", wait),
			zap.Error(err))
		if err := c.e.sleep(ctx, wait); err != nil {
			return nil, i, err
		}
	}
}

// lookup finds an order by its client id. It runs on a detached context so an
// expired cycle can still learn whether its last order went through.
func (c *cycle) lookup(ctx context.Context, order exchange.Order) (*exchange.Fill, error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	fill, err := c.adapter.LookupOrder(sctx, order.Coin, order.ClientID)
	switch {
	case err == nil:
		c.e.metrics.OrderLookups.WithLabelValues("filled").Inc()
		if fill.FilledPrice <= 0 {
			fill.FilledPrice = order.Price
		}
		return fill, nil
	case errors.Is(err, exchange.ErrOrderNotFound):
		c.e.metrics.OrderLookups.WithLabelValues("not_found").Inc()
	default:
		c.e.metrics.OrderLookups.WithLabelValues("error").Inc()
		c.log.Error("Order state unknown after failed placement",
			zap.String("coin", order.Coin),
			zap.String("client_id", order.ClientID),
			zap.Error(err))
	}
	return nil, err
}

// disableLive persists the live trading block of the model and stops its
// schedule until the credentials are validated again.
func (c *cycle) disableLive(ctx context.Context, cause error) {
	if !c.model.IsLive() || c.liveBlocked {
		return
	}
	c.liveBlocked = true
	c.log.Error("Disabling live trading", zap.Error(cause))

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err := database.SetLiveDisabled(c.e.db.WithContext(sctx), c.model.ID, true, cause.Error()); err != nil {
		c.log.Error("Failed to persist live trading status", zap.Error(err))
	}
	c.e.Stop(c.model.ID)
}

// finish stamps the outcome, records the conversation and updates metrics.
func (c *cycle) finish(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if c.out.Snapshot == nil {
		if snap, err := c.e.ledger.Snapshot(sctx, c.model.ID, c.marks); err == nil {
			c.out.Snapshot = snap
		}
	}
	c.out.FinishedAt = c.e.now()

	summary, err := json.Marshal(c.out)
	if err != nil {
		c.log.Error("Failed to encode cycle summary", zap.Error(err))
	}
	conv := models.Conversation{
		ModelID:     c.model.ID,
		CycleID:     c.out.CycleID,
		Trigger:     c.out.Trigger,
		State:       c.out.Result(),
		Prompt:      c.prompt,
		AIResponse:  c.response,
		SummaryJSON: string(summary),
	}
	if err := c.e.db.WithContext(sctx).Create(&conv).Error; err != nil {
		c.log.Error("Failed to record conversation", zap.Error(err))
	}

	elapsed := c.out.FinishedAt.Sub(c.out.StartedAt)
	c.e.metrics.CyclesTotal.WithLabelValues(c.out.Result()).Inc()
	c.e.metrics.CycleDuration.Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("result", c.out.Result()),
		zap.Duration("elapsed", elapsed),
		zap.Int("protective", len(c.out.Protective)),
		zap.Int("decisions", len(c.out.Results)),
	}
	if n := len(c.out.Mismatches); n > 0 {
		fields = append(fields, zap.Int("mismatches", n))
	}
	if n := len(c.out.Unbooked); n > 0 {
		fields = append(fields, zap.Int("unbooked", n))
	}
	if c.out.Snapshot != nil {
		fields = append(fields, zap.Float64("equity", c.out.Snapshot.TotalEquity))
	}
	if c.out.Completed() {
		c.log.Info("Decision cycle complete", fields...)
	} else {
		c.log.Warn("Decision cycle failed", fields...)
	}
}

func exchangeReason(err error) string {
	switch {
	case errors.Is(err, errUnresolved):
		return ReasonUnresolved
	case errors.Is(err, exchange.ErrAuth):
		return "auth_failed"
	case errors.Is(err, exchange.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, exchange.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, exchange.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return FailTimeout
	}
	return "exchange_error"
}
