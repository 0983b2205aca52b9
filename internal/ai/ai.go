// Package ai asks a completion API for trade decisions and turns the free-form
// answer into a typed decision set.
package ai

import (
	"context"
	"encoding/json"
	"time"

	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/ledger"
	"ai-trade-bot-go/internal/models"
	"ai-trade-bot-go/internal/risk"
)

// Signal is the action an AI decision asks for.
type Signal string

const (
	SignalBuyToEnter    Signal = "buy_to_enter"
	SignalSellToEnter   Signal = "sell_to_enter"
	SignalClosePosition Signal = "close_position"
	SignalHold          Signal = "hold"
)

// Valid reports whether s is one of the four known signals.
func (s Signal) Valid() bool {
	switch s {
	case SignalBuyToEnter, SignalSellToEnter, SignalClosePosition, SignalHold:
		return true
	}
	return false
}

// OrderSignal maps a decision signal to the ledger signal. Hold maps to false.
func (s Signal) OrderSignal() (models.Signal, bool) {
	switch s {
	case SignalBuyToEnter:
		return models.SignalOpenLong, true
	case SignalSellToEnter:
		return models.SignalOpenShort, true
	case SignalClosePosition:
		return models.SignalClose, true
	}
	return "", false
}

// Decision is the AI's answer for one coin.
type Decision struct {
	Signal         Signal  `json:"signal"`
	Quantity       float64 `json:"quantity"`
	Leverage       int     `json:"leverage"`
	EntryPrice     float64 `json:"entry_price,omitempty"`
	ProfitTarget   float64 `json:"profit_target,omitempty"`
	StopLoss       float64 `json:"stop_loss,omitempty"`
	Confidence     float64 `json:"confidence"`
	Justification  string  `json:"justification,omitempty"`
	RiskAssessment string  `json:"risk_assessment,omitempty"`
}

// Hold returns a hold decision with the given justification.
func Hold(why string) Decision {
	return Decision{Signal: SignalHold, Leverage: 1, Justification: why}
}

// Decode shapes.
const (
	ShapeCanonical  = "canonical"
	ShapePermissive = "permissive"
	ShapeFallback   = "fallback"
)

// DecisionSet holds one decision per tracked coin.
type DecisionSet struct {
	Decisions            map[string]Decision `json:"decisions"`
	MarketAnalysis       json.RawMessage     `json:"market_analysis,omitempty"`
	KeyLevels            json.RawMessage     `json:"key_levels,omitempty"`
	FinalRecommendations []string            `json:"final_recommendations,omitempty"`
	Shape                string              `json:"shape"`
	Fallback             bool                `json:"fallback"`
	FallbackReason       string              `json:"fallback_reason,omitempty"`
	Raw                  string              `json:"-"`
}

// HoldAll is the safe default: hold on every coin.
func HoldAll(coins []string, reason string) *DecisionSet {
	set := &DecisionSet{
		Decisions:      make(map[string]Decision, len(coins)),
		Shape:          ShapeFallback,
		Fallback:       true,
		FallbackReason: reason,
	}
	for _, c := range coins {
		set.Decisions[c] = Hold("AI unavailable, default hold")
	}
	return set
}

// Request is the context a decision is made on.
type Request struct {
	ModelName      string
	Instruction    string
	InitialCapital float64
	Coins          []string
	Market         map[string]exchange.Quote
	Snapshot       *ledger.Snapshot
	RecentTrades   []models.Trade
	Policy         risk.Policy
	Now            time.Time
}

// Client produces a decision set. Errors mean no usable answer was obtained.
type Client interface {
	Decide(ctx context.Context, req Request) (*DecisionSet, error)
}
