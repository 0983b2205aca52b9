package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyResponse = errors.New("empty AI response")
	ErrMalformed     = errors.New("malformed AI response")
)

// canonical is the documented response shape.
type canonical struct {
	MarketAnalysis       json.RawMessage     `json:"market_analysis"`
	KeyLevels            json.RawMessage     `json:"key_levels"`
	TradingDecisions     map[string]Decision `json:"trading_decisions"`
	FinalRecommendations []string            `json:"final_recommendations"`
}

// ParseDecisionSet decodes an AI answer. The canonical shape is tried first
// with a strict decoder; anything else goes through a permissive decode where
// unusable fields fall back to hold. Tracked coins without a decision hold.
func ParseDecisionSet(content string, coins []string) (*DecisionSet, error) {
	body := extractJSON(content)
	if body == "" {
		return nil, ErrEmptyResponse
	}

	set, err := decodeCanonical(body)
	if err != nil {
		set, err = decodePermissive(body)
		if err != nil {
			return nil, err
		}
	}
	set.Raw = content
	set.Decisions = normalize(set.Decisions, coins)
	return set, nil
}

// extractJSON strips markdown fences and surrounding prose.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if _, after, ok := strings.Cut(s, "```json"); ok {
		s, _, _ = strings.Cut(after, "```")
	} else if _, after, ok := strings.Cut(s, "```"); ok {
		s, _, _ = strings.Cut(after, "```")
	}
	s = strings.TrimSpace(s)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

func decodeCanonical(body string) (*DecisionSet, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var c canonical
	if err := dec.Decode(&c); err != nil {
		return nil, err
	}
	if c.TradingDecisions == nil {
		return nil, errors.New("missing trading_decisions")
	}
	for coin, d := range c.TradingDecisions {
		if !d.Signal.Valid() {
			return nil, fmt.Errorf("unknown signal %q for %s", d.Signal, coin)
		}
	}
	return &DecisionSet{
		Decisions:            c.TradingDecisions,
		MarketAnalysis:       c.MarketAnalysis,
		KeyLevels:            c.KeyLevels,
		FinalRecommendations: c.FinalRecommendations,
		Shape:                ShapeCanonical,
	}, nil
}

func decodePermissive(body string) (*DecisionSet, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	set := &DecisionSet{Shape: ShapePermissive, Decisions: map[string]Decision{}}
	entries := top
	if raw, ok := lookup(top, "trading_decisions"); ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err == nil {
			entries = nested
		}
	}
	if raw, ok := lookup(top, "market_analysis"); ok {
		set.MarketAnalysis = raw
	}
	if raw, ok := lookup(top, "key_levels"); ok {
		set.KeyLevels = raw
	}
	if raw, ok := lookup(top, "final_recommendations"); ok {
		set.FinalRecommendations = stringList(raw)
	}

	for key, raw := range entries {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		if _, ok := fields["signal"]; !ok {
			continue
		}
		set.Decisions[key] = looseDecision(fields)
	}
	if len(set.Decisions) == 0 {
		return nil, fmt.Errorf("%w: no decisions found", ErrMalformed)
	}
	return set, nil
}

func lookup(m map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) && len(bytes.TrimSpace(v)) > 0 && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func stringList(raw json.RawMessage) []string {
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		var one string
		if json.Unmarshal(raw, &one) == nil && one != "" {
			return []string{one}
		}
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

var signalAliases = map[string]Signal{
	"buy_to_enter":   SignalBuyToEnter,
	"buy":            SignalBuyToEnter,
	"long":           SignalBuyToEnter,
	"open_long":      SignalBuyToEnter,
	"sell_to_enter":  SignalSellToEnter,
	"sell":           SignalSellToEnter,
	"short":          SignalSellToEnter,
	"open_short":     SignalSellToEnter,
	"close_position": SignalClosePosition,
	"close":          SignalClosePosition,
	"exit":           SignalClosePosition,
	"hold":           SignalHold,
	"wait":           SignalHold,
}

// looseDecision reads a decision out of untyped fields. An entering signal
// without a usable quantity degrades to hold.
func looseDecision(fields map[string]any) Decision {
	d := Hold("")
	sig, _ := fields["signal"].(string)
	if s, ok := signalAliases[strings.ToLower(strings.TrimSpace(sig))]; ok {
		d.Signal = s
	} else {
		d.Justification = fmt.Sprintf("unrecognized signal %q", sig)
		return d
	}

	qty, qtyOK := number(fields["quantity"])
	if qtyOK {
		d.Quantity = qty
	}
	if lev, ok := number(fields["leverage"]); ok && lev >= 1 {
		d.Leverage = int(lev)
	}
	d.Confidence, _ = number(fields["confidence"])
	d.ProfitTarget, _ = number(fields["profit_target"])
	d.StopLoss, _ = number(fields["stop_loss"])
	d.EntryPrice, _ = number(fields["entry_price"])
	if s, ok := fields["justification"].(string); ok {
		d.Justification = s
	}
	if s, ok := fields["risk_assessment"].(string); ok {
		d.RiskAssessment = s
	}

	if (d.Signal == SignalBuyToEnter || d.Signal == SignalSellToEnter) && (!qtyOK || qty <= 0) {
		return Hold("entry without a usable quantity")
	}
	return d
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// normalize upper-cases coin keys, drops untracked coins and fills missing
// ones with hold.
func normalize(in map[string]Decision, coins []string) map[string]Decision {
	byCoin := make(map[string]Decision, len(in))
	for k, d := range in {
		if d.Leverage < 1 {
			d.Leverage = 1
		}
		byCoin[strings.ToUpper(strings.TrimSpace(k))] = d
	}
	out := make(map[string]Decision, len(coins))
	for _, c := range coins {
		if d, ok := byCoin[c]; ok {
			out[c] = d
		} else {
			out[c] = Hold("no decision returned")
		}
	}
	return out
}
