package ai

import (
	"fmt"
	"strings"
)

// DefaultInstruction opens the prompt when a model has no custom system prompt.
const DefaultInstruction = "You are a professional cryptocurrency futures trader. " +
	"Analyse the market data, the account and the open positions below and decide, " +
	"for every coin, whether to enter long, enter short, close the position or hold."

// BuildPrompt renders the user prompt of a decision request.
func BuildPrompt(req Request) string {
	var b strings.Builder

	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		instruction = DefaultInstruction
	}
	b.WriteString(instruction)
	b.WriteString("\n\n")

	if !req.Now.IsZero() {
		fmt.Fprintf(&b, "TIME: %s\n\n", req.Now.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	b.WriteString("MARKET DATA:\n")
	for _, coin := range req.Coins {
		q, ok := req.Market[coin]
		if !ok {
			fmt.Fprintf(&b, "%s: unavailable\n", coin)
			continue
		}
		fmt.Fprintf(&b, "%s: $%.4f (%+.2f%%)\n", coin, q.Price, q.Change24h)
	}

	var indicators []string
	for _, coin := range req.Coins {
		if q, ok := req.Market[coin]; ok && q.Indicators != nil {
			ind := q.Indicators
			indicators = append(indicators, fmt.Sprintf("%s: SMA7 $%.4f, SMA14 $%.4f, RSI14 %.1f, 7d %+.2f%%",
				coin, ind.SMA7, ind.SMA14, ind.RSI14, ind.Change7d))
		}
	}
	if len(indicators) > 0 {
		b.WriteString("\nTECHNICAL INDICATORS (daily):\n")
		b.WriteString(strings.Join(indicators, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\nACCOUNT STATUS:\n")
	if s := req.Snapshot; s != nil {
		fmt.Fprintf(&b, "- Initial Capital: $%.2f\n", req.InitialCapital)
		fmt.Fprintf(&b, "- Total Value: $%.2f\n", s.TotalEquity)
		fmt.Fprintf(&b, "- Cash: $%.2f\n", s.Cash)
		fmt.Fprintf(&b, "- Margin Used: $%.2f\n", s.MarginUsed)
		fmt.Fprintf(&b, "- Realized P&L: $%.2f\n", s.RealizedPnL)
		fmt.Fprintf(&b, "- Unrealized P&L: $%.2f\n", s.UnrealizedPnL)
		if req.InitialCapital > 0 {
			fmt.Fprintf(&b, "- Total Return: %.2f%%\n", (s.TotalEquity-req.InitialCapital)/req.InitialCapital*100)
		}
	}

	b.WriteString("\nCURRENT POSITIONS:\n")
	if req.Snapshot == nil || len(req.Snapshot.Positions) == 0 {
		b.WriteString("None\n")
	} else {
		for _, p := range req.Snapshot.Positions {
			fmt.Fprintf(&b, "- %s %s: %.6f @ $%.4f (%dx)", p.Coin, p.Side, p.Quantity, p.AvgEntry, p.Leverage)
			if p.Priced {
				fmt.Fprintf(&b, ", mark $%.4f, unrealized $%.2f", p.Mark, p.UnrealizedPnL)
			}
			b.WriteString("\n")
		}
	}

	if len(req.RecentTrades) > 0 {
		b.WriteString("\nRECENT TRADES:\n")
		for _, t := range req.RecentTrades {
			fmt.Fprintf(&b, "- %s %s %s %.6f @ $%.4f (%dx)",
				t.Timestamp.UTC().Format("01-02 15:04"), t.Coin, t.Signal, t.Quantity, t.Price, t.Leverage)
			if t.Signal == "close" {
				fmt.Fprintf(&b, " pnl $%.2f", t.RealizedPnL)
			}
			if t.Reason != "" && t.Reason != "ai" {
				fmt.Fprintf(&b, " [%s]", t.Reason)
			}
			b.WriteString("\n")
		}
	}

	p := req.Policy
	b.WriteString("\nTRADING RULES:\n")
	b.WriteString("1. Signals: buy_to_enter (long), sell_to_enter (short), close_position, hold\n")
	b.WriteString("2. Risk Management:\n")
	if p.PositionLimitEnabled {
		fmt.Fprintf(&b, "   - Max %d open positions\n", p.MaxPositions)
	}
	if p.RiskLimitEnabled {
		fmt.Fprintf(&b, "   - Notional (quantity x price x leverage) at most %.1f%% of equity per trade\n", p.MaxRiskPerTrade*100)
	}
	if p.LeverageCapEnabled {
		fmt.Fprintf(&b, "   - Leverage 1-%dx\n", p.MaxLeverage)
	}
	b.WriteString("3. Quantity is in coin units. Omit quantity on close_position to close fully.\n")

	b.WriteString(`
OUTPUT FORMAT (JSON only):
` + "```json" + `
{
  "market_analysis": {"trend": "up|down|range", "confidence": 70, "key_indicators": "..."},
  "key_levels": {"BTC": {"support": 42000.0, "resistance": 46000.0}},
  "trading_decisions": {
    "COIN": {
      "signal": "buy_to_enter|sell_to_enter|close_position|hold",
      "quantity": 0.5,
      "leverage": 5,
      "profit_target": 45000.0,
      "stop_loss": 42000.0,
      "confidence": 0.75,
      "justification": "Brief reason"
    }
  },
  "final_recommendations": ["..."]
}
` + "```" + `

Analyze and output JSON only.
`)
	return b.String()
}
