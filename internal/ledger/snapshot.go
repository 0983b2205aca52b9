package ledger

import (
	"context"
	"fmt"
	"sort"

	"ai-trade-bot-go/internal/models"
)

// PositionView is an open position valued at its mark price.
type PositionView struct {
	models.Position
	Mark          float64 `json:"mark,omitempty"`
	Priced        bool    `json:"priced"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Margin        float64 `json:"margin"`
}

// Snapshot is the derived portfolio view of a model.
type Snapshot struct {
	ModelID        uint           `json:"model_id"`
	Cash           float64        `json:"cash"`
	MarginUsed     float64        `json:"margin_used"`
	PositionsValue float64        `json:"positions_value"`
	RealizedPnL    float64        `json:"realized_pnl"`
	UnrealizedPnL  float64        `json:"unrealized_pnl"`
	TotalEquity    float64        `json:"total_equity"`
	Positions      []PositionView `json:"positions"`
	Unpriced       []string       `json:"unpriced,omitempty"`
}

// UnrealizedPnL values a position at mark: (mark - avg) * qty * sign * leverage.
func UnrealizedPnL(p models.Position, mark float64) float64 {
	lev := p.Leverage
	if lev < 1 {
		lev = 1
	}
	return (mark - p.AvgEntry) * p.Quantity * p.Side.Sign() * float64(lev)
}

// Snapshot computes the portfolio of a model from its cash account, its open
// positions and the given marks. Positions without a mark are listed in
// Unpriced and left out of the unrealized figure.
func (l *Ledger) Snapshot(ctx context.Context, modelID uint, marks map[string]float64) (*Snapshot, error) {
	acct, err := l.Account(ctx, modelID)
	if err != nil {
		return nil, err
	}
	positions, err := l.Positions(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return Compute(acct, positions, marks), nil
}

// Compute builds a snapshot from already loaded state.
func Compute(acct *models.Account, positions []models.Position, marks map[string]float64) *Snapshot {
	snap := &Snapshot{
		ModelID:     acct.ModelID,
		Cash:        acct.Cash,
		RealizedPnL: acct.RealizedPnL,
		Positions:   make([]PositionView, 0, len(positions)),
	}

	for _, p := range positions {
		view := PositionView{Position: p, Margin: p.Margin()}
		snap.MarginUsed += view.Margin

		if mark, ok := marks[p.Coin]; ok && mark > 0 {
			view.Mark = mark
			view.Priced = true
			view.UnrealizedPnL = UnrealizedPnL(p, mark)
			snap.UnrealizedPnL += view.UnrealizedPnL
			snap.PositionsValue += p.Quantity * mark
		} else {
			snap.Unpriced = append(snap.Unpriced, p.Coin)
			snap.PositionsValue += p.Quantity * p.AvgEntry
		}
		snap.Positions = append(snap.Positions, view)
	}
	sort.Strings(snap.Unpriced)

	snap.TotalEquity = snap.Cash + snap.MarginUsed + snap.UnrealizedPnL
	return snap
}

// RecordSnapshot appends the snapshot to the account value history.
func (l *Ledger) RecordSnapshot(ctx context.Context, cycleID string, snap *Snapshot) error {
	row := models.PortfolioSnapshot{
		ModelID:        snap.ModelID,
		CycleID:        cycleID,
		Cash:           snap.Cash,
		MarginUsed:     snap.MarginUsed,
		PositionsValue: snap.PositionsValue,
		RealizedPnL:    snap.RealizedPnL,
		UnrealizedPnL:  snap.UnrealizedPnL,
		TotalEquity:    snap.TotalEquity,
		OpenPositions:  len(snap.Positions),
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record portfolio snapshot: %w", err)
	}
	return nil
}
