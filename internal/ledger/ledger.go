// Package ledger owns the position and cash state of each model and applies
// validated orders to it, one atomic transaction per order.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"ai-trade-bot-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// quantityEpsilon is the residual quantity treated as fully closed.
const quantityEpsilon = 1e-9

var (
	ErrInvalidOrder         = errors.New("invalid_order")
	ErrInsufficientCash     = errors.New("insufficient_cash")
	ErrConflictingDirection = errors.New("conflicting_direction")
	ErrDuplicateOrder       = errors.New("duplicate_order_id")
	ErrNoPosition           = errors.New("no_position_to_close")
	ErrAccountNotFound      = errors.New("account_not_found")
)

// Reason returns the short name of a ledger error, or "internal" for errors
// the ledger does not define.
func Reason(err error) string {
	for _, known := range []error{
		ErrInvalidOrder, ErrInsufficientCash, ErrConflictingDirection,
		ErrDuplicateOrder, ErrNoPosition, ErrAccountNotFound,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal"
}

// Order is a validated order ready to be booked. ID is assigned by the caller
// and makes the application idempotent.
type Order struct {
	ID        string
	ModelID   uint
	Coin      string
	Signal    models.Signal
	Quantity  float64
	Price     float64
	Leverage  int
	Reason    string
	Simulated bool
	At        time.Time
}

// Result is the effect of one applied order. Position is nil once closed.
type Result struct {
	Position    *models.Position `json:"position,omitempty"`
	RealizedPnL float64          `json:"realized_pnl"`
	CashDelta   float64          `json:"cash_delta"`
	Trade       models.Trade     `json:"trade"`
}

// Ledger books orders against the database.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a ledger.
func New(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger.Named("ledger")}
}

// OpenAccount creates the cash account of a model if it does not exist yet.
func (l *Ledger) OpenAccount(ctx context.Context, modelID uint, capital float64) error {
	acct := models.Account{ModelID: modelID, Cash: capital}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "model_id"}}, DoNothing: true}).
		Create(&acct).Error
	if err != nil {
		return fmt.Errorf("failed to open account for model %d: %w", modelID, err)
	}
	return nil
}

// ApplyOrder books an order. It either fully applies (position, cash and
// trade row) or changes nothing.
func (l *Ledger) ApplyOrder(ctx context.Context, order Order) (*Result, error) {
	var res *Result
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = apply(tx, order, true)
		return err
	})
	if err != nil {
		l.logger.Warn("Order not applied",
			zap.Uint("model_id", order.ModelID),
			zap.String("order_id", order.ID),
			zap.String("coin", order.Coin),
			zap.String("signal", string(order.Signal)),
			zap.Error(err))
		return nil, err
	}

	l.logger.Info("Order applied",
		zap.Uint("model_id", order.ModelID),
		zap.String("order_id", order.ID),
		zap.String("coin", order.Coin),
		zap.String("signal", string(order.Signal)),
		zap.Float64("quantity", res.Trade.Quantity),
		zap.Float64("price", order.Price),
		zap.Float64("realized_pnl", res.RealizedPnL),
		zap.Float64("cash_delta", res.CashDelta))
	return res, nil
}

// Preflight runs the checks of ApplyOrder without writing anything.
func (l *Ledger) Preflight(ctx context.Context, order Order) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := apply(tx, order, false)
		return err
	})
	return err
}

func apply(tx *gorm.DB, order Order, commit bool) (*Result, error) {
	if order.ID == "" || order.Coin == "" || order.Price <= 0 || order.Quantity <= 0 {
		return nil, ErrInvalidOrder
	}
	if !order.Signal.IsOpen() && order.Signal != models.SignalClose {
		return nil, fmt.Errorf("%w: unknown signal %q", ErrInvalidOrder, order.Signal)
	}

	var dup int64
	if err := tx.Model(&models.Trade{}).Where("order_id = ?", order.ID).Count(&dup).Error; err != nil {
		return nil, err
	}
	if dup > 0 {
		return nil, ErrDuplicateOrder
	}

	var acct models.Account
	if err := tx.Where("model_id = ?", order.ModelID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	var pos *models.Position
	var existing models.Position
	err := tx.Where("model_id = ? AND coin = ?", order.ModelID, order.Coin).First(&existing).Error
	switch {
	case err == nil:
		pos = &existing
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	at := order.At
	if at.IsZero() {
		at = time.Now()
	}

	var res *Result
	if order.Signal.IsOpen() {
		res, err = applyOpen(&acct, pos, order, at)
	} else {
		res, err = applyClose(&acct, pos, order, at)
	}
	if err != nil || !commit {
		return res, err
	}

	if err := tx.Save(&acct).Error; err != nil {
		return nil, err
	}
	if res.Position != nil {
		if err := tx.Save(res.Position).Error; err != nil {
			return nil, err
		}
	} else if pos != nil {
		// Hard delete so the (model, coin) slot can be reopened.
		if err := tx.Unscoped().Delete(pos).Error; err != nil {
			return nil, err
		}
	}
	if err := tx.Create(&res.Trade).Error; err != nil {
		return nil, err
	}
	return res, nil
}

func applyOpen(acct *models.Account, pos *models.Position, order Order, at time.Time) (*Result, error) {
	side := order.Signal.Side()
	lev := order.Leverage
	if lev < 1 {
		lev = 1
	}

	if pos != nil {
		if pos.Side != side {
			return nil, ErrConflictingDirection
		}
		// Adds keep the position's leverage so margin stays qty*avg/leverage.
		lev = pos.Leverage
	}

	margin := order.Quantity * order.Price / float64(lev)
	if acct.Cash+quantityEpsilon < margin {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, margin, acct.Cash)
	}

	var next models.Position
	if pos == nil {
		next = models.Position{
			ModelID:  order.ModelID,
			Coin:     order.Coin,
			Side:     side,
			Quantity: order.Quantity,
			AvgEntry: order.Price,
			Leverage: lev,
			OpenedAt: at,
		}
	} else {
		next = *pos
		total := pos.Quantity + order.Quantity
		next.AvgEntry = (pos.Quantity*pos.AvgEntry + order.Quantity*order.Price) / total
		next.Quantity = total
	}

	acct.Cash -= margin
	return &Result{
		Position:  &next,
		CashDelta: -margin,
		Trade:     tradeFor(order, side, order.Quantity, lev, 0, at),
	}, nil
}

func applyClose(acct *models.Account, pos *models.Position, order Order, at time.Time) (*Result, error) {
	if pos == nil {
		return nil, ErrNoPosition
	}

	qty := math.Min(order.Quantity, pos.Quantity)
	pnl := (order.Price - pos.AvgEntry) * qty * pos.Side.Sign()
	released := pos.Margin() * qty / pos.Quantity
	credit := released + pnl

	acct.Cash += credit
	acct.RealizedPnL += pnl

	var next *models.Position
	if remaining := pos.Quantity - qty; remaining > quantityEpsilon {
		p := *pos
		p.Quantity = remaining
		next = &p
	}

	return &Result{
		Position:    next,
		RealizedPnL: pnl,
		CashDelta:   credit,
		Trade:       tradeFor(order, pos.Side, qty, pos.Leverage, pnl, at),
	}, nil
}

func tradeFor(order Order, side models.Side, qty float64, lev int, pnl float64, at time.Time) models.Trade {
	return models.Trade{
		ModelID:     order.ModelID,
		OrderID:     order.ID,
		Coin:        order.Coin,
		Signal:      order.Signal,
		Side:        side,
		Quantity:    qty,
		Price:       order.Price,
		Leverage:    lev,
		RealizedPnL: pnl,
		Reason:      order.Reason,
		Simulated:   order.Simulated,
		Timestamp:   at,
	}
}

// Account returns the cash account of a model.
func (l *Ledger) Account(ctx context.Context, modelID uint) (*models.Account, error) {
	var acct models.Account
	if err := l.db.WithContext(ctx).Where("model_id = ?", modelID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// Positions returns the open positions of a model ordered by coin.
func (l *Ledger) Positions(ctx context.Context, modelID uint) ([]models.Position, error) {
	var positions []models.Position
	if err := l.db.WithContext(ctx).Where("model_id = ?", modelID).Order("coin").Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	return positions, nil
}

// RecentTrades returns the last n trades of a model, newest first.
func (l *Ledger) RecentTrades(ctx context.Context, modelID uint, n int) ([]models.Trade, error) {
	var trades []models.Trade
	if err := l.db.WithContext(ctx).Where("model_id = ?", modelID).
		Order("timestamp desc, id desc").Limit(n).Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	return trades, nil
}
