package order

import (
	"perpbot/internal/adapter/enum"

	"github.com/shopspring/decimal"
)

// PositionReducer keeps the signed filled quantity per symbol.
type PositionReducer struct {
	positions map[string]decimal.Decimal
}

// NewPositionReducer creates an empty reducer.
func NewPositionReducer() *PositionReducer {
	return &PositionReducer{positions: make(map[string]decimal.Decimal)}
}

// ApplyFill adds qty on side to the position of symbol and returns the new
// position.
func (r *PositionReducer) ApplyFill(symbol string, side enum.OrderSide, qty decimal.Decimal) decimal.Decimal {
	current := r.positions[symbol]
	var next decimal.Decimal
	switch side {
	case enum.OrderSideBuy:
		next = current.Add(qty)
	case enum.OrderSideSell:
		next = current.Sub(qty)
	default:
		next = current
	}
	r.positions[symbol] = next
	return next
}

// Position returns the current position of symbol.
func (r *PositionReducer) Position(symbol string) decimal.Decimal {
	return r.positions[symbol]
}

// Count returns the number of tracked symbols.
func (r *PositionReducer) Count() int {
	return len(r.positions)
}

func (r *PositionReducer) reset() {
	clear(r.positions)
}
