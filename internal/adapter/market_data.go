package adapter

import (
	"perpbot/internal/adapter/enum"

	"github.com/shopspring/decimal"
)

// PriceData is a ticker snapshot of one symbol.
type PriceData struct {
	Symbol     string
	Base       string
	Quote      string
	IndexPrice decimal.Decimal
	LastPrice  decimal.Decimal
	MarkPrice  decimal.Decimal
	MidPrice   decimal.Decimal
	Spread     []decimal.Decimal
	Time       int64
}

// ReferencePrice returns the best available fair price: mark, then mid, then last.
func (p PriceData) ReferencePrice() decimal.Decimal {
	switch {
	case p.MarkPrice.IsPositive():
		return p.MarkPrice
	case p.MidPrice.IsPositive():
		return p.MidPrice
	default:
		return p.LastPrice
	}
}

// Update is one parsed market data frame. Exactly one of Price, Depth and
// Order is set, matching Kind.
type Update struct {
	Kind   enum.ChannelKind
	Symbol string
	Price  *PriceData
	Depth  *DepthBookData
	Order  *OrderUpdateData
}
