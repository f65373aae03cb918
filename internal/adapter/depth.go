package adapter

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DepthRow is one price level of a book side.
type DepthRow struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// DepthBookData is a book snapshot. Bids are sorted descending, asks ascending.
type DepthBookData struct {
	Symbol string
	Bids   []DepthRow
	Asks   []DepthRow
}

// BestBid returns the highest bid, if any.
func (d DepthBookData) BestBid() (DepthRow, bool) {
	if len(d.Bids) == 0 {
		return DepthRow{}, false
	}
	return d.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (d DepthBookData) BestAsk() (DepthRow, bool) {
	if len(d.Asks) == 0 {
		return DepthRow{}, false
	}
	return d.Asks[0], true
}

// Mid returns the midpoint of the top of book, or false when a side is empty.
func (d DepthBookData) Mid() (decimal.Decimal, bool) {
	bid, okBid := d.BestBid()
	ask, okAsk := d.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Debug returns a human readable format string
func (d DepthBookData) Debug() string {
	appendSide := func(sb *strings.Builder, rows []DepthRow) {
		sb.WriteByte('[')
		for i, r := range rows {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('(')
			sb.WriteString(r.Price.String())
			sb.WriteByte(',')
			sb.WriteString(r.Quantity.String())
			sb.WriteByte(')')
		}
		sb.WriteByte(']')
	}

	var sb strings.Builder
	sb.WriteString("Depth{symbol=")
	sb.WriteString(d.Symbol)
	sb.WriteString(" bids=")
	appendSide(&sb, d.Bids)
	sb.WriteString(" asks=")
	appendSide(&sb, d.Asks)
	sb.WriteByte('}')
	return sb.String()
}
