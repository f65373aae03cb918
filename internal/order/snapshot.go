package order

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is a consistent copy of the order table and positions.
type Snapshot struct {
	Timestamp int64           `json:"timestamp"`
	Orders    []Order         `json:"orders"`
	Positions []PositionEntry `json:"positions"`
}

// PositionEntry is a single symbol position entry.
type PositionEntry struct {
	Symbol string          `json:"symbol"`
	Qty    decimal.Decimal `json:"qty"`
}

// Snapshot copies the current state, orders sorted by id and positions by
// symbol.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })

	entries := make([]PositionEntry, 0, s.positions.Count())
	for symbol, qty := range s.positions.positions {
		entries = append(entries, PositionEntry{Symbol: symbol, Qty: qty})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Symbol < entries[j].Symbol })

	return Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		Orders:    orders,
		Positions: entries,
	}
}

// Restore replaces the state with the orders of snap. Positions are rebuilt
// from the filled quantities, so they always agree with the orders.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.orders)
	s.positions.reset()
	for i := range snap.Orders {
		o := snap.Orders[i]
		s.orders[o.ID] = &o
		s.positions.ApplyFill(o.Symbol, o.Side, o.FilledQty)
	}
}
