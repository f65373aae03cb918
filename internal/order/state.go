package order

import (
	"sort"
	"sync"

	"perpbot/internal/adapter"
	"perpbot/internal/adapter/enum"
	"perpbot/internal/obs"
	"perpbot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Order is the tracked view of one exchange order.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          enum.OrderSide
	Type          enum.OrderType
	Status        enum.OrderStatus
	Qty           decimal.Decimal
	FilledQty     decimal.Decimal
	Price         decimal.Decimal
}

// Remaining is the quantity still working on the book.
func (o Order) Remaining() decimal.Decimal {
	if o.Status.IsTerminal() {
		return decimal.Zero
	}
	left := o.Qty.Sub(o.FilledQty)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// Outcome tells what Apply did with an update.
type Outcome uint8

const (
	OutcomeIgnored Outcome = iota
	OutcomeCreated
	OutcomeApplied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeApplied:
		return "applied"
	default:
		return "ignored"
	}
}

// State folds order updates into an order table keyed by order id and keeps
// the signed filled position per symbol. It has a single writer (the task
// loop) and any number of readers.
type State struct {
	mu        sync.RWMutex
	orders    map[string]*Order
	positions *PositionReducer
	metrics   *obs.Metrics
}

func NewState(metrics *obs.Metrics) *State {
	return &State{
		orders:    make(map[string]*Order),
		positions: NewPositionReducer(),
		metrics:   metrics,
	}
}

// Apply folds u into the table. Applying the same update twice is a no-op,
// a status never moves backwards, terminal orders never change, and filled
// quantity never shrinks.
func (s *State) Apply(u adapter.OrderUpdateData) (Order, Outcome, error) {
	if err := validateUpdate(u); err != nil {
		return Order{}, OutcomeIgnored, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[u.ID]
	if !ok {
		o := &Order{
			ID:        u.ID,
			Symbol:    u.Symbol,
			Side:      u.Side,
			Type:      u.Type,
			Status:    u.Status,
			Qty:       u.Qty,
			FilledQty: u.FilledQty,
			Price:     u.Price,
		}
		s.orders[o.ID] = o
		s.positions.ApplyFill(o.Symbol, o.Side, o.FilledQty)
		s.metrics.IncOrderUpdate(o.Status.String(), true)
		return *o, OutcomeCreated, nil
	}

	if !supersedes(*cur, u) {
		s.metrics.IncOrderUpdate(u.Status.String(), false)
		return *cur, OutcomeIgnored, nil
	}

	if delta := u.FilledQty.Sub(cur.FilledQty); delta.IsPositive() {
		s.positions.ApplyFill(cur.Symbol, cur.Side, delta)
		cur.FilledQty = u.FilledQty
	}
	cur.Status = u.Status
	if u.Qty.IsPositive() {
		cur.Qty = u.Qty
	}
	if u.Price.IsPositive() {
		cur.Price = u.Price
	}
	if cur.Type == 0 {
		cur.Type = u.Type
	}
	s.metrics.IncOrderUpdate(cur.Status.String(), true)
	return *cur, OutcomeApplied, nil
}

// Track records an order right after the exchange acknowledged it. A stream
// update that already created the order wins; only the client id is added.
// An ack carries no fill quantity, so a filled or canceled ack is tracked as
// open and the stream update that follows settles status and fills together.
func (s *State) Track(intent adapter.OrderIntent, ack adapter.OrderAck) Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.orders[ack.OrderID]; ok {
		if cur.ClientOrderID == "" {
			cur.ClientOrderID = ack.ClientOrderID
		}
		return *cur
	}

	status := ack.Status
	switch {
	case !status.IsAvailable():
		status = enum.OrderStatusNew
	case status == enum.OrderStatusRejected:
	case status.IsTerminal():
		status = enum.OrderStatusOpen
	}
	o := &Order{
		ID:            ack.OrderID,
		ClientOrderID: ack.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Type:          intent.Type,
		Status:        status,
		Qty:           intent.Qty,
		Price:         intent.Price,
	}
	s.orders[o.ID] = o
	return *o
}

// Get returns a copy of the order.
func (s *State) Get(id string) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Open returns the non-terminal orders of symbol, or of every symbol when
// symbol is empty, sorted by id.
func (s *State) Open(symbol string) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		if o.Status.IsTerminal() {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenNotional is the sum of remaining quantity times limit price of the open
// orders of symbol on side.
func (s *State) OpenNotional(symbol string, side enum.OrderSide) decimal.Decimal {
	total := decimal.Zero
	for _, o := range s.Open(symbol) {
		if o.Side != side {
			continue
		}
		total = total.Add(o.Remaining().Mul(o.Price))
	}
	return total
}

// Position returns the signed filled quantity of symbol; long is positive.
func (s *State) Position(symbol string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions.Position(symbol)
}

// Len returns the number of tracked orders.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// supersedes reports whether u is causally later than cur.
func supersedes(cur Order, u adapter.OrderUpdateData) bool {
	if cur.Status.IsTerminal() {
		return false
	}
	curRank, nextRank := cur.Status.Rank(), u.Status.Rank()
	switch {
	case nextRank > curRank:
		return true
	case nextRank == curRank:
		return u.FilledQty.GreaterThan(cur.FilledQty)
	default:
		return false
	}
}

func validateUpdate(u adapter.OrderUpdateData) error {
	if u.ID == "" || u.Symbol == "" {
		return errors.Wrap(exception.ErrOrderInvalidUpdate, "missing id or symbol")
	}
	if !u.Status.IsAvailable() {
		return errors.Wrapf(exception.ErrOrderInvalidUpdate, "order %s: unknown status", u.ID)
	}
	if !u.Side.IsAvailable() {
		return errors.Wrapf(exception.ErrOrderInvalidUpdate, "order %s: unknown side", u.ID)
	}
	if u.FilledQty.IsNegative() || u.Qty.IsNegative() {
		return errors.Wrapf(exception.ErrOrderInvalidUpdate, "order %s: negative quantity", u.ID)
	}
	if u.Qty.IsPositive() && u.FilledQty.GreaterThan(u.Qty) {
		return errors.Wrapf(exception.ErrOrderInvalidUpdate, "order %s: filled %s exceeds qty %s", u.ID, u.FilledQty, u.Qty)
	}
	return nil
}
