package strategy

import (
	"context"

	"perpbot/internal/adapter"
	"perpbot/internal/adapter/enum"
	"perpbot/internal/task"
	"perpbot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

var bpsDenominator = decimal.NewFromInt(10_000)

// QuoterConfig sizes the quotes of a Quoter.
type QuoterConfig struct {
	// SpreadBps is the distance of each quote from mid.
	SpreadBps int64
	Qty       decimal.Decimal
	// PriceScale is the number of decimals quotes are rounded to.
	PriceScale int32
	// MaxPosition stops quoting the side that would grow the position past
	// it. Zero disables the limit.
	MaxPosition decimal.Decimal
}

func (c QuoterConfig) Validate() error {
	if c.SpreadBps <= 0 {
		return errors.Wrapf(exception.ErrTaskInvalidConfig, "quoter spread %d bps", c.SpreadBps)
	}
	if !c.Qty.IsPositive() {
		return errors.Wrapf(exception.ErrTaskInvalidConfig, "quoter qty %s", c.Qty)
	}
	if c.PriceScale < 0 {
		return errors.Wrapf(exception.ErrTaskInvalidConfig, "quoter price scale %d", c.PriceScale)
	}
	if c.MaxPosition.IsNegative() {
		return errors.Wrapf(exception.ErrTaskInvalidConfig, "quoter max position %s", c.MaxPosition)
	}
	return nil
}

// Quoter keeps one post-only limit order on each side of mid. A side is
// requoted only once its previous order left the book.
type Quoter struct {
	cfg QuoterConfig
}

func NewQuoter(cfg QuoterConfig) (*Quoter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Quoter{cfg: cfg}, nil
}

func (q *Quoter) OnUpdate(_ context.Context, view task.View, u adapter.Update) []adapter.OrderIntent {
	if u.Kind == enum.ChannelOrder {
		return nil
	}
	mid, ok := Mid(view)
	if !ok {
		return nil
	}

	var hasBid, hasAsk bool
	for _, o := range view.Open {
		switch o.Side {
		case enum.OrderSideBuy:
			hasBid = true
		case enum.OrderSideSell:
			hasAsk = true
		}
	}

	offset := mid.Mul(decimal.NewFromInt(q.cfg.SpreadBps)).Div(bpsDenominator)
	intents := make([]adapter.OrderIntent, 0, 2)
	if !hasBid && q.canGrow(view.Position, enum.OrderSideBuy) {
		if bid := mid.Sub(offset).RoundFloor(q.cfg.PriceScale); bid.IsPositive() {
			intents = append(intents, q.intent(view.Task.Symbol, enum.OrderSideBuy, bid))
		}
	}
	if !hasAsk && q.canGrow(view.Position, enum.OrderSideSell) {
		ask := mid.Add(offset).RoundCeil(q.cfg.PriceScale)
		intents = append(intents, q.intent(view.Task.Symbol, enum.OrderSideSell, ask))
	}
	return intents
}

func (q *Quoter) canGrow(position decimal.Decimal, side enum.OrderSide) bool {
	if q.cfg.MaxPosition.IsZero() {
		return true
	}
	next := position.Add(q.cfg.Qty.Mul(decimal.NewFromInt(side.Sign())))
	return next.Abs().LessThanOrEqual(q.cfg.MaxPosition) || next.Abs().LessThan(position.Abs())
}

func (q *Quoter) intent(symbol string, side enum.OrderSide, price decimal.Decimal) adapter.OrderIntent {
	return adapter.OrderIntent{
		Symbol:      symbol,
		Side:        side,
		Type:        enum.OrderTypeLimit,
		TimeInForce: enum.OrderTimeInForceALO,
		Price:       price,
		Qty:         q.cfg.Qty,
	}
}

// Mid is the book midpoint, falling back to the ticker mid and then the
// ticker reference price.
func Mid(view task.View) (decimal.Decimal, bool) {
	if view.LastDepth != nil {
		if mid, ok := view.LastDepth.Mid(); ok {
			return mid, true
		}
	}
	if view.LastPrice != nil {
		if view.LastPrice.MidPrice.IsPositive() {
			return view.LastPrice.MidPrice, true
		}
		if ref := view.LastPrice.ReferencePrice(); ref.IsPositive() {
			return ref, true
		}
	}
	return decimal.Zero, false
}
