package task

import (
	"context"
	"time"

	"perpbot/internal/adapter"
	"perpbot/internal/adapter/enum"
	"perpbot/internal/order"
	"perpbot/internal/risk"
	"perpbot/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// worker is the decision loop of one running task.
type worker struct {
	m      *Manager
	task   Task
	gw     Gateway
	strat  Strategy
	orders *order.State

	live      bool
	lastPrice *adapter.PriceData
	lastDepth *adapter.DepthBookData
}

// run consumes the feed until ctx is done. A returned error fails the task.
func (w *worker) run(ctx context.Context) error {
	if w.m.cfg.Market == nil {
		return errors.Wrap(exception.ErrNilInstance, "market data")
	}
	feed, err := w.m.cfg.Market.Open(ctx, w.task.Symbol)
	if err != nil {
		return errors.Wrapf(err, "open feed %s", w.task.Symbol)
	}
	defer feed.Close()

	// without a state stream the feed is always live
	w.live = feed.States == nil

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-feed.States:
			if !ok {
				return closedFeed(ctx, "state")
			}
			if s.Live() != w.live {
				logs.Infof("task %s: market data %s", w.task.ID, s)
			}
			w.live = s.Live()
		case u, ok := <-feed.Price:
			if !ok {
				return closedFeed(ctx, "price")
			}
			if err := w.handle(ctx, u); err != nil {
				return err
			}
		case u, ok := <-feed.Depth:
			if !ok {
				return closedFeed(ctx, "depth")
			}
			if err := w.handle(ctx, u); err != nil {
				return err
			}
		case u, ok := <-feed.Orders:
			if !ok {
				return closedFeed(ctx, "order")
			}
			if err := w.handle(ctx, u); err != nil {
				return err
			}
		}
	}
}

func closedFeed(ctx context.Context, kind string) error {
	if ctx.Err() != nil {
		return nil
	}
	return errors.Wrapf(exception.ErrConnectionClose, "%s feed closed", kind)
}

func (w *worker) handle(ctx context.Context, u adapter.Update) error {
	switch u.Kind {
	case enum.ChannelPrice:
		if u.Price != nil {
			w.lastPrice = u.Price
		}
	case enum.ChannelDepth:
		if u.Depth != nil {
			w.lastDepth = u.Depth
		}
	case enum.ChannelOrder:
		if u.Order != nil {
			w.applyOrder(ctx, *u.Order)
		}
	}

	if !w.live || w.strat == nil {
		return nil
	}
	for _, intent := range w.strat.OnUpdate(ctx, w.view(), u) {
		if err := w.submit(ctx, intent); err != nil {
			return err
		}
	}
	return nil
}

// applyOrder folds an update of an order this task placed. The order stream
// is shared by every task on the symbol, whatever the account, so updates of
// unknown ids belong to someone else.
func (w *worker) applyOrder(ctx context.Context, u adapter.OrderUpdateData) {
	if _, ok := w.orders.Get(u.ID); !ok {
		return
	}
	o, outcome, err := w.orders.Apply(u)
	if err != nil {
		logs.Warnf("task %s: drop order update %s: %+v", w.task.ID, u.ID, err)
		return
	}
	if outcome == order.OutcomeIgnored {
		return
	}
	w.m.recordOrder(ctx, w.task.ID, o)
}

// submit risk checks an intent and places it. Only errors that a retry
// cannot fix are returned.
func (w *worker) submit(ctx context.Context, intent adapter.OrderIntent) error {
	if intent.Symbol == "" {
		intent.Symbol = w.task.Symbol
	}
	if intent.Symbol != w.task.Symbol {
		logs.Warnf("task %s: drop intent for foreign symbol %s", w.task.ID, intent.Symbol)
		return nil
	}

	metrics := w.m.cfg.Metrics
	if w.m.status(w.task.ID) != StatusRunning {
		metrics.IncRiskReject(risk.ReasonTaskNotRunning.String())
		return nil
	}

	start := time.Now()
	decision := risk.Check(intent, w.riskView(), w.task.Risk)
	metrics.ObserveRiskEval(time.Since(start))
	if !decision.Allowed {
		metrics.IncRiskReject(decision.Reason.String())
		logs.Warnf("task %s: %s %s %s@%s: %+v", w.task.ID, intent.Type, intent.Side, intent.Qty, intent.Price, decision.Err())
		return nil
	}

	ack, err := w.gw.PlaceOrder(ctx, intent)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if exception.Fatal(err) {
			return errors.Wrap(err, "place order")
		}
		logs.Warnf("task %s: place order: %+v", w.task.ID, err)
		return nil
	}

	w.m.recordOrder(ctx, w.task.ID, w.orders.Track(intent, ack))
	return nil
}

func (w *worker) view() View {
	return View{
		Task:      w.task,
		Position:  w.orders.Position(w.task.Symbol),
		Open:      w.orders.Open(w.task.Symbol),
		LastPrice: w.lastPrice,
		LastDepth: w.lastDepth,
	}
}

func (w *worker) riskView() risk.View {
	symbol := w.task.Symbol
	v := risk.View{
		Position:         w.orders.Position(symbol),
		OpenBuyNotional:  w.orders.OpenNotional(symbol, enum.OrderSideBuy),
		OpenSellNotional: w.orders.OpenNotional(symbol, enum.OrderSideSell),
	}
	if w.lastPrice != nil {
		v.ReferencePrice = w.lastPrice.ReferencePrice()
	}
	if w.lastDepth != nil {
		if bid, ok := w.lastDepth.BestBid(); ok {
			v.BestBid = bid.Price
		}
		if ask, ok := w.lastDepth.BestAsk(); ok {
			v.BestAsk = ask.Price
		}
		if mid, ok := w.lastDepth.Mid(); ok && !v.ReferencePrice.IsPositive() {
			v.ReferencePrice = mid
		}
	}
	return v
}
