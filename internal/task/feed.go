package task

import (
	"context"

	"perpbot/internal/adapter"
	"perpbot/internal/adapter/enum"
	"perpbot/internal/marketdata"
)

// Feed is the market data one task loop consumes. A nil channel never
// delivers; a nil States channel means the stream is always live.
type Feed struct {
	Price  <-chan adapter.Update
	Depth  <-chan adapter.Update
	Orders <-chan adapter.Update
	States <-chan marketdata.ConnectionState

	close func()
}

// NewFeed builds a Feed from raw channels. closeFn may be nil.
func NewFeed(price, depth, orders <-chan adapter.Update, states <-chan marketdata.ConnectionState, closeFn func()) Feed {
	return Feed{Price: price, Depth: depth, Orders: orders, States: states, close: closeFn}
}

// Close releases the listeners behind the feed.
func (f Feed) Close() {
	if f.close != nil {
		f.close()
	}
}

// MarketData opens a feed per task symbol.
type MarketData interface {
	Open(ctx context.Context, symbol string) (Feed, error)
}

// HubSource opens feeds on a shared marketdata.Hub.
type HubSource struct {
	Hub    *marketdata.Hub
	Buffer int
}

func (s HubSource) Open(ctx context.Context, symbol string) (Feed, error) {
	kinds := []enum.ChannelKind{enum.ChannelPrice, enum.ChannelDepth, enum.ChannelOrder}
	listeners := make([]*marketdata.Listener, 0, len(kinds))
	closeAll := func() {
		for _, l := range listeners {
			l.Close()
		}
	}

	for _, kind := range kinds {
		l, err := s.Hub.Listen(ctx, symbol, kind, s.Buffer)
		if err != nil {
			closeAll()
			return Feed{}, err
		}
		listeners = append(listeners, l)
	}

	states := s.Hub.AddStateListener(0)
	return NewFeed(listeners[0].C(), listeners[1].C(), listeners[2].C(), states.C(), func() {
		closeAll()
		states.Close()
	}), nil
}
