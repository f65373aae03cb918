package marketdata

import (
	"encoding/json"

	"perpbot/internal/adapter"
	"perpbot/internal/adapter/enum"
	"perpbot/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Topic is one (symbol, channel) subscription.
type Topic struct {
	Symbol string
	Kind   enum.ChannelKind
}

func (t Topic) String() string {
	return t.Kind.String() + ":" + t.Symbol
}

// Codec encodes subscription control messages and decodes inbound frames.
type Codec interface {
	EncodeSubscribe(t Topic) ([]byte, error)
	EncodeUnsubscribe(t Topic) ([]byte, error)
	// Decode returns ok=false without error for frames that carry no market
	// data (acks, pongs).
	Decode(payload []byte) (u adapter.Update, ok bool, err error)
}

// JSONCodec speaks the exchange's tagged JSON frame format:
//
//	{"channel":"price","data":{...}}
type JSONCodec struct{}

type controlMessage struct {
	Op      string `json:"op"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wirePrice struct {
	Base       string            `json:"base"`
	IndexPrice decimal.Decimal   `json:"index_price"`
	LastPrice  decimal.Decimal   `json:"last_price"`
	MarkPrice  decimal.Decimal   `json:"mark_price"`
	MidPrice   decimal.Decimal   `json:"mid_price"`
	Quote      string            `json:"quote"`
	Spread     []decimal.Decimal `json:"spread"`
	Symbol     string            `json:"symbol"`
	Time       int64             `json:"time"`
}

type wireDepth struct {
	Asks   [][]decimal.Decimal `json:"asks"` // [0]price [1]quantity
	Bids   [][]decimal.Decimal `json:"bids"` // [0]price [1]quantity
	Symbol string              `json:"symbol"`
}

func (JSONCodec) EncodeSubscribe(t Topic) ([]byte, error) {
	return encodeControl("subscribe", t)
}

func (JSONCodec) EncodeUnsubscribe(t Topic) ([]byte, error) {
	return encodeControl("unsubscribe", t)
}

func encodeControl(op string, t Topic) ([]byte, error) {
	if t.Symbol == "" {
		return nil, exception.ErrInvalidSymbol
	}
	if !t.Kind.IsAvailable() {
		return nil, exception.ErrUnsupportedTopic
	}
	return sonic.Marshal(controlMessage{Op: op, Channel: t.Kind.String(), Symbol: t.Symbol})
}

func (JSONCodec) Decode(payload []byte) (adapter.Update, bool, error) {
	var env envelope
	if err := sonic.Unmarshal(payload, &env); err != nil {
		return adapter.Update{}, false, errors.Wrap(exception.ErrMalformedFrame, err.Error())
	}
	if env.Channel == "" {
		return adapter.Update{}, false, nil
	}

	kind, err := enum.ParseChannelKind(env.Channel)
	if err != nil {
		return adapter.Update{}, false, err
	}
	if len(env.Data) == 0 {
		return adapter.Update{}, false, errors.Wrapf(exception.ErrMalformedFrame, "%s frame without data", env.Channel)
	}

	switch kind {
	case enum.ChannelPrice:
		return decodePrice(env.Data)
	case enum.ChannelDepth:
		return decodeDepth(env.Data)
	case enum.ChannelOrder:
		return decodeOrder(env.Data)
	default:
		return adapter.Update{}, false, exception.ErrUnknownChannel
	}
}

func decodePrice(data []byte) (adapter.Update, bool, error) {
	var w wirePrice
	if err := sonic.Unmarshal(data, &w); err != nil {
		return adapter.Update{}, false, errors.Wrapf(exception.ErrMalformedFrame, "price: %s", err.Error())
	}
	if w.Symbol == "" {
		return adapter.Update{}, false, errors.Wrap(exception.ErrMalformedFrame, "price: empty symbol")
	}
	p := &adapter.PriceData{
		Symbol:     w.Symbol,
		Base:       w.Base,
		Quote:      w.Quote,
		IndexPrice: w.IndexPrice,
		LastPrice:  w.LastPrice,
		MarkPrice:  w.MarkPrice,
		MidPrice:   w.MidPrice,
		Spread:     w.Spread,
		Time:       w.Time,
	}
	return adapter.Update{Kind: enum.ChannelPrice, Symbol: p.Symbol, Price: p}, true, nil
}

func decodeDepth(data []byte) (adapter.Update, bool, error) {
	var w wireDepth
	if err := sonic.Unmarshal(data, &w); err != nil {
		return adapter.Update{}, false, errors.Wrapf(exception.ErrMalformedFrame, "depth: %s", err.Error())
	}
	if w.Symbol == "" {
		return adapter.Update{}, false, errors.Wrap(exception.ErrMalformedFrame, "depth: empty symbol")
	}
	bids, err := depthRows(w.Bids)
	if err != nil {
		return adapter.Update{}, false, errors.Wrap(err, "bids")
	}
	asks, err := depthRows(w.Asks)
	if err != nil {
		return adapter.Update{}, false, errors.Wrap(err, "asks")
	}
	d := &adapter.DepthBookData{Symbol: w.Symbol, Bids: bids, Asks: asks}
	return adapter.Update{Kind: enum.ChannelDepth, Symbol: d.Symbol, Depth: d}, true, nil
}

func depthRows(levels [][]decimal.Decimal) ([]adapter.DepthRow, error) {
	rows := make([]adapter.DepthRow, 0, len(levels))
	for i, level := range levels {
		if len(level) < 2 {
			return nil, errors.Wrapf(exception.ErrMalformedFrame, "level %d has %d fields", i, len(level))
		}
		rows = append(rows, adapter.DepthRow{Price: level[0], Quantity: level[1]})
	}
	return rows, nil
}

func decodeOrder(data []byte) (adapter.Update, bool, error) {
	var w adapter.WireOrder
	if err := sonic.Unmarshal(data, &w); err != nil {
		return adapter.Update{}, false, errors.Wrapf(exception.ErrMalformedFrame, "order: %s", err.Error())
	}
	o, err := w.OrderUpdate()
	if err != nil {
		return adapter.Update{}, false, errors.Wrapf(exception.ErrMalformedFrame, "order: %s", err.Error())
	}
	return adapter.Update{Kind: enum.ChannelOrder, Symbol: o.Symbol, Order: &o}, true, nil
}
