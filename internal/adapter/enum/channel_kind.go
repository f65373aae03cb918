package enum

import (
	"perpbot/pkg/exception"

	"github.com/yanun0323/errors"
)

// ChannelKind is the market data channel a frame belongs to.
type ChannelKind uint8

const (
	_channel_kind_beg ChannelKind = iota
	ChannelPrice
	ChannelDepth
	ChannelOrder
	_channel_kind_end
)

func (k ChannelKind) IsAvailable() bool {
	return k > _channel_kind_beg && k < _channel_kind_end
}

// String returns the wire tag of the channel.
func (k ChannelKind) String() string {
	switch k {
	case ChannelPrice:
		return "price"
	case ChannelDepth:
		return "depth"
	case ChannelOrder:
		return "order"
	default:
		return ""
	}
}

func ParseChannelKind(s string) (ChannelKind, error) {
	switch normalize(s) {
	case "price", "prices", "ticker":
		return ChannelPrice, nil
	case "depth", "depth_book", "orderbook":
		return ChannelDepth, nil
	case "order", "orders", "order_update":
		return ChannelOrder, nil
	default:
		return 0, errors.Wrapf(exception.ErrUnknownChannel, "channel: %q", s)
	}
}
