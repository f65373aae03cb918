package enum

import (
	"strings"

	"perpbot/pkg/exception"

	"github.com/yanun0323/errors"
)

// OrderSide buy, sell
type OrderSide uint8

const (
	_order_side_beg OrderSide = iota
	OrderSideBuy
	OrderSideSell
	_order_side_end
)

func (s OrderSide) IsAvailable() bool {
	return s > _order_side_beg && s < _order_side_end
}

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return ""
	}
}

// Sign is +1 for buy and -1 for sell.
func (s OrderSide) Sign() int64 {
	switch s {
	case OrderSideBuy:
		return 1
	case OrderSideSell:
		return -1
	default:
		return 0
	}
}

func ParseOrderSide(s string) (OrderSide, error) {
	switch normalize(s) {
	case "buy", "bid", "long":
		return OrderSideBuy, nil
	case "sell", "ask", "short":
		return OrderSideSell, nil
	default:
		return 0, errors.Wrapf(exception.ErrOrderUnknownSide, "side: %q", s)
	}
}

// OrderType market, limit, stop market, stop limit, trailing stop
type OrderType uint8

const (
	_order_type_beg OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStopMarket
	OrderTypeStopLimit
	OrderTypeTrailingStop
	_order_type_end
)

func (t OrderType) IsAvailable() bool {
	return t > _order_type_beg && t < _order_type_end
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	case OrderTypeStopMarket:
		return "stop_market"
	case OrderTypeStopLimit:
		return "stop_limit"
	case OrderTypeTrailingStop:
		return "trailing_stop"
	default:
		return ""
	}
}

// HasLimitPrice reports whether orders of this type carry their own price.
func (t OrderType) HasLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

func ParseOrderType(s string) (OrderType, error) {
	switch normalize(s) {
	case "market":
		return OrderTypeMarket, nil
	case "limit":
		return OrderTypeLimit, nil
	case "stop_market":
		return OrderTypeStopMarket, nil
	case "stop_limit":
		return OrderTypeStopLimit, nil
	case "trailing_stop":
		return OrderTypeTrailingStop, nil
	default:
		return 0, errors.Wrapf(exception.ErrOrderUnknownType, "type: %q", s)
	}
}

// OrderStatus new, open, partially filled, filled, canceled, rejected, untriggered
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusNew
	OrderStatusOpen
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
	OrderStatusUntriggered
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "new"
	case OrderStatusOpen:
		return "open"
	case OrderStatusPartiallyFilled:
		return "partially_filled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCanceled:
		return "canceled"
	case OrderStatusRejected:
		return "rejected"
	case OrderStatusUntriggered:
		return "untriggered"
	default:
		return ""
	}
}

// IsTerminal reports whether no further update may change the order.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Rank is the causal position of the status in the order lifecycle.
// A status with a higher rank always happens after one with a lower rank.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderStatusNew, OrderStatusUntriggered:
		return 0
	case OrderStatusOpen:
		return 1
	case OrderStatusPartiallyFilled:
		return 2
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return 3
	default:
		return -1
	}
}

// ParseOrderStatus accepts every wire spelling and returns the canonical status.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch normalize(s) {
	case "new":
		return OrderStatusNew, nil
	case "open":
		return OrderStatusOpen, nil
	case "partially_filled", "partial_filled":
		return OrderStatusPartiallyFilled, nil
	case "filled":
		return OrderStatusFilled, nil
	case "canceled", "cancelled":
		return OrderStatusCanceled, nil
	case "rejected":
		return OrderStatusRejected, nil
	case "untriggered":
		return OrderStatusUntriggered, nil
	default:
		return 0, errors.Wrapf(exception.ErrOrderUnknownStatus, "status: %q", s)
	}
}

// OrderTimeInForce GTC, IOC, FOK, ALO
type OrderTimeInForce uint8

const (
	_order_time_in_force_beg OrderTimeInForce = iota
	OrderTimeInForceGTC
	OrderTimeInForceIOC
	OrderTimeInForceFOK
	OrderTimeInForceALO
	_order_time_in_force_end
)

func (s OrderTimeInForce) IsAvailable() bool {
	return s > _order_time_in_force_beg && s < _order_time_in_force_end
}

func (s OrderTimeInForce) String() string {
	switch s {
	case OrderTimeInForceGTC:
		return "gtc"
	case OrderTimeInForceIOC:
		return "ioc"
	case OrderTimeInForceFOK:
		return "fok"
	case OrderTimeInForceALO:
		return "alo"
	default:
		return ""
	}
}

func ParseOrderTimeInForce(s string) (OrderTimeInForce, error) {
	switch normalize(s) {
	case "gtc":
		return OrderTimeInForceGTC, nil
	case "ioc":
		return OrderTimeInForceIOC, nil
	case "fok":
		return OrderTimeInForceFOK, nil
	case "alo", "post_only":
		return OrderTimeInForceALO, nil
	default:
		return 0, errors.Wrapf(exception.ErrOrderUnknownTIF, "time in force: %q", s)
	}
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "-", "_")
}
