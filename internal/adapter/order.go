package adapter

import (
	"perpbot/internal/adapter/enum"

	"github.com/shopspring/decimal"
)

// OrderUpdateData is an exchange event describing the latest known state of an order.
type OrderUpdateData struct {
	ID        string
	Symbol    string
	Side      enum.OrderSide
	Status    enum.OrderStatus
	Type      enum.OrderType
	Qty       decimal.Decimal
	FilledQty decimal.Decimal
	Price     decimal.Decimal
}

// OrderAck is the exchange response to an order placement.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Status        enum.OrderStatus
}
