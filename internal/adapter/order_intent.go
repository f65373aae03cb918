package adapter

import (
	"perpbot/internal/adapter/enum"
	"perpbot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// OrderIntent is an order a strategy wants to place. It becomes an order only
// after passing the risk check and being acknowledged by the exchange.
type OrderIntent struct {
	ClientOrderID string
	Symbol        string
	Side          enum.OrderSide
	Type          enum.OrderType
	TimeInForce   enum.OrderTimeInForce
	Price         decimal.Decimal
	Qty           decimal.Decimal
	TriggerPrice  decimal.Decimal
	ReduceOnly    bool
}

// Validate checks the fields every order type requires.
func (o OrderIntent) Validate() error {
	if o.Symbol == "" {
		return errors.Wrap(exception.ErrOrderInvalidRequest, "empty symbol")
	}
	if !o.Side.IsAvailable() {
		return errors.Wrap(exception.ErrOrderInvalidRequest, "unknown side")
	}
	if !o.Type.IsAvailable() {
		return errors.Wrap(exception.ErrOrderInvalidRequest, "unknown type")
	}
	if !o.Qty.IsPositive() {
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "non-positive qty %s", o.Qty)
	}
	if o.Type.HasLimitPrice() && !o.Price.IsPositive() {
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "%s order needs a positive price", o.Type)
	}
	return nil
}
