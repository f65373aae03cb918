package adapter

import (
	"bytes"
	"strconv"

	"perpbot/internal/adapter/enum"
	"perpbot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// FlexString accepts both JSON strings and numbers. Exchange ids come as
// either depending on the endpoint.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		v, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	*s = FlexString(b)
	return nil
}

// WireOrder is the order shape shared by the order stream and the REST API.
type WireOrder struct {
	ID        FlexString      `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Status    string          `json:"status"`
	Qty       decimal.Decimal `json:"qty"`
	FillQty   decimal.Decimal `json:"fill_qty"`
	Price     decimal.Decimal `json:"price"`
	OrderType string          `json:"order_type"`
}

// OrderUpdate validates the wire order and normalizes its enums.
func (w WireOrder) OrderUpdate() (OrderUpdateData, error) {
	if w.ID == "" || w.Symbol == "" {
		return OrderUpdateData{}, errors.Wrap(exception.ErrOrderInvalidUpdate, "missing id or symbol")
	}
	side, err := enum.ParseOrderSide(w.Side)
	if err != nil {
		return OrderUpdateData{}, err
	}
	status, err := enum.ParseOrderStatus(w.Status)
	if err != nil {
		return OrderUpdateData{}, err
	}
	var typ enum.OrderType
	if w.OrderType != "" {
		if typ, err = enum.ParseOrderType(w.OrderType); err != nil {
			return OrderUpdateData{}, err
		}
	}
	return OrderUpdateData{
		ID:        string(w.ID),
		Symbol:    w.Symbol,
		Side:      side,
		Status:    status,
		Type:      typ,
		Qty:       w.Qty,
		FilledQty: w.FillQty,
		Price:     w.Price,
	}, nil
}
