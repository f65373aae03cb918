package exception

import "errors"

var (
	ErrOrderInvalidRequest  = errors.New("order: invalid request")
	ErrOrderRejected        = errors.New("order: rejected by exchange")
	ErrOrderInvalidUpdate   = errors.New("order: invalid update")
	ErrOrderDecodeResponse  = errors.New("order: decode response body")
	ErrOrderEmptyResponseID = errors.New("order: empty response order id")
	ErrOrderUnknownSide     = errors.New("order: unknown side")
	ErrOrderUnknownType     = errors.New("order: unknown type")
	ErrOrderUnknownStatus   = errors.New("order: unknown status")
	ErrOrderUnknownTIF      = errors.New("order: unknown time in force")
)
