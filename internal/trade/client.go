package trade

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"perpbot/internal/adapter"
	"perpbot/internal/adapter/enum"
	"perpbot/internal/obs"
	"perpbot/internal/rest"
	"perpbot/internal/session"
	"perpbot/internal/signer"
	"perpbot/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
)

const (
	PathOrders     = "/v1/orders"
	PathCancelAll  = "/v1/orders/cancel-all"
	PathOpenOrders = "/v1/orders/open"

	HeaderRequestID = "X-Request-Id"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
	HeaderVersion   = "X-Signature-Version"
	HeaderClientID  = "X-Client-Id"
)

// Credentials hands out the session and body signer of one account.
// *auth.Manager satisfies it.
type Credentials interface {
	Session() *session.Manager
	RequestSigner() *signer.RequestSigner
}

// Client is the signed trading API of one account. Calls are never retried;
// the task loop decides what to do with a failure.
type Client struct {
	rest    *rest.Client
	creds   Credentials
	now     func() time.Time
	metrics *obs.Metrics
}

func NewClient(rc *rest.Client, creds Credentials, metrics *obs.Metrics) *Client {
	return &Client{
		rest:    rc,
		creds:   creds,
		now:     time.Now,
		metrics: metrics,
	}
}

type placeOrderRequest struct {
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"timeInForce,omitempty"`
	Price         string `json:"price,omitempty"`
	Qty           string `json:"qty"`
	TriggerPrice  string `json:"triggerPrice,omitempty"`
	ReduceOnly    bool   `json:"reduceOnly,omitempty"`
}

type placeOrderResponse struct {
	OrderID       adapter.FlexString `json:"orderId"`
	ClientOrderID string             `json:"clientOrderId"`
	Status        string             `json:"status"`
}

type cancelOrderRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"orderId"`
}

type cancelAllRequest struct {
	Symbol string `json:"symbol"`
}

type cancelAllResponse struct {
	Canceled []adapter.FlexString `json:"canceled"`
}

type openOrdersResponse struct {
	Orders []adapter.WireOrder `json:"orders"`
}

// PlaceOrder submits intent. A missing client order id is filled in.
func (c *Client) PlaceOrder(ctx context.Context, intent adapter.OrderIntent) (adapter.OrderAck, error) {
	if err := intent.Validate(); err != nil {
		return adapter.OrderAck{}, err
	}
	if intent.ClientOrderID == "" {
		intent.ClientOrderID = uuid.NewString()
	}

	req := placeOrderRequest{
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side.String(),
		Type:          intent.Type.String(),
		TimeInForce:   intent.TimeInForce.String(),
		Qty:           intent.Qty.String(),
		ReduceOnly:    intent.ReduceOnly,
	}
	if intent.Type.HasLimitPrice() {
		req.Price = intent.Price.String()
	}
	if intent.TriggerPrice.IsPositive() {
		req.TriggerPrice = intent.TriggerPrice.String()
	}

	start := time.Now()
	var resp placeOrderResponse
	err := c.send(ctx, http.MethodPost, PathOrders, nil, req, &resp)
	c.metrics.ObserveOrderSubmit(time.Since(start))
	if err != nil {
		return adapter.OrderAck{}, rest.Annotate(err, fmt.Sprintf("place %s %s %s", intent.Side, intent.Qty, intent.Symbol))
	}
	if resp.OrderID == "" {
		return adapter.OrderAck{}, exception.ErrOrderEmptyResponseID
	}

	status := enum.OrderStatusNew
	if resp.Status != "" {
		if status, err = enum.ParseOrderStatus(resp.Status); err != nil {
			return adapter.OrderAck{}, errors.Wrap(exception.ErrOrderDecodeResponse, err.Error())
		}
	}
	clientID := resp.ClientOrderID
	if clientID == "" {
		clientID = intent.ClientOrderID
	}
	return adapter.OrderAck{
		OrderID:       string(resp.OrderID),
		ClientOrderID: clientID,
		Status:        status,
	}, nil
}

// CancelOrder cancels one order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if symbol == "" || orderID == "" {
		return errors.Wrap(exception.ErrOrderInvalidRequest, "cancel needs symbol and order id")
	}
	if err := c.send(ctx, http.MethodDelete, PathOrders, nil, cancelOrderRequest{Symbol: symbol, OrderID: orderID}, nil); err != nil {
		return rest.Annotate(err, "cancel "+symbol+" "+orderID)
	}
	return nil
}

// CancelAll cancels every open order of symbol and returns the ids the
// exchange reported as canceled.
func (c *Client) CancelAll(ctx context.Context, symbol string) ([]string, error) {
	if symbol == "" {
		return nil, errors.Wrap(exception.ErrOrderInvalidRequest, "cancel all needs a symbol")
	}
	var resp cancelAllResponse
	if err := c.send(ctx, http.MethodPost, PathCancelAll, nil, cancelAllRequest{Symbol: symbol}, &resp); err != nil {
		return nil, rest.Annotate(err, "cancel all "+symbol)
	}
	ids := make([]string, 0, len(resp.Canceled))
	for _, id := range resp.Canceled {
		ids = append(ids, string(id))
	}
	return ids, nil
}

// OpenOrders lists the resting orders of symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]adapter.OrderUpdateData, error) {
	query := url.Values{}
	if symbol != "" {
		query.Set("symbol", symbol)
	}
	var resp openOrdersResponse
	if err := c.send(ctx, http.MethodGet, PathOpenOrders, query, nil, &resp); err != nil {
		return nil, rest.Annotate(err, "open orders "+symbol)
	}

	orders := make([]adapter.OrderUpdateData, 0, len(resp.Orders))
	for _, w := range resp.Orders {
		o, err := w.OrderUpdate()
		if err != nil {
			return nil, errors.Wrap(exception.ErrOrderDecodeResponse, err.Error())
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// send signs body (or the encoded query when there is no body) and performs
// the call.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	bearer, err := c.creds.Session().Bearer()
	if err != nil {
		return err
	}
	rs := c.creds.RequestSigner()
	if rs == nil {
		return errors.Wrap(exception.ErrTokenExpired, "no request signer, login first")
	}

	var payload []byte
	if body != nil {
		if payload, err = rest.Marshal(body); err != nil {
			return err
		}
	}
	signed := string(payload)
	if body == nil {
		signed = query.Encode()
	}

	requestID := rs.RequestID()
	ts := c.now().UnixMilli()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+bearer)
	header.Set(HeaderRequestID, requestID)
	header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	header.Set(HeaderVersion, signer.RequestVersion)
	header.Set(HeaderClientID, rs.ClientID())
	header.Set(HeaderSignature, rs.SignRequest(signer.RequestVersion, requestID, ts, signed))

	err = c.rest.Do(ctx, rest.Request{
		Method: method,
		Path:   path,
		Query:  query,
		Header: header,
		Body:   payload,
	}, exception.ErrOrderRejected, out)
	if se, ok := err.(*rest.ServerError); ok && se.Status == http.StatusUnauthorized {
		unauthorized := rest.NewServerError(se.Status, se.Code, se.Message, exception.ErrAuthRejected)
		unauthorized.Op = se.Op
		return unauthorized
	}
	return err
}
