package trade

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"perpbot/internal/adapter"
	"perpbot/internal/adapter/enum"
	"perpbot/internal/rest"
	"perpbot/internal/session"
	"perpbot/internal/signer"
	"perpbot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCreds struct {
	sessions *session.Manager
	rs       *signer.RequestSigner
}

func (c staticCreds) Session() *session.Manager { return c.sessions }
func (c staticCreds) RequestSigner() *signer.RequestSigner { return c.rs }

type recorded struct {
	method string
	path   string
	query  string
	header http.Header
	body   string
}

type fakeExchange struct {
	t      *testing.T
	signer *signer.Signer

	mu       sync.Mutex
	requests []recorded
	respond  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{
		method: r.Method,
		path:   r.URL.Path,
		query:  r.URL.RawQuery,
		header: r.Header.Clone(),
		body:   string(body),
	})
	f.mu.Unlock()

	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	assert.NoError(f.t, err)
	signed := string(body)
	if len(body) == 0 {
		signed = r.URL.RawQuery
	}
	assert.True(f.t, signer.VerifyRequest(f.signer.PublicKey(), r.Header.Get(HeaderVersion),
		r.Header.Get(HeaderRequestID), ts, signed, r.Header.Get(HeaderSignature)), "bad body signature")
	f.respond(w, r)
}

func (f *fakeExchange) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) (*Client, *fakeExchange, *session.Manager) {
	t.Helper()
	s, err := signer.GenerateSigner()
	require.NoError(t, err)

	fx := &fakeExchange{t: t, signer: s, respond: respond}
	srv := httptest.NewServer(fx)
	t.Cleanup(srv.Close)

	sessions := session.NewManager()
	sessions.SetToken("tok", time.Hour, "0xabc", enum.ChainEVM)
	c := NewClient(rest.NewClient(srv.URL, srv.Client()), staticCreds{sessions: sessions, rs: signer.NewRequestSigner(s)}, nil)
	c.now = func() time.Time { return time.UnixMilli(1_700_000_000_123) }
	return c, fx, sessions
}

func TestPlaceOrder(t *testing.T) {
	c, fx, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orderId":987654321,"status":"open"}`))
	})

	ack, err := c.PlaceOrder(t.Context(), adapter.OrderIntent{
		ClientOrderID: "c-1",
		Symbol:        "BTC-USD",
		Side:          enum.OrderSideBuy,
		Type:          enum.OrderTypeLimit,
		TimeInForce:   enum.OrderTimeInForceALO,
		Price:         decimal.RequireFromString("64000.5"),
		Qty:           decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)
	assert.Equal(t, adapter.OrderAck{OrderID: "987654321", ClientOrderID: "c-1", Status: enum.OrderStatusOpen}, ack)

	req := fx.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, PathOrders, req.path)
	assert.Equal(t, "Bearer tok", req.header.Get("Authorization"))
	assert.Equal(t, "1700000000123", req.header.Get(HeaderTimestamp))
	assert.Equal(t, signer.RequestVersion, req.header.Get(HeaderVersion))
	assert.NotEmpty(t, req.header.Get(HeaderRequestID))
	assert.JSONEq(t, `{"clientOrderId":"c-1","symbol":"BTC-USD","side":"buy","type":"limit","timeInForce":"alo","price":"64000.5","qty":"0.01"}`, req.body)
}

func TestPlaceOrderFreshRequestIDs(t *testing.T) {
	c, fx, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orderId":"x"}`))
	})
	intent := adapter.OrderIntent{Symbol: "ETH-USD", Side: enum.OrderSideSell, Type: enum.OrderTypeMarket, Qty: decimal.NewFromInt(1)}

	ack, err := c.PlaceOrder(t.Context(), intent)
	require.NoError(t, err)
	assert.NotEmpty(t, ack.ClientOrderID)
	assert.Equal(t, enum.OrderStatusNew, ack.Status)
	first := fx.last().header.Get(HeaderRequestID)

	_, err = c.PlaceOrder(t.Context(), intent)
	require.NoError(t, err)
	assert.NotEqual(t, first, fx.last().header.Get(HeaderRequestID))
	assert.NotContains(t, fx.last().body, "price")
}

func TestPlaceOrderErrors(t *testing.T) {
	testCases := []struct {
		desc   string
		status int
		body   string
		target error
		code   string
	}{
		{"rejected", http.StatusBadRequest, `{"code":"INSUFFICIENT_MARGIN","message":"no margin"}`, exception.ErrOrderRejected, "INSUFFICIENT_MARGIN"},
		{"unauthorized", http.StatusUnauthorized, `{"code":"TOKEN_INVALID"}`, exception.ErrAuthRejected, "TOKEN_INVALID"},
		{"empty id", http.StatusOK, `{"status":"open"}`, exception.ErrOrderEmptyResponseID, ""},
		{"bad status", http.StatusOK, `{"orderId":"1","status":"exploded"}`, exception.ErrOrderDecodeResponse, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.PlaceOrder(t.Context(), adapter.OrderIntent{
				Symbol: "BTC-USD", Side: enum.OrderSideBuy, Type: enum.OrderTypeMarket, Qty: decimal.NewFromInt(1),
			})
			require.ErrorIs(t, err, tc.target)
			if tc.code != "" {
				var se *rest.ServerError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, tc.code, se.Code)
				assert.Equal(t, tc.status, se.Status)
				assert.Contains(t, se.Op, "place buy 1 BTC-USD")
				assert.Contains(t, err.Error(), PathOrders)
			}
		})
	}
}

func TestPlaceOrderRequiresSession(t *testing.T) {
	calls := 0
	c, _, sessions := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls++ })
	sessions.Clear()

	_, err := c.PlaceOrder(t.Context(), adapter.OrderIntent{
		Symbol: "BTC-USD", Side: enum.OrderSideBuy, Type: enum.OrderTypeMarket, Qty: decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, exception.ErrTokenExpired)
	assert.Zero(t, calls)

	_, err = c.PlaceOrder(t.Context(), adapter.OrderIntent{Symbol: "BTC-USD"})
	require.ErrorIs(t, err, exception.ErrOrderInvalidRequest)
}

func TestCancelAndOpenOrders(t *testing.T) {
	c, fx, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathCancelAll:
			_, _ = w.Write([]byte(`{"canceled":["a",2]}`))
		case PathOpenOrders:
			_, _ = w.Write([]byte(`{"orders":[{"id":"a","symbol":"BTC-USD","side":"buy","status":"partial_filled","qty":"2","fill_qty":"1","price":"10","order_type":"limit"}]}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	require.NoError(t, c.CancelOrder(t.Context(), "BTC-USD", "a"))
	req := fx.last()
	assert.Equal(t, http.MethodDelete, req.method)
	assert.JSONEq(t, `{"symbol":"BTC-USD","orderId":"a"}`, req.body)

	ids, err := c.CancelAll(t.Context(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "2"}, ids)

	orders, err := c.OpenOrders(t.Context(), "BTC-USD")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, enum.OrderStatusPartiallyFilled, orders[0].Status)
	assert.Equal(t, "symbol=BTC-USD", fx.last().query)

	require.ErrorIs(t, c.CancelOrder(t.Context(), "", "a"), exception.ErrOrderInvalidRequest)
}
