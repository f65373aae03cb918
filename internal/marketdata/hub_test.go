package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"perpbot/internal/adapter"
	"perpbot/internal/adapter/enum"
	"perpbot/pkg/exception"
	"perpbot/pkg/websocket"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

const waitTimeout = 3 * time.Second

var fastBackoff = websocket.Backoff{Base: 10 * time.Millisecond, Cap: 40 * time.Millisecond, MaxExponent: 5}

type fakeExchange struct {
	srv      *httptest.Server
	conns    chan *gws.Conn
	received chan string
}

func newFakeExchange(t *testing.T) *fakeExchange {
	t.Helper()
	fx := &fakeExchange{
		conns:    make(chan *gws.Conn, 8),
		received: make(chan string, 64),
	}
	upgrader := gws.Upgrader{}
	fx.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fx.conns <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fx.received <- string(msg)
		}
	}))
	t.Cleanup(fx.srv.Close)
	return fx
}

func (fx *fakeExchange) url() string {
	return "ws" + strings.TrimPrefix(fx.srv.URL, "http")
}

func (fx *fakeExchange) nextConn(t *testing.T) *gws.Conn {
	t.Helper()
	select {
	case c := <-fx.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatalf("no connection within %s", waitTimeout)
		return nil
	}
}

func (fx *fakeExchange) nextMessage(t *testing.T) string {
	t.Helper()
	select {
	case m := <-fx.received:
		return m
	case <-time.After(waitTimeout):
		t.Fatalf("no message within %s", waitTimeout)
		return ""
	}
}

func waitStatus(t *testing.T, l *StateListener, want Status) ConnectionState {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-l.C():
			if s.Status == want {
				return s
			}
		case <-deadline:
			t.Fatalf("state %s not reached within %s", want, waitTimeout)
			return ConnectionState{}
		}
	}
}

func nextUpdate(t *testing.T, ch <-chan adapter.Update) adapter.Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(waitTimeout):
		t.Fatalf("no update within %s", waitTimeout)
		return adapter.Update{}
	}
}

func priceMessage(mark string) []byte {
	return fmt.Appendf(nil, `{"channel":"price","data":{"symbol":"BTC-USD","mark_price":"%s","time":1}}`, mark)
}

func TestHubReplaysSubscriptionsAfterReconnect(t *testing.T) {
	fx := newFakeExchange(t)
	h := NewHub(Config{Dialer: websocket.NewDialer(fx.url(), nil), Backoff: fastBackoff})
	states := h.AddStateListener(32)
	assert.Equal(t, StatusDisconnected, waitStatus(t, states, StatusDisconnected).Status)

	require.NoError(t, h.Subscribe(t.Context(), "BTC-USD", enum.ChannelPrice))
	l, err := h.AddListener("BTC-USD", enum.ChannelPrice, 4)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	conn := fx.nextConn(t)
	assert.JSONEq(t, `{"op":"subscribe","channel":"price","symbol":"BTC-USD"}`, fx.nextMessage(t))
	waitStatus(t, states, StatusConnected)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, priceMessage("100.5")))
	u := nextUpdate(t, l.C())
	assert.Equal(t, "100.5", u.Price.MarkPrice.String())

	// garbage must not take the hub down
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(gws.TextMessage, priceMessage("101")))
	u = nextUpdate(t, l.C())
	assert.Equal(t, "101", u.Price.MarkPrice.String())

	// server drops the connection
	_ = conn.Close()
	rs := waitStatus(t, states, StatusReconnecting)
	assert.Equal(t, 1, rs.Attempt)
	assert.Equal(t, fastBackoff.Next(0), rs.NextDelay)

	conn = fx.nextConn(t)
	assert.JSONEq(t, `{"op":"subscribe","channel":"price","symbol":"BTC-USD"}`, fx.nextMessage(t))
	waitStatus(t, states, StatusConnected)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, priceMessage("102")))
	u = nextUpdate(t, l.C())
	assert.Equal(t, "102", u.Price.MarkPrice.String())

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StatusDisconnected, h.State().Status)
}

func TestHubSubscribeWhileConnected(t *testing.T) {
	fx := newFakeExchange(t)
	h := NewHub(Config{Dialer: websocket.NewDialer(fx.url(), nil), Backoff: fastBackoff})
	states := h.AddStateListener(32)

	go func() { _ = h.Run(t.Context()) }()
	conn := fx.nextConn(t)
	waitStatus(t, states, StatusConnected)

	l, err := h.Listen(t.Context(), "ETH-USD", enum.ChannelDepth, 4)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","channel":"depth","symbol":"ETH-USD"}`, fx.nextMessage(t))

	// duplicate subscribe is not resent
	require.NoError(t, h.Subscribe(t.Context(), "ETH-USD", enum.ChannelDepth))

	require.NoError(t, conn.WriteMessage(gws.TextMessage,
		[]byte(`{"channel":"depth","data":{"symbol":"ETH-USD","asks":[["10","1"]],"bids":[["9","2"]]}}`)))
	u := nextUpdate(t, l.C())
	require.NotNil(t, u.Depth)
	mid, ok := u.Depth.Mid()
	require.True(t, ok)
	assert.Equal(t, "9.5", mid.String())

	require.NoError(t, h.Unsubscribe(t.Context(), "ETH-USD", enum.ChannelDepth))
	assert.JSONEq(t, `{"op":"unsubscribe","channel":"depth","symbol":"ETH-USD"}`, fx.nextMessage(t))
}

func TestHubTakeReceiverOnce(t *testing.T) {
	h := NewHub(Config{})

	ch, ok := h.TakeReceiver()
	require.True(t, ok)
	require.NotNil(t, ch)

	again, ok := h.TakeReceiver()
	assert.False(t, ok)
	assert.Nil(t, again)
}

func TestHubReceiverGetsEveryUpdate(t *testing.T) {
	h := NewHub(Config{})
	ch, ok := h.TakeReceiver()
	require.True(t, ok)

	h.dispatch(priceMessage("7"))
	h.dispatch([]byte(`{"channel":"order","data":{"id":"o1","symbol":"SOL-USD","side":"buy","status":"open","qty":"1"}}`))

	assert.Equal(t, enum.ChannelPrice, nextUpdate(t, ch).Kind)
	assert.Equal(t, "o1", nextUpdate(t, ch).Order.ID)
}

func TestHubPauseSuppressesFanOut(t *testing.T) {
	h := NewHub(Config{})
	states := h.AddStateListener(8)
	l, err := h.AddListener("BTC-USD", enum.ChannelPrice, 4)
	require.NoError(t, err)

	h.Pause()
	waitStatus(t, states, StatusPaused)
	h.dispatch(priceMessage("1"))
	select {
	case u := <-l.C():
		t.Fatalf("unexpected update while paused: %+v", u)
	default:
	}

	h.Resume()
	assert.Equal(t, StatusDisconnected, waitStatus(t, states, StatusDisconnected).Status)
	h.dispatch(priceMessage("2"))
	assert.Equal(t, "2", nextUpdate(t, l.C()).Price.MarkPrice.String())
}

func TestHubBroadcastsLinkChangesWhilePaused(t *testing.T) {
	d := &failingDialer{}
	backoff := websocket.Backoff{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond, MaxExponent: 3}
	h := NewHub(Config{Dialer: d, Backoff: backoff})
	states := h.AddStateListener(64)

	h.Pause()
	s := waitStatus(t, states, StatusPaused)
	assert.Equal(t, StatusDisconnected, s.Link)
	assert.False(t, s.Live())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	seen := map[Status]bool{}
	attempts := 0
	deadline := time.After(waitTimeout)
	for attempts < 2 {
		select {
		case s := <-states.C():
			require.Equal(t, StatusPaused, s.Status, "pause must stay in force: %s", s)
			assert.False(t, s.Live())
			seen[s.Link] = true
			if s.Link == StatusReconnecting {
				attempts++
				assert.Equal(t, attempts, s.Attempt)
				require.ErrorIs(t, s.Err, exception.ErrNetwork)
				assert.Contains(t, s.String(), "paused(reconnecting(")
			}
		case <-deadline:
			t.Fatalf("saw %v, want two reconnect attempts while paused", seen)
		}
	}
	assert.True(t, seen[StatusConnecting])

	h.Resume()
	s = waitStatus(t, states, StatusReconnecting)
	assert.Equal(t, StatusDisconnected, s.Link)
}

func TestHubSlowListenerDoesNotBlock(t *testing.T) {
	h := NewHub(Config{})
	l, err := h.AddListener("BTC-USD", enum.ChannelPrice, 1)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := range 10 {
			h.dispatch(priceMessage(string(rune('0' + i))))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("dispatch blocked on a full listener")
	}
	assert.Equal(t, "0", nextUpdate(t, l.C()).Price.MarkPrice.String())

	l.Close()
	_, open := <-l.C()
	assert.False(t, open)
}

type failingDialer struct {
	calls atomic.Int32
}

func (d *failingDialer) Dial(ctx context.Context) (websocket.Conn, error) {
	d.calls.Add(1)
	return nil, errors.Wrap(exception.ErrNetwork, "refused")
}

func TestHubBackoffGrowsWhileDialFails(t *testing.T) {
	d := &failingDialer{}
	backoff := websocket.Backoff{Base: time.Millisecond, Cap: 8 * time.Millisecond, MaxExponent: 5}
	h := NewHub(Config{Dialer: d, Backoff: backoff})
	states := h.AddStateListener(64)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	for attempt := 1; attempt <= 5; attempt++ {
		s := waitStatus(t, states, StatusReconnecting)
		assert.Equal(t, attempt, s.Attempt)
		assert.Equal(t, backoff.Next(attempt-1), s.NextDelay)
		require.ErrorIs(t, s.Err, exception.ErrNetwork)
	}
	assert.Equal(t, 8*time.Millisecond, backoff.Next(4))
	assert.GreaterOrEqual(t, d.calls.Load(), int32(5))
}

func TestHubRejectsBadTopic(t *testing.T) {
	h := NewHub(Config{})
	require.ErrorIs(t, h.Subscribe(t.Context(), "", enum.ChannelPrice), exception.ErrInvalidSymbol)
	_, err := h.AddListener("BTC-USD", enum.ChannelKind(99), 1)
	require.ErrorIs(t, err, exception.ErrUnsupportedTopic)
}

func TestHubRunTwice(t *testing.T) {
	h := NewHub(Config{Dialer: &failingDialer{}, Backoff: fastBackoff})
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	require.Eventually(t, func() bool { return h.running.Load() }, waitTimeout, time.Millisecond)
	require.ErrorIs(t, h.Run(ctx), exception.ErrInvalidArgument)
}
