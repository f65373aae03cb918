package marketdata

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"perpbot/internal/adapter"
	"perpbot/internal/adapter/enum"
	"perpbot/internal/obs"
	"perpbot/pkg/exception"
	"perpbot/pkg/websocket"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	defaultListenerBuffer = 256
	defaultReceiverBuffer = 1024
	defaultStateBuffer    = 16
)

// Config configures a Hub.
type Config struct {
	Dialer  websocket.Dialer
	Codec   Codec
	Backoff websocket.Backoff

	// PingInterval enables client pings when positive.
	PingInterval   time.Duration
	ReceiverBuffer int

	// OnConnect runs right after every successful dial, before subscriptions
	// are replayed. Returning an error drops the connection and backs off.
	OnConnect func(ctx context.Context, conn websocket.Conn) error

	Metrics *obs.Metrics
}

// Hub owns the market data stream. It reconnects with exponential backoff,
// replays subscriptions on every connect, and fans parsed updates out to
// listeners of the matching topic.
type Hub struct {
	cfg  Config
	subs *websocket.Subscriptions[Topic]

	mu             sync.RWMutex
	conn           websocket.Conn
	listeners      map[Topic]map[*Listener]struct{}
	stateListeners map[*StateListener]struct{}

	stateMu   sync.Mutex
	connState ConnectionState
	paused    bool
	current   atomic.Value // ConnectionState

	receiver      chan adapter.Update
	receiverTaken atomic.Bool
	running       atomic.Bool
}

// NewHub creates a disconnected hub. Call Run to start streaming.
func NewHub(cfg Config) *Hub {
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	if cfg.Backoff == (websocket.Backoff{}) {
		cfg.Backoff = websocket.DefaultBackoff()
	}
	if cfg.ReceiverBuffer <= 0 {
		cfg.ReceiverBuffer = defaultReceiverBuffer
	}

	h := &Hub{
		cfg:            cfg,
		subs:           websocket.NewSubscriptions[Topic](),
		listeners:      make(map[Topic]map[*Listener]struct{}),
		stateListeners: make(map[*StateListener]struct{}),
		connState:      ConnectionState{Status: StatusDisconnected},
		receiver:       make(chan adapter.Update, cfg.ReceiverBuffer),
	}
	h.current.Store(h.connState)
	cfg.Metrics.SetHubStatus(StatusDisconnected.String())
	return h
}

// State returns the current connection state.
func (h *Hub) State() ConnectionState {
	return h.current.Load().(ConnectionState)
}

// Subscribe registers interest in a topic. The subscription is sent right
// away when connected and replayed on every later connect.
func (h *Hub) Subscribe(ctx context.Context, symbol string, kind enum.ChannelKind) error {
	t, err := newTopic(symbol, kind)
	if err != nil {
		return err
	}
	if !h.subs.Add(t) && h.subs.IsActive(t) {
		return nil
	}

	conn := h.activeConn()
	if conn == nil {
		logs.Debugf("market data: queue subscription %s until connected", t)
		return nil
	}
	if err := h.send(ctx, conn, h.cfg.Codec.EncodeSubscribe, t); err != nil {
		return errors.Wrapf(err, "subscribe %s", t)
	}
	h.subs.MarkActive(t)
	return nil
}

// Unsubscribe drops interest in a topic. Listeners stay registered but
// receive nothing further.
func (h *Hub) Unsubscribe(ctx context.Context, symbol string, kind enum.ChannelKind) error {
	t, err := newTopic(symbol, kind)
	if err != nil {
		return err
	}
	wasActive := h.subs.IsActive(t)
	if !h.subs.Remove(t) || !wasActive {
		return nil
	}

	conn := h.activeConn()
	if conn == nil {
		return nil
	}
	if err := h.send(ctx, conn, h.cfg.Codec.EncodeUnsubscribe, t); err != nil {
		return errors.Wrapf(err, "unsubscribe %s", t)
	}
	return nil
}

// AddListener registers a listener for a topic without subscribing.
func (h *Hub) AddListener(symbol string, kind enum.ChannelKind, buffer int) (*Listener, error) {
	t, err := newTopic(symbol, kind)
	if err != nil {
		return nil, err
	}
	if buffer <= 0 {
		buffer = defaultListenerBuffer
	}

	l := &Listener{hub: h, topic: t, ch: make(chan adapter.Update, buffer)}
	h.mu.Lock()
	set, ok := h.listeners[t]
	if !ok {
		set = make(map[*Listener]struct{})
		h.listeners[t] = set
	}
	set[l] = struct{}{}
	h.mu.Unlock()
	return l, nil
}

// Listen registers a listener and subscribes to its topic.
func (h *Hub) Listen(ctx context.Context, symbol string, kind enum.ChannelKind, buffer int) (*Listener, error) {
	l, err := h.AddListener(symbol, kind, buffer)
	if err != nil {
		return nil, err
	}
	if err := h.Subscribe(ctx, symbol, kind); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// AddStateListener registers a listener for connection state transitions.
// The current state is delivered first.
func (h *Hub) AddStateListener(buffer int) *StateListener {
	if buffer <= 0 {
		buffer = defaultStateBuffer
	}
	l := &StateListener{hub: h, ch: make(chan ConnectionState, buffer)}

	h.stateMu.Lock()
	h.mu.Lock()
	h.stateListeners[l] = struct{}{}
	h.mu.Unlock()
	l.push(h.State())
	h.stateMu.Unlock()
	return l
}

// TakeReceiver hands out the single-consumer stream of every parsed update.
// Only the first call gets the channel; later calls return false.
func (h *Hub) TakeReceiver() (<-chan adapter.Update, bool) {
	if !h.receiverTaken.CompareAndSwap(false, true) {
		return nil, false
	}
	return h.receiver, true
}

// Pause keeps the connection open but stops delivering updates.
func (h *Hub) Pause() {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if h.paused {
		return
	}
	h.paused = true
	h.publishLocked()
}

// Resume restarts delivery after Pause.
func (h *Hub) Resume() {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if !h.paused {
		return
	}
	h.paused = false
	h.publishLocked()
}

// Run dials and keeps the stream alive until ctx is done. It returns the
// context error on shutdown.
func (h *Hub) Run(ctx context.Context) error {
	if h.cfg.Dialer == nil {
		return errors.Wrap(exception.ErrNilInstance, "market data dialer")
	}
	if !h.running.CompareAndSwap(false, true) {
		return errors.Wrap(exception.ErrInvalidArgument, "market data hub is already running")
	}
	defer h.running.Store(false)
	defer h.setConnState(ConnectionState{Status: StatusDisconnected})

	h.setConnState(ConnectionState{Status: StatusConnecting})

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := h.cfg.Dialer.Dial(ctx)
		if err == nil {
			err = h.attach(ctx, conn)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logs.Warnf("market data: connect failed, attempt: %d, err: %+v", attempt+1, err)
			if !h.sleepBackoff(ctx, attempt, err) {
				return ctx.Err()
			}
			attempt++
			continue
		}

		attempt = 0
		logs.Infof("market data: connected, subscriptions: %d", h.subs.Count())
		err = h.runSession(ctx, conn)
		h.detach(conn)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		logs.Warnf("market data: connection lost, err: %+v", err)
		if !h.sleepBackoff(ctx, attempt, err) {
			return ctx.Err()
		}
		attempt++
	}
}

func (h *Hub) attach(ctx context.Context, conn websocket.Conn) error {
	if h.cfg.OnConnect != nil {
		if err := h.cfg.OnConnect(ctx, conn); err != nil {
			_ = conn.Close(websocket.CloseNormal, "on_connect_failed")
			return errors.Wrap(err, "on connect")
		}
	}

	h.subs.ClearActive()
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	for _, t := range h.subs.Desired(nil) {
		if h.subs.IsActive(t) {
			continue
		}
		if err := h.send(ctx, conn, h.cfg.Codec.EncodeSubscribe, t); err != nil {
			h.detach(conn)
			return errors.Wrapf(err, "replay subscription %s", t)
		}
		h.subs.MarkActive(t)
	}

	h.setConnState(ConnectionState{Status: StatusConnected})
	return nil
}

func (h *Hub) detach(conn websocket.Conn) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mu.Unlock()
	h.subs.ClearActive()
	_ = conn.Close(websocket.CloseNormal, "session_end")
}

func (h *Hub) runSession(ctx context.Context, conn websocket.Conn) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go h.readLoop(sessionCtx, conn, errCh)

	var ping <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			// unblocks the pending Read
			_ = conn.Close(websocket.CloseGoingAway, "shutdown")
			<-errCh
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ping:
			if err := conn.Write(sessionCtx, websocket.MessagePing, nil); err != nil {
				_ = conn.Close(websocket.CloseNormal, "ping_failed")
				<-errCh
				return errors.Wrap(err, "ping")
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, conn websocket.Conn, errCh chan<- error) {
	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			errCh <- err
			return
		}
		if msgType != websocket.MessageText && msgType != websocket.MessageBinary {
			continue
		}
		h.dispatch(payload)
	}
}

func (h *Hub) dispatch(payload []byte) {
	u, ok, err := h.cfg.Codec.Decode(payload)
	if err != nil {
		logs.Warnf("market data: drop frame, err: %+v, payload: %s", err, truncate(payload, 256))
		h.cfg.Metrics.IncDroppedFrame("malformed")
		return
	}
	if !ok {
		return
	}
	if h.State().Status == StatusPaused {
		h.cfg.Metrics.IncDroppedFrame("paused")
		return
	}

	t := Topic{Symbol: u.Symbol, Kind: u.Kind}
	h.mu.RLock()
	for l := range h.listeners[t] {
		select {
		case l.ch <- u:
		default:
			h.cfg.Metrics.IncDroppedFrame("slow_listener")
		}
	}
	h.mu.RUnlock()

	select {
	case h.receiver <- u:
	default:
		if h.receiverTaken.Load() {
			h.cfg.Metrics.IncDroppedFrame("receiver_full")
		}
	}
}

func (h *Hub) sleepBackoff(ctx context.Context, attempt int, cause error) bool {
	wait := h.cfg.Backoff.Next(attempt)
	h.cfg.Metrics.IncReconnect()
	h.setConnState(ConnectionState{
		Status:    StatusReconnecting,
		Attempt:   attempt + 1,
		NextDelay: wait,
		Err:       cause,
	})

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (h *Hub) send(ctx context.Context, conn websocket.Conn, encode func(Topic) ([]byte, error), t Topic) error {
	payload, err := encode(t)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (h *Hub) activeConn() websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn
}

func (h *Hub) setConnState(s ConnectionState) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.connState = s
	h.publishLocked()
}

// publishLocked broadcasts the effective state when it changed. A link
// transition during a pause is broadcast as Paused with the new Link.
// Requires stateMu.
func (h *Hub) publishLocked() {
	next := h.connState
	if h.paused {
		next.Link = next.Status
		next.Status = StatusPaused
	}
	if h.State().same(next) {
		return
	}
	h.current.Store(next)
	h.cfg.Metrics.SetHubStatus(next.Status.String())

	h.mu.RLock()
	for l := range h.stateListeners {
		l.push(next)
	}
	h.mu.RUnlock()
}

func newTopic(symbol string, kind enum.ChannelKind) (Topic, error) {
	if symbol == "" {
		return Topic{}, exception.ErrInvalidSymbol
	}
	if !kind.IsAvailable() {
		return Topic{}, errors.Wrapf(exception.ErrUnsupportedTopic, "channel %d", kind)
	}
	return Topic{Symbol: symbol, Kind: kind}, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
