package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"perpbot/pkg/exception"

	gws "github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

type dialer struct {
	url    string
	header http.Header
	dialer *gws.Dialer
}

// NewDialer returns a Dialer connecting to url with the given handshake headers.
func NewDialer(url string, header http.Header) Dialer {
	return &dialer{
		url:    url,
		header: header,
		dialer: &gws.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
	}
}

func (d *dialer) Dial(ctx context.Context) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(exception.ErrTimeout, err.Error())
		}
		return nil, errors.Wrapf(exception.ErrNetwork, "dial %s: %s", d.url, err.Error())
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn    *gws.Conn
	writeMu sync.Mutex
	closeMu sync.Once
}

func (c *wsConn) Read(ctx context.Context) (MessageType, []byte, error) {
	msgType, payload, err := c.conn.ReadMessage()
	if err != nil {
		if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
			return 0, nil, errors.Wrap(exception.ErrConnectionClose, err.Error())
		}
		return 0, nil, errors.Wrap(exception.ErrNetwork, err.Error())
	}
	return MessageType(msgType), payload, nil
}

func (c *wsConn) Write(ctx context.Context, msgType MessageType, payload []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultWriteTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(int(msgType), payload); err != nil {
		return errors.Wrap(exception.ErrNetwork, err.Error())
	}
	return nil
}

func (c *wsConn) Close(code CloseCode, reason string) error {
	var err error
	c.closeMu.Do(func() {
		c.writeMu.Lock()
		msg := gws.FormatCloseMessage(int(code), reason)
		_ = c.conn.WriteControl(gws.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
