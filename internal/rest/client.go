package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"perpbot/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

const (
	DefaultTimeout = 15 * time.Second
	maxBodySize    = 1 << 20
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Request is one JSON call against the exchange.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Client performs JSON requests against one base URL. It never retries.
type Client struct {
	baseURL string
	doer    Doer
	timeout time.Duration
}

func NewClient(baseURL string, doer Doer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		doer:    doer,
		timeout: DefaultTimeout,
	}
}

// Marshal encodes v in the compact form that is also signed.
func Marshal(v any) ([]byte, error) {
	b, err := sonic.ConfigFastest.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(exception.ErrInternal, "marshal request: %s", err.Error())
	}
	return b, nil
}

// Do sends req and decodes a 2xx body into out (when non-nil). Other
// statuses become a *ServerError unwrapping to rejected.
func (c *Client) Do(ctx context.Context, req Request, rejected error, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + req.Path
	if len(req.Query) != 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	r, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return errors.Wrapf(exception.ErrInvalidArgument, "build request: %s", err.Error())
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	if req.Body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(r)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrapf(exception.ErrTimeout, "%s %s: %s", req.Method, req.Path, err.Error())
		}
		return errors.Wrapf(exception.ErrNetwork, "%s %s: %s", req.Method, req.Path, err.Error())
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return errors.Wrapf(exception.ErrNetwork, "read %s %s: %s", req.Method, req.Path, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := newServerError(resp.StatusCode, payload, rejected)
		se.Op = req.Method + " " + req.Path
		return se
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := sonic.ConfigFastest.Unmarshal(payload, out); err != nil {
		return errors.Wrapf(exception.ErrInternal, "decode %s %s: %s", req.Method, req.Path, err.Error())
	}
	return nil
}

// ServerError is a non-2xx answer of the exchange. It unwraps to the
// sentinel of the failed operation.
type ServerError struct {
	// Op names the failed call, outermost operation first.
	Op      string
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *ServerError) Error() string {
	msg := fmt.Sprintf("%s: status %d", e.kind, e.Status)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != "" {
		msg += ", code " + e.Code
	}
	if e.Message != "" {
		msg += ", " + e.Message
	}
	return msg
}

func (e *ServerError) Unwrap() error {
	return e.kind
}

// NewServerError builds a ServerError from a status and an error body.
func NewServerError(status int, code, message string, kind error) *ServerError {
	return &ServerError{Status: status, Code: code, Message: message, kind: kind}
}

// Annotate prefixes err with op. A *ServerError is labelled in place and
// returned as is, so callers can still errors.As it; the error wrapper of
// this codebase hides wrapped causes from errors.As. Other errors are
// wrapped.
func Annotate(err error, op string) error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*ServerError); ok {
		labelled := *se
		if labelled.Op == "" {
			labelled.Op = op
		} else {
			labelled.Op = op + ": " + labelled.Op
		}
		return &labelled
	}
	return errors.Wrap(err, op)
}

type errorBody struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func newServerError(status int, payload []byte, kind error) *ServerError {
	if kind == nil {
		kind = exception.ErrInternal
	}
	e := &ServerError{Status: status, kind: kind}

	var body errorBody
	if err := sonic.ConfigFastest.Unmarshal(payload, &body); err != nil {
		e.Message = strings.TrimSpace(string(payload))
		if len(e.Message) > 256 {
			e.Message = e.Message[:256]
		}
		return e
	}
	if body.Code != nil {
		e.Code = fmt.Sprint(body.Code)
	}
	e.Message = body.Message
	if e.Message == "" {
		e.Message = body.Error
	}
	return e
}
