package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/docvoice/internal/reliability"
)

// Upstream is one open realtime socket.
type Upstream interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, credential string) (Upstream, error)
}

// DialError carries the failure kind of a rejected handshake.
type DialError struct {
	Kind   string
	Status int
	Err    error
}

func (e *DialError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("dial realtime websocket: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("dial realtime websocket: %v", e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

type WSDialerConfig struct {
	BaseURL          string
	Model            string
	HandshakeTimeout time.Duration
}

// WSDialer opens realtime sockets with gorilla/websocket.
type WSDialer struct {
	cfg    WSDialerConfig
	dialer *websocket.Dialer
}

func NewWSDialer(cfg WSDialerConfig) *WSDialer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "wss://api.openai.com/v1/realtime"
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	return &WSDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// URL returns the realtime endpoint with the model query applied.
func (d *WSDialer) URL() (string, error) {
	u, err := url.Parse(d.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	if d.cfg.Model != "" {
		q := u.Query()
		q.Set("model", d.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (d *WSDialer) Dial(ctx context.Context, credential string) (Upstream, error) {
	target, err := d.URL()
	if err != nil {
		return nil, &DialError{Kind: reliability.KindInvalidRequest, Err: err}
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+credential)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := d.dialer.DialContext(ctx, target, headers)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, &DialError{Kind: reliability.ClassifyHTTPStatus(resp.StatusCode), Status: resp.StatusCode, Err: err}
		}
		return nil, &DialError{Kind: reliability.KindNetwork, Err: err}
	}
	return &wsUpstream{conn: conn}, nil
}

type wsUpstream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (u *wsUpstream) ReadMessage() ([]byte, error) {
	_, data, err := u.conn.ReadMessage()
	return data, err
}

func (u *wsUpstream) WriteJSON(v any) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	return u.conn.WriteJSON(v)
}

func (u *wsUpstream) Close() error {
	u.closeOnce.Do(func() {
		u.writeMu.Lock()
		_ = u.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		u.writeMu.Unlock()
		u.closeErr = u.conn.Close()
	})
	return u.closeErr
}

// isNormalClose reports whether a read error is an orderly close by the peer.
func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == websocket.CloseNoStatusReceived
}
