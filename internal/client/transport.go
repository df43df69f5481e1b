package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	channelWriteTimeout = 5 * time.Second
	realtimePath        = "/v1/realtime"
	realtimeWSPath      = "/v1/realtime/ws"
)

type getConfigRequest struct {
	Action string `json:"action"`
}

type getConfigResponse struct {
	APIKey *string `json:"apiKey"`
}

// CredentialFetcher asks the trusted backend for a short-lived credential.
type CredentialFetcher struct {
	baseURL string
	client  *http.Client
}

func NewCredentialFetcher(baseURL string, client *http.Client) *CredentialFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &CredentialFetcher{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"), client: client}
}

func (f *CredentialFetcher) Credential(ctx context.Context) (string, error) {
	payload, err := json.Marshal(getConfigRequest{Action: "get_config"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+realtimePath, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get_config HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out getConfigResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode get_config: %w", err)
	}
	if out.APIKey == nil || strings.TrimSpace(*out.APIKey) == "" {
		return "", ErrNoCredential
	}
	return *out.APIKey, nil
}

// ChannelDialer opens the control channel websocket.
type ChannelDialer struct {
	url    string
	dialer *websocket.Dialer
}

func NewChannelDialer(baseURL string) (*ChannelDialer, error) {
	u, err := wsURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &ChannelDialer{url: u, dialer: websocket.DefaultDialer}, nil
}

func (d *ChannelDialer) URL() string { return d.url }

func (d *ChannelDialer) Dial(ctx context.Context) (Channel, error) {
	conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	return &wsChannel{conn: conn}, nil
}

func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + realtimeWSPath
	return u.String(), nil
}

type wsChannel struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsChannel) Send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(channelWriteTimeout))
	return c.conn.WriteJSON(msg)
}

// Receive returns the next text frame.
func (c *wsChannel) Receive() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
