package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/docvoice/internal/protocol"
)

func TestCredentialFetcher(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{name: "configured", status: http.StatusOK, body: `{"apiKey":"sk-live"}`, want: "sk-live"},
		{name: "unconfigured", status: http.StatusOK, body: `{"apiKey":null}`, wantErr: ErrNoCredential},
		{name: "empty", status: http.StatusOK, body: `{"apiKey":"  "}`, wantErr: ErrNoCredential},
		{name: "upstream failure", status: http.StatusBadGateway, body: `{"error":"x","code":"credential_unavailable"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodPost, r.Method)
				require.Equal(t, "/v1/realtime", r.URL.Path)
				var req getConfigRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				require.Equal(t, "get_config", req.Action)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			got, err := NewCredentialFetcher(srv.URL+"/", nil).Credential(context.Background())
			switch {
			case tc.wantErr != nil:
				require.ErrorIs(t, err, tc.wantErr)
			case tc.want == "":
				require.Error(t, err)
				require.NotErrorIs(t, err, ErrNoCredential)
			default:
				require.NoError(t, err)
				require.Equal(t, tc.want, got)
			}
		})
	}
}

func TestWSURL(t *testing.T) {
	u, err := wsURL("https://voice.example.com/base/")
	require.NoError(t, err)
	require.Equal(t, "wss://voice.example.com/base/v1/realtime/ws", u)

	u, err = wsURL("http://127.0.0.1:8080")
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:8080/v1/realtime/ws", u)

	_, err = wsURL("ftp://x")
	require.Error(t, err)
	_, err = wsURL("http://")
	require.Error(t, err)
}

func TestChannelDialerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/realtime/ws", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.ParseClientMessage(data)
			if err != nil {
				continue
			}
			if _, ok := msg.(protocol.StartSession); ok {
				_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2})
				_ = conn.WriteJSON(protocol.NewSessionStarted())
			}
		}
	}))
	defer srv.Close()

	d, err := NewChannelDialer(srv.URL)
	require.NoError(t, err)
	ch, err := d.Dial(context.Background())
	require.NoError(t, err)

	require.NoError(t, ch.Send(protocol.NewStartSession("sk")))
	raw, err := ch.Receive()
	require.NoError(t, err)
	msg, err := protocol.ParseServerMessage(raw)
	require.NoError(t, err)
	require.IsType(t, protocol.SessionStarted{}, msg)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
}
