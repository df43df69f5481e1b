package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/docvoice/internal/audio"
	"github.com/ent0n29/docvoice/internal/config"
	"github.com/ent0n29/docvoice/internal/credentials"
	"github.com/ent0n29/docvoice/internal/docindex"
	"github.com/ent0n29/docvoice/internal/observability"
	"github.com/ent0n29/docvoice/internal/protocol"
	"github.com/ent0n29/docvoice/internal/session"
)

const (
	wsReadLimit    = 2 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

type Relay interface {
	Run(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) error
}

type DocumentIndex interface {
	Documents() []docindex.DocumentInfo
	Reload(ctx context.Context) error
	Len() int
}

type Deps struct {
	Sessions    *session.Manager
	Relay       Relay
	Index       DocumentIndex
	Credentials credentials.Provider
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

type Server struct {
	cfg         config.Config
	sessions    *session.Manager
	relay       Relay
	index       DocumentIndex
	credentials credentials.Provider
	metrics     *observability.Metrics
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := d.Sessions
	if sessions == nil {
		sessions = session.NewManager(cfg.SessionRetention)
	}
	return &Server{
		cfg:         cfg,
		sessions:    sessions,
		relay:       d.Relay,
		index:       d.Index,
		credentials: d.Credentials,
		metrics:     d.Metrics,
		logger:      logger.Named("httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a microphone session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/realtime", s.handleRealtimeAction)
	r.Get("/v1/realtime/ws", s.handleRealtimeWS)
	r.Get("/v1/documents", s.handleListDocuments)
	r.Post("/v1/documents/reload", s.handleReloadDocuments)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Get("/v1/perf/stages", s.handlePerfStages)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.activeSessions(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.relay == nil || s.index == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "relay or document index not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"documents": s.index.Len(),
	})
}

// handleRealtimeWS bridges one websocket client to one relay session.
// Text frames carry protocol messages; binary frames are raw PCM16 audio.
func (s *Server) handleRealtimeWS(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "relay not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := s.sessions.Create(r.RemoteAddr)
	s.recordActiveSessions()
	s.recordSessionEvent("ws_connected")
	logger := s.logger.With(zap.String("session_id", sess.ID))
	logger.Info("client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		defer close(outbound)
		if err := s.relay.Run(ctx, sess.ID, inbound, outbound); err != nil {
			logger.Warn("relay run ended with error", zap.Error(err))
		}
	}()

	// notices carries gateway-originated errors; only the relay closes outbound.
	notices := make(chan any, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		failed := false
		write := func(msg any) {
			if failed {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.recordSessionEvent("ws_write_error")
				failed = true
				cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.recordWSMessage("outbound", string(t))
			}
		}
	writeLoop:
		for {
			select {
			case msg, ok := <-outbound:
				if !ok {
					break writeLoop
				}
				write(msg)
			case msg := <-notices:
				write(msg)
			}
		}
		// The relay is done; unblock the reader below.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var parsed any
		switch msgType {
		case websocket.BinaryMessage:
			parsed = audio.Frame(data)
			s.recordWSMessage("inbound", "audio_binary")
		case websocket.TextMessage:
			parsed, err = protocol.ParseClientMessage(data)
			if err != nil {
				logger.Debug("dropping invalid client message", zap.Error(err))
				s.recordWSMessage("inbound", "invalid")
				select {
				case notices <- protocol.NewError("invalid client message: " + err.Error()):
					s.recordOutboundMessage(string(protocol.TypeError), "queued")
				default:
					s.recordOutboundMessage(string(protocol.TypeError), "drop_full")
				}
				continue
			}
			if t, ok := messageTypeOf(parsed); ok {
				s.recordWSMessage("inbound", string(t))
			}
		default:
			continue
		}
		_ = s.sessions.Touch(sess.ID)

		select {
		case <-ctx.Done():
			break readLoop
		case <-runDone:
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone

	if _, err := s.sessions.End(sess.ID); err != nil {
		logger.Warn("end session", zap.Error(err))
	}
	s.recordActiveSessions()
	s.recordSessionEvent("ws_disconnected")
	logger.Info("client disconnected")
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) activeSessions() int {
	return s.sessions.ActiveCount()
}

// The record helpers are no-ops when the server runs without metrics.

func (s *Server) recordActiveSessions() {
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	}
}

func (s *Server) recordSessionEvent(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (s *Server) recordWSMessage(direction, msgType string) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, msgType).Inc()
	}
}

func (s *Server) recordOutboundMessage(msgType, result string) {
	if s.metrics != nil {
		s.metrics.ObserveOutboundMessage(msgType, result)
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.StartSession:
		return m.Type, true
	case protocol.ClientAudio:
		return m.Type, true
	case protocol.Disconnect:
		return m.Type, true
	case protocol.SessionStarted:
		return m.Type, true
	case protocol.Message:
		return m.Type, true
	case protocol.Error:
		return m.Type, true
	default:
		return "", false
	}
}
