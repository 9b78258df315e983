// Package frontend implements the public-facing half of the tunnel: the
// agent WebSocket control endpoint, the connection registry's reader
// loop, and the HTTP dispatcher that forwards public traffic to agents.
package frontend

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cobaltbridge/revtunnel/internal/envelope"
	"github.com/cobaltbridge/revtunnel/internal/registry"
)

const healthzBody = `<!doctype html><html><body><h1>ok</h1></body></html>`

// Server owns the connection registry and answers both the agent control
// endpoint and the public HTTP fallback route.
type Server struct {
	registry   *registry.Registry
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	log        zerolog.Logger

	agentCount atomic.Int64
}

// New builds a Server. maxBodyBytes <= 0 means unlimited.
func New(requestTimeout time.Duration, maxBodyBytes int64, log zerolog.Logger) *Server {
	reg := registry.New()
	return &Server{
		registry: reg,
		dispatcher: &Dispatcher{
			registry:       reg,
			requestTimeout: requestTimeout,
			maxBodyBytes:   maxBodyBytes,
			log:            log,
		},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		log: log,
	}
}

// Mux builds the full handler tree: health check, agent control
// endpoint, and the public HTTP dispatcher fallback.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tunnel/healthz", s.handleHealthz)
	mux.HandleFunc("/tunnel/ws", s.handleConnect)
	mux.HandleFunc("/", s.dispatcher.ServeHTTP)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, healthzBody)
}

// handleConnect upgrades an agent control connection. A missing
// X-Connect-Id header is rejected with 400 before the protocol switch,
// rather than accepting the upgrade and immediately closing it.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	connectID := strings.TrimSpace(r.Header.Get(envelope.HeaderConnectID))
	if connectID == "" {
		http.Error(w, "missing "+envelope.HeaderConnectID+" header", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("connect_id", connectID).Msg("websocket upgrade failed")
		return
	}

	current, previous := s.registry.Register(connectID, conn)
	if s.dispatcher.maxBodyBytes > 0 {
		// Response bodies arrive base64-encoded, so the frame limit is the
		// encoded size of a max-size body plus headroom for the envelope.
		current.SetReadLimit((s.dispatcher.maxBodyBytes+2)/3*4 + (2 << 20))
	}
	if previous != nil {
		s.log.Warn().Str("connect_id", connectID).Msg("agent connection displaced (last-write-wins)")
	}
	s.agentCount.Add(1)
	s.log.Info().Str("connect_id", connectID).Str("remote_addr", r.RemoteAddr).Msg("agent connected")

	s.readLoop(current)
}

// readLoop is the agent reader task: one per registered connection,
// reading response envelopes and demuxing them into the pending-request
// table until the receive side ends.
func (s *Server) readLoop(conn *registry.Connection) {
	defer func() {
		s.registry.Unregister(conn.ConnectID, conn)
		conn.DrainPending()
		_ = conn.Close()
		s.agentCount.Add(-1)
		s.log.Info().Str("connect_id", conn.ConnectID).Msg("agent disconnected")
	}()

	for {
		msgType, data, err := conn.ReadRaw()
		if err != nil {
			if !isExpectedCloseErr(err) {
				s.log.Debug().Err(err).Str("connect_id", conn.ConnectID).Msg("agent read failed")
			}
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}

		var resp envelope.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			// A malformed frame never tears down the connection; the
			// agent may still recover.
			s.log.Warn().Err(err).Str("connect_id", conn.ConnectID).Msg("dropping undecodable response frame")
			continue
		}
		if resp.TunnelID == "" {
			continue
		}

		ch, ok := conn.Pop(resp.TunnelID)
		if !ok {
			// Unknown tunnel_id: the dispatcher already timed out. Drop
			// silently.
			continue
		}
		ch <- resp
	}
}

func isExpectedCloseErr(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) ||
		errors.Is(err, io.EOF)
}

// AgentCount reports the number of currently registered agents, used by
// status/debug surfaces only.
func (s *Server) AgentCount() int64 { return s.agentCount.Load() }
