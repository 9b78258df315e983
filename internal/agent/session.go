package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/gorilla/websocket"

	"github.com/cobaltbridge/revtunnel/internal/envelope"
	"github.com/cobaltbridge/revtunnel/internal/registry"
)

// runSession reads request envelopes until shutdown, session end, or a
// malformed frame (which desyncs the protocol and tears down the
// session).
//
// Each decoded request is dispatched to its own goroutine; only the send
// side (conn's write mutex, via registry.Connection) is serialized. A
// slow request no longer blocks later ones on the same session.
func (s *Supervisor) runSession(ctx context.Context, conn *registry.Connection, raw *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = raw.Close()
		case <-done:
		}
	}()

	for {
		msgType, data, err := conn.ReadRaw()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}

		var req envelope.Request
		if err := json.Unmarshal(data, &req); err != nil {
			// A malformed frame indicates protocol desync; tear the
			// session down rather than drop-and-continue.
			return errors.New("malformed request frame: " + err.Error())
		}

		go s.handleRequest(conn, req)
	}
}

func (s *Supervisor) handleRequest(conn *registry.Connection, req envelope.Request) {
	resp, err := s.executor.Execute(req)
	if err != nil {
		s.log.Warn().Err(err).Str("tunnel_id", req.TunnelID).Str("host", req.Host).Msg("local execution failed")
		resp = envelope.NewBadResponse(req.RequestID, req.TunnelID)
	}

	if err := conn.SendResponse(resp); err != nil {
		s.log.Warn().Err(err).Str("tunnel_id", req.TunnelID).Msg("write response failed")
	}
}

// isExpectedCloseErr mirrors the frontend's classification so both sides
// log at the same severity for ordinary shutdown-driven closes.
func isExpectedCloseErr(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) ||
		errors.Is(err, io.EOF)
}
