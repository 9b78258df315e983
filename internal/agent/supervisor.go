// Package agent implements the agent half of the tunnel: the reconnect
// supervisor, the per-session request loop, the origin-calling executor,
// and the target-host allowlist.
package agent

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cobaltbridge/revtunnel/internal/envelope"
	"github.com/cobaltbridge/revtunnel/internal/registry"
)

// Supervisor runs the reconnect loop: dial, run a session to completion,
// back off, retry — until shutdown.
type Supervisor struct {
	serverURL string
	connectID string
	backoff   time.Duration

	executor *Executor
	log      zerolog.Logger

	status *statusStore
}

// NewSupervisor builds a Supervisor. backoff <= 0 falls back to a 5
// second default.
func NewSupervisor(serverURL, connectID string, backoff time.Duration, executor *Executor, log zerolog.Logger) *Supervisor {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Supervisor{
		serverURL: serverURL,
		connectID: connectID,
		backoff:   backoff,
		executor:  executor,
		log:       log,
		status:    newStatus(),
	}
}

// Status reports the supervisor's current connectivity, for the admin
// HTTP surface.
func (s *Supervisor) Status() Status {
	return s.status.snapshot()
}

// Run executes the reconnect supervisor until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := s.connectOnce(ctx); err != nil {
			s.status.setError(err)
			s.log.Warn().Err(err).Msg("agent disconnected")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.backoff):
		}
	}
}

func (s *Supervisor) connectOnce(ctx context.Context) error {
	header := http.Header{}
	header.Set(envelope.HeaderConnectID, s.connectID)

	raw, _, err := websocket.DefaultDialer.DialContext(ctx, s.serverURL, header)
	if err != nil {
		return err
	}

	conn := registry.NewConnection(s.connectID, raw)
	s.status.setConnected(true)
	s.log.Info().Str("server_url", redactURL(s.serverURL)).Msg("agent connected")

	defer func() {
		s.status.setConnected(false)
		_ = conn.Close()
	}()

	err = s.runSession(ctx, conn, raw)
	if err != nil && isExpectedCloseErr(err) {
		s.log.Debug().Err(err).Msg("session ended")
		return nil
	}
	return err
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
