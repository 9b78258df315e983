package frontend

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cobaltbridge/revtunnel/internal/envelope"
	"github.com/cobaltbridge/revtunnel/internal/registry"
)

// hopByHopHeaders are stripped from both directions of proxying, matching
// RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive",
	"Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Dispatcher handles public HTTP requests, each in its own ServeHTTP call
// (calls run concurrently): it encodes the request into an envelope, sends it to the target agent, waits for a
// matching response, and decodes that response back onto the
// ResponseWriter, translating every failure mode into an HTTP status.
type Dispatcher struct {
	registry       *registry.Registry
	requestTimeout time.Duration
	maxBodyBytes   int64
	log            zerolog.Logger
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stripHeaders(r.Header, hopByHopHeaders)
	appendForwardingHeaders(r.Header, r)

	env, err := envelope.EncodeRequest(r, d.maxBodyBytes)
	if err != nil {
		d.log.Debug().Err(err).Msg("request codec failure")
		switch err {
		case envelope.ErrBodyTooLarge:
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	conn, ok := d.registry.TakeSender(env.RequestID)
	if !ok {
		http.Error(w, "no such agent: "+env.RequestID, http.StatusBadRequest)
		return
	}

	tunnelID := uuid.NewString()
	env.TunnelID = tunnelID
	deliverer := conn.Insert(tunnelID)

	if err := conn.Send(env); err != nil {
		conn.Remove(tunnelID)
		d.registry.Unregister(env.RequestID, conn)
		_ = conn.Close()
		d.log.Warn().Err(err).Str("connect_id", env.RequestID).Msg("agent transport failed")
		http.Error(w, "agent transport failed", http.StatusBadGateway)
		return
	}

	timer := time.NewTimer(d.effectiveTimeout())
	defer timer.Stop()

	select {
	case resp, delivered := <-deliverer:
		if !delivered {
			http.Error(w, "agent disconnected", http.StatusBadGateway)
			return
		}
		if err := envelope.DecodeResponse(resp, w); err != nil {
			d.log.Warn().Err(err).Str("tunnel_id", tunnelID).Msg("response codec failure")
			http.Error(w, "corrupt response from agent", http.StatusBadGateway)
		}
	case <-timer.C:
		conn.Remove(tunnelID)
		http.Error(w, "agent timeout", http.StatusGatewayTimeout)
	}
}

func (d *Dispatcher) effectiveTimeout() time.Duration {
	if d.requestTimeout <= 0 {
		return 30 * time.Second
	}
	return d.requestTimeout
}

func stripHeaders(h http.Header, names []string) {
	for _, name := range names {
		h.Del(name)
	}
}

func appendForwardingHeaders(h http.Header, r *http.Request) {
	if ip := clientIP(r.RemoteAddr); ip != "" {
		h.Add("X-Forwarded-For", ip)
	}
	h.Set("X-Forwarded-Host", r.Host)
	if r.TLS != nil {
		h.Set("X-Forwarded-Proto", "https")
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
}

func clientIP(remoteAddr string) string {
	if idx := strings.LastIndex(remoteAddr, ":"); idx > 0 {
		return remoteAddr[:idx]
	}
	return remoteAddr
}
