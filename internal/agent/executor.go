package agent

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cobaltbridge/revtunnel/internal/envelope"
)

// hopByHopHeaders mirrors the dispatcher's list; stripped before the
// request is replayed against the local origin.
var hopByHopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive",
	"Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// ErrTargetNotAllowed is returned when a decoded request's host does not
// match the agent's local allowlist.
var ErrTargetNotAllowed = fmt.Errorf("agent: target host not allowed")

// Executor runs a decoded request against its local origin using a plain
// net/http.Client; there is no tunnel-specific behavior left once the
// request has been decoded, just an ordinary outbound HTTP call.
type Executor struct {
	client       *http.Client
	allowlist    *Allowlist
	maxBodyBytes int64
}

// NewExecutor builds an Executor with the given per-request timeout and
// response body cap. maxBodyBytes <= 0 means unlimited.
func NewExecutor(timeout time.Duration, maxBodyBytes int64, allowlist *Allowlist) *Executor {
	return &Executor{
		client:       &http.Client{Timeout: timeout},
		allowlist:    allowlist,
		maxBodyBytes: maxBodyBytes,
	}
}

// Execute decodes req, checks it against the allowlist, runs it against
// the origin, and re-encodes the response. Any failure here is the
// caller's cue to synthesize envelope.NewBadResponse rather than tear
// down the session.
func (e *Executor) Execute(req envelope.Request) (envelope.Response, error) {
	if e.allowlist != nil && !e.allowlist.Allowed(req.Host) {
		return envelope.Response{}, ErrTargetNotAllowed
	}

	httpReq, err := envelope.DecodeRequest(req)
	if err != nil {
		return envelope.Response{}, err
	}
	stripHeaders(httpReq.Header, hopByHopHeaders)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return envelope.Response{}, fmt.Errorf("origin request failed: %w", err)
	}

	stripHeaders(resp.Header, hopByHopHeaders)
	return envelope.EncodeResponse(req.RequestID, req.TunnelID, resp, e.maxBodyBytes)
}

func stripHeaders(h http.Header, names []string) {
	for _, name := range names {
		h.Del(name)
	}
}
