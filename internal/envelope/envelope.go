// Package envelope implements the wire codec for requests and responses
// carried over the tunnel WebSocket: a JSON-serializable, binary-safe
// representation of an HTTP request or response.
package envelope

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Control headers read by the codec. They are also copied verbatim into
// the envelope's header list; the far side ignores them.
const (
	HeaderConnectID     = "X-Connect-Id"
	HeaderConnectHost   = "X-Connect-Host"
	HeaderConnectScheme = "X-Connect-Scheme"

	defaultScheme = "http"
)

// HeaderPair preserves declaration order for multi-valued headers, unlike
// a plain map[string][]string whose key order is meaningless.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Request is the serialized form of an HTTP request.
type Request struct {
	RequestID string       `json:"request_id"`
	TunnelID  string       `json:"tunnel_id,omitempty"`
	Scheme    string       `json:"scheme"`
	Host      string       `json:"host"`
	URL       string       `json:"url"`
	Method    string       `json:"method"`
	Headers   []HeaderPair `json:"headers,omitempty"`
	Body      string       `json:"body,omitempty"`
}

// Response is the serialized form of an HTTP response.
type Response struct {
	RequestID string       `json:"request_id"`
	TunnelID  string       `json:"tunnel_id,omitempty"`
	Status    int          `json:"status"`
	Headers   []HeaderPair `json:"headers,omitempty"`
	Body      string       `json:"body,omitempty"`
}

// Codec error kinds. Callers map these to HTTP statuses at the boundary;
// the codec itself never does.
var (
	ErrMissingRoutingHeader = errors.New("envelope: missing X-Connect-Id header")
	ErrMissingTargetHost    = errors.New("envelope: missing X-Connect-Host header")
	ErrBodyReadFailure      = errors.New("envelope: failed reading request body")
	ErrBodyTooLarge         = errors.New("envelope: body exceeds configured size cap")
	ErrMalformedTarget      = errors.New("envelope: malformed target URI")
	ErrUnknownMethod        = errors.New("envelope: unrecognized HTTP method")
	ErrCorruptBody          = errors.New("envelope: corrupt base64 body")
)

// DefaultMaxBodyBytes is the cap callers should use absent an explicit
// configuration value. Zero, passed explicitly, means unlimited.
const DefaultMaxBodyBytes int64 = 10 << 20

// EncodeRequest reads the control headers off r, drains its body, and
// produces the wire Request. r.Header must carry HeaderConnectID; for the
// frontend-to-agent direction it must also carry HeaderConnectHost.
// maxBodyBytes caps the buffered body; zero means unlimited.
func EncodeRequest(r *http.Request, maxBodyBytes int64) (Request, error) {
	connectID := strings.TrimSpace(r.Header.Get(HeaderConnectID))
	if connectID == "" {
		return Request{}, ErrMissingRoutingHeader
	}
	host := strings.TrimSpace(r.Header.Get(HeaderConnectHost))
	if host == "" {
		return Request{}, ErrMissingTargetHost
	}
	scheme := strings.TrimSpace(r.Header.Get(HeaderConnectScheme))
	if scheme == "" {
		scheme = defaultScheme
	}

	body, err := readCappedBody(r.Body, maxBodyBytes)
	if err != nil {
		return Request{}, err
	}

	return Request{
		RequestID: connectID,
		Scheme:    scheme,
		Host:      host,
		URL:       r.URL.RequestURI(),
		Method:    strings.ToUpper(r.Method),
		Headers:   headersToPairs(r.Header),
		Body:      encodeBody(body),
	}, nil
}

func readCappedBody(rc io.ReadCloser, maxBodyBytes int64) ([]byte, error) {
	if rc == nil {
		return nil, nil
	}
	defer rc.Close()

	var reader io.Reader = rc
	if maxBodyBytes > 0 {
		reader = io.LimitReader(rc, maxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBodyReadFailure, err)
	}
	if maxBodyBytes > 0 && int64(len(body)) > maxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// DecodeRequest composes the absolute target URI from Scheme/Host/URL and
// rebuilds an *http.Request an agent's HTTP client can execute directly.
func DecodeRequest(req Request) (*http.Request, error) {
	scheme := req.Scheme
	if scheme == "" {
		scheme = defaultScheme
	}
	target := scheme + "://" + req.Host + req.URL
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTarget, err)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if !validMethod(method) {
		return nil, ErrUnknownMethod
	}

	body, err := decodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	out, err := http.NewRequest(method, parsed.String(), newBodyReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTarget, err)
	}
	out.Host = req.Host
	applyPairs(out.Header, req.Headers)
	return out, nil
}

// EncodeResponse produces the wire Response for resp, tagged with the
// tunnel_id the dispatcher assigned when it sent the matching request.
// maxBodyBytes caps the buffered body; zero means unlimited.
func EncodeResponse(requestID, tunnelID string, resp *http.Response, maxBodyBytes int64) (Response, error) {
	var body []byte
	if resp.Body != nil {
		defer resp.Body.Close()
		var reader io.Reader = resp.Body
		if maxBodyBytes > 0 {
			reader = io.LimitReader(resp.Body, maxBodyBytes+1)
		}
		b, err := io.ReadAll(reader)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrBodyReadFailure, err)
		}
		if maxBodyBytes > 0 && int64(len(b)) > maxBodyBytes {
			return Response{}, ErrBodyTooLarge
		}
		body = b
	}

	return Response{
		RequestID: requestID,
		TunnelID:  tunnelID,
		Status:    resp.StatusCode,
		Headers:   headersToPairs(resp.Header),
		Body:      encodeBody(body),
	}, nil
}

// DecodeResponse replays a wire Response onto an http.ResponseWriter.
func DecodeResponse(resp Response, w http.ResponseWriter) error {
	body, err := decodeBody(resp.Body)
	if err != nil {
		return err
	}
	applyPairs(w.Header(), resp.Headers)
	status := resp.Status
	if status == 0 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
	return nil
}

// NewBadResponse builds the synthetic 400 envelope the agent sends back
// when it cannot execute a decoded request.
func NewBadResponse(requestID, tunnelID string) Response {
	return Response{
		RequestID: requestID,
		TunnelID:  tunnelID,
		Status:    http.StatusBadRequest,
	}
}

func encodeBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(body)
}

func decodeBody(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBody, err)
	}
	return body, nil
}

func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return strings.NewReader(string(body))
}

func headersToPairs(h http.Header) []HeaderPair {
	if len(h) == 0 {
		return nil
	}
	out := make([]HeaderPair, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, HeaderPair{Name: name, Value: v})
		}
	}
	return out
}

func applyPairs(h http.Header, pairs []HeaderPair) {
	for _, p := range pairs {
		h.Add(p.Name, p.Value)
	}
}

var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodConnect: true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

func validMethod(method string) bool {
	return knownMethods[method]
}
