// Package transport defines the port through which restward reaches the
// network, plus a default net/http implementation. The core never issues
// HTTP calls itself; it hands a prepared request to a Transport and consumes
// the raw response.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Response is the raw outcome of one transport round trip.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Transport performs one HTTP round trip. Implementations must honor
// cancellation via the request context.
type Transport interface {
	Perform(ctx context.Context, req *http.Request) (*Response, error)
}

// HTTPTransport is the default Transport backed by a net/http client.
type HTTPTransport struct {
	Client *http.Client
}

// New returns an HTTPTransport backed by client.
func New(client *http.Client) *HTTPTransport {
	return &HTTPTransport{Client: client}
}

// Default returns an HTTPTransport with tracing instrumentation and a 30s
// overall timeout. Transport-level retry policy is deliberately absent; the
// resource layer owns retry timing.
func Default() *HTTPTransport {
	return &HTTPTransport{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}
}

// SafeTransport rejects connections to private or loopback IP ranges to
// reduce SSRF risk when resource URLs come from untrusted input.
var SafeTransport = &http.Transport{
	DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: 5 * time.Second}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		ip := net.ParseIP(host)
		if ip == nil {
			conn.Close()
			return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
		}

		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			conn.Close()
			return nil, fmt.Errorf("access to private IP %s is denied", ip)
		}

		return conn, nil
	},
}

// NewSafe returns an HTTPTransport that refuses private-network targets.
func NewSafe() *HTTPTransport {
	return &HTTPTransport{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(SafeTransport),
			Timeout:   30 * time.Second,
		},
	}
}

// Perform executes the request and drains the body into a Response.
func (t *HTTPTransport) Perform(ctx context.Context, req *http.Request) (*Response, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    body,
	}, nil
}

var _ Transport = (*HTTPTransport)(nil)
