package requestmanager

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
)

// Request is a single outbound REST call
type Request struct {
	Method string
	URL    string
	Body   []byte
}

// Response is the raw outcome of a call that reached the server
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport performs HTTP requests. A non-nil error means no response was received.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Reachability reports whether the endpoint can currently be reached
type Reachability interface {
	Reachable(ctx context.Context) bool
}

// FastHTTPTransport sends requests with a fasthttp client
type FastHTTPTransport struct {
	client  *fasthttp.Client
	timeout time.Duration
}

// NewFastHTTPTransport creates a transport with a per-request timeout
func NewFastHTTPTransport(timeout time.Duration) *FastHTTPTransport {
	return &FastHTTPTransport{
		client: &fasthttp.Client{
			Name:                "trip-planner",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		timeout: timeout,
	}
}

// Do implements Transport
func (t *FastHTTPTransport) Do(ctx context.Context, r *Request) (*Response, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.URL)
	req.Header.SetMethod(r.Method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if r.Body != nil {
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(r.Body)
	}

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       append([]byte(nil), resp.Body()...),
	}, nil
}

// DialReachability checks the endpoint host with a TCP dial
type DialReachability struct {
	addr    string
	timeout time.Duration
	dial    func(addr string, timeout time.Duration) (net.Conn, error)
}

// NewDialReachability derives host:port from the endpoint URL
func NewDialReachability(endpoint string, timeout time.Duration) (*DialReachability, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	host, port := u.Hostname(), u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return &DialReachability{
		addr:    net.JoinHostPort(host, port),
		timeout: timeout,
		dial:    fasthttp.DialTimeout,
	}, nil
}

// Reachable implements Reachability
func (r *DialReachability) Reachable(ctx context.Context) bool {
	timeout := r.timeout
	if d, ok := ctx.Deadline(); ok {
		if left := time.Until(d); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return false
	}
	conn, err := r.dial(r.addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// AlwaysReachable skips the connectivity check
type AlwaysReachable struct{}

// Reachable implements Reachability
func (AlwaysReachable) Reachable(context.Context) bool { return true }
