package watchdog

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kolo/xmlrpc"
)

const probeMethod = "GetRobotErrorCode"

// RPCProbe calls a cheap read-only method on the controller's XML-RPC endpoint. The endpoint
// is served apart from the motion channel, so a wedged motion command does not hide a dead
// link.
type RPCProbe struct {
	url       string
	transport http.RoundTripper
}

// NewRPCProbe 创建XML-RPC活性探测
func NewRPCProbe(address string, port int, path string, timeout time.Duration) *RPCProbe {
	if path == "" {
		path = "/RPC2"
	}
	return &RPCProbe{
		url:       "http://" + net.JoinHostPort(address, strconv.Itoa(port)) + path,
		transport: &timeoutTransport{timeout: timeout, next: &http.Transport{DisableKeepAlives: true}},
	}
}

// URL returns the probed endpoint.
func (p *RPCProbe) URL() string { return p.url }

// Probe succeeds when the call returns without transport error or XML-RPC fault. The xmlrpc
// client has no context support, so the call runs aside and ctx bounds the wait.
func (p *RPCProbe) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := xmlrpc.NewClient(p.url, p.transport)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		var reply interface{}
		done <- client.Call(probeMethod, nil, &reply)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("probe %s: %w", p.url, err)
		}
		return nil
	}
}

// timeoutTransport bounds every request; the xmlrpc client builds its own http.Client, so the
// limit has to live in the RoundTripper.
type timeoutTransport struct {
	timeout time.Duration
	next    http.RoundTripper
}

func (t *timeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.timeout <= 0 {
		return t.next.RoundTrip(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	resp, err := t.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request deadline once the response has been consumed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
