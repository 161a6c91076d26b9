package probe

import (
	"context"
	"net"
	"time"

	"freenode_sieve/nodepool/model"
)

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// TCPProber checks raw reachability of a node's listening socket. It never
// looks at the proxy URL, so it works for every node type.
type TCPProber struct {
	Timeout time.Duration
	Dial    DialFunc
}

// NewTCPProber returns a TCPProber using a net.Dialer with the given connect timeout.
func NewTCPProber(timeout time.Duration) *TCPProber {
	d := &net.Dialer{Timeout: timeout}
	return &TCPProber{Timeout: timeout, Dial: d.DialContext}
}

// Probe returns nil when a TCP connection to server:port completes.
// Failures wrap ErrMalformedNode, ErrTimeout or ErrUnreachable.
func (p *TCPProber) Probe(ctx context.Context, n *model.Node) error {
	if !n.HasEndpoint() {
		return &Error{Op: "connect", Kind: ErrMalformedNode}
	}
	addr := n.Address()

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	dial := p.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return &Error{Op: "connect", Addr: addr, Kind: classify(err), Cause: err}
	}
	conn.Close()
	return nil
}
