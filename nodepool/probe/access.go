package probe

import (
	"context"
	"io"
	"net/http"
	"time"

	"freenode_sieve/nodepool/model"
)

const (
	// DefaultDirectCheckURL answers 204 to anyone who can reach it.
	DefaultDirectCheckURL = "https://www.google.com/generate_204"
	defaultDirectTimeout  = 5 * time.Second
)

// Reason explains how an access verdict was reached.
type Reason string

const (
	ReasonStatus        Reason = "status"         // target answered below 500
	ReasonServerError   Reason = "server-error"   // target answered 5xx
	ReasonProxyUnusable Reason = "proxy-unusable" // proxy failed but the direct path works
	ReasonNetworkDown   Reason = "network-down"   // proxy failed and the direct path failed too
	ReasonRequestFailed Reason = "request-failed" // HTTP-level error through a reachable proxy
)

// Verdict is the outcome of one access probe.
type Verdict struct {
	Accessible bool
	Reason     Reason
	Status     int
	Err        error
}

// HTTPAccessProber fetches target URLs through a node's proxy URL.
type HTTPAccessProber struct {
	Timeout        time.Duration
	DirectCheckURL string
	DirectClient   *http.Client
	NewClient      ClientFactory
}

// NewAccessProber returns a prober with the given request timeout. An empty
// directCheckURL falls back to DefaultDirectCheckURL.
func NewAccessProber(timeout time.Duration, directCheckURL string) *HTTPAccessProber {
	if directCheckURL == "" {
		directCheckURL = DefaultDirectCheckURL
	}
	return &HTTPAccessProber{
		Timeout:        timeout,
		DirectCheckURL: directCheckURL,
		DirectClient:   &http.Client{Timeout: defaultDirectTimeout},
		NewClient:      NewProxyClient,
	}
}

// Probe reports whether target is reachable through the node. Any response
// below 500 counts: a 4xx still proves the network path works.
func (p *HTTPAccessProber) Probe(ctx context.Context, n *model.Node, target string) Verdict {
	proxyURL, ok := BuildProxyURL(n)
	if !ok {
		v := p.directHeuristic(ctx)
		v.Err = &Error{Op: "access", Addr: n.Key(), Kind: ErrNoProxyURL}
		return v
	}

	newClient := p.NewClient
	if newClient == nil {
		newClient = NewProxyClient
	}
	client, err := newClient(proxyURL, p.Timeout)
	if err != nil {
		return Verdict{Reason: ReasonRequestFailed, Err: &Error{Op: "access", Addr: n.Key(), Kind: ErrNoProxyURL, Cause: err}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Verdict{Reason: ReasonRequestFailed, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		if isProxyDialError(err) {
			v := p.directHeuristic(ctx)
			v.Err = &Error{Op: "access", Addr: n.Key(), Kind: ErrProxyConnect, Cause: err}
			return v
		}
		return Verdict{Reason: ReasonRequestFailed, Err: &Error{Op: "access", Addr: n.Key(), Kind: classify(err), Cause: err}}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 500 {
		return Verdict{Accessible: true, Reason: ReasonStatus, Status: resp.StatusCode}
	}
	return Verdict{Reason: ReasonServerError, Status: resp.StatusCode}
}

// directHeuristic decides without the proxy: if the check URL is reachable
// directly, the proxy is the problem; if not, the local network is, and the
// node gets the benefit of the doubt.
func (p *HTTPAccessProber) directHeuristic(ctx context.Context) Verdict {
	client := p.DirectClient
	if client == nil {
		client = &http.Client{Timeout: defaultDirectTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.DirectCheckURL, nil)
	if err != nil {
		return Verdict{Accessible: true, Reason: ReasonNetworkDown}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Verdict{Accessible: true, Reason: ReasonNetworkDown}
	}
	resp.Body.Close()
	return Verdict{Accessible: false, Reason: ReasonProxyUnusable, Status: resp.StatusCode}
}
