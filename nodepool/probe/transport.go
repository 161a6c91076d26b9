package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// ClientFactory builds an HTTP client whose requests are routed through proxyURL.
type ClientFactory func(proxyURL string, timeout time.Duration) (*http.Client, error)

// proxyDialError marks a failure to establish the connection to the proxy itself,
// as opposed to an HTTP-level failure after the proxy accepted us.
type proxyDialError struct {
	err error
}

func (e *proxyDialError) Error() string { return "dial proxy: " + e.err.Error() }
func (e *proxyDialError) Unwrap() error { return e.err }

func isProxyDialError(err error) bool {
	var pde *proxyDialError
	return errors.As(err, &pde)
}

// NewProxyClient is the default ClientFactory. http/https proxies go through
// http.Transport.Proxy, socks5 proxies through golang.org/x/net/proxy.
func NewProxyClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		IdleConnTimeout:       timeout,
		TLSHandshakeTimeout:   timeout / 2,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
	}

	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
		// With Proxy set every dial targets the proxy address.
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, &proxyDialError{err: err}
			}
			return conn, nil
		}
	case "socks5":
		var auth *proxy.Auth
		if u.User != nil {
			password, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: password}
		}
		d, err := proxy.SOCKS5("tcp", u.Host, auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		contextDialer, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer does not support contexts")
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := contextDialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, &proxyDialError{err: err}
			}
			return conn, nil
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
