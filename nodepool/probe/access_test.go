package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"freenode_sieve/nodepool/model"
)

// proxyNode starts an httptest server that acts as a forward HTTP proxy and
// answers every request with status.
func proxyNode(t *testing.T, status int) (*model.Node, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	_, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return &model.Node{Type: model.TypeHTTP, Server: "127.0.0.1", Port: port}, srv
}

func directServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAccessProber_StatusBelow500IsAccessible(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusForbidden, http.StatusNotFound} {
		node, srv := proxyNode(t, status)
		p := NewAccessProber(2*time.Second, "http://127.0.0.1:1/unused")

		v := p.Probe(context.Background(), node, "http://target.example/")
		srv.Close()

		if !v.Accessible || v.Reason != ReasonStatus || v.Status != status {
			t.Errorf("status %d: Probe() = %+v, want accessible via status", status, v)
		}
	}
}

func TestAccessProber_ServerErrorIsNotAccessible(t *testing.T) {
	node, srv := proxyNode(t, http.StatusBadGateway)
	defer srv.Close()

	v := NewAccessProber(2*time.Second, "").Probe(context.Background(), node, "http://target.example/")
	if v.Accessible || v.Reason != ReasonServerError {
		t.Fatalf("Probe() = %+v, want server-error", v)
	}
}

func TestAccessProber_ProxyFailureWithWorkingDirectPath(t *testing.T) {
	direct := directServer(t)
	defer direct.Close()

	node := &model.Node{Type: model.TypeHTTP, Server: "127.0.0.1", Port: closedPort(t)}
	v := NewAccessProber(2*time.Second, direct.URL).Probe(context.Background(), node, "http://target.example/")

	if v.Accessible || v.Reason != ReasonProxyUnusable {
		t.Fatalf("Probe() = %+v, want proxy-unusable", v)
	}
	if !errors.Is(v.Err, ErrProxyConnect) {
		t.Fatalf("Probe().Err = %v, want ErrProxyConnect", v.Err)
	}
}

func TestAccessProber_ProxyFailureWithNetworkDown(t *testing.T) {
	node := &model.Node{Type: model.TypeSOCKS5, Server: "127.0.0.1", Port: closedPort(t)}
	directURL := "http://127.0.0.1:" + strconv.Itoa(closedPort(t)) + "/generate_204"

	v := NewAccessProber(2*time.Second, directURL).Probe(context.Background(), node, "http://target.example/")
	if !v.Accessible || v.Reason != ReasonNetworkDown {
		t.Fatalf("Probe() = %+v, want optimistic network-down", v)
	}
	if !errors.Is(v.Err, ErrProxyConnect) {
		t.Fatalf("Probe().Err = %v, want ErrProxyConnect", v.Err)
	}
}

func TestAccessProber_UnsupportedTypeUsesDirectHeuristic(t *testing.T) {
	direct := directServer(t)
	defer direct.Close()

	node := &model.Node{Type: model.TypeVMess, Server: "127.0.0.1", Port: 443}
	factoryCalled := false
	p := NewAccessProber(time.Second, direct.URL)
	p.NewClient = func(string, time.Duration) (*http.Client, error) {
		factoryCalled = true
		return nil, errors.New("unexpected")
	}

	v := p.Probe(context.Background(), node, "http://target.example/")
	if v.Accessible || v.Reason != ReasonProxyUnusable {
		t.Fatalf("Probe() = %+v, want proxy-unusable", v)
	}
	if !errors.Is(v.Err, ErrNoProxyURL) {
		t.Fatalf("Probe().Err = %v, want ErrNoProxyURL", v.Err)
	}
	if factoryCalled {
		t.Fatal("client factory called for a node without proxy url")
	}
}

func TestAccessProber_RequestFailureThroughReachableProxy(t *testing.T) {
	// The proxy accepts the TCP connection and hangs up immediately.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	node := &model.Node{Type: model.TypeHTTP, Server: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	v := NewAccessProber(2*time.Second, "").Probe(context.Background(), node, "http://target.example/")
	if v.Accessible || v.Reason != ReasonRequestFailed {
		t.Fatalf("Probe() = %+v, want request-failed", v)
	}
}
