package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"freenode_sieve/nodepool/model"
)

// listenNode starts a TCP listener and returns a node pointing at it.
func listenNode(t *testing.T) (*model.Node, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return &model.Node{Type: model.TypeVMess, Server: "127.0.0.1", Port: port}, ln
}

// closedPort returns a localhost port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestTCPProber_Reachable(t *testing.T) {
	node, ln := listenNode(t)
	defer ln.Close()

	if err := NewTCPProber(2*time.Second).Probe(context.Background(), node); err != nil {
		t.Fatalf("Probe() = %v, want nil", err)
	}
}

func TestTCPProber_Refused(t *testing.T) {
	node := &model.Node{Type: model.TypeSS, Server: "127.0.0.1", Port: closedPort(t)}
	err := NewTCPProber(2*time.Second).Probe(context.Background(), node)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Probe() = %v, want ErrUnreachable", err)
	}
}

func TestTCPProber_Malformed(t *testing.T) {
	p := NewTCPProber(time.Second)
	for _, n := range []*model.Node{
		{Type: model.TypeSS, Server: "1.2.3.4"},
		{Type: model.TypeSS, Port: 443},
		{Type: model.TypeSS, Server: "1.2.3.4", Port: -1},
		{Type: model.TypeSS, Server: "1.2.3.4", Port: 65536},
		nil,
	} {
		dialed := false
		p.Dial = func(ctx context.Context, network, address string) (net.Conn, error) {
			dialed = true
			return nil, errors.New("should not dial")
		}
		err := p.Probe(context.Background(), n)
		if !errors.Is(err, ErrMalformedNode) {
			t.Errorf("Probe(%+v) = %v, want ErrMalformedNode", n, err)
		}
		if dialed {
			t.Errorf("Probe(%+v) dialed a malformed node", n)
		}
	}
}

func TestTCPProber_Timeout(t *testing.T) {
	p := &TCPProber{
		Timeout: 10 * time.Millisecond,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	err := p.Probe(context.Background(), &model.Node{Type: model.TypeHTTP, Server: "10.255.255.1", Port: 80})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Probe() = %v, want ErrTimeout", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Op != "connect" {
		t.Fatalf("Probe() error %v is not a connect *Error", err)
	}
}
