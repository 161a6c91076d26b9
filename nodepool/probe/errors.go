package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// 探测失败的分类。调用方用 errors.Is 区分具体原因。
var (
	ErrMalformedNode = errors.New("malformed node: missing server or port")
	ErrTimeout       = errors.New("timed out")
	ErrUnreachable   = errors.New("not reachable")
	ErrProxyConnect  = errors.New("proxy connection failed")
	ErrNoProxyURL    = errors.New("no usable proxy url for node")
	ErrUnmeasured    = errors.New("throughput could not be measured")
	ErrSlowFailure   = errors.New("probe failed slowly")
)

// Error describes a failed probe. Kind is one of the sentinel errors above;
// Cause is the underlying network or HTTP error, if any.
type Error struct {
	Op    string // "connect", "access", "speed"
	Addr  string
	Kind  error
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Addr, e.Kind, e.Cause)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Cause} }

// classify maps a dial or request error to ErrTimeout or ErrUnreachable.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return ErrUnreachable
}
