package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"freenode_sieve/internal/shared/types"
	"freenode_sieve/nodepool/model"
	"freenode_sieve/nodepool/probe"
	"freenode_sieve/nodepool/speedtest"
	"freenode_sieve/nodepool/validator"
)

var testTargets = []types.Target{
	{Name: "youtube", URL: "https://www.youtube.com"},
	{Name: "netflix", URL: "https://www.netflix.com"},
}

// countingDial succeeds for every address without touching the network.
type countingDial struct {
	mu    sync.Mutex
	calls map[string]int
}

func (d *countingDial) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[address]++
	d.mu.Unlock()
	c1, c2 := net.Pipe()
	c2.Close()
	return c1, nil
}

func (d *countingDial) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	sum := 0
	for _, c := range d.calls {
		sum += c
	}
	return sum
}

type allowAll struct{}

func (allowAll) Probe(ctx context.Context, n *model.Node, target string) probe.Verdict {
	return probe.Verdict{Accessible: true, Reason: probe.ReasonStatus, Status: 200}
}

type fixedSpeeds struct {
	speeds map[string]float64
	calls  atomic.Int64
}

func (f *fixedSpeeds) Measure(ctx context.Context, n *model.Node) (probe.Measurement, error) {
	f.calls.Add(1)
	s, ok := f.speeds[n.Key()]
	if !ok {
		return probe.Measurement{}, &probe.Error{Op: "speed", Addr: n.Key(), Kind: probe.ErrUnmeasured}
	}
	return probe.Measurement{Speed: s}, nil
}

type harness struct {
	dial     *countingDial
	speed    *fixedSpeeds
	limiter  *probe.Limiter
	pipeline *Pipeline
}

func newHarness(speeds map[string]float64) *harness {
	h := &harness{
		dial:    &countingDial{},
		speed:   &fixedSpeeds{speeds: speeds},
		limiter: probe.NewLimiter(4),
	}
	conn := &probe.TCPProber{Dial: h.dial.Dial}
	v := validator.NewValidator(conn, allowAll{}, testTargets, h.limiter)
	t := speedtest.NewTester(h.speed, h.limiter, 100, 300, func(min, max float64) float64 { return min })
	h.pipeline = New(v, t, testTargets)
	return h
}

func TestRun_SingleNodeAccepted(t *testing.T) {
	n := &model.Node{Type: model.TypeSOCKS5, Server: "1.2.3.4", Port: 8080}
	h := newHarness(map[string]float64{"1.2.3.4:8080": 150})

	report, err := h.pipeline.Run(context.Background(), []*model.Node{n})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Outcome != OutcomeOK || len(report.Nodes) != 1 {
		t.Fatalf("Run() = %+v, want one accepted node", report)
	}
	got := report.Nodes[0]
	if !got.Validated || !got.SpeedOK || got.Speed != 150.0 {
		t.Errorf("node = validated %v speed_ok %v speed %v, want true true 150", got.Validated, got.SpeedOK, got.Speed)
	}
	if report.StreamingStats["youtube"] != 1 || report.StreamingStats["netflix"] != 1 {
		t.Errorf("StreamingStats = %v", report.StreamingStats)
	}
}

func TestRun_MissingPortNeverTouchesNetwork(t *testing.T) {
	n := &model.Node{Type: model.TypeSOCKS5, Server: "1.2.3.4"}
	h := newHarness(map[string]float64{"1.2.3.4:0": 150})

	report, err := h.pipeline.Run(context.Background(), []*model.Node{n})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Outcome != OutcomeNoValidated || report.Validated != 0 {
		t.Errorf("Run() = %+v, want no validated nodes", report)
	}
	if h.dial.total() != 0 {
		t.Errorf("dialled %d times for a node without port", h.dial.total())
	}
	if h.speed.calls.Load() != 0 {
		t.Errorf("speed prober invoked %d times", h.speed.calls.Load())
	}
}

func TestRun_TooFastIsDropped(t *testing.T) {
	n := &model.Node{Type: model.TypeSOCKS5, Server: "5.6.7.8", Port: 1080}
	h := newHarness(map[string]float64{"5.6.7.8:1080": 5000})

	report, err := h.pipeline.Run(context.Background(), []*model.Node{n})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Validated != 1 {
		t.Fatalf("Validated = %d, want 1", report.Validated)
	}
	if report.Outcome != OutcomeNoAccepted || len(report.Nodes) != 0 {
		t.Errorf("Run() = %+v, want the node dropped by speed", report)
	}
}

func TestRun_FiltersAndSortsBySpeed(t *testing.T) {
	speeds := []float64{50, 120, 310, 280, 10, 150, 299.99, 100, 300, 1000}
	nodes := make([]*model.Node, len(speeds))
	m := make(map[string]float64, len(speeds))
	for i, s := range speeds {
		nodes[i] = &model.Node{Type: model.TypeSOCKS5, Server: fmt.Sprintf("10.1.0.%d", i+1), Port: 1080}
		m[nodes[i].Key()] = s
	}
	h := newHarness(m)

	report, err := h.pipeline.Run(context.Background(), nodes)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []float64{300, 299.99, 280, 150, 120, 100}
	if len(report.Nodes) != len(want) {
		t.Fatalf("accepted %d nodes, want %d", len(report.Nodes), len(want))
	}
	for i, n := range report.Nodes {
		if n.Speed != want[i] {
			t.Errorf("Nodes[%d].Speed = %v, want %v", i, n.Speed, want[i])
		}
	}
	if report.Input != 10 || report.Validated != 10 || report.Accepted != 6 {
		t.Errorf("counts = %d/%d/%d, want 10/10/6", report.Input, report.Validated, report.Accepted)
	}
	if h.limiter.Peak() > h.limiter.Capacity() {
		t.Errorf("limiter peak %d exceeds capacity %d", h.limiter.Peak(), h.limiter.Capacity())
	}
	for _, n := range nodes {
		if n.Validated || n.SpeedOK {
			t.Fatal("Run() mutated an input node")
		}
	}
}

func TestRun_EmptyInput(t *testing.T) {
	h := newHarness(nil)
	if _, err := h.pipeline.Run(context.Background(), nil); !errors.Is(err, ErrNoInput) {
		t.Fatalf("Run(nil) error = %v, want ErrNoInput", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.SpeedTestConf.Selection = "round_robin"
	cfg.SpeedTestConf.BandwidthLimitKB = 512
	if p := NewFromConfig(cfg); p == nil || p.validation == nil || p.speed == nil {
		t.Fatal("NewFromConfig() returned an incomplete pipeline")
	}
}
