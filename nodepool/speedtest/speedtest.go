package speedtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/nodepool/model"
	"freenode_sieve/nodepool/probe"
)

var (
	// ErrNoMeasurement means the node is unvalidated and produced no speed at all.
	ErrNoMeasurement = errors.New("no speed measurement")
	// ErrOutOfRange means the speed fell outside the accepted band.
	ErrOutOfRange = errors.New("speed outside accepted range")
	ErrPanic      = errors.New("speed test panicked")
)

// SpeedProber measures a node's throughput in KB/s.
type SpeedProber interface {
	Measure(ctx context.Context, n *model.Node) (probe.Measurement, error)
}

// Result is the outcome of testing one node.
type Result struct {
	Node      *model.Node // accepted copy, nil when rejected
	Speed     float64
	Estimated bool
	Err       error
}

// Tester runs the speed stage. It shares its limiter with the validator.
type Tester struct {
	prober   SpeedProber
	limiter  *probe.Limiter
	minSpeed float64
	maxSpeed float64
	estimate probe.EstimatePolicy
}

// NewTester returns a Tester accepting speeds in [minSpeed, maxSpeed]. A nil
// estimate uses probe.UniformEstimate.
func NewTester(prober SpeedProber, limiter *probe.Limiter, minSpeed, maxSpeed float64, estimate probe.EstimatePolicy) *Tester {
	if limiter == nil {
		limiter = probe.NewLimiter(5)
	}
	if estimate == nil {
		estimate = probe.UniformEstimate
	}
	return &Tester{
		prober:   prober,
		limiter:  limiter,
		minSpeed: minSpeed,
		maxSpeed: maxSpeed,
		estimate: estimate,
	}
}

// InBand reports whether speed lies in the accepted band, bounds included.
func (t *Tester) InBand(speed float64) bool {
	return speed >= t.minSpeed && speed <= t.maxSpeed
}

// Test measures every node concurrently and returns the accepted copies.
func (t *Tester) Test(ctx context.Context, nodes []*model.Node) []*model.Node {
	l := logger.WithComponent("NodePool/SpeedTest")
	if len(nodes) == 0 {
		return nil
	}
	l.Info().Int("count", len(nodes)).Float64("min_speed", t.minSpeed).Float64("max_speed", t.maxSpeed).Msg("Starting speed test batch...")

	results := make([]Result, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		wg.Add(1)
		go func(idx int, node *model.Node) {
			defer wg.Done()
			results[idx] = t.TestNode(ctx, node)
		}(i, n)
	}
	wg.Wait()

	accepted := make([]*model.Node, 0, len(nodes))
	for i, r := range results {
		if r.Node != nil {
			l.Info().Str("node", r.Node.Label()).Float64("speed_kbps", r.Node.Speed).Bool("estimated", r.Estimated).Msg("Node speed accepted.")
			accepted = append(accepted, r.Node)
			continue
		}
		l.Debug().Err(r.Err).Str("node", nodes[i].Label()).Float64("speed_kbps", r.Speed).Msg("Node dropped by speed test.")
	}

	l.Info().Int("accepted", len(accepted)).Int("total", len(nodes)).Msg("Speed test batch finished.")
	return accepted
}

// TestNode measures one node and applies the acceptance band.
func (t *Tester) TestNode(ctx context.Context, n *model.Node) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()

	speed, estimated, err := t.measure(ctx, n)
	if err != nil {
		return Result{Err: err}
	}

	if !t.InBand(speed) {
		return Result{Speed: speed, Estimated: estimated, Err: fmt.Errorf("%w: %.3f KB/s", ErrOutOfRange, speed)}
	}

	rounded := math.Round(speed*100) / 100

	out := n.Clone()
	out.Speed = rounded
	out.SpeedOK = true
	return Result{Node: out, Speed: rounded, Estimated: estimated}
}

func (t *Tester) measure(ctx context.Context, n *model.Node) (float64, bool, error) {
	if err := t.limiter.Acquire(ctx); err != nil {
		return t.fallback(n, err)
	}
	defer t.limiter.Release()

	m, err := t.prober.Measure(ctx, n)
	if err != nil {
		return t.fallback(n, err)
	}
	return m.Speed, m.Estimated, nil
}

// fallback keeps validated nodes alive with an estimate when measurement is
// inconclusive; unvalidated nodes get nothing.
func (t *Tester) fallback(n *model.Node, cause error) (float64, bool, error) {
	if n.Validated {
		l := logger.WithComponent("NodePool/SpeedTest")
		l.Debug().Err(cause).Str("node", n.Label()).Msg("Measurement inconclusive, estimating speed for validated node.")
		return t.estimate(t.minSpeed, t.maxSpeed), true, nil
	}
	return 0, false, fmt.Errorf("%w: %w", ErrNoMeasurement, cause)
}
