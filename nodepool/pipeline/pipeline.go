package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/juju/ratelimit"

	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/internal/shared/types"
	"freenode_sieve/nodepool/model"
	"freenode_sieve/nodepool/probe"
	"freenode_sieve/nodepool/speedtest"
	"freenode_sieve/nodepool/validator"
)

// ErrNoInput is the only fatal outcome of a run.
var ErrNoInput = errors.New("no nodes to process")

// Outcome classifies a finished run.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeNoValidated Outcome = "no-validated"
	OutcomeNoAccepted  Outcome = "no-accepted"
)

// ValidationStage turns a pool into its validated copies.
type ValidationStage interface {
	Validate(ctx context.Context, nodes []*model.Node) []*model.Node
}

// SpeedStage turns a validated pool into its speed-accepted copies.
type SpeedStage interface {
	Test(ctx context.Context, nodes []*model.Node) []*model.Node
}

// Report summarises one run.
type Report struct {
	Input     int
	Validated int
	Accepted  int
	Outcome   Outcome
	Duration  time.Duration
	// Nodes is the accepted pool, fastest first.
	Nodes []*model.Node
	// StreamingStats counts accepted nodes reaching each target.
	StreamingStats map[string]int
}

type Pipeline struct {
	validation ValidationStage
	speed      SpeedStage
	targets    []types.Target
}

func New(validation ValidationStage, speed SpeedStage, targets []types.Target) *Pipeline {
	return &Pipeline{validation: validation, speed: speed, targets: targets}
}

// NewFromConfig builds the network probes and wires one shared limiter into
// both stages.
func NewFromConfig(cfg *types.Config) *Pipeline {
	limiter := probe.NewLimiter(cfg.CommonConf.MaxConcurrent)

	access := probe.NewAccessProber(cfg.HTTPTimeout(), cfg.ValidatorConf.DirectCheckURL)
	v := validator.NewValidator(probe.NewTCPProber(cfg.ConnectTimeout()), access, cfg.Targets, limiter)

	sp := probe.NewSpeedProber(cfg.HTTPTimeout(), cfg.SpeedTestConf.BenchmarkURLs, cfg.SpeedTestConf.MinSpeed, cfg.SpeedTestConf.MaxSpeed)
	if cfg.SpeedTestConf.Selection == "round_robin" {
		sp.Pick = probe.RoundRobinPicker()
	}
	if kb := cfg.SpeedTestConf.BandwidthLimitKB; kb > 0 {
		rate := float64(kb) * 1024
		sp.Bucket = ratelimit.NewBucketWithRate(rate, int64(rate))
	}
	t := speedtest.NewTester(sp, limiter, cfg.SpeedTestConf.MinSpeed, cfg.SpeedTestConf.MaxSpeed, sp.Estimate)

	return New(v, t, cfg.Targets)
}

// Run validates the pool, speed-tests the survivors and sorts them by speed,
// fastest first. Empty intermediate pools end the run early without error.
func (p *Pipeline) Run(ctx context.Context, nodes []*model.Node) (*Report, error) {
	l := logger.WithComponent("NodePool/Pipeline")
	if len(nodes) == 0 {
		return nil, ErrNoInput
	}
	start := time.Now()
	report := &Report{Input: len(nodes), StreamingStats: map[string]int{}}

	validated := p.validation.Validate(ctx, nodes)
	report.Validated = len(validated)
	if len(validated) == 0 {
		l.Warn().Int("input", len(nodes)).Msg("No node passed validation.")
		report.Outcome = OutcomeNoValidated
		report.Duration = time.Since(start)
		return report, nil
	}

	accepted := p.speed.Test(ctx, validated)
	SortBySpeed(accepted)
	report.Accepted = len(accepted)
	report.Nodes = accepted
	report.Duration = time.Since(start)
	if len(accepted) == 0 {
		l.Warn().Int("validated", len(validated)).Msg("No node passed the speed test.")
		report.Outcome = OutcomeNoAccepted
		return report, nil
	}

	report.StreamingStats = p.streamingStats(accepted)
	report.Outcome = OutcomeOK
	l.Info().
		Int("input", report.Input).
		Int("validated", report.Validated).
		Int("accepted", report.Accepted).
		Dur("duration", report.Duration).
		Msg("Pipeline run finished.")
	return report, nil
}

func (p *Pipeline) streamingStats(nodes []*model.Node) map[string]int {
	stats := make(map[string]int, len(p.targets))
	for _, t := range p.targets {
		stats[t.Name] = 0
	}
	for _, n := range nodes {
		for name, ok := range n.StreamingAccess {
			if ok {
				stats[name]++
			}
		}
	}
	return stats
}

// SortBySpeed orders nodes fastest first; ties keep their input order.
func SortBySpeed(nodes []*model.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Speed > nodes[j].Speed
	})
}
