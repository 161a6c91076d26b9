package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/internal/shared/types"
	"freenode_sieve/nodepool/model"
	"freenode_sieve/nodepool/probe"
)

// State is a node's position in the validation state machine.
type State int

const (
	StatePending State = iota
	StateConnectivityChecked
	StateAccessChecked
	StateValidated
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConnectivityChecked:
		return "connectivity-checked"
	case StateAccessChecked:
		return "access-checked"
	case StateValidated:
		return "validated"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNoAccess means no target was reachable and the repeated connectivity check failed.
	ErrNoAccess = errors.New("no target reachable")
	// ErrPanic wraps a panic recovered at the node boundary.
	ErrPanic = errors.New("validation panicked")
)

// ConnectivityProber checks raw TCP reachability of a node.
type ConnectivityProber interface {
	Probe(ctx context.Context, n *model.Node) error
}

// AccessProber checks whether a target URL is reachable through a node.
type AccessProber interface {
	Probe(ctx context.Context, n *model.Node, target string) probe.Verdict
}

// Result is the terminal outcome of validating one node.
type Result struct {
	Node  *model.Node // enriched copy, nil unless State == StateValidated
	State State
	Err   error
}

type Validator struct {
	connectivity ConnectivityProber
	access       AccessProber
	targets      []types.Target
	limiter      *probe.Limiter
}

// NewValidator wires the probes to the shared limiter. Only access probes take
// limiter slots; connectivity checks run ungated.
func NewValidator(connectivity ConnectivityProber, access AccessProber, targets []types.Target, limiter *probe.Limiter) *Validator {
	if limiter == nil {
		limiter = probe.NewLimiter(5)
	}
	return &Validator{
		connectivity: connectivity,
		access:       access,
		targets:      targets,
		limiter:      limiter,
	}
}

// Validate runs every node concurrently and returns the validated copies.
// Input nodes are never modified.
func (v *Validator) Validate(ctx context.Context, nodes []*model.Node) []*model.Node {
	l := logger.WithComponent("NodePool/Validator")
	if len(nodes) == 0 {
		return nil
	}

	l.Info().Int("count", len(nodes)).Int("concurrency", v.limiter.Capacity()).Msg("Starting validation batch...")

	results := make([]Result, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		wg.Add(1)
		go func(idx int, node *model.Node) {
			defer wg.Done()
			results[idx] = v.ValidateNode(ctx, node)
		}(i, n)
	}
	wg.Wait()

	validated := make([]*model.Node, 0, len(nodes))
	for i, r := range results {
		if r.State == StateValidated && r.Node != nil {
			validated = append(validated, r.Node)
			continue
		}
		l.Debug().Err(r.Err).Str("node", label(nodes[i])).Msg("Node rejected.")
	}

	l.Info().Int("validated", len(validated)).Int("total", len(nodes)).Msg("Validation batch finished.")
	return validated
}

// ValidateNode drives one node through the state machine. Panics inside the
// probes are recovered and reported as a rejection.
func (v *Validator) ValidateNode(ctx context.Context, n *model.Node) (res Result) {
	res.State = StatePending
	defer func() {
		if r := recover(); r != nil {
			res = Result{State: StateRejected, Err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()

	if err := v.connectivity.Probe(ctx, n); err != nil {
		return Result{State: StateRejected, Err: err}
	}
	res.State = StateConnectivityChecked

	access := make(map[string]bool, len(v.targets))
	anyAccessible := false
	for _, t := range v.targets {
		ok := v.probeTarget(ctx, n, t)
		access[t.Name] = ok
		anyAccessible = anyAccessible || ok
	}
	res.State = StateAccessChecked

	if !anyAccessible {
		// A second connectivity check tolerates flaky access probes.
		if err := v.connectivity.Probe(ctx, n); err != nil {
			return Result{State: StateRejected, Err: fmt.Errorf("%w: %w", ErrNoAccess, err)}
		}
	}

	out := n.Clone()
	out.StreamingAccess = access
	out.Validated = true
	return Result{Node: out, State: StateValidated}
}

func (v *Validator) probeTarget(ctx context.Context, n *model.Node, t types.Target) bool {
	l := logger.WithComponent("NodePool/Validator")
	if err := v.limiter.Acquire(ctx); err != nil {
		l.Debug().Err(err).Str("node", n.Label()).Str("target", t.Name).Msg("Could not acquire probe slot.")
		return false
	}
	defer v.limiter.Release()

	verdict := v.access.Probe(ctx, n, t.URL)
	ev := l.Debug().Str("node", n.Label()).Str("target", t.Name).Bool("accessible", verdict.Accessible).Str("reason", string(verdict.Reason))
	if verdict.Err != nil {
		ev = ev.Err(verdict.Err)
	}
	ev.Msg("Access probe finished.")
	return verdict.Accessible
}

func label(n *model.Node) string {
	if n == nil {
		return "<nil>"
	}
	return n.Label()
}
