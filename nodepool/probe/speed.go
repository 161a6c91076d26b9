package probe

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/juju/ratelimit"

	"freenode_sieve/nodepool/model"
)

const (
	// A response this fast without payload is read as a responsive node.
	fastEmptyThreshold = 500 * time.Millisecond
	// An error this fast is read as a responsive node whose measurement channel failed.
	fastFailureThreshold = 1 * time.Second
)

// EstimatePolicy produces a stand-in throughput when it cannot be measured.
type EstimatePolicy func(min, max float64) float64

// UniformEstimate draws uniformly from [min, max].
func UniformEstimate(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + rand.Float64()*(max-min)
}

// Picker chooses one benchmark URL per probe.
type Picker func(urls []string) string

// RandomPicker picks uniformly at random.
func RandomPicker() Picker {
	return func(urls []string) string {
		return urls[rand.Intn(len(urls))]
	}
}

// RoundRobinPicker cycles through the list; safe for concurrent use.
func RoundRobinPicker() Picker {
	var next atomic.Uint64
	return func(urls []string) string {
		i := next.Add(1) - 1
		return urls[i%uint64(len(urls))]
	}
}

// Measurement is the outcome of a successful speed probe.
type Measurement struct {
	Speed     float64 // KB/s
	Estimated bool
	Bytes     int64
	Elapsed   time.Duration
	URL       string
}

// HTTPSpeedProber times a GET of a benchmark URL through the node's proxy.
type HTTPSpeedProber struct {
	Timeout  time.Duration
	URLs     []string
	Pick     Picker
	Estimate EstimatePolicy
	MinSpeed float64
	MaxSpeed float64

	// Bucket, when set, caps the total download rate of all speed probes.
	Bucket    *ratelimit.Bucket
	NewClient ClientFactory
	Now       func() time.Time
}

// NewSpeedProber returns a prober with random URL selection and uniform estimation.
func NewSpeedProber(timeout time.Duration, urls []string, minSpeed, maxSpeed float64) *HTTPSpeedProber {
	return &HTTPSpeedProber{
		Timeout:   timeout,
		URLs:      urls,
		Pick:      RandomPicker(),
		Estimate:  UniformEstimate,
		MinSpeed:  minSpeed,
		MaxSpeed:  maxSpeed,
		NewClient: NewProxyClient,
		Now:       time.Now,
	}
}

// Measure returns the node's throughput in KB/s. Fast-but-empty responses and
// fast failures yield an estimate from the EstimatePolicy. Failures wrap
// ErrNoProxyURL, ErrUnmeasured or ErrSlowFailure.
func (p *HTTPSpeedProber) Measure(ctx context.Context, n *model.Node) (Measurement, error) {
	if len(p.URLs) == 0 {
		return Measurement{}, &Error{Op: "speed", Addr: n.Key(), Kind: ErrUnmeasured, Cause: fmt.Errorf("no benchmark urls")}
	}
	proxyURL, ok := BuildProxyURL(n)
	if !ok {
		return Measurement{}, &Error{Op: "speed", Addr: n.Key(), Kind: ErrNoProxyURL}
	}
	newClient := p.NewClient
	if newClient == nil {
		newClient = NewProxyClient
	}
	client, err := newClient(proxyURL, p.Timeout)
	if err != nil {
		return Measurement{}, &Error{Op: "speed", Addr: n.Key(), Kind: ErrNoProxyURL, Cause: err}
	}

	pick := p.Pick
	if pick == nil {
		pick = RandomPicker()
	}
	target := pick(p.URLs)
	now := p.Now
	if now == nil {
		now = time.Now
	}

	start := now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Measurement{}, &Error{Op: "speed", Addr: n.Key(), Kind: ErrUnmeasured, Cause: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return p.failed(n, target, now().Sub(start), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return Measurement{URL: target, Elapsed: now().Sub(start)},
			&Error{Op: "speed", Addr: n.Key(), Kind: ErrUnmeasured, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var body io.Reader = resp.Body
	if p.Bucket != nil {
		body = ratelimit.Reader(body, p.Bucket)
	}
	read, err := io.Copy(io.Discard, body)
	elapsed := now().Sub(start)
	if err != nil {
		return p.failed(n, target, elapsed, err)
	}

	if elapsed > 0 && read > 0 {
		speed := float64(read) / 1024 / elapsed.Seconds()
		return Measurement{Speed: speed, Bytes: read, Elapsed: elapsed, URL: target}, nil
	}
	if elapsed < fastEmptyThreshold {
		return p.estimated(target, read, elapsed), nil
	}
	return Measurement{URL: target, Elapsed: elapsed},
		&Error{Op: "speed", Addr: n.Key(), Kind: ErrUnmeasured, Cause: fmt.Errorf("empty body after %s", elapsed)}
}

func (p *HTTPSpeedProber) failed(n *model.Node, target string, elapsed time.Duration, err error) (Measurement, error) {
	if elapsed < fastFailureThreshold {
		return p.estimated(target, 0, elapsed), nil
	}
	return Measurement{URL: target, Elapsed: elapsed}, &Error{Op: "speed", Addr: n.Key(), Kind: ErrSlowFailure, Cause: err}
}

func (p *HTTPSpeedProber) estimated(target string, read int64, elapsed time.Duration) Measurement {
	estimate := p.Estimate
	if estimate == nil {
		estimate = UniformEstimate
	}
	return Measurement{
		Speed:     estimate(p.MinSpeed, p.MaxSpeed),
		Estimated: true,
		Bytes:     read,
		Elapsed:   elapsed,
		URL:       target,
	}
}
