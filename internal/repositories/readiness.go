package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/homeservices-storefront/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe is a named dependency check executed by the readiness endpoint.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// ReadinessOption customises the probe runner.
type ReadinessOption func(*probeRunner)

// WithProbeTimeout overrides the timeout for probes that do not set their own.
func WithProbeTimeout(timeout time.Duration) ReadinessOption {
	return func(r *probeRunner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithProbeClock injects a clock for tests.
func WithProbeClock(clock func() time.Time) ReadinessOption {
	return func(r *probeRunner) {
		if clock != nil {
			r.now = clock
		}
	}
}

type probeRunner struct {
	probes  []Probe
	timeout time.Duration
	now     func() time.Time
}

var _ ReadinessRepository = (*probeRunner)(nil)

// NewReadinessRepository validates probes and returns a runner that executes them concurrently.
func NewReadinessRepository(probes []Probe, opts ...ReadinessOption) (ReadinessRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("readiness: at least one probe is required")
	}
	seen := make(map[string]struct{}, len(probes))
	for _, probe := range probes {
		name := strings.TrimSpace(probe.Name)
		if name == "" {
			return nil, errors.New("readiness: probe name is required")
		}
		if probe.Check == nil {
			return nil, fmt.Errorf("readiness: probe %s has no check", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("readiness: duplicate probe %s", name)
		}
		seen[name] = struct{}{}
	}

	runner := &probeRunner{
		probes:  append([]Probe(nil), probes...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner, nil
}

func (r *probeRunner) Collect(ctx context.Context) (domain.ReadinessReport, error) {
	if ctx == nil {
		return domain.ReadinessReport{}, errors.New("readiness: context is required")
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]domain.DependencyHealth, len(r.probes))
	)
	for _, probe := range r.probes {
		wg.Add(1)
		go func(probe Probe) {
			defer wg.Done()
			result := r.run(ctx, probe)
			mu.Lock()
			results[probe.Name] = result
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	overall := domain.HealthStatusOK
	for _, result := range results {
		switch result.Status {
		case domain.HealthStatusError:
			overall = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if overall == domain.HealthStatusOK {
				overall = domain.HealthStatusDegraded
			}
		}
	}

	return domain.ReadinessReport{
		Status:      overall,
		Checks:      results,
		GeneratedAt: r.now(),
	}, nil
}

func (r *probeRunner) run(ctx context.Context, probe Probe) domain.DependencyHealth {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := probe.Check(probeCtx)
	end := r.now()

	result := domain.DependencyHealth{
		Status:    domain.HealthStatusOK,
		LatencyMS: end.Sub(start).Milliseconds(),
		CheckedAt: end,
	}
	if err == nil && probeCtx.Err() != nil {
		err = probeCtx.Err()
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		result.Status = domain.HealthStatusError
		result.Detail = "cancelled"
	default:
		result.Status = domain.HealthStatusDegraded
		result.Detail = err.Error()
	}
	return result
}
