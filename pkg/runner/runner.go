// Package runner fans the probe out across many hosts. Each target
// gets its own invocation and therefore its own session; sessions are
// never shared or pooled. A shared rate limiter keeps a large sweep
// from hammering the network all at once.
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmharte/secprobe/pkg/probe"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultWorkers is the default fan-out width.
const DefaultWorkers = 8

// Prober runs one probe invocation. Implemented by *probe.Prober.
type Prober interface {
	Run(ctx context.Context, params probe.Params) (*probe.Record, error)
}

// Outcome is the result of probing one target: a record, or the fatal
// error that prevented one. Exactly one of Record and Err is set.
type Outcome struct {
	Host   string
	Record *probe.Record
	Err    error
}

// Runner executes probe invocations across a worker pool.
type Runner struct {
	prober  Prober
	workers int
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

// Option is a functional option for configuring a Runner.
type Option func(*Runner) error

// WithWorkers sets the number of concurrent probe invocations.
func WithWorkers(n int) Option {
	return func(r *Runner) error {
		if n < 1 {
			return fmt.Errorf("workers must be at least 1, got %d", n)
		}
		r.workers = n
		return nil
	}
}

// WithRateLimit caps probe starts at perSec with the given burst.
func WithRateLimit(perSec float64, burst int) Option {
	return func(r *Runner) error {
		if perSec <= 0 || burst < 1 {
			return fmt.Errorf("invalid rate limit %v/%d", perSec, burst)
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Runner) error {
		if log == nil {
			return fmt.Errorf("logger must not be nil")
		}
		r.log = log
		return nil
	}
}

// New creates a Runner driving the given prober.
func New(p Prober, opts ...Option) (*Runner, error) {
	if p == nil {
		return nil, fmt.Errorf("runner: prober must not be nil")
	}

	r := &Runner{
		prober:  p,
		workers: DefaultWorkers,
		log:     logrus.StandardLogger(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("runner: %w", err)
		}
	}
	return r, nil
}

// Run probes every target and returns one Outcome per target that was
// started. Cancelling the context stops feeding new targets; the
// returned slice is then shorter than the input.
func (r *Runner) Run(ctx context.Context, targets []probe.Params) []Outcome {
	tasks := make(chan probe.Params)
	results := make(chan Outcome)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, id, tasks, results)
		}(i)
	}

	go func() {
		defer close(tasks)
		for _, t := range targets {
			select {
			case tasks <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, 0, len(targets))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (r *Runner) worker(ctx context.Context, id int, tasks <-chan probe.Params, results chan<- Outcome) {
	for t := range tasks {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				results <- Outcome{Host: t.Host, Err: err}
				continue
			}
		}

		log := r.log.WithField("worker", id).WithField("host", t.Host)
		rec, err := r.prober.Run(ctx, t)
		if err != nil {
			log.WithError(err).Warn("probe failed")
			results <- Outcome{Host: t.Host, Err: err}
			continue
		}
		log.Debug("probe complete")
		results <- Outcome{Host: t.Host, Record: rec}
	}
}
