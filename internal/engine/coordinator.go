package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/tracing"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
)

// Coordinator runs attribute tasks on a bounded worker pool.
type Coordinator struct {
	pool         *ants.Pool
	metrics      *metrics.Metrics
	timeout      time.Duration
	pollInterval time.Duration
	traceSpans   bool
	logger       *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) error {
		c.metrics = m
		return nil
	}
}

// WithTimeout bounds every Execute call. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		if d < 0 {
			return apperrors.Newf(apperrors.ErrInvalidConfig, "", "timeout must not be negative, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithPollInterval spaces out the polls of progressive tasks.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) error {
		if d < 0 {
			return apperrors.Newf(apperrors.ErrInvalidConfig, "", "poll interval must not be negative, got %v", d)
		}
		c.pollInterval = d
		return nil
	}
}

// WithTracing logs each query's span tree when it completes.
func WithTracing(enabled bool) Option {
	return func(c *Coordinator) error {
		c.traceSpans = enabled
		return nil
	}
}

func NewCoordinator(poolSize int, opts ...Option) (*Coordinator, error) {
	if poolSize < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, "", "pool size must be positive, got %d", poolSize)
	}
	c := &Coordinator{logger: slog.Default().With("component", "coordinator")}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.metrics == nil {
		c.metrics = metrics.NewUnregistered()
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	c.pool = pool
	return c, nil
}

// Close releases the worker pool. Executions still running keep their
// workers until they finish.
func (c *Coordinator) Close() {
	c.pool.Release()
}

// ExecOption configures one Execute call.
type ExecOption func(*execConfig)

type execConfig struct {
	emissions bool
	buffer    int
}

// WithEmissions makes every task also send its entries, tagged with the
// attribute, on Execution.Emissions. The caller must drain the channel or
// cancel the execution: tasks block on a full channel until either happens.
func WithEmissions(buffer int) ExecOption {
	return func(ec *execConfig) {
		ec.emissions = true
		ec.buffer = max(buffer, 0)
	}
}

// Execution is one running query.
type Execution struct {
	// Buffers holds each attribute's entries. A buffer's latch flips after
	// its task's last write.
	Buffers map[string]*sink.Buffer
	// Emissions is nil unless WithEmissions was given. It is closed after
	// every task has finished.
	Emissions <-chan sink.Tagged

	reports []Report
	done    chan struct{}
	cancel  context.CancelFunc
}

// Done is closed when every task has finished.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Cancel stops every task still running.
func (e *Execution) Cancel() { e.cancel() }

// Wait blocks until every task has finished and returns the reports in task
// order together with the joined task errors.
func (e *Execution) Wait() ([]Report, error) {
	<-e.done
	var errs []error
	for _, r := range e.reports {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return e.reports, errors.Join(errs...)
}

// Execute starts one task per attribute and returns immediately. Attribute
// names must be unique.
func (c *Coordinator) Execute(ctx context.Context, tasks []Task, opts ...ExecOption) (*Execution, error) {
	var ec execConfig
	for _, opt := range opts {
		opt(&ec)
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, dup := seen[t.Attribute()]; dup {
			return nil, apperrors.Newf(apperrors.ErrInvalidQuery, t.Attribute(), "attribute queried twice")
		}
		seen[t.Attribute()] = struct{}{}
	}

	var cancel context.CancelFunc
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	ctx, root := tracing.StartSpan(ctx, "query", logger.QueryID(ctx))
	root.SetAttr("tasks", len(tasks))

	exec := &Execution{
		Buffers: make(map[string]*sink.Buffer, len(tasks)),
		reports: make([]Report, len(tasks)),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	var emissions chan sink.Tagged
	if ec.emissions {
		emissions = make(chan sink.Tagged, ec.buffer)
		exec.Emissions = emissions
	}
	outs := make([]sink.Sink, len(tasks))
	for i, t := range tasks {
		buf := sink.NewBuffer()
		exec.Buffers[t.Attribute()] = buf
		outs[i] = buf
		if emissions != nil {
			outs[i] = sink.Tee{buf, sink.Chan{Attribute: t.Attribute(), C: emissions, Done: ctx.Done()}}
		}
	}

	log := logger.FromContext(ctx).With("component", "coordinator")
	log.Debug("query started", "tasks", len(tasks), "trace_id", root.TraceID)

	go func() {
		var wg sync.WaitGroup
		for i, t := range tasks {
			buf := exec.Buffers[t.Attribute()]
			wg.Add(1)
			err := c.pool.Submit(func() {
				defer wg.Done()
				exec.reports[i] = c.runTask(ctx, t, outs[i], buf)
			})
			if err != nil {
				wg.Done()
				buf.Finish()
				exec.reports[i] = Report{
					Attribute: t.Attribute(),
					Kind:      t.Kind(),
					Err:       apperrors.Newf(apperrors.ErrUnavailable, t.Attribute(), "submitting task: %v", err),
				}
				c.metrics.TasksTotal.WithLabelValues(string(t.Kind()), "error").Inc()
			}
			c.metrics.PoolRunning.Set(float64(c.pool.Running()))
		}
		wg.Wait()
		if emissions != nil {
			close(emissions)
		}
		root.End()
		cancel()
		c.metrics.PoolRunning.Set(float64(c.pool.Running()))
		log.Debug("query finished", "duration_ms", root.Duration.Milliseconds())
		if c.traceSpans {
			root.Log(log)
		}
		close(exec.done)
	}()
	return exec, nil
}

// runTask runs t and turns its outcome, including a panic, into a report.
// The buffer's latch flips on every path.
func (c *Coordinator) runTask(ctx context.Context, t Task, out sink.Sink, buf *sink.Buffer) (rep Report) {
	ctx, span := tracing.StartChildSpan(ctx, "task")
	span.SetAttr("attribute", t.Attribute())
	span.SetAttr("kind", string(t.Kind()))
	kind := string(t.Kind())
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("task panicked",
				"attribute", t.Attribute(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			rep = Report{Err: apperrors.Newf(apperrors.ErrInternal, t.Attribute(), "task panicked: %v", r)}
		}
		buf.Finish()
		rep.Attribute = t.Attribute()
		rep.Kind = t.Kind()
		rep.Duration = time.Since(start)

		status := "ok"
		switch {
		case rep.Err == nil:
		case errors.Is(rep.Err, apperrors.ErrTimeout), errors.Is(rep.Err, context.Canceled):
			status = "cancelled"
		default:
			status = "error"
		}
		c.metrics.TasksTotal.WithLabelValues(kind, status).Inc()
		c.metrics.TaskDuration.WithLabelValues(kind).Observe(rep.Duration.Seconds())
		c.metrics.EntriesEmitted.WithLabelValues(kind).Add(float64(rep.Emitted))
		c.metrics.CandidatesVerified.WithLabelValues(kind).Add(float64(rep.Verified))
		c.metrics.Reinsertions.Add(float64(rep.Reinserted))

		span.SetAttr("emitted", rep.Emitted)
		span.SetAttr("status", status)
		span.End()
	}()

	var throttle *rate.Limiter
	if c.pollInterval > 0 {
		throttle = rate.NewLimiter(rate.Every(c.pollInterval), 1)
	}
	rep, err := t.Run(ctx, out, throttle)
	rep.Err = classify(ctx, t.Attribute(), err)
	return rep
}

func classify(ctx context.Context, attribute string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.Newf(apperrors.ErrTimeout, attribute, "search stopped: %v", err)
	case apperrors.Attribute(err) != "":
		return err
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", attribute, err)
	default:
		var se *apperrors.SearchError
		if errors.As(err, &se) {
			return apperrors.Newf(se.Err, attribute, "%s", se.Message)
		}
		return fmt.Errorf("%s: %w", attribute, err)
	}
}
