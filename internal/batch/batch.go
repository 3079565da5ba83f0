// Package batch fans work out over a bounded number of goroutines and
// collects results in input order.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
	"github.com/stiffinWanjohi/medrelay/internal/logging"
	"github.com/stiffinWanjohi/medrelay/internal/observability"
)

var log = logging.Component("batch")

// Policy decides what a batch does after an item fails.
type Policy int

const (
	// CollectAll runs every item and leaves failures in their result slot.
	CollectAll Policy = iota
	// FailFast cancels the batch on the first failure. Items that have not
	// started get a failed result wrapping domain.ErrBatchAborted.
	FailFast
)

func (p Policy) String() string {
	switch p {
	case CollectAll:
		return "collect_all"
	case FailFast:
		return "fail_fast"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy is the inverse of String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "collect_all", "":
		return CollectAll, nil
	case "fail_fast":
		return FailFast, nil
	}
	return CollectAll, domain.NewConfigurationError("batch_policy", fmt.Sprintf("unknown policy %q", s))
}

type options struct {
	policy  Policy
	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger
}

// Option configures a single Run.
type Option func(*options)

func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(t *observability.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Func processes one item.
type Func[T any] func(ctx context.Context, item T) (domain.ProcessingResult, error)

// Run calls fn for every item with at most limit calls in flight and
// returns one result per item, results[i] belonging to items[i]. A limit
// below 1 is a *domain.ConfigurationError and nothing runs.
//
// Under CollectAll the returned error is always nil. Under FailFast it is
// the first failure, either an error from fn or a failed result.
func Run[T any](ctx context.Context, items []T, limit int, fn Func[T], opts ...Option) ([]domain.ProcessingResult, error) {
	if limit < 1 {
		return nil, domain.NewConfigurationError("concurrency", fmt.Sprintf("must be at least 1, got %d", limit))
	}
	o := options{logger: log}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanBatchRun,
		observability.WithAttributes(map[string]any{
			observability.AttrBatchSize:  len(items),
			observability.AttrBatchLimit: limit,
		}),
	)
	defer span.End()

	results := make([]domain.ProcessingResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, item := range items {
		if o.policy == FailFast && gctx.Err() != nil {
			results[i] = aborted(item)
			continue
		}
		g.Go(func() error {
			// A slot may free up only after the batch was cancelled.
			if o.policy == FailFast && gctx.Err() != nil {
				results[i] = aborted(item)
				return nil
			}
			res, err := runOne(gctx, item, fn)
			results[i] = res
			if o.policy == FailFast {
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	o.metrics.BatchCompleted(ctx, len(items), failed, time.Since(start))
	o.logger.Debug("batch completed",
		slog.Int("size", len(items)),
		slog.Int("limit", limit),
		slog.Int("failed", failed),
		slog.String("policy", o.policy.String()),
		slog.Duration("duration", time.Since(start)),
	)
	if err != nil {
		observability.Fail(span, err, "batch aborted")
	}
	return results, err
}

// runOne normalizes fn's two failure channels into a failed result plus an
// error.
func runOne[T any](ctx context.Context, item T, fn Func[T]) (domain.ProcessingResult, error) {
	start := time.Now()
	res, err := fn(ctx, item)
	switch {
	case err != nil && (res.Success || res.Error == ""):
		return domain.NewFailureResult(payloadOf(item), err, time.Since(start)), err
	case err != nil:
		return res, err
	case !res.Success:
		return res, res.Err()
	}
	return res, nil
}

func aborted[T any](item T) domain.ProcessingResult {
	return domain.NewFailureResult(payloadOf(item), domain.ErrBatchAborted, 0)
}

func payloadOf[T any](item T) []byte {
	switch v := any(item).(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}
