// Package processor runs single messages through a handler while keeping
// exact throughput counters under any number of concurrent callers.
package processor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stiffinWanjohi/medrelay/internal/batch"
	"github.com/stiffinWanjohi/medrelay/internal/domain"
	"github.com/stiffinWanjohi/medrelay/internal/logging"
	"github.com/stiffinWanjohi/medrelay/internal/observability"
)

var log = logging.Component("processor")

const defaultName = "processor"

// Option configures a Processor.
type Option func(*Processor)

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithName sets the component tag used in logs and metrics.
func WithName(name string) Option {
	return func(p *Processor) {
		if name != "" {
			p.name = name
		}
	}
}

// Processor counts every completed call. Handler work runs unlocked; only
// the counter update is serialized, so a reset lands entirely before or
// entirely after each call's contribution.
type Processor struct {
	run     func(ctx context.Context, payload []byte) (domain.ProcessingResult, error)
	name    string
	logger  *slog.Logger
	metrics *observability.Metrics

	active atomic.Int64

	mu        sync.Mutex
	processed uint64
	errCount  uint64
	total     time.Duration
}

var _ domain.MessageProcessor = (*Processor)(nil)

// New returns a Processor that hands each payload to handler. The handler
// sees domain.MessageTypeUnknown since the processor does not classify.
func New(handler domain.Handler, opts ...Option) *Processor {
	p := newProcessor(opts)
	p.run = func(ctx context.Context, payload []byte) (domain.ProcessingResult, error) {
		start := time.Now()
		doc, err := domain.Invoke(ctx, handler, payload, domain.MessageTypeUnknown)
		if err != nil {
			perr := domain.NewProcessingError(domain.MessageTypeUnknown, err)
			return domain.NewFailureResult(payload, perr, time.Since(start)), perr
		}
		return domain.NewSuccessResult(payload, time.Since(start)).WithDocument(doc), nil
	}
	return p
}

// Wrap returns a Processor that counts calls made to next. Results and
// errors from next are returned unchanged; a failed result counts as an
// error even when next returns a nil error.
func Wrap(next domain.MessageProcessor, opts ...Option) *Processor {
	p := newProcessor(opts)
	p.run = next.Process
	return p
}

func newProcessor(opts []Option) *Processor {
	p := &Processor{name: defaultName, logger: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one payload and records its outcome.
func (p *Processor) Process(ctx context.Context, payload []byte) (domain.ProcessingResult, error) {
	p.metrics.ActiveOperations(ctx, p.name, p.active.Add(1))
	defer func() {
		p.metrics.ActiveOperations(ctx, p.name, p.active.Add(-1))
	}()

	start := time.Now()
	res, err := p.run(ctx, payload)
	elapsed := time.Since(start)
	failed := err != nil || !res.Success

	p.mu.Lock()
	p.processed++
	p.total += elapsed
	if failed {
		p.errCount++
	}
	p.mu.Unlock()

	p.metrics.MessageProcessed(ctx, p.name, !failed, elapsed)
	if failed {
		p.logger.Debug("message failed",
			slog.String("component", p.name),
			slog.Int("size", len(payload)),
			slog.String("error", res.Error),
		)
	}
	return res, err
}

// ProcessBatch processes payloads with at most maxConcurrency in flight and
// returns results in input order. Every payload runs; failures stay in
// their slot. A maxConcurrency below 1 is a *domain.ConfigurationError.
func (p *Processor) ProcessBatch(ctx context.Context, payloads [][]byte, maxConcurrency int) ([]domain.ProcessingResult, error) {
	return batch.Run(ctx, payloads, maxConcurrency, p.Process,
		batch.WithPolicy(batch.CollectAll),
		batch.WithMetrics(p.metrics),
		batch.WithLogger(p.logger),
	)
}

// Metrics returns a consistent snapshot of the counters.
func (p *Processor) Metrics() domain.ProcessorMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.NewProcessorMetrics(p.processed, p.errCount, p.total)
}

// ResetMetrics zeroes the counters. The active count is not affected.
func (p *Processor) ResetMetrics() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = 0
	p.errCount = 0
	p.total = 0
}

// ActiveCount is the number of Process calls currently running.
func (p *Processor) ActiveCount() int64 {
	return p.active.Load()
}
