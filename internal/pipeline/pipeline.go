// Package pipeline layers validation around a MessageProcessor and keeps
// separate success and failure counts.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/stiffinWanjohi/medrelay/internal/classify"
	"github.com/stiffinWanjohi/medrelay/internal/domain"
	"github.com/stiffinWanjohi/medrelay/internal/logging"
	"github.com/stiffinWanjohi/medrelay/internal/observability"
)

var log = logging.Component("pipeline")

// Validator inspects a payload before it is processed.
type Validator func(ctx context.Context, payload []byte) error

// ResultCheck inspects a successful result. An error turns it into a failure.
type ResultCheck func(ctx context.Context, res domain.ProcessingResult) error

// NotEmpty rejects zero-length payloads.
func NotEmpty() Validator {
	return func(_ context.Context, payload []byte) error {
		if len(payload) == 0 {
			return domain.ErrEmptyPayload
		}
		return nil
	}
}

// MaxSize rejects payloads longer than n bytes.
func MaxSize(n int) Validator {
	return func(_ context.Context, payload []byte) error {
		if len(payload) > n {
			return fmt.Errorf("%w: %d > %d bytes", domain.ErrPayloadTooLarge, len(payload), n)
		}
		return nil
	}
}

// Classified rejects payloads that do not classify, or that classify as a
// type outside types when any are given.
func Classified(types ...domain.MessageType) Validator {
	return func(_ context.Context, payload []byte) error {
		t, err := classify.Classify(payload)
		if err != nil {
			return err
		}
		if len(types) > 0 && !slices.Contains(types, t) {
			return domain.NewFormatError("message type " + t.String() + " is not accepted")
		}
		return nil
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithValidators(v ...Validator) Option {
	return func(p *Pipeline) { p.validators = append(p.validators, v...) }
}

func WithResultChecks(c ...ResultCheck) Option {
	return func(p *Pipeline) { p.checks = append(p.checks, c...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline runs validators, the processor and result checks in that order.
// Every call ends as exactly one success or one failure.
type Pipeline struct {
	processor  domain.MessageProcessor
	validators []Validator
	checks     []ResultCheck
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu       sync.Mutex
	success  uint64
	failure  uint64
	duration time.Duration
}

var _ domain.MessageProcessor = (*Pipeline)(nil)

func New(p domain.MessageProcessor, opts ...Option) *Pipeline {
	pl := &Pipeline{processor: p, logger: log}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// Process validates and processes payload. A validator or result check
// error is returned as-is alongside a failed result; the processor's own
// result and error pass through otherwise.
func (p *Pipeline) Process(ctx context.Context, payload []byte) (domain.ProcessingResult, error) {
	start := time.Now()
	res, err := p.process(ctx, payload, start)
	elapsed := time.Since(start)
	ok := err == nil && res.Success

	p.mu.Lock()
	if ok {
		p.success++
	} else {
		p.failure++
	}
	p.duration += elapsed
	p.mu.Unlock()

	p.metrics.MessageProcessed(ctx, "pipeline", ok, elapsed)
	return res, err
}

func (p *Pipeline) process(ctx context.Context, payload []byte, start time.Time) (domain.ProcessingResult, error) {
	for _, validate := range p.validators {
		if err := validate(ctx, payload); err != nil {
			p.logger.Debug("payload failed validation", slog.Int("size", len(payload)), slog.String("error", err.Error()))
			return domain.NewFailureResult(payload, err, time.Since(start)), err
		}
	}

	res, err := p.processor.Process(ctx, payload)
	if err != nil || !res.Success {
		return res, err
	}

	for _, check := range p.checks {
		if err := check(ctx, res); err != nil {
			p.logger.Debug("result check failed", slog.String("type", res.Type.String()), slog.String("error", err.Error()))
			return domain.NewFailureResult(payload, err, res.Duration).WithType(res.Type), err
		}
	}
	return res, nil
}

// Metrics returns a consistent snapshot of the counters.
func (p *Pipeline) Metrics() domain.PipelineMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.NewPipelineMetrics(p.success, p.failure, p.duration)
}

// ResetMetrics zeroes the counters.
func (p *Pipeline) ResetMetrics() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.success, p.failure, p.duration = 0, 0, 0
}
