// Package stream processes an unbounded sequence of chunks lazily. Nothing
// is read from the source until the consumer asks for the next result.
package stream

import (
	"context"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
	"github.com/stiffinWanjohi/medrelay/internal/logging"
	"github.com/stiffinWanjohi/medrelay/internal/observability"
)

var log = logging.Component("stream")

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithTracer(t *observability.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// Pipeline turns a chunk source into a result sequence. Position counts
// the bytes of every chunk processed over the life of the Pipeline and is
// never reset; use a new Pipeline to start from zero.
type Pipeline struct {
	processor domain.MessageProcessor
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer

	position atomic.Int64
	active   atomic.Bool
}

// NewPipeline processes each chunk with p.
func NewPipeline(p domain.MessageProcessor, opts ...Option) *Pipeline {
	s := &Pipeline{processor: p, logger: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process yields exactly one result per chunk, in source order. For each
// chunk, Active is true while the processor runs and Position advances by
// the chunk length before the result is yielded.
//
// The source is only pulled when the consumer asks for another result, so
// breaking out of the loop or cancelling ctx leaves later chunks unread.
// A processor error is folded into a failed result.
func (s *Pipeline) Process(ctx context.Context, source iter.Seq[[]byte]) iter.Seq[domain.ProcessingResult] {
	return func(yield func(domain.ProcessingResult) bool) {
		if ctx.Err() != nil {
			return
		}
		for chunk := range source {
			if ctx.Err() != nil {
				s.logger.Debug("stream cancelled", slog.Int64("position", s.position.Load()))
				return
			}
			if !yield(s.processChunk(ctx, chunk)) {
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (s *Pipeline) processChunk(ctx context.Context, chunk []byte) domain.ProcessingResult {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanStreamChunk,
		observability.WithAttributes(map[string]any{
			observability.AttrMessageSize: len(chunk),
		}),
	)
	defer span.End()

	s.active.Store(true)
	res, err := s.processor.Process(ctx, chunk)
	if err != nil && (res.Success || res.Error == "") {
		res = domain.NewFailureResult(chunk, err, res.Duration)
	}
	s.position.Add(int64(len(chunk)))
	s.active.Store(false)

	s.metrics.StreamChunk(ctx, len(chunk), res.Success)
	span.SetAttribute(observability.AttrMessageSuccess, res.Success)
	return res
}

// Position is the total number of bytes processed so far.
func (s *Pipeline) Position() int64 {
	return s.position.Load()
}

// Active reports whether a chunk is being processed right now.
func (s *Pipeline) Active() bool {
	return s.active.Load()
}
