// Package statsstore exports routing statistics and processing counters to
// Redis for dashboards. It is best-effort: nothing reads it back into the
// in-memory counters.
package statsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
	"github.com/stiffinWanjohi/medrelay/internal/logging"
)

var log = logging.Component("statsstore")

// ErrNoSnapshot is returned by Latest before anything was published.
var ErrNoSnapshot = errors.New("no snapshot published")

const (
	defaultPrefix  = "medrelay"
	defaultTTL     = 24 * time.Hour
	defaultHistory = 100

	fieldUpdatedAt = "updated_at"
	fieldProcessed = "processor:processed"
	fieldErrors    = "processor:errors"
	fieldTotalNs   = "processor:total_ns"
	fieldActive    = "processor:active"
	fieldSuccess   = "pipeline:success"
	fieldFailure   = "pipeline:failure"
	fieldPipeNs    = "pipeline:total_ns"
	fieldPosition  = "stream:position"
	routedPrefix   = "routed:"
	failedPrefix   = "failed:"
)

// Snapshot is a point-in-time copy of the counters worth exporting.
type Snapshot struct {
	Timestamp      time.Time                     `json:"ts"`
	Routed         map[domain.MessageType]uint64 `json:"routed"`
	Failed         map[domain.MessageType]uint64 `json:"failed"`
	Processor      domain.ProcessorMetrics       `json:"processor"`
	Pipeline       domain.PipelineMetrics        `json:"pipeline"`
	Active         int64                         `json:"active"`
	StreamPosition int64                         `json:"stream_position"`
}

// Source produces the snapshot to publish.
type Source func() Snapshot

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key. Defaults to "medrelay".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL sets the expiry applied on every publish.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithHistory caps the number of snapshots kept in the history list.
func WithHistory(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.history = n
		}
	}
}

// Store writes snapshots to a Redis hash (the latest values) and a capped
// list (recent snapshots as JSON, newest first).
type Store struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	history int
}

func NewStore(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:  client,
		prefix:  defaultPrefix,
		ttl:     defaultTTL,
		history: defaultHistory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) statsKey() string   { return s.prefix + ":stats" }
func (s *Store) historyKey() string { return s.prefix + ":stats:history" }

// Publish replaces the stored latest values with snap and prepends it to
// the history list.
func (s *Store) Publish(ctx context.Context, snap Snapshot) error {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	fields := map[string]any{
		fieldUpdatedAt: snap.Timestamp.UnixMilli(),
		fieldProcessed: snap.Processor.MessagesProcessed,
		fieldErrors:    snap.Processor.ErrorCount,
		fieldTotalNs:   int64(snap.Processor.TotalDuration),
		fieldActive:    snap.Active,
		fieldSuccess:   snap.Pipeline.SuccessCount,
		fieldFailure:   snap.Pipeline.FailureCount,
		fieldPipeNs:    int64(snap.Pipeline.TotalDuration),
		fieldPosition:  snap.StreamPosition,
	}
	for t, n := range snap.Routed {
		fields[routedPrefix+t.String()] = n
	}
	for t, n := range snap.Failed {
		fields[failedPrefix+t.String()] = n
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.statsKey())
	pipe.HSet(ctx, s.statsKey(), fields)
	pipe.Expire(ctx, s.statsKey(), s.ttl)
	pipe.LPush(ctx, s.historyKey(), data)
	pipe.LTrim(ctx, s.historyKey(), 0, int64(s.history-1))
	pipe.Expire(ctx, s.historyKey(), s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// Latest reads back the most recently published values.
func (s *Store) Latest(ctx context.Context) (Snapshot, error) {
	values, err := s.client.HGetAll(ctx, s.statsKey()).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	if len(values) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}

	snap := Snapshot{
		Routed: make(map[domain.MessageType]uint64),
		Failed: make(map[domain.MessageType]uint64),
	}
	var processed, errCount, success, failure uint64
	var totalNs, pipeNs int64
	for field, raw := range values {
		switch {
		case field == fieldUpdatedAt:
			snap.Timestamp = time.UnixMilli(parseInt(raw)).UTC()
		case field == fieldProcessed:
			processed = parseUint(raw)
		case field == fieldErrors:
			errCount = parseUint(raw)
		case field == fieldTotalNs:
			totalNs = parseInt(raw)
		case field == fieldActive:
			snap.Active = parseInt(raw)
		case field == fieldSuccess:
			success = parseUint(raw)
		case field == fieldFailure:
			failure = parseUint(raw)
		case field == fieldPipeNs:
			pipeNs = parseInt(raw)
		case field == fieldPosition:
			snap.StreamPosition = parseInt(raw)
		case strings.HasPrefix(field, routedPrefix):
			if t, err := domain.ParseMessageType(strings.TrimPrefix(field, routedPrefix)); err == nil {
				snap.Routed[t] = parseUint(raw)
			}
		case strings.HasPrefix(field, failedPrefix):
			if t, err := domain.ParseMessageType(strings.TrimPrefix(field, failedPrefix)); err == nil {
				snap.Failed[t] = parseUint(raw)
			}
		}
	}
	snap.Processor = domain.NewProcessorMetrics(processed, errCount, time.Duration(totalNs))
	snap.Pipeline = domain.NewPipelineMetrics(success, failure, time.Duration(pipeNs))
	return snap, nil
}

// History returns up to limit recent snapshots, newest first. A limit of
// zero or less returns everything kept.
func (s *Store) History(ctx context.Context, limit int) ([]Snapshot, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := s.client.LRange(ctx, s.historyKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	snaps := make([]Snapshot, 0, len(raw))
	for _, item := range raw {
		var snap Snapshot
		if err := json.Unmarshal([]byte(item), &snap); err != nil {
			log.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Run publishes a snapshot from source every interval until ctx is done,
// then publishes once more so the final counters are not lost. Publish
// errors are logged and do not stop the loop.
func (s *Store) Run(ctx context.Context, interval time.Duration, source Source) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("stats publisher started", "interval", interval, "key", s.statsKey())
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := s.Publish(flushCtx, source()); err != nil {
				log.Warn("final stats publish failed", "error", err)
			}
			cancel()
			log.Info("stats publisher stopped")
			return
		case <-ticker.C:
			if err := s.Publish(ctx, source()); err != nil {
				log.Warn("stats publish failed", "error", err)
			}
		}
	}
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}
