package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/medrelay/internal/batch"
	"github.com/stiffinWanjohi/medrelay/internal/domain"
	"github.com/stiffinWanjohi/medrelay/internal/statsstore"
	"github.com/stiffinWanjohi/medrelay/internal/stream"
)

const (
	// batchBodyFactor bounds a batch body at this many maximum-size payloads.
	batchBodyFactor = 16

	defaultHistoryLimit = 20
	maxHistoryLimit     = 1000
)

// MessageResponse is the wire form of a processing result. The payload is
// not echoed back.
type MessageResponse struct {
	ID         uuid.UUID          `json:"id"`
	Success    bool               `json:"success"`
	Type       domain.MessageType `json:"type,omitempty"`
	Error      string             `json:"error,omitempty"`
	Size       int                `json:"size"`
	DurationMS float64            `json:"duration_ms"`
	Document   any                `json:"document,omitempty"`
}

func toResponse(res domain.ProcessingResult) MessageResponse {
	return MessageResponse{
		ID:         res.ID,
		Success:    res.Success,
		Type:       res.Type,
		Error:      res.Error,
		Size:       len(res.Payload),
		DurationMS: float64(res.Duration) / float64(time.Millisecond),
		Document:   res.Document,
	}
}

// BatchRequest is the body of POST /v1/messages/batch.
type BatchRequest struct {
	Messages    []string `json:"messages"`
	Concurrency int      `json:"concurrency,omitempty"`
	Policy      string   `json:"policy,omitempty"`
}

// BatchResponse reports per-item results in request order.
type BatchResponse struct {
	Results   []MessageResponse `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Aborted   string            `json:"aborted,omitempty"` // first failure under fail_fast
}

// handleMessage handles POST /v1/messages. The raw body is the message.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	payload, err := s.readPayload(r)
	if err != nil {
		respondPayloadError(w, err)
		return
	}

	res, err := s.c.Processor.Process(r.Context(), payload)
	if err != nil {
		s.respondProcessError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toResponse(res))
}

// handleBatch handles POST /v1/messages/batch.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	body := http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxPayloadSize)*batchBodyFactor)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body", "BAD_REQUEST")
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, "messages must not be empty", "BAD_REQUEST")
		return
	}

	policy := s.cfg.BatchPolicy
	if req.Policy != "" {
		p, err := batch.ParsePolicy(req.Policy)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error(), "INVALID_POLICY")
			return
		}
		policy = p
	}

	limit := s.cfg.MaxConcurrency
	if req.Concurrency != 0 {
		limit = min(req.Concurrency, s.cfg.MaxConcurrency)
	}

	payloads := make([][]byte, len(req.Messages))
	for i, m := range req.Messages {
		payloads[i] = []byte(m)
	}

	results, err := batch.Run(r.Context(), payloads, limit, s.c.Processor.Process,
		batch.WithPolicy(policy),
		batch.WithMetrics(s.c.Metrics),
		batch.WithTracer(s.c.Tracer),
		batch.WithLogger(s.logger),
	)
	if results == nil && errors.Is(err, domain.ErrConfiguration) {
		respondError(w, http.StatusBadRequest, err.Error(), "INVALID_CONCURRENCY")
		return
	}

	resp := BatchResponse{Results: make([]MessageResponse, len(results))}
	if err != nil {
		resp.Aborted = err.Error()
	}
	for i, res := range results {
		resp.Results[i] = toResponse(res)
		if res.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStream handles POST /v1/stream. The body is split into messages
// (one per line by default, or fixed-size chunks with ?mode=chunks) and each
// result is written as one NDJSON line as soon as it is ready.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var src *stream.ReaderSource
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", "lines":
		src = stream.NewLineSource(r.Body, s.cfg.MaxPayloadSize)
	case "chunks":
		size := s.cfg.ChunkSize
		if v := r.URL.Query().Get("size"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > s.cfg.MaxPayloadSize {
				respondError(w, http.StatusBadRequest, "size must be between 1 and the payload limit", "BAD_REQUEST")
				return
			}
			size = n
		}
		src = stream.NewChunkSource(r.Body, size)
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", mode), "BAD_REQUEST")
		return
	}

	sp := s.newStream()
	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)

	// HTTP/1.x discards the unread body once the response starts unless
	// reads and writes are interleaved explicitly. HTTP/2 is always duplex.
	if err := rc.EnableFullDuplex(); err != nil {
		s.logger.Debug("full duplex unavailable", "error", err, "proto", r.Proto)
	}
	// The server's write timeout is sized for single requests.
	_ = rc.SetWriteDeadline(time.Time{})
	_ = rc.SetReadDeadline(time.Time{})

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	var last int64
	for res := range sp.Process(r.Context(), src.All()) {
		pos := sp.Position()
		s.streamed.Add(pos - last)
		last = pos

		if err := enc.Encode(toResponse(res)); err != nil {
			s.logger.Debug("stream client gone", "error", err, "position", pos)
			return
		}
		_ = rc.Flush()
	}

	if err := src.Err(); err != nil && r.Context().Err() == nil {
		_ = enc.Encode(streamErrorLine(err))
		_ = rc.Flush()
	}
}

// StreamError is the final NDJSON line of a stream whose body could not be
// read to the end. It decodes as a failed MessageResponse.
type StreamError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func streamErrorLine(err error) StreamError {
	code := "STREAM_READ_FAILED"
	if errors.Is(err, bufio.ErrTooLong) {
		code = "LINE_TOO_LONG"
	}
	return StreamError{Error: "stream ended early: " + err.Error(), Code: code}
}

// handleStats handles GET /v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.Snapshot())
}

// handleStatsHistory handles GET /v1/stats/history, served from Redis.
func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.c.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "Statistics publishing not configured", "STATS_STORE_DISABLED")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	history, err := s.c.Store.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read stats history", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to read history", "INTERNAL_ERROR")
		return
	}
	if history == nil {
		history = []statsstore.Snapshot{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"snapshots": history,
		"total":     len(history),
	})
}

// handleStatsReset handles POST /v1/stats/reset.
func (s *Server) handleStatsReset(w http.ResponseWriter, _ *http.Request) {
	s.ResetStatistics()
	w.WriteHeader(http.StatusNoContent)
}

// readPayload reads at most one byte past the limit so the size validator
// can reject oversized bodies without buffering them whole.
func (s *Server) readPayload(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, int64(s.cfg.MaxPayloadSize)+1))
}

func (s *Server) respondProcessError(w http.ResponseWriter, r *http.Request, err error) {
	var formatErr *domain.FormatError
	switch {
	case errors.As(err, &formatErr):
		respondError(w, http.StatusUnprocessableEntity, formatErr.Error(), "UNRECOGNIZED_FORMAT")
	case errors.Is(err, domain.ErrEmptyPayload):
		respondError(w, http.StatusBadRequest, err.Error(), "EMPTY_PAYLOAD")
	case errors.Is(err, domain.ErrPayloadTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, err.Error(), "PAYLOAD_TOO_LARGE")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "Request cancelled", "CANCELLED")
	default:
		s.logger.Error("message processing failed",
			"error", err,
			"path", r.URL.Path,
		)
		respondError(w, http.StatusInternalServerError, "Processing failed", "INTERNAL_ERROR")
	}
}

func respondPayloadError(w http.ResponseWriter, err error) {
	respondError(w, http.StatusBadRequest, "Failed to read body: "+err.Error(), "BAD_REQUEST")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
