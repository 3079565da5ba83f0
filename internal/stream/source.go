package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
)

// ReaderSource is a chunk sequence backed by an io.Reader. Err reports why
// the sequence stopped early, like bufio.Scanner.Err.
type ReaderSource struct {
	seq iter.Seq[[]byte]
	err error
}

// All returns the sequence. It may be ranged over once.
func (s *ReaderSource) All() iter.Seq[[]byte] { return s.seq }

// Err returns the read error that ended the sequence, or nil when the
// reader was exhausted or the consumer stopped first.
func (s *ReaderSource) Err() error { return s.err }

func (s *ReaderSource) fail(err error) {
	s.err = err
	log.Warn("stream source read failed", slog.String("error", err.Error()))
}

// NewChunkSource reads successive chunks of at most chunkSize bytes. Each
// chunk is a fresh slice the consumer may keep.
func NewChunkSource(r io.Reader, chunkSize int) *ReaderSource {
	if chunkSize < 1 {
		chunkSize = 32 * 1024
	}
	s := &ReaderSource{}
	s.seq = func(yield func([]byte) bool) {
		for {
			buf := make([]byte, chunkSize)
			n, err := io.ReadFull(r, buf)
			if n > 0 && !yield(buf[:n]) {
				return
			}
			switch {
			case err == nil:
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return
			default:
				s.fail(err)
				return
			}
		}
	}
	return s
}

// NewLineSource reads newline-delimited records without the terminator.
// Trailing CRs are trimmed and empty lines skipped. A line longer than
// maxLine ends the sequence with bufio.ErrTooLong.
func NewLineSource(r io.Reader, maxLine int) *ReaderSource {
	s := &ReaderSource{}
	s.seq = func(yield func([]byte) bool) {
		sc := bufio.NewScanner(r)
		if maxLine > 0 {
			sc.Buffer(make([]byte, 0, min(maxLine, 64*1024)), maxLine)
		}
		for sc.Scan() {
			line := bytes.TrimRight(sc.Bytes(), "\r")
			if len(line) == 0 {
				continue
			}
			if !yield(bytes.Clone(line)) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			s.fail(err)
		}
	}
	return s
}

// FromReader is NewChunkSource(r, chunkSize).All() for callers that do not
// need the stop reason. Read errors are logged.
func FromReader(r io.Reader, chunkSize int) iter.Seq[[]byte] {
	return NewChunkSource(r, chunkSize).All()
}

// FromChannel yields values received from ch until it is closed or ctx is
// done.
func FromChannel(ctx context.Context, ch <-chan []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-ch:
				if !ok || !yield(chunk) {
					return
				}
			}
		}
	}
}

// FromSlice yields each element of chunks in order.
func FromSlice(chunks [][]byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for _, c := range chunks {
			if !yield(c) {
				return
			}
		}
	}
}

// Lines is NewLineSource(r, maxLine).All().
func Lines(r io.Reader, maxLine int) iter.Seq[[]byte] {
	return NewLineSource(r, maxLine).All()
}
