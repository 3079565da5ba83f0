package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiPurple = "\033[35m"
	ansiCyan   = "\033[36m"
)

// ColorHandler writes one human-readable line per record for terminals:
//
//	15:04:05.000 WRN [stream] chunk failed chunk.size=42
//
// The "component" attribute is lifted out of the attribute list into the
// bracketed tag.
type ColorHandler struct {
	level     slog.Leveler
	out       io.Writer
	mu        *sync.Mutex
	component string
	preset    string // attributes bound with WithAttrs, already rendered
	group     string
}

// NewColorHandler returns a ColorHandler writing to out. Only opts.Level is
// honoured.
func NewColorHandler(out io.Writer, opts *slog.HandlerOptions) *ColorHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &ColorHandler{level: level, out: out, mu: &sync.Mutex{}}
}

func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return ansiRed + "ERR" + ansiReset
	case l >= slog.LevelWarn:
		return ansiYellow + "WRN" + ansiReset
	case l >= slog.LevelInfo:
		return ansiGreen + "INF" + ansiReset
	default:
		return ansiBlue + "DBG" + ansiReset
	}
}

func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(ansiDim + r.Time.Format("15:04:05.000") + ansiReset)
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))
	if h.component != "" {
		b.WriteString(" " + ansiPurple + "[" + h.component + "]" + ansiReset)
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)
	b.WriteString(h.preset)
	r.Attrs(func(a slog.Attr) bool {
		renderAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var b strings.Builder
	b.WriteString(h.preset)
	for _, a := range attrs {
		if a.Key == "component" && h.group == "" {
			next.component = a.Value.String()
			continue
		}
		renderAttr(&b, h.group, a)
	}
	next.preset = b.String()
	return &next
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = h.group + name + "."
	return &next
}

func renderAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		nested := prefix
		if a.Key != "" {
			nested += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			renderAttr(b, nested, ga)
		}
		return
	}
	fmt.Fprintf(b, " %s%s%s=%s%v%s", ansiDim, prefix, a.Key, ansiCyan, a.Value, ansiReset)
}
