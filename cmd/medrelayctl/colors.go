package main

import (
	"os"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
)

const (
	sgrReset = "\033[0m"
	sgrBold  = "\033[1m"
	sgrDim   = "\033[2m"
	fgRed    = "\033[31m"
	fgGreen  = "\033[32m"
	fgYellow = "\033[33m"
	fgBlue   = "\033[34m"
	fgCyan   = "\033[36m"
)

// Colors are off when NO_COLOR is set or stdout is not a character device.
var colorOutput = stdoutIsTerminal() && os.Getenv("NO_COLOR") == ""

func stdoutIsTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func paint(text string, codes ...string) string {
	if !colorOutput || len(codes) == 0 {
		return text
	}
	var prefix string
	for _, c := range codes {
		prefix += c
	}
	return prefix + text + sgrReset
}

func bold(text string) string    { return paint(text, sgrBold) }
func dim(text string) string     { return paint(text, sgrDim) }
func yellow(text string) string  { return paint(text, fgYellow) }
func success(text string) string { return paint(text, fgGreen, sgrBold) }
func fail(text string) string    { return paint(text, fgRed, sgrBold) }

func outcome(ok bool) string {
	if ok {
		return success("ok")
	}
	return fail("failed")
}

var typeColors = map[domain.MessageType]string{
	domain.MessageTypeV2:   fgCyan,
	domain.MessageTypeV3:   fgBlue,
	domain.MessageTypeFHIR: fgYellow,
}

// typeLabel renders a message type in its format color; unknown stays plain.
func typeLabel(t domain.MessageType) string {
	c, ok := typeColors[t]
	if !ok {
		return t.String()
	}
	return paint(t.String(), c)
}
