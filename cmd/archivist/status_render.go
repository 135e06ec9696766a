package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"archivist/internal/jobs"
	"archivist/internal/sink"
)

// statusKind grades one line of doctor or register output.
type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func (k statusKind) label() string {
	switch k {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (k statusKind) color() string {
	switch k {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	default:
		return ansiBlue
	}
}

// passFail grades a check that either holds or does not.
func passFail(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

// fileStatusKind grades a file's progress inside a job.
func fileStatusKind(status jobs.FileStatus) statusKind {
	switch status {
	case jobs.FileArchived:
		return statusOK
	case jobs.FileError:
		return statusError
	case jobs.FileDeclined, jobs.FileIgnored:
		return statusWarn
	default:
		return statusInfo
	}
}

// sinkStatusKind grades what a sink reports for one file.
func sinkStatusKind(status sink.Status) statusKind {
	switch status {
	case sink.StatusArchived:
		return statusOK
	case sink.StatusFailed:
		return statusError
	case sink.StatusPending:
		return statusInfo
	default:
		return statusWarn
	}
}

// statusPrinter writes section headers and labelled status lines, coloured
// when the destination is a terminal.
type statusPrinter struct {
	out      io.Writer
	colorize bool
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	return &statusPrinter{out: out, colorize: shouldColorize(out)}
}

func (p *statusPrinter) section(title string) {
	header := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	fmt.Fprintln(p.out, p.paint(statusInfo, header))
	fmt.Fprintln(p.out, p.paint(statusInfo, strings.Repeat("-", len(header))))
}

func (p *statusPrinter) line(label string, kind statusKind, message string) {
	text := "[" + kind.label() + "]"
	if message != "" {
		text += " " + message
	}
	fmt.Fprintln(p.out, p.paint(kind, fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", text)))
}

// paint wraps s in the colour of kind. Table cells go through here too;
// go-pretty measures cell width without escape sequences.
func (p *statusPrinter) paint(kind statusKind, s string) string {
	if !p.colorize || s == "" {
		return s
	}
	return kind.color() + s + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
