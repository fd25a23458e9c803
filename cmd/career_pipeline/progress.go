package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/jonathan/career-pipeline/internal/broadcast"
	"github.com/jonathan/career-pipeline/internal/types"
)

const (
	ansiReset  = "\033[0m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiDim    = "\033[2m"
)

type progressPrinter struct {
	out      io.Writer
	colorize bool
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, colorize: shouldColorize(out)}
}

func (p *progressPrinter) print(event broadcast.Event) {
	switch event.Type {
	case broadcast.EventConnected:
		return
	case broadcast.EventWaitingForInput:
		line := fmt.Sprintf("[%d/%d] waiting for input: %s", event.CurrentStage, types.FinalStage, strings.Join(event.MissingFields, ", "))
		fmt.Fprintln(p.out, p.paint(ansiYellow, line))
	case broadcast.EventStateUpdate:
		line := fmt.Sprintf("[%d/%d] %s", event.CurrentStage, types.FinalStage, event.Status)
		if event.Label != "" {
			line += "  " + event.Label
		}
		fmt.Fprintln(p.out, p.paint(statusColor(event.Status), line))
	default:
		fmt.Fprintln(p.out, p.paint(ansiDim, event.Message))
	}
}

func (p *progressPrinter) paint(color, line string) string {
	if !p.colorize || color == "" {
		return line
	}
	return color + line + ansiReset
}

func statusColor(status string) string {
	switch types.RunStatus(status) {
	case types.StatusCompleted:
		return ansiGreen
	case types.StatusFailed:
		return ansiRed
	case types.StatusWaitingForInput:
		return ansiYellow
	default:
		return ""
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
