package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kalambet/sunday/internal/turn"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// errReported marks errors whose message was already printed.
var errReported = errors.New("reported")

// Status lines go to stderr so answers on stdout can be piped.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorCyan, "→ "+msg))
}

// printOutcome reports how an operation ended. The answer itself has already
// been streamed to stdout.
func printOutcome(threadID string, res turn.Result) error {
	switch res.Outcome {
	case turn.OutcomeCompleted:
		fmt.Fprintln(stderr, colorize(colorDim, "thread "+threadID))
		return nil
	case turn.OutcomeCancelled:
		printWarning("Cancelled; the partial answer was kept")
		return nil
	case turn.OutcomeSkipped:
		printWarning("Nothing to rewrite yet")
		return nil
	}

	kind, msg := turn.KindRequestFailed, turn.MsgRequestFailed
	if res.Err != nil {
		kind, msg = res.Err.Kind, res.Err.Message
	}
	printError("%s", msg)
	if kind == turn.KindRequestFailed {
		printStep("Run `sunday retry --thread %s` to try again", threadID)
	}
	return fmt.Errorf("%s: %w", kind, errReported)
}
