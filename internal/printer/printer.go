// Package printer renders user-facing CLI output with colour.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// NO_COLOR disables colour; otherwise colour is forced even when not on a TTY
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
	bold   = color.New(color.Bold)
)

// Output and ErrOutput are where messages are written. Tests swap them for buffers.
var (
	Output    io.Writer = os.Stdout
	ErrOutput io.Writer = os.Stderr
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Output, msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Output, format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Output, msg)
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Fprintf(Output, "→ %s", fmt.Sprintf(format, a...))
}

// Faint prints de-emphasised text such as timestamps and IDs
func Faint(format string, a ...any) {
	faint.Fprintf(Output, format, a...)
}

// Heading prints a bold section title followed by a newline
func Heading(format string, a ...any) {
	bold.Fprintf(Output, format+"\n", a...)
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Fprintln(Output, a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	fmt.Fprintf(Output, format, a...)
}

// Error prints a formatted error with title, explanation and suggestions to ErrOutput
// and returns a plain error carrying only the title, for cobra to exit non-zero on
// without printing it again.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error plus key/value context lines, printed in key order.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(ErrOutput, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(ErrOutput, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(ErrOutput)
		for _, k := range keys {
			fmt.Fprintf(ErrOutput, "  %s: %s\n", k, context[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(ErrOutput, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(ErrOutput, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(ErrOutput, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}
