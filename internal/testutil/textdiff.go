// Package testutil holds shared test helpers: a unified-diff text asserter
// for rendered CLI output and fluent builders for device fixtures.
package testutil

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of testing.T the asserter needs.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// DiffOptions controls text normalization before comparison. Rendered tables
// pad cells with trailing spaces, so trailing whitespace is ignored by
// default.
type DiffOptions struct {
	TrimSpace           bool `default:"true"`
	IgnoreTrailingSpace bool `default:"true"`
	Color               bool `default:"false"`
}

// DiffOption is a functional option for AssertText.
type DiffOption func(*DiffOptions)

// WithExactSpace disables every whitespace normalization.
func WithExactSpace() DiffOption {
	return func(o *DiffOptions) {
		o.TrimSpace = false
		o.IgnoreTrailingSpace = false
	}
}

// WithColor colorizes the emitted diff.
func WithColor() DiffOption {
	return func(o *DiffOptions) {
		o.Color = true
	}
}

// AssertText compares actual against expected and reports a unified diff on
// mismatch.
func AssertText(t TestingT, expected, actual string, opts ...DiffOption) bool {
	options := DiffOptions{}
	defaults.SetDefaults(&options)
	for _, opt := range opts {
		opt(&options)
	}

	want := normalize(expected, options)
	got := normalize(actual, options)
	if want == got {
		return true
	}

	edits := myers.ComputeEdits("", want, got)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", want, edits))
	if options.Color {
		unified = colorize(unified)
	}
	t.Errorf("text mismatch:\n%s", unified)
	return false
}

func normalize(text string, o DiffOptions) string {
	if o.TrimSpace {
		text = strings.TrimSpace(text)
	}
	if !o.IgnoreTrailingSpace {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func colorize(diff string) string {
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()
	yellow := color.New(color.FgYellow)
	yellow.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++"):
			lines[i] = yellow.Sprint(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(markSpace(line))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(markSpace(line))
		}
	}
	return strings.Join(lines, "\n")
}

// markSpace makes whitespace visible inside changed lines.
func markSpace(line string) string {
	line = strings.ReplaceAll(line, " ", "·")
	return strings.ReplaceAll(line, "\t", "→")
}
