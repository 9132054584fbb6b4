package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TextAssertOptions tunes text comparison.
type TextAssertOptions struct {
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	TrimSpace                bool `default:"false"`
	EnableColors             bool `default:"false"`
}

// TextOption is a functional option for TextAsserter.
type TextOption func(*TextAssertOptions)

// WithTrimSpace trims leading and trailing whitespace from both texts.
func WithTrimSpace(trim bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = trim }
}

// WithIgnoreEmptyLines drops blank lines before comparing.
func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreEmptyLines = ignore }
}

// WithEnableColors colorizes the unified diff output.
func WithEnableColors(enable bool) TextOption {
	return func(o *TextAssertOptions) { o.EnableColors = enable }
}

// TextAsserter compares multi-line text and reports a unified diff on
// mismatch. Used for CLI output assertions.
type TextAsserter struct {
	t       *testing.T
	options TextAssertOptions
}

// NewTextAsserter creates an asserter with default options.
func NewTextAsserter(t *testing.T) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{t: t, options: opts}
}

// WithOptions applies functional options.
func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

// Assert compares actual against expected and fails the test with a unified
// diff on mismatch.
func (ta *TextAsserter) Assert(actual, expected string) {
	ta.t.Helper()
	normActual := ta.normalize(actual)
	normExpected := ta.normalize(expected)
	if normActual == normExpected {
		return
	}

	edits := myers.ComputeEdits("", normExpected, normActual)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", normExpected, edits))
	ta.t.Errorf("Text assertion failed:\n%s", ta.colorize(unified))
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	lines := strings.Split(text, "\n")
	var result []string
	for _, line := range lines {
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t")
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}

func (ta *TextAsserter) colorize(diff string) string {
	if !ta.options.EnableColors {
		return diff
	}

	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}
