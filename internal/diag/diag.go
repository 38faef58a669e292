// Package diag renders compiler diagnostics with Rust-like caret styling.
// It is a trimmed descendant of the teacher's structured error reporter:
// smpl's parser never recovers from an error, so there is nothing to
// suggest, and there are exactly four kinds of diagnostic instead of an
// open-ended error-code catalogue.
package diag

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"smplc/token"
)

// Kind is one of the four diagnostic kinds named by the front end.
type Kind string

const (
	Lexical  Kind = "lexical error"
	Syntax   Kind = "syntax error"
	Warning  Kind = "warning"
	Semantic Kind = "semantic error"
)

// Diagnostic is one reported issue, anchored at a source position.
type Diagnostic struct {
	Kind    Kind
	Message string
	Pos     token.Position
}

// Reporter formats Diagnostics against one source file, showing the
// offending line with a caret under the column.
type Reporter struct {
	filename string
	lines    []string
}

// NewReporter builds a Reporter over filename's source text.
func NewReporter(filename, source string) *Reporter {
	return &Reporter{filename: filename, lines: strings.Split(source, "\n")}
}

// Format renders d as multi-line, colorized text ending in a newline.
func (r *Reporter) Format(d Diagnostic) string {
	var out strings.Builder

	levelColor := r.colorFor(d.Kind)
	dim := color.New(color.Faint).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	out.WriteString(fmt.Sprintf("%s: %s\n", levelColor(string(d.Kind)), d.Message))

	width := lineNumberWidth(d.Pos.Line)
	indent := strings.Repeat(" ", width)
	out.WriteString(fmt.Sprintf("%s %s %s:%d:%d\n", indent, dim("-->"), r.filename, d.Pos.Line, d.Pos.Column))
	out.WriteString(fmt.Sprintf("%s %s\n", indent, dim("│")))

	if d.Pos.Line >= 1 && d.Pos.Line <= len(r.lines) {
		out.WriteString(fmt.Sprintf("%s %s %s\n",
			bold(fmt.Sprintf("%*d", width, d.Pos.Line)), dim("│"), r.lines[d.Pos.Line-1]))
		marker := strings.Repeat(" ", max0(d.Pos.Column-1)) + levelColor("^")
		out.WriteString(fmt.Sprintf("%s %s %s\n", indent, dim("│"), marker))
	}

	out.WriteString("\n")
	return out.String()
}

func (r *Reporter) colorFor(k Kind) func(...interface{}) string {
	switch k {
	case Warning:
		return color.New(color.FgYellow, color.Bold).SprintFunc()
	default:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	}
}

func lineNumberWidth(line int) int {
	w := len(fmt.Sprintf("%d", line))
	if w < 3 {
		w = 3
	}
	return w
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
