// Diagnostic reporting for the Loom lowering engine.
// Internal-consistency failures are fatal to the run and carry the rendered
// form of the offending declaration; they are never silently recovered
// because silent recovery risks miscompilation.

package diagnostic

import (
	"fmt"
	"strings"

	"github.com/loom-ir/loom/internal/position"
)

// Level represents the severity level of a diagnostic message.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Diagnostic represents a single diagnostic message.
type Diagnostic struct {
	Code     string // stable identifier, e.g. "L1002"
	Message  string
	Rendered string // rendered form of the offending node/declaration, if any
	Span     position.Span
	Level    Level
}

// Error implements the error interface so invariant violations can propagate
// through ordinary error returns.
func (d *Diagnostic) Error() string {
	var b strings.Builder
	if d.Span.IsValid() {
		fmt.Fprintf(&b, "%s: ", d.Span)
	}
	fmt.Fprintf(&b, "%s[%s]: %s", d.Level, d.Code, d.Message)
	if d.Rendered != "" {
		fmt.Fprintf(&b, "\n  in: %s", d.Rendered)
	}
	return b.String()
}

// Internalf constructs a fatal internal-consistency diagnostic. rendered is
// the offending declaration's textual form and may be empty when no single
// node is at fault.
func Internalf(code string, span position.Span, rendered, format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Rendered: rendered,
		Span:     span,
		Level:    LevelError,
	}
}

// Engine collects diagnostics raised during a lowering run.
type Engine struct {
	diagnostics []*Diagnostic
}

// NewEngine creates an empty diagnostic engine.
func NewEngine() *Engine {
	return &Engine{diagnostics: make([]*Diagnostic, 0)}
}

// Add records a diagnostic.
func (e *Engine) Add(d *Diagnostic) {
	e.diagnostics = append(e.diagnostics, d)
}

// All returns every recorded diagnostic in insertion order.
func (e *Engine) All() []*Diagnostic {
	return e.diagnostics
}

// HasErrors returns true if any error-level diagnostic was recorded.
func (e *Engine) HasErrors() bool {
	for _, d := range e.diagnostics {
		if d.Level == LevelError {
			return true
		}
	}
	return false
}

// Format returns a formatted report of all recorded diagnostics.
func (e *Engine) Format() string {
	if len(e.diagnostics) == 0 {
		return ""
	}

	var b strings.Builder
	for i, d := range e.diagnostics {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(d.Error())
	}
	return b.String()
}
