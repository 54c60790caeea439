// internal/macro/errors.go
package macro

import (
	"fmt"
	"strings"
)

// This file defines the typed errors shared by the player, resolver, and
// expander. Typed errors let callers classify failures with errors.As instead
// of matching message strings.

// Stable numeric codes carried by RuntimeError. The codes are part of the
// tool's public surface (scripts and wrappers branch on them), so existing
// values must never be renumbered.
const (
	CodeNavigationTimeout = -802
	CodeWaitTimeout       = -803
	CodeElementNotFound   = -921
	CodeAmbiguousMatch    = -922
	CodeInvalidLocator    = -923
	CodeExtractFailed     = -924
	CodeFrameNotFound     = -925
	CodeEvalFailed        = -926
	CodeDataSource        = -927
	CodeUnsupportedAction = -930
)

// BadParameterError reports malformed command arguments. It is never retried;
// the run aborts.
type BadParameterError struct {
	Line   int
	Detail string
}

func (e *BadParameterError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("bad parameter at line %d: %s", e.Line, e.Detail)
	}
	return "bad parameter: " + e.Detail
}

// RuntimeError is a structured action failure carrying a stable numeric code.
// The run aborts unless the failing action is marked fail-tolerant.
type RuntimeError struct {
	Code    int
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("RuntimeError %d: %s", e.Code, e.Message)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// NewRuntimeError creates a RuntimeError with a formatted message.
func NewRuntimeError(code int, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CircularReferenceError reports a placeholder that expands, directly or
// through other variables, back into itself.
type CircularReferenceError struct {
	Name string
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("circular reference while expanding {{%s}}", e.Name)
}

// ExpansionLimitError reports that full-string expansion did not converge
// within the iteration ceiling. This bounds self-referential growth that is
// not a direct cycle.
type ExpansionLimitError struct {
	Limit int
}

func (e *ExpansionLimitError) Error() string {
	return fmt.Sprintf("maximum expansion iterations exceeded (%d)", e.Limit)
}

// MacroNotFoundError reports that RUN could not resolve a sub-macro. Tried
// lists every candidate name attempted, in order.
type MacroNotFoundError struct {
	Name  string
	Tried []string
}

func (e *MacroNotFoundError) Error() string {
	return fmt.Sprintf("macro %q not found (tried %s)", e.Name, strings.Join(e.Tried, ", "))
}

// MaxNestingExceededError reports that RUN recursion hit the configured
// ceiling. Failing fast here is deliberate; it replaces an unbounded stack.
type MaxNestingExceededError struct {
	Limit int
}

func (e *MaxNestingExceededError) Error() string {
	return fmt.Sprintf("maximum macro nesting depth exceeded (%d)", e.Limit)
}

// InputKind classifies a NeedsExternalInput control signal.
type InputKind int

const (
	// InputFile marks a file-input field that must be satisfied by an
	// external picker before the step is retried.
	InputFile InputKind = iota + 1
	// InputDecrypt marks a field whose stored value requires out-of-band
	// decryption before the step is retried.
	InputDecrypt
)

func (k InputKind) String() string {
	switch k {
	case InputFile:
		return "file"
	case InputDecrypt:
		return "decrypt"
	default:
		return "unknown"
	}
}

// NeedsExternalInput is not a failure. It is a control signal telling the
// caller to supply out-of-band input and retry the same step. The player
// surfaces it as a tagged result, never as an aborting error.
type NeedsExternalInput struct {
	Kind    InputKind
	Payload string
}

func (s *NeedsExternalInput) String() string {
	return fmt.Sprintf("needs external input (%s): %s", s.Kind, s.Payload)
}
