// internal/expand/expander.go
package expand

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dvbotkin/macrotape/internal/macro"
)

// Variables is the lookup surface the expander resolves plain names against.
// The player's variable scope implements it. Snapshot enumerates the current
// bindings so !EVAL expressions can see them as evaluator globals.
type Variables interface {
	Lookup(name string) (string, bool)
	Snapshot() map[string]string
}

// Evaluator computes !EVAL expressions against the supplied variable
// bindings. Each call is tagged with a fresh unique id so the host can
// correlate logs and asynchronous results.
type Evaluator interface {
	Evaluate(ctx context.Context, callID, expr string, vars map[string]string) (string, error)
}

// DataSource supplies !COLn columns from the current data-source row.
type DataSource interface {
	Column(n int) (string, error)
}

// DefaultIterationLimit bounds full-string re-expansion. Pathological
// self-referential growth that is not a direct cycle trips this instead of
// looping forever.
const DefaultIterationLimit = 50

// innermost matches a placeholder whose body contains no braces, i.e. the
// innermost placeholder of any nesting.
var innermost = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Expander resolves {{...}} placeholders. It is stateless per call and safe
// to share across goroutines as long as the injected collaborators are.
type Expander struct {
	vars  Variables
	eval  Evaluator
	data  DataSource
	limit int
	log   *zap.Logger
}

// New creates an Expander. eval and data may be nil; !EVAL and !COLn then
// fail with BadParameter when encountered.
func New(vars Variables, eval Evaluator, data DataSource, logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		vars:  vars,
		eval:  eval,
		data:  data,
		limit: DefaultIterationLimit,
		log:   logger.Named("expand"),
	}
}

// Expand resolves every placeholder in text. Expansion repeats over the
// whole string until no {{ remains or the iteration ceiling is hit. Cycle
// detection uses a per-call visited set, so independent re-use of the same
// variable later in the string stays legal.
func (e *Expander) Expand(ctx context.Context, text string) (string, error) {
	visited := make(map[string]bool)

	for i := 0; i < e.limit; i++ {
		if !strings.Contains(text, "{{") {
			return text, nil
		}

		next, err := e.expandPass(ctx, text, visited)
		if err != nil {
			return "", err
		}
		if next == text {
			// No placeholder resolved this pass; the remaining {{ is
			// literal text, not a well-formed placeholder.
			return text, nil
		}
		text = next
	}

	return "", &macro.ExpansionLimitError{Limit: e.limit}
}

// expandPass replaces every innermost placeholder in text exactly once.
func (e *Expander) expandPass(ctx context.Context, text string, visited map[string]bool) (string, error) {
	matches := innermost.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text, nil
	}

	var (
		b    strings.Builder
		last int
	)
	for _, m := range matches {
		name := text[m[2]:m[3]]
		value, err := e.resolve(ctx, name, visited)
		if err != nil {
			return "", err
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(value)
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

// resolve produces the replacement for one placeholder body.
func (e *Expander) resolve(ctx context.Context, name string, visited map[string]bool) (string, error) {
	if hasInteriorWhitespace(name) {
		return "", &macro.BadParameterError{Detail: "placeholder {{" + name + "}} contains whitespace"}
	}

	trimmed := strings.TrimSpace(name)
	upper := strings.ToUpper(trimmed)

	switch {
	case strings.HasPrefix(upper, "!EVAL(") && strings.HasSuffix(trimmed, ")"):
		return e.resolveEval(ctx, trimmed)
	case isColumnName(upper):
		return e.resolveColumn(trimmed)
	default:
		return e.resolveVariable(ctx, trimmed, visited)
	}
}

func (e *Expander) resolveEval(ctx context.Context, name string) (string, error) {
	if e.eval == nil {
		return "", &macro.BadParameterError{Detail: "!EVAL is not available in this context"}
	}

	expr := name[len("!EVAL(") : len(name)-1]
	expr = stripQuotes(expr)

	callID := uuid.NewString()
	e.log.Debug("Delegating expression to evaluator",
		zap.String("call_id", callID),
		zap.String("expr", expr))

	result, err := e.eval.Evaluate(ctx, callID, expr, e.vars.Snapshot())
	if err != nil {
		return "", macro.NewRuntimeError(macro.CodeEvalFailed, "EVAL failed: %v", err)
	}
	return result, nil
}

// isColumnName matches !COL followed by digits only, so user variables like
// !COLOR still resolve through the normal lookup path.
func isColumnName(upper string) bool {
	suffix, ok := strings.CutPrefix(upper, "!COL")
	if !ok || suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (e *Expander) resolveColumn(name string) (string, error) {
	if e.data == nil {
		return "", macro.NewRuntimeError(macro.CodeDataSource, "no data source is loaded for {{%s}}", name)
	}

	n, err := strconv.Atoi(name[len("!COL"):])
	if err != nil || n < 1 {
		return "", &macro.BadParameterError{Detail: "invalid column placeholder {{" + name + "}}"}
	}

	value, err := e.data.Column(n)
	if err != nil {
		return "", macro.NewRuntimeError(macro.CodeDataSource, "column %d: %v", n, err)
	}
	return value, nil
}

func (e *Expander) resolveVariable(ctx context.Context, name string, visited map[string]bool) (string, error) {
	if visited[strings.ToUpper(name)] {
		return "", &macro.CircularReferenceError{Name: name}
	}

	value, ok := e.vars.Lookup(name)
	if !ok {
		return "", &macro.BadParameterError{Detail: "unknown variable {{" + name + "}}"}
	}

	if !strings.Contains(value, "{{") {
		return value, nil
	}

	// The variable's own value may contain placeholders. Mark the name
	// visited only while actively expanding it; once resolved, the same
	// name may legally appear again later in the string.
	key := strings.ToUpper(name)
	visited[key] = true
	defer delete(visited, key)

	for i := 0; i < e.limit; i++ {
		next, err := e.expandPass(ctx, value, visited)
		if err != nil {
			return "", err
		}
		if next == value || !strings.Contains(next, "{{") {
			return next, nil
		}
		value = next
	}
	return "", &macro.ExpansionLimitError{Limit: e.limit}
}

// hasInteriorWhitespace reports whether the body has whitespace between
// non-whitespace characters. Leading and trailing space is tolerated.
func hasInteriorWhitespace(name string) bool {
	return strings.ContainsAny(strings.TrimSpace(name), " \t\n\r")
}

// stripQuotes removes one pair of surrounding single or double quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
