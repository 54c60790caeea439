// internal/evaljs/evaluator.go
package evaljs

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// DefaultTimeout is the fallback execution timeout if the context carries no
// deadline. A runaway expression must never stall the player.
const DefaultTimeout = 10 * time.Second

// Evaluator runs !EVAL expressions in a persistent Goja VM. One instance is
// created per player run, so expressions can accumulate state across calls
// the way a page script would.
type Evaluator struct {
	vm        *goja.Runtime
	log       *zap.Logger
	timeout   time.Duration
	execMutex sync.Mutex // serializes access to the VM's interrupt channel
}

// New creates an initialized Evaluator.
func New(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		vm:      goja.New(),
		log:     logger.Named("evaljs"),
		timeout: DefaultTimeout,
	}
}

// SetTimeout overrides the per-expression execution ceiling. Values <= 0
// keep the current setting.
func (e *Evaluator) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	e.execMutex.Lock()
	defer e.execMutex.Unlock()
	e.timeout = d
}

// Evaluate runs one expression and renders its result as a string. The
// callID ties log lines for this call together. Entries of vars whose names
// are valid identifiers are exposed as VM globals for this and later calls;
// bang-prefixed built-ins are resolved by the expander before the expression
// ever reaches the VM.
func (e *Evaluator) Evaluate(ctx context.Context, callID, expr string, vars map[string]string) (string, error) {
	e.execMutex.Lock()
	defer e.execMutex.Unlock()

	for name, value := range vars {
		if !isIdentifier(name) {
			continue
		}
		if err := e.vm.Set(name, value); err != nil {
			return "", fmt.Errorf("injecting variable %s: %w", name, err)
		}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	// Goja has no channel hookup; a watcher goroutine fires Interrupt when
	// the context dies and is reaped before Evaluate returns. The interrupt
	// must be cleared before the next call reuses the VM.
	finished := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-ctx.Done():
			e.vm.Interrupt(ctx.Err())
		case <-finished:
		}
	}()
	defer func() {
		close(finished)
		<-watchDone
		e.vm.ClearInterrupt()
	}()

	e.log.Debug("Evaluating expression", zap.String("call_id", callID), zap.String("expr", expr))

	value, err := e.vm.RunString(expr)
	if err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			return "", fmt.Errorf("expression interrupted by context: %w", ctx.Err())
		}
		if jsErr, ok := err.(*goja.Exception); ok {
			return "", fmt.Errorf("expression exception: %s", jsErr.String())
		}
		return "", fmt.Errorf("expression error: %w", err)
	}

	return renderValue(value.Export()), nil
}

// isIdentifier reports whether name is usable as a bare JS identifier.
func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// renderValue converts an exported Goja value to the string form macros see.
// Whole-number floats drop the fractional part so "6*7" yields "42", not
// "42.000000".
func renderValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
