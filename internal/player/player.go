// internal/player/player.go
package player

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dvbotkin/macrotape/internal/expand"
	"github.com/dvbotkin/macrotape/internal/loader"
	"github.com/dvbotkin/macrotape/internal/locator"
	"github.com/dvbotkin/macrotape/internal/macro"
)

// State is the player's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config tunes one player instance.
type Config struct {
	// MaxNesting bounds RUN recursion depth.
	MaxNesting int
	// ActionsPerSecond throttles step consumption; 0 disables pacing.
	ActionsPerSecond float64
}

// DefaultMaxNesting is the RUN recursion ceiling when the config leaves it
// unset.
const DefaultMaxNesting = 10

// InputProvider supplies out-of-band input for NeedsExternalInput control
// signals: a file path for a file-input field, or decrypted plaintext for an
// encrypted value. The player retries the signalling step with the result.
type InputProvider func(ctx context.Context, signal *macro.NeedsExternalInput) (string, error)

// queueEntry is one slot in the action queue. frameReturn entries mark the
// end of a spliced sub-macro: consuming one pops the current call frame.
type queueEntry struct {
	action      macro.Action
	frameReturn bool
}

// Player is the single-threaded, cooperative command interpreter. It owns
// the action queue, call stack, loop stack, and variable scope for one run;
// no other component mutates them. Pausing is cooperative and takes effect
// at the next step boundary.
type Player struct {
	cfg      Config
	log      *zap.Logger
	driver   Driver
	resolver *locator.Resolver
	expander *expand.Expander
	sources  []loader.Source
	input    InputProvider
	limiter  *rate.Limiter

	mu    sync.Mutex
	cond  *sync.Cond
	state State

	queue  []queueEntry
	frames []CallFrame
	loops  []LoopFrame
	scope  *Scope

	data               *CSVSource
	autoplaySuppressed bool
	extracts           []string
	lastError          error
}

// New creates a Player. sources are consulted in order during RUN
// resolution; put the inline source first. evaluator may be nil to disable
// !EVAL.
func New(cfg Config, driver Driver, resolver *locator.Resolver, evaluator expand.Evaluator, sources []loader.Source, input InputProvider, logger *zap.Logger) *Player {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxNesting <= 0 {
		cfg.MaxNesting = DefaultMaxNesting
	}

	p := &Player{
		cfg:      cfg,
		log:      logger.Named("player"),
		driver:   driver,
		resolver: resolver,
		sources:  sources,
		input:    input,
		scope:    NewScope(),
	}
	p.cond = sync.NewCond(&p.mu)
	p.expander = expand.New(p.scope, evaluator, dataSourceFunc(p.column), logger)
	if cfg.ActionsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.ActionsPerSecond), 1)
	}
	return p
}

// dataSourceFunc adapts a method to the expander's DataSource interface,
// keeping the indirection through the player so SET !DATASOURCE can swap the
// source mid-run.
type dataSourceFunc func(n int) (string, error)

func (f dataSourceFunc) Column(n int) (string, error) { return f(n) }

func (p *Player) column(n int) (string, error) {
	if p.data == nil {
		return "", fmt.Errorf("no data source is loaded")
	}
	return p.data.Column(n)
}

// State returns the current lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Scope exposes the variable scope, mainly for callers that seed variables
// before a run.
func (p *Player) Scope() *Scope { return p.scope }

// Pause suspends step consumption at the next step boundary. In-flight
// waits (a pending navigation, a running step) are not cancelled.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateRunning {
		p.state = StatePaused
		p.log.Info("Player paused")
	}
}

// Resume continues a paused run.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePaused {
		p.state = StateRunning
		p.cond.Broadcast()
		p.log.Info("Player resumed")
	}
}

// Extracts returns the values accumulated by EXTRACT operations this run.
func (p *Player) Extracts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.extracts...)
}

// Play runs a macro for the given number of loops. The data-source row
// advances once per completed loop, and {{!LOOP}} exposes the current
// iteration.
func (p *Player) Play(ctx context.Context, actions []macro.Action, loops int) error {
	if loops < 1 {
		loops = 1
	}
	for i := 1; i <= loops; i++ {
		p.mu.Lock()
		p.loops = []LoopFrame{{Index: i, Max: loops}}
		p.scope.Globals["!LOOP"] = strconv.Itoa(i)
		p.mu.Unlock()

		if err := p.Run(ctx, actions); err != nil {
			return err
		}
		if p.data != nil && i < loops {
			p.data.Advance()
		}
	}
	return nil
}

// Run executes one macro to completion. It is the single point deciding
// abort versus advance for every action failure.
func (p *Player) Run(ctx context.Context, actions []macro.Action) error {
	p.mu.Lock()
	if p.state == StateRunning || p.state == StatePaused {
		p.mu.Unlock()
		return errors.New("player is already running")
	}
	p.state = StateRunning
	p.queue = make([]queueEntry, 0, len(actions))
	for _, a := range actions {
		p.queue = append(p.queue, queueEntry{action: a})
	}
	p.frames = nil
	p.extracts = nil
	p.lastError = nil
	p.mu.Unlock()

	// Unblocks a paused run when the context dies.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			p.cond.Broadcast()
		case <-watchDone:
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return p.cancel(err)
		}
		if err := p.awaitResume(ctx); err != nil {
			return p.cancel(err)
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return p.cancel(err)
			}
		}

		entry, ok := p.dequeue()
		if !ok {
			break
		}
		if entry.frameReturn {
			p.popFrame()
			continue
		}

		if err := p.step(ctx, entry.action); err != nil {
			if p.tolerates(err) {
				p.log.Warn("Action failed; continuing (error tolerance enabled)",
					zap.Int("line", entry.action.Line),
					zap.Error(err))
				p.mu.Lock()
				p.lastError = err
				p.mu.Unlock()
				continue
			}
			p.mu.Lock()
			p.state = StateFailed
			p.lastError = err
			p.queue = nil
			p.frames = nil
			p.mu.Unlock()
			return err
		}
	}

	p.mu.Lock()
	p.state = StateCompleted
	p.mu.Unlock()
	return nil
}

// cancel discards the queue and remaining frames; no partial frame state is
// reused across runs.
func (p *Player) cancel(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateFailed
	p.queue = nil
	p.frames = nil
	p.lastError = err
	return err
}

// awaitResume blocks while the player is paused.
func (p *Player) awaitResume(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.state == StatePaused {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.cond.Wait()
	}
	return nil
}

func (p *Player) dequeue() (queueEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return queueEntry{}, false
	}
	entry := p.queue[0]
	p.queue = p.queue[1:]
	return entry, true
}

// popFrame restores the caller's loop stack, local context, and
// autoplay-suppression flag exactly as captured at invocation.
func (p *Player) popFrame() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return
	}
	frame := p.frames[len(p.frames)-1]
	p.frames = p.frames[:len(p.frames)-1]

	p.loops = frame.LoopStack
	p.scope.RestoreLocals(frame.LocalContext)
	p.autoplaySuppressed = frame.AutoplaySuppressed
	p.log.Debug("Returned from sub-macro", zap.String("caller", frame.CallerID))
}

// tolerates reports whether a failure is survivable under !ERRORIGNORE.
// Only RuntimeErrors qualify; bad parameters and RUN failures always abort.
func (p *Player) tolerates(err error) bool {
	var re *macro.RuntimeError
	if !errors.As(err, &re) {
		return false
	}
	v, _ := p.scope.Lookup("!ERRORIGNORE")
	return v == "YES"
}

// step expands one action's arguments and dispatches it. When a handler
// raises a control signal, the configured input provider is consulted and
// the same step retried with its result.
func (p *Player) step(ctx context.Context, action macro.Action) error {
	expanded, err := p.expandAction(ctx, action)
	if err != nil {
		return err
	}

	p.log.Debug("Executing action",
		zap.Int("line", action.Line),
		zap.String("command", expanded.Name))

	if expanded.Name == "RUN" {
		return p.invokeSubMacro(ctx, expanded)
	}

	handler, ok := handlerFor(expanded.Name)
	if !ok {
		return macro.NewRuntimeError(macro.CodeUnsupportedAction, "unsupported command %s at line %d", expanded.Name, action.Line)
	}

	signal, err := handler(p, ctx, expanded, nil)
	if err != nil {
		return err
	}
	if signal == nil {
		return nil
	}

	// Control signal: not a failure. Fetch the out-of-band input and
	// retry the same step.
	if p.input == nil {
		return macro.NewRuntimeError(macro.CodeUnsupportedAction,
			"step requires external input (%s) but no provider is configured", signal.Kind)
	}
	provided, err := p.input(ctx, signal)
	if err != nil {
		return fmt.Errorf("external input provider failed: %w", err)
	}
	retry, err := handler(p, ctx, expanded, &provided)
	if err != nil {
		return err
	}
	if retry != nil {
		// A handler that signals again after input was supplied would loop;
		// surface that instead of silently skipping the side effect.
		return macro.NewRuntimeError(macro.CodeUnsupportedAction,
			"external input (%s) did not satisfy the step at line %d", retry.Kind, action.Line)
	}
	return nil
}

// expandAction expands every argument token through the placeholder
// expander, bound to the current local context.
func (p *Player) expandAction(ctx context.Context, action macro.Action) (macro.Action, error) {
	if len(action.Args) == 0 {
		return action, nil
	}
	args := make([]string, len(action.Args))
	for i, arg := range action.Args {
		expanded, err := p.expander.Expand(ctx, arg)
		if err != nil {
			return macro.Action{}, err
		}
		args[i] = expanded
	}
	return macro.Action{Name: action.Name, Args: args, Line: action.Line}, nil
}

// appendExtract accumulates an extracted value and refreshes !EXTRACT.
func (p *Player) appendExtract(value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extracts = append(p.extracts, value)
	p.scope.Globals["!EXTRACT"] = joinExtracts(p.extracts)
}

func joinExtracts(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += "[EXTRACT]"
		}
		out += v
	}
	return out
}
