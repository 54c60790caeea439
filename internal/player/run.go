// internal/player/run.go
package player

import (
	"context"

	"go.uber.org/zap"

	"github.com/dvbotkin/macrotape/internal/loader"
	"github.com/dvbotkin/macrotape/internal/macro"
)

// invokeSubMacro performs RUN: resolve the macro name to content, push a
// call frame with deep-copied loop stack and local-context snapshot, and
// splice the child's actions onto the front of the queue.
func (p *Player) invokeSubMacro(ctx context.Context, act macro.Action) error {
	name, ok := act.Param("MACRO")
	if !ok {
		if len(act.Args) == 0 {
			return &macro.BadParameterError{Line: act.Line, Detail: "RUN requires a macro name"}
		}
		var err error
		name, err = macro.Unquote(act.Args[0])
		if err != nil {
			return &macro.BadParameterError{Line: act.Line, Detail: err.Error()}
		}
	}

	// Fail fast before loading anything; growing the stack unbounded is
	// never an option.
	p.mu.Lock()
	depth := len(p.frames)
	p.mu.Unlock()
	if depth >= p.cfg.MaxNesting {
		return &macro.MaxNestingExceededError{Limit: p.cfg.MaxNesting}
	}

	content, tried, found, err := p.resolveMacro(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return &macro.MacroNotFoundError{Name: name, Tried: tried}
	}

	actions, err := macro.ParseScript(content)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	frame := CallFrame{
		CallerID:           name,
		LoopStack:          copyLoopStack(p.loops),
		LocalContext:       p.scope.SnapshotLocals(),
		AutoplaySuppressed: p.autoplaySuppressed,
	}
	p.frames = append(p.frames, frame)
	p.autoplaySuppressed = false

	spliced := make([]queueEntry, 0, len(actions)+1+len(p.queue))
	for _, a := range actions {
		spliced = append(spliced, queueEntry{action: a})
	}
	spliced = append(spliced, queueEntry{frameReturn: true})
	spliced = append(spliced, p.queue...)
	p.queue = spliced

	p.log.Info("Entering sub-macro",
		zap.String("macro", name),
		zap.Int("depth", len(p.frames)),
		zap.Int("actions", len(actions)))
	return nil
}

// resolveMacro tries each candidate name against each source in order; the
// first candidate that yields content wins.
func (p *Player) resolveMacro(ctx context.Context, name string) (content string, tried []string, found bool, err error) {
	for _, candidate := range loader.Candidates(name) {
		tried = append(tried, candidate)
		for _, source := range p.sources {
			content, ok, err := source.Load(ctx, candidate)
			if err != nil {
				return "", tried, false, err
			}
			if ok {
				return content, tried, true, nil
			}
		}
	}
	return "", tried, false, nil
}
