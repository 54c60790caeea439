// internal/player/scope.go
package player

import (
	"fmt"
	"strings"
)

// Scope is the two-tier variable store for one run. Globals hold the
// numbered slots (!VAR1..!VARn) and other bang-prefixed built-ins, shared
// across the whole run including sub-macros. Locals are per-call-frame: a
// frame snapshot deep-copies them, so a child macro's writes never leak back
// to the caller.
type Scope struct {
	Globals map[string]string
	Locals  map[string]string
}

// NumberedSlots is how many !VARn slots a run starts with.
const NumberedSlots = 10

// NewScope creates a scope with the numbered slots pre-declared empty.
func NewScope() *Scope {
	globals := make(map[string]string, NumberedSlots)
	for i := 1; i <= NumberedSlots; i++ {
		globals[fmt.Sprintf("!VAR%d", i)] = ""
	}
	return &Scope{
		Globals: globals,
		Locals:  make(map[string]string),
	}
}

// Lookup implements the expander's variable surface. Names are
// case-insensitive; locals shadow globals.
func (s *Scope) Lookup(name string) (string, bool) {
	key := strings.ToUpper(name)
	if v, ok := s.Locals[key]; ok {
		return v, true
	}
	v, ok := s.Globals[key]
	return v, ok
}

// Set writes a variable. Bang-prefixed names go to the shared global tier;
// everything else is local to the current frame.
func (s *Scope) Set(name, value string) {
	key := strings.ToUpper(name)
	if strings.HasPrefix(key, "!") {
		s.Globals[key] = value
		return
	}
	s.Locals[key] = value
}

// Snapshot flattens both tiers into one independent map, locals shadowing
// globals. The expander hands it to the evaluator as per-call bindings.
func (s *Scope) Snapshot() map[string]string {
	merged := make(map[string]string, len(s.Globals)+len(s.Locals))
	for k, v := range s.Globals {
		merged[k] = v
	}
	for k, v := range s.Locals {
		merged[k] = v
	}
	return merged
}

// SnapshotLocals returns a deep, independent copy of the local tier.
func (s *Scope) SnapshotLocals() map[string]string {
	return copyStringMap(s.Locals)
}

// RestoreLocals replaces the local tier with a previously taken snapshot.
func (s *Scope) RestoreLocals(snapshot map[string]string) {
	s.Locals = snapshot
}

func copyStringMap(m map[string]string) map[string]string {
	copied := make(map[string]string, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}
