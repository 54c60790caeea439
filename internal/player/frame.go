// internal/player/frame.go
package player

// LoopFrame tracks the iteration state of one enclosing play loop.
type LoopFrame struct {
	Index int // current iteration, 1-based
	Max   int
}

// CallFrame is the saved interpreter state for one level of sub-macro
// invocation. Frames are owned exclusively by the player's call stack. Both
// the loop stack and the local context are deep copies: a child macro must
// not be able to corrupt its caller's counters or variables.
type CallFrame struct {
	CallerID           string
	LoopStack          []LoopFrame
	LocalContext       map[string]string
	AutoplaySuppressed bool
}

// copyLoopStack deep-copies a loop stack.
func copyLoopStack(loops []LoopFrame) []LoopFrame {
	copied := make([]LoopFrame, len(loops))
	copy(copied, loops)
	return copied
}
