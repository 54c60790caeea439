// internal/recorder/recorder.go
package recorder

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dvbotkin/macrotape/internal/macro"
)

// Recorder consumes raw interaction events in arrival order and maintains an
// append-only buffer of macro commands, merging runs of related events using
// a fixed lookback window. Merge decisions depend on the immediately
// preceding one to three entries, so ordering within a session is strict.
type Recorder struct {
	mu  sync.Mutex
	log *zap.Logger

	cipher *Cipher // non-nil when keystroke encryption is enabled
	active bool
	failed error

	startedAt time.Time
	buf       []string

	dragTarget    string
	keydownTarget string
}

// New creates a Recorder. cipher may be nil to record keystrokes in the
// clear.
func New(cipher *Cipher, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{cipher: cipher, log: logger.Named("recorder")}
}

// Start begins a session, clearing any previous buffer.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = nil
	r.active = true
	r.failed = nil
	r.dragTarget = ""
	r.keydownTarget = ""
	r.startedAt = time.Now()
	r.log.Info("Recording started")
}

// Stop finalizes the session and hands off the recorded commands.
func (r *Recorder) Stop() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	session := Session{
		StartedAt: r.startedAt,
		StoppedAt: time.Now(),
		Actions:   append([]string(nil), r.buf...),
	}
	r.buf = nil
	r.log.Info("Recording stopped", zap.Int("actions", len(session.Actions)))
	return session
}

// Actions returns a copy of the buffer recorded so far.
func (r *Recorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.buf...)
}

// OnEvent processes one raw event. Malformed events and events arriving
// outside an active session are logged and dropped rather than corrupting
// the buffer. The only fatal condition is a keystroke-decryption failure,
// which poisons the session: continuing would silently record with a stale
// key.
func (r *Recorder) OnEvent(ev RawEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failed != nil {
		return r.failed
	}
	if !r.active {
		r.log.Warn("Dropping event: recorder not active", zap.String("pack_type", ev.PackType))
		return nil
	}
	if ev.Selector == "" {
		r.log.Warn("Dropping event with empty selector", zap.String("pack_type", ev.PackType))
		return nil
	}

	switch ev.PackType {
	case PackMouseDown:
		r.record(eventLine("MOUSEDOWN", ev.Selector, "BUTTON="+strconv.Itoa(ev.Button)))
	case PackMouseUp:
		r.record(eventLine("MOUSEUP", ev.Selector, "BUTTON="+strconv.Itoa(ev.Button)))
	case PackClick:
		r.compactClick(ev)
	case PackDblClick:
		r.compactDblClick(ev)
	case PackMouseMove:
		r.compactMouseMove(ev)
	case PackKeyDown:
		r.keydownTarget = ev.Selector
		params := append([]string{"KEY=" + strconv.Itoa(ev.Key)}, modifierParam(ev.Modifiers)...)
		r.record(eventLine("KEYDOWN", ev.Selector, params...))
	case PackKeyPress:
		r.record(eventLine("KEYPRESS", ev.Selector, "CHAR="+macro.Quote(ev.Char)))
	case PackKeyUp:
		return r.compactKeyUp(ev)
	case PackChange:
		r.record("TAG SELECTOR=" + macro.Quote(ev.Selector) + " CONTENT=" + macro.Quote(ev.Value))
	default:
		r.log.Warn("Dropping event with unknown pack type", zap.String("pack_type", ev.PackType))
	}
	return nil
}

func modifierParam(modifiers string) []string {
	if modifiers == "" {
		return nil
	}
	return []string{"MODIFIERS=" + macro.Quote(modifiers)}
}

// record appends a command, deduplicating immediately-repeated identical
// commands by their CONTENT= segment so that repeatedly setting the same
// field value does not bloat the script.
func (r *Recorder) record(line string) {
	if len(r.buf) > 0 && sameContentSegment(r.buf[len(r.buf)-1], line) {
		r.log.Debug("Deduplicated repeated command", zap.String("line", line))
		return
	}
	r.buf = append(r.buf, line)
}

// sameContentSegment reports whether two lines are the same command carrying
// an identical CONTENT= segment. Lines without CONTENT never deduplicate.
func sameContentSegment(prev, next string) bool {
	p, n := parseRecorded(prev), parseRecorded(next)
	if !p.ok || !n.ok || p.action.Name != n.action.Name {
		return false
	}
	pc, pok := p.action.Param("CONTENT")
	nc, nok := n.action.Param("CONTENT")
	if !pok || !nok {
		return false
	}
	ps, _ := p.action.Param("SELECTOR")
	ns, _ := n.action.Param("SELECTOR")
	return pc == nc && ps == ns
}

// popLast removes and returns up to n trailing entries, oldest first.
func (r *Recorder) popLast(n int) []string {
	if n > len(r.buf) {
		n = len(r.buf)
	}
	popped := append([]string(nil), r.buf[len(r.buf)-n:]...)
	r.buf = r.buf[:len(r.buf)-n]
	return popped
}

func (r *Recorder) restore(lines []string) {
	r.buf = append(r.buf, lines...)
}

// compactClick collapses a mousedown(sel)/mouseup/click triplet into the
// click alone. On any mismatch the popped entries go back untouched.
func (r *Recorder) compactClick(ev RawEvent) {
	r.buf = append(r.buf, eventLine("CLICK", ev.Selector, "BUTTON="+strconv.Itoa(ev.Button)))

	last := r.popLast(3)
	if len(last) == 3 {
		down, up, click := parseRecorded(last[0]), parseRecorded(last[1]), parseRecorded(last[2])
		if down.isEvent("MOUSEDOWN") && down.selector() == ev.Selector &&
			up.isEvent("MOUSEUP") && click.isEvent("CLICK") {
			r.buf = append(r.buf, click.raw)
			return
		}
	}
	r.restore(last)
}

// compactDblClick collapses click(sel)/click(sel)/dblclick into the dblclick
// alone.
func (r *Recorder) compactDblClick(ev RawEvent) {
	r.buf = append(r.buf, eventLine("DBLCLICK", ev.Selector, "BUTTON="+strconv.Itoa(ev.Button)))

	last := r.popLast(3)
	if len(last) == 3 {
		first, second, dbl := parseRecorded(last[0]), parseRecorded(last[1]), parseRecorded(last[2])
		if first.isEvent("CLICK") && first.selector() == ev.Selector &&
			second.isEvent("CLICK") && second.selector() == ev.Selector &&
			dbl.isEvent("DBLCLICK") {
			r.buf = append(r.buf, dbl.raw)
			return
		}
	}
	r.restore(last)
}

// compactMouseMove extends the current drag sequence when the target matches
// the tracked drag target, merging point lists and keeping the last-seen
// modifier state. A new target starts a fresh sequence.
func (r *Recorder) compactMouseMove(ev RawEvent) {
	r.buf = append(r.buf, moveLine(ev.Selector, []Point{ev.Point}, ev.Modifiers))

	last := r.popLast(2)
	if len(last) == 2 && r.dragTarget == ev.Selector {
		prev, cur := parseRecorded(last[0]), parseRecorded(last[1])
		if prev.isMove() && prev.selector() == ev.Selector && cur.isMove() {
			rawPoints, _ := prev.action.Param("POINTS")
			points, err := ParsePoints(rawPoints)
			if err != nil {
				r.log.Warn("Dropping drag merge: malformed point list", zap.Error(err))
				r.restore(last)
				r.dragTarget = ev.Selector
				return
			}
			points = append(points, ev.Point)
			r.buf = append(r.buf, moveLine(ev.Selector, points, ev.Modifiers))
			r.dragTarget = ev.Selector
			return
		}
	}
	r.restore(last)
	r.dragTarget = ev.Selector
}

// compactKeyUp closes out a key interaction. Three outcomes: a
// keydown/keypress/keyup triplet for the same selector collapses into one
// character command; a keydown/keyup pair without a keypress is a control
// key and records the raw key code plus modifiers; anything else is restored
// verbatim.
func (r *Recorder) compactKeyUp(ev RawEvent) error {
	if r.keydownTarget != ev.Selector {
		r.log.Debug("Dropping keyup without matching keydown", zap.String("selector", ev.Selector))
		return nil
	}
	r.keydownTarget = ""

	r.buf = append(r.buf, eventLine("KEYUP", ev.Selector, "KEY="+strconv.Itoa(ev.Key)))

	last := r.popLast(3)
	entries := make([]parsedLine, len(last))
	for i, line := range last {
		entries[i] = parseRecorded(line)
	}

	n := len(entries)
	// keydown -> keypress -> keyup, same selector: one character command.
	if n == 3 &&
		entries[0].isEvent("KEYDOWN") && entries[0].selector() == ev.Selector &&
		entries[1].isEvent("KEYPRESS") && entries[1].selector() == ev.Selector &&
		entries[2].isEvent("KEYUP") {
		char, _ := entries[1].action.Param("CHAR")
		return r.recordChars(ev.Selector, char)
	}

	// keydown -> keyup with no keypress in between: a control key.
	if n >= 2 &&
		entries[n-2].isEvent("KEYDOWN") && entries[n-2].selector() == ev.Selector &&
		entries[n-1].isEvent("KEYUP") {
		if n == 3 {
			r.restore(last[:1])
		}
		key, _ := entries[n-2].action.Param("KEY")
		modifiers, _ := entries[n-2].action.Param("MODIFIERS")
		params := []string{"KEY=" + key}
		params = append(params, modifierParam(modifiers)...)
		r.buf = append(r.buf, eventLine("KEYPRESS", ev.Selector, params...))
		return nil
	}

	r.restore(last)
	return nil
}

// recordChars appends a characters command, merging with an immediately
// preceding characters command for the same selector by string
// concatenation. When encryption is enabled the concatenation happens on the
// decrypted plaintext before re-encrypting the merged result; a decryption
// failure poisons the session.
func (r *Recorder) recordChars(selector, char string) error {
	encrypted := r.cipher != nil

	if len(r.buf) > 0 {
		prev := parseRecorded(r.buf[len(r.buf)-1])
		prevChars, hasChars := prev.action.Param("CHARS")
		if prev.isEvent("KEYPRESS") && prev.selector() == selector && hasChars {
			merged, err := r.mergeChars(prevChars, char, encrypted)
			if err != nil {
				r.failed = err
				r.active = false
				r.log.Error("Recording session aborted", zap.Error(err))
				return err
			}
			r.buf[len(r.buf)-1] = r.charsLine(selector, merged, encrypted)
			return nil
		}
	}

	value := char
	if encrypted {
		sealed, err := r.cipher.Encrypt(char)
		if err != nil {
			r.failed = fmt.Errorf("failed to encrypt keystroke: %w", err)
			r.active = false
			return r.failed
		}
		value = sealed
	}
	r.buf = append(r.buf, r.charsLine(selector, value, encrypted))
	return nil
}

// mergeChars concatenates a new character onto an existing characters value.
func (r *Recorder) mergeChars(existing, char string, encrypted bool) (string, error) {
	if !encrypted {
		return existing + char, nil
	}
	plain, err := r.cipher.Decrypt(existing)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt recorded keystrokes for merge: %w", err)
	}
	return r.cipher.Encrypt(plain + char)
}

func (r *Recorder) charsLine(selector, value string, encrypted bool) string {
	parts := []string{
		"EVENT",
		"TYPE=KEYPRESS",
		"SELECTOR=" + macro.Quote(selector),
		`CHARS="` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value) + `"`,
	}
	if encrypted {
		parts = append(parts, "CRYPT=AES")
	}
	return strings.Join(parts, " ")
}
