// internal/recorder/event.go
package recorder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dvbotkin/macrotape/internal/macro"
)

// Pack types classify raw interaction events and select the compaction
// strategy applied when they are recorded.
const (
	PackClick     = "click"
	PackDblClick  = "dblclick"
	PackMouseDown = "mousedown"
	PackMouseUp   = "mouseup"
	PackMouseMove = "mousemove"
	PackKeyDown   = "keydown"
	PackKeyPress  = "keypress"
	PackKeyUp     = "keyup"
	PackChange    = "change"
)

// Point is one sampled cursor position in a drag.
type Point struct {
	X, Y int
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// RawEvent is one low-level interaction event as delivered by the browser
// listener, tagged with its pack type.
type RawEvent struct {
	PackType  string
	Selector  string
	Button    int
	Char      string
	Key       int
	Modifiers string
	Point     Point
	Value     string
}

// FormatPoints renders a point list for the POINTS parameter.
func FormatPoints(points []Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

// ParsePoints reverses FormatPoints.
func ParsePoints(raw string) ([]Point, error) {
	var points []Point
	rest := raw
	for rest != "" {
		open := strings.IndexByte(rest, '(')
		closing := strings.IndexByte(rest, ')')
		if open != 0 || closing < 0 {
			return nil, fmt.Errorf("malformed point list %q", raw)
		}
		xy := strings.SplitN(rest[1:closing], ",", 2)
		if len(xy) != 2 {
			return nil, fmt.Errorf("malformed point in %q", raw)
		}
		x, errX := strconv.Atoi(strings.TrimSpace(xy[0]))
		y, errY := strconv.Atoi(strings.TrimSpace(xy[1]))
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("malformed point in %q", raw)
		}
		points = append(points, Point{X: x, Y: y})

		rest = rest[closing+1:]
		rest = strings.TrimPrefix(rest, ",")
	}
	return points, nil
}

// eventLine renders an EVENT command with the given parameters in a fixed
// order, so identical events always serialize identically.
func eventLine(eventType, selector string, params ...string) string {
	parts := []string{"EVENT", "TYPE=" + eventType, "SELECTOR=" + macro.Quote(selector)}
	parts = append(parts, params...)
	return strings.Join(parts, " ")
}

// moveLine renders a merged EVENTS MOUSEMOVE command.
func moveLine(selector string, points []Point, modifiers string) string {
	parts := []string{
		"EVENTS",
		"TYPE=MOUSEMOVE",
		"SELECTOR=" + macro.Quote(selector),
		`POINTS="` + FormatPoints(points) + `"`,
	}
	if modifiers != "" {
		parts = append(parts, "MODIFIERS="+macro.Quote(modifiers))
	}
	return strings.Join(parts, " ")
}

// parsedLine is a recorded entry re-parsed for a merge decision.
type parsedLine struct {
	raw    string
	action macro.Action
	ok     bool
}

func parseRecorded(line string) parsedLine {
	action, ok, err := macro.ParseLine(line, 0)
	return parsedLine{raw: line, action: action, ok: ok && err == nil}
}

func (p parsedLine) isEvent(eventType string) bool {
	if !p.ok || p.action.Name != "EVENT" {
		return false
	}
	t, _ := p.action.Param("TYPE")
	return strings.EqualFold(t, eventType)
}

func (p parsedLine) isMove() bool {
	if !p.ok || p.action.Name != "EVENTS" {
		return false
	}
	t, _ := p.action.Param("TYPE")
	return strings.EqualFold(t, "MOUSEMOVE")
}

func (p parsedLine) selector() string {
	s, _ := p.action.Param("SELECTOR")
	return s
}
