// internal/macro/action.go
package macro

import (
	"strings"
)

// Action is a single parsed macro command. Args holds the raw tokens exactly
// as they appeared on the line (quotes intact) so that a script round-trips
// byte-for-byte between record and replay. Actions are immutable once parsed.
type Action struct {
	Name string
	Args []string
	Line int
}

// Param returns the unquoted value of the first KEY=VALUE argument matching
// key (case-insensitive). The second return reports whether the key exists.
func (a Action) Param(key string) (string, bool) {
	prefix := strings.ToUpper(key) + "="
	for _, arg := range a.Args {
		if len(arg) >= len(prefix) && strings.EqualFold(arg[:len(prefix)], prefix) {
			value, err := Unquote(arg[len(prefix):])
			if err != nil {
				return "", false
			}
			return value, true
		}
	}
	return "", false
}

// String reconstructs the original line for this action.
func (a Action) String() string {
	if len(a.Args) == 0 {
		return a.Name
	}
	return a.Name + " " + strings.Join(a.Args, " ")
}

// ParseLine parses a single macro line into an Action. Blank lines and
// comment lines (leading apostrophe) yield a zero Action and ok=false.
func ParseLine(line string, lineNo int) (Action, bool, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "'") {
		return Action{}, false, nil
	}

	fields, err := SplitFields(trimmed)
	if err != nil {
		return Action{}, false, &BadParameterError{Line: lineNo, Detail: err.Error()}
	}

	return Action{
		Name: strings.ToUpper(fields[0]),
		Args: fields[1:],
		Line: lineNo,
	}, true, nil
}

// ParseScript parses a whole macro source into its ordered action sequence.
// Line numbers are 1-based and refer to the original source, comments and
// blank lines included.
func ParseScript(source string) ([]Action, error) {
	var actions []Action
	for i, line := range strings.Split(source, "\n") {
		action, ok, err := ParseLine(line, i+1)
		if err != nil {
			return nil, err
		}
		if ok {
			actions = append(actions, action)
		}
	}
	return actions, nil
}
