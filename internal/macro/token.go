// internal/macro/token.go
package macro

import (
	"fmt"
	"strings"
	"unicode"
)

// SplitFields splits a macro line into whitespace-delimited tokens. A token is
// either a bare run of non-whitespace characters or a double-quoted string with
// backslash escapes. Quoted and bare segments may be glued together, as in
// SELECTOR="#a b", which yields the single token `SELECTOR="#a b"`.
func SplitFields(line string) ([]string, error) {
	var (
		fields  []string
		current strings.Builder
		inField bool
	)

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsSpace(r) && !inField {
			continue
		}

		if unicode.IsSpace(r) {
			fields = append(fields, current.String())
			current.Reset()
			inField = false
			continue
		}

		inField = true
		if r != '"' {
			current.WriteRune(r)
			continue
		}

		// Consume a quoted segment verbatim, including the quotes, so the
		// original line can be reconstructed byte-for-byte.
		current.WriteRune(r)
		i++
		for {
			if i >= len(runes) {
				return nil, fmt.Errorf("unterminated quoted string in %q", line)
			}
			c := runes[i]
			current.WriteRune(c)
			if c == '\\' {
				i++
				if i >= len(runes) {
					return nil, fmt.Errorf("dangling escape in %q", line)
				}
				current.WriteRune(runes[i])
				i++
				continue
			}
			if c == '"' {
				break
			}
			i++
		}
	}

	if inField {
		fields = append(fields, current.String())
	}
	return fields, nil
}

// Quote renders a value as a token suitable for a macro line. Values that
// contain whitespace, quotes, or control characters are double-quoted with
// backslash escapes; anything else is emitted bare.
func Quote(value string) string {
	if value != "" && !needsQuoting(value) {
		return value
	}

	var b strings.Builder
	b.WriteByte('"')
	for _, r := range value {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func needsQuoting(value string) bool {
	for _, r := range value {
		if unicode.IsSpace(r) || r == '"' || r == '\\' || unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// Unquote reverses Quote. Bare tokens are returned as-is; quoted tokens have
// their surrounding quotes removed and escapes decoded.
func Unquote(token string) (string, error) {
	if len(token) < 2 || token[0] != '"' {
		return token, nil
	}
	if token[len(token)-1] != '"' {
		return "", fmt.Errorf("unterminated quoted value %q", token)
	}

	var b strings.Builder
	body := token[1 : len(token)-1]
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", fmt.Errorf("dangling escape in %q", token)
		}
		switch body[i] {
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		default:
			// Unknown escapes pass through unchanged.
			b.WriteByte('\\')
			b.WriteByte(body[i])
		}
	}
	return b.String(), nil
}
