// internal/locator/locator.go
package locator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dvbotkin/macrotape/internal/macro"
)

// Relation selects the search axis for a structural query.
type Relation int

const (
	// RelationNone walks descendant-or-self from the document root.
	RelationNone Relation = iota
	// RelationFollowing walks the following axis from the last match.
	RelationFollowing
	// RelationPreceding walks the preceding axis from the last match.
	RelationPreceding
)

// Matcher is one compiled attribute predicate. Patterns use * as a wildcard
// and match case-insensitively; compilation happens once per locator.
type Matcher struct {
	Key     string
	Pattern string
	re      *regexp.Regexp
}

// Match reports whether a value satisfies the pattern.
func (m *Matcher) Match(value string) bool {
	if m.Pattern == "" || m.Pattern == "*" {
		return true
	}
	return m.re.MatchString(value)
}

// compileMatcher turns a KEY:pattern pair into a Matcher.
func compileMatcher(key, pattern string) (Matcher, error) {
	re, err := compileWildcard(pattern)
	if err != nil {
		return Matcher{}, &macro.BadParameterError{
			Detail: fmt.Sprintf("attribute pattern %s:%s: %v", key, pattern, err),
		}
	}
	return Matcher{Key: strings.ToLower(key), Pattern: pattern, re: re}, nil
}

// compileWildcard compiles a *-wildcard pattern into an anchored,
// case-insensitive regexp.
func compileWildcard(pattern string) (*regexp.Regexp, error) {
	if pattern == "" || pattern == "*" {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString("(?is)^")
	for i, part := range strings.Split(pattern, "*") {
		if i > 0 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Locator is a declarative target description: exactly one of XPath,
// Selector, or the structural fields is populated. Locators are stateless
// and re-evaluated on every use.
type Locator struct {
	XPath    string
	Selector string

	Tag      string
	Attrs    []Matcher
	Form     []Matcher
	FormAny  bool // literal NoFormName: disable form filtering entirely
	Pos      int  // 1-based
	FromEnd  bool // POS=Rn: count backward from the end of the matching set
	Relation Relation
}

// NoFormName is the literal form matcher that disables form filtering.
const NoFormName = "NoFormName"

// ParsePos parses the POS parameter: "2", "R1", "+2", "-1".
func ParsePos(raw string) (pos int, fromEnd bool, rel Relation, err error) {
	if raw == "" {
		return 1, false, RelationNone, nil
	}

	switch {
	case raw[0] == 'R' || raw[0] == 'r':
		fromEnd = true
		raw = raw[1:]
	case raw[0] == '+':
		rel = RelationFollowing
		raw = raw[1:]
	case raw[0] == '-':
		rel = RelationPreceding
		raw = raw[1:]
	}

	pos, convErr := strconv.Atoi(raw)
	if convErr != nil || pos < 1 {
		return 0, false, RelationNone, &macro.BadParameterError{Detail: "invalid POS value"}
	}
	return pos, fromEnd, rel, nil
}

// ParseAttrSpec parses an ATTR/FORM specification of the form
// "NAME:user&&VALUE:foo*" into compiled matchers. The key TXT matches the
// element's visible text rather than an attribute.
func ParseAttrSpec(spec string) ([]Matcher, error) {
	if spec == "" || spec == "*" {
		return nil, nil
	}

	var matchers []Matcher
	for _, clause := range strings.Split(spec, "&&") {
		key, pattern, found := strings.Cut(clause, ":")
		if !found {
			return nil, &macro.BadParameterError{Detail: "attribute clause " + clause + " is missing a colon"}
		}
		m, err := compileMatcher(key, pattern)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

// FromTagParams builds a Locator from TAG command parameters. XPATH and
// SELECTOR are exclusive shortcuts; otherwise the structural fields apply.
func FromTagParams(get func(key string) (string, bool)) (Locator, error) {
	var loc Locator

	if xp, ok := get("XPATH"); ok {
		loc.XPath = xp
		return loc, nil
	}
	if sel, ok := get("SELECTOR"); ok {
		loc.Selector = sel
		return loc, nil
	}

	rawPos, _ := get("POS")
	pos, fromEnd, rel, err := ParsePos(rawPos)
	if err != nil {
		return Locator{}, err
	}
	loc.Pos, loc.FromEnd, loc.Relation = pos, fromEnd, rel

	typeSpec, _ := get("TYPE")
	tag, typeAttr, hasType := strings.Cut(typeSpec, ":")
	loc.Tag = strings.ToLower(strings.TrimSpace(tag))
	if loc.Tag == "" {
		loc.Tag = "*"
	}
	if hasType && typeAttr != "" {
		m, err := compileMatcher("type", typeAttr)
		if err != nil {
			return Locator{}, err
		}
		loc.Attrs = append(loc.Attrs, m)
	}

	if attrSpec, ok := get("ATTR"); ok {
		matchers, err := ParseAttrSpec(attrSpec)
		if err != nil {
			return Locator{}, err
		}
		loc.Attrs = append(loc.Attrs, matchers...)
	}

	if formSpec, ok := get("FORM"); ok {
		if strings.EqualFold(formSpec, NoFormName) {
			loc.FormAny = true
		} else {
			matchers, err := ParseAttrSpec(formSpec)
			if err != nil {
				return Locator{}, err
			}
			loc.Form = matchers
		}
	}

	return loc, nil
}
