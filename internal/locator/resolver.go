// internal/locator/resolver.go
package locator

import (
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/dvbotkin/macrotape/internal/dom"
	"github.com/dvbotkin/macrotape/internal/macro"
)

// ContextDelimiter separates a host sub-query from a nested-content
// sub-query inside a path query, crossing into an isolated embedded subtree
// such as a declarative shadow root.
const ContextDelimiter = ">>>"

// Resolver locates at most one target node per query. It holds the last
// absolute structural match so that relative (following/preceding) queries
// have an anchor; everything else is stateless per call.
type Resolver struct {
	host dom.Host
	log  *zap.Logger

	lastMatch *html.Node
}

// New creates a Resolver over the given tree-query host.
func New(host dom.Host, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{host: host, log: logger.Named("locator")}
}

// Reset clears the relative-match anchor. The player calls this whenever the
// document changes, since a node from the previous document is useless as an
// anchor in the next one.
func (r *Resolver) Reset() {
	r.lastMatch = nil
}

// Find resolves a locator against a document root. The common "not found"
// case returns (nil, nil); callers decide how absence is handled.
func (r *Resolver) Find(root *html.Node, loc Locator) (*html.Node, error) {
	switch {
	case loc.XPath != "":
		return r.FindByXPath(root, loc.XPath)
	case loc.Selector != "":
		return r.FindByCSS(root, loc.Selector)
	default:
		return r.findStructural(root, loc)
	}
}

// findStructural walks the ordered axis result set and returns the Nth node
// satisfying every predicate. This is a linear scan with an early exit, not
// index-based access: the predicates depend on DOM state that cannot be
// pre-indexed.
func (r *Resolver) findStructural(root *html.Node, loc Locator) (*html.Node, error) {
	var (
		query   string
		context *html.Node
	)

	switch loc.Relation {
	case RelationNone:
		query = "descendant-or-self::" + loc.Tag
		context = root
	case RelationFollowing:
		query = "following::" + loc.Tag
		context = r.lastMatch
	case RelationPreceding:
		query = "preceding::" + loc.Tag
		context = r.lastMatch
	}

	if context == nil {
		// Relative matching requires a prior absolute match in the same
		// session; without one, resolution fails silently to "not found".
		r.log.Debug("Relative locator has no anchor", zap.String("tag", loc.Tag))
		return nil, nil
	}

	candidates, err := r.host.EvaluatePathQuery(query, context)
	if err != nil {
		return nil, macro.NewRuntimeError(macro.CodeInvalidLocator, "structural query failed: %v", err)
	}

	if loc.FromEnd {
		reverse(candidates)
	}

	pos := loc.Pos
	if pos < 1 {
		pos = 1
	}

	seen := 0
	for _, node := range candidates {
		if node.Type != html.ElementNode {
			continue
		}
		if !r.matchesAttrs(node, loc.Attrs) {
			continue
		}
		if !r.matchesForm(node, loc) {
			continue
		}
		seen++
		if seen == pos {
			if loc.Relation == RelationNone {
				r.lastMatch = node
			}
			return node, nil
		}
	}

	return nil, nil
}

// matchesAttrs checks every attribute matcher against the node. The TXT key
// matches visible text; other keys match element attributes, with a legacy
// fallback mapping href to src for elements that carry only the latter.
func (r *Resolver) matchesAttrs(node *html.Node, matchers []Matcher) bool {
	for i := range matchers {
		m := &matchers[i]
		var value string
		switch {
		case m.Key == "txt":
			value = dom.InnerText(node)
		case m.Key == "href" && !dom.HasAttr(node, "href") && dom.HasAttr(node, "src"):
			value = dom.GetAttr(node, "src")
		default:
			value = dom.GetAttr(node, m.Key)
		}
		if !m.Match(value) {
			return false
		}
	}
	return true
}

// matchesForm applies form matchers when the element belongs to a form.
// FormAny (the NoFormName literal) disables form filtering entirely.
func (r *Resolver) matchesForm(node *html.Node, loc Locator) bool {
	if loc.FormAny || len(loc.Form) == 0 {
		return true
	}
	form := dom.AncestorForm(node)
	if form == nil {
		return true
	}
	for i := range loc.Form {
		m := &loc.Form[i]
		if !m.Match(dom.GetAttr(form, m.Key)) {
			return false
		}
	}
	return true
}

// FindByXPath evaluates a path query. Segments separated by the context
// delimiter cross into nested isolated subtrees: each non-final segment must
// resolve to exactly one host element exposing a nested traversal root.
func (r *Resolver) FindByXPath(root *html.Node, query string) (*html.Node, error) {
	segments := splitOnDelimiter(query, ContextDelimiter)

	context := root
	for i, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			return nil, macro.NewRuntimeError(macro.CodeInvalidLocator, "path query %q has an empty segment", query)
		}

		nodes, err := r.host.EvaluatePathQuery(segment, context)
		if err != nil {
			return nil, macro.NewRuntimeError(macro.CodeInvalidLocator, "path query %q: %v", segment, err)
		}
		if len(nodes) == 0 {
			return nil, nil
		}
		if len(nodes) > 1 {
			return nil, macro.NewRuntimeError(macro.CodeAmbiguousMatch,
				"path query %q matched %d nodes; locators must be unique", segment, len(nodes))
		}

		if i == len(segments)-1 {
			return nodes[0], nil
		}

		nested, ok := r.host.NestedRoot(nodes[0])
		if !ok {
			return nil, macro.NewRuntimeError(macro.CodeInvalidLocator,
				"path query %q: element matched by segment %d has no nested content root", query, i+1)
		}
		context = nested
	}

	return nil, nil
}

// FindByCSS evaluates a selector in a single pass. Zero matches returns
// (nil, nil); malformed selectors are reported as invalid locators.
func (r *Resolver) FindByCSS(root *html.Node, selector string) (*html.Node, error) {
	node, err := r.host.QuerySelector(selector, root)
	if err != nil {
		return nil, macro.NewRuntimeError(macro.CodeInvalidLocator, "selector %q: %v", selector, err)
	}
	return node, nil
}

// splitOnDelimiter splits a query on the delimiter while respecting quoted
// literals, so a delimiter inside an attribute value does not split.
func splitOnDelimiter(query, delim string) []string {
	var (
		segments []string
		start    int
		quote    byte
	)

	for i := 0; i < len(query); i++ {
		c := query[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		if strings.HasPrefix(query[i:], delim) {
			segments = append(segments, query[start:i])
			i += len(delim) - 1
			start = i + 1
		}
	}
	segments = append(segments, query[start:])
	return segments
}

func reverse(nodes []*html.Node) {
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
}
