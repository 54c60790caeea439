// internal/dom/host.go
package dom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// Host is the tree-query capability the element resolver consumes. The
// resolver treats it as an injected dependency; this package provides the
// implementation over parsed x/net/html trees, and the browser session
// harvests live pages into the same representation.
type Host interface {
	// EvaluatePathQuery returns the ordered nodes matching an XPath
	// expression, evaluated relative to context.
	EvaluatePathQuery(query string, context *html.Node) ([]*html.Node, error)
	// QuerySelector returns the first node matching a CSS selector under
	// context, or nil when nothing matches.
	QuerySelector(selector string, context *html.Node) (*html.Node, error)
	// NestedRoot returns the isolated content root of a host element (a
	// declarative shadow root), and whether the element has one.
	NestedRoot(host *html.Node) (*html.Node, bool)
}

// TreeHost implements Host over in-memory html.Node trees.
type TreeHost struct{}

// NewTreeHost returns the standard in-memory host.
func NewTreeHost() *TreeHost { return &TreeHost{} }

// Parse parses an HTML document.
func Parse(source string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return doc, nil
}

// EvaluatePathQuery evaluates an XPath expression relative to context.
// Malformed expressions are reported as errors; zero matches are not.
func (h *TreeHost) EvaluatePathQuery(query string, context *html.Node) ([]*html.Node, error) {
	if context == nil {
		return nil, fmt.Errorf("path query %q has no context node", query)
	}
	if _, err := xpath.Compile(query); err != nil {
		return nil, fmt.Errorf("invalid path query %q: %w", query, err)
	}
	nodes, err := htmlquery.QueryAll(context, query)
	if err != nil {
		return nil, fmt.Errorf("invalid path query %q: %w", query, err)
	}
	return nodes, nil
}

// QuerySelector evaluates a CSS selector relative to context. Returns nil
// (not an error) when nothing matches.
func (h *TreeHost) QuerySelector(selector string, context *html.Node) (*html.Node, error) {
	if context == nil {
		return nil, fmt.Errorf("selector %q has no context node", selector)
	}
	sel, err := cascadia.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return cascadia.Query(context, sel), nil
}

// NestedRoot detects a declarative shadow root: a direct <template> child
// carrying a shadowrootmode attribute. The template's content is the
// isolated traversal root.
func (h *TreeHost) NestedRoot(hostNode *html.Node) (*html.Node, bool) {
	if hostNode == nil {
		return nil, false
	}
	for c := hostNode.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || !strings.EqualFold(c.Data, "template") {
			continue
		}
		mode := GetAttr(c, "shadowrootmode")
		if mode == "open" || mode == "closed" {
			return c, true
		}
	}
	return nil, false
}

// GetAttr returns an attribute value by case-insensitive key, or "".
func GetAttr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, key) {
			return attr.Val
		}
	}
	return ""
}

// HasAttr reports whether the attribute exists at all, empty or not.
func HasAttr(n *html.Node, key string) bool {
	if n == nil {
		return false
	}
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, key) {
			return true
		}
	}
	return false
}

// InnerText returns the concatenated text content of a subtree with runs of
// whitespace collapsed, matching what a user sees on the page.
func InnerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node == nil {
			return
		}
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (strings.EqualFold(c.Data, "script") || strings.EqualFold(c.Data, "style")) {
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// OuterHTML serializes a node back to markup.
func OuterHTML(n *html.Node) (string, error) {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return "", fmt.Errorf("failed to render node: %w", err)
	}
	return b.String(), nil
}

// AncestorForm returns the nearest enclosing <form> element, if any.
func AncestorForm(n *html.Node) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && strings.EqualFold(p.Data, "form") {
			return p
		}
	}
	return nil
}
