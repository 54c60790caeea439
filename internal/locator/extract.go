// internal/locator/extract.go
package locator

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/dvbotkin/macrotape/internal/dom"
	"github.com/dvbotkin/macrotape/internal/macro"
)

// NotFoundSentinel is returned for attributes or properties absent on an
// otherwise-resolved node. Scripts test for it instead of handling an error.
const NotFoundSentinel = "#EANF#"

// Extract performs the read-only extraction operation over a resolved node.
// Supported kinds: TXT (visible text; tables serialize per row), TXTALL
// (concatenated option texts), HTM (outer markup), or any attribute name.
func Extract(node *html.Node, kind string) (string, error) {
	if node == nil {
		return "", macro.NewRuntimeError(macro.CodeExtractFailed, "cannot extract from a missing element")
	}

	switch strings.ToUpper(kind) {
	case "", "TXT":
		if node.Type == html.ElementNode && strings.EqualFold(node.Data, "table") {
			return extractTable(node), nil
		}
		return dom.InnerText(node), nil

	case "TXTALL":
		return extractOptions(node), nil

	case "HTM":
		markup, err := dom.OuterHTML(node)
		if err != nil {
			return "", macro.NewRuntimeError(macro.CodeExtractFailed, "failed to serialize element: %v", err)
		}
		return markup, nil

	default:
		if !dom.HasAttr(node, kind) {
			return NotFoundSentinel, nil
		}
		return dom.GetAttr(node, kind), nil
	}
}

// extractTable serializes table rows: each cell quoted, cells comma-joined
// per row, rows separated by newlines.
func extractTable(table *html.Node) string {
	var rows []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if strings.EqualFold(c.Data, "tr") {
				rows = append(rows, extractRow(c))
				continue
			}
			walk(c)
		}
	}
	walk(table)
	return strings.Join(rows, "\n")
}

func extractRow(tr *html.Node) string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if strings.EqualFold(c.Data, "td") || strings.EqualFold(c.Data, "th") {
			cells = append(cells, `"`+strings.ReplaceAll(dom.InnerText(c), `"`, `""`)+`"`)
		}
	}
	return strings.Join(cells, ",")
}

// extractOptions concatenates the text of every option under a select.
func extractOptions(node *html.Node) string {
	var texts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strings.EqualFold(c.Data, "option") {
				texts = append(texts, dom.InnerText(c))
				continue
			}
			walk(c)
		}
	}
	walk(node)
	return strings.Join(texts, "[OPTION]")
}
