package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func mustParse(t *testing.T, source string) *html.Node {
	t.Helper()
	doc, err := Parse(source)
	require.NoError(t, err)
	return doc
}

func TestEvaluatePathQuery(t *testing.T) {
	doc := mustParse(t, `<div><a href="/x">one</a><a href="/y">two</a></div>`)
	h := NewTreeHost()

	nodes, err := h.EvaluatePathQuery("//a", doc)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "/x", GetAttr(nodes[0], "href"))
	assert.Equal(t, "/y", GetAttr(nodes[1], "href"))
}

func TestEvaluatePathQueryMalformed(t *testing.T) {
	doc := mustParse(t, `<div></div>`)
	h := NewTreeHost()

	_, err := h.EvaluatePathQuery("//a[", doc)
	assert.Error(t, err)
}

func TestEvaluatePathQueryRelativeToContext(t *testing.T) {
	doc := mustParse(t, `<div id="scope"><span>in</span></div><span>out</span>`)
	h := NewTreeHost()

	scope, err := h.QuerySelector("#scope", doc)
	require.NoError(t, err)
	require.NotNil(t, scope)

	nodes, err := h.EvaluatePathQuery(".//span", scope)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "in", InnerText(nodes[0]))
}

func TestQuerySelector(t *testing.T) {
	doc := mustParse(t, `<p class="a">first</p><p class="a">second</p>`)
	h := NewTreeHost()

	node, err := h.QuerySelector("p.a", doc)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "first", InnerText(node))

	missing, err := h.QuerySelector("p.b", doc)
	require.NoError(t, err)
	assert.Nil(t, missing, "zero matches is not an error")
}

func TestQuerySelectorMalformed(t *testing.T) {
	doc := mustParse(t, `<p></p>`)
	h := NewTreeHost()

	_, err := h.QuerySelector("p[", doc)
	assert.Error(t, err)
}

func TestNestedRoot(t *testing.T) {
	doc := mustParse(t, `<div id="host"><template shadowrootmode="open"><span>inside</span></template></div><div id="plain"></div>`)
	h := NewTreeHost()

	host, err := h.QuerySelector("#host", doc)
	require.NoError(t, err)
	root, ok := h.NestedRoot(host)
	require.True(t, ok)
	assert.Contains(t, InnerText(root), "inside")

	plain, err := h.QuerySelector("#plain", doc)
	require.NoError(t, err)
	_, ok = h.NestedRoot(plain)
	assert.False(t, ok)
}

func TestInnerTextSkipsScripts(t *testing.T) {
	doc := mustParse(t, `<div>hello <script>var x=1;</script> world</div>`)
	assert.Equal(t, "hello world", InnerText(doc))
}

func TestAncestorForm(t *testing.T) {
	doc := mustParse(t, `<form name="login"><div><input name="user"></div></form>`)
	h := NewTreeHost()

	input, err := h.QuerySelector("input", doc)
	require.NoError(t, err)
	form := AncestorForm(input)
	require.NotNil(t, form)
	assert.Equal(t, "login", GetAttr(form, "name"))

	assert.Nil(t, AncestorForm(doc))
}

func TestGenerateUniqueXPath(t *testing.T) {
	doc := mustParse(t, `<div><p>a</p><p>b</p></div><div id="anchor"><span>c</span></div>`)
	h := NewTreeHost()

	second, err := h.QuerySelector("div:first-of-type p:nth-child(2)", doc)
	require.NoError(t, err)
	require.NotNil(t, second)
	xp := GenerateUniqueXPath(second)
	assert.Equal(t, "/html[1]/body[1]/div[1]/p[2]", xp)

	// The generated path must resolve back to the same node.
	nodes, err := h.EvaluatePathQuery(xp, doc)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, second, nodes[0])

	span, err := h.QuerySelector("#anchor span", doc)
	require.NoError(t, err)
	assert.Equal(t, `//*[@id='anchor']/span[1]`, GenerateUniqueXPath(span))
}
