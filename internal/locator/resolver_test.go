package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/dvbotkin/macrotape/internal/dom"
	"github.com/dvbotkin/macrotape/internal/macro"
)

func mustParse(t *testing.T, source string) *html.Node {
	t.Helper()
	doc, err := dom.Parse(source)
	require.NoError(t, err)
	return doc
}

func newResolver() *Resolver {
	return New(dom.NewTreeHost(), nil)
}

func tagLocator(t *testing.T, params map[string]string) Locator {
	t.Helper()
	loc, err := FromTagParams(func(key string) (string, bool) {
		v, ok := params[key]
		return v, ok
	})
	require.NoError(t, err)
	return loc
}

const linksDoc = `
<body>
  <a href="/one" class="nav">first</a>
  <a href="/two" class="nav">second</a>
  <a href="/three" class="other">third</a>
</body>`

func TestFindStructuralByPosition(t *testing.T) {
	doc := mustParse(t, linksDoc)
	r := newResolver()

	loc := tagLocator(t, map[string]string{"TYPE": "A", "ATTR": "CLASS:nav", "POS": "2"})
	node, err := r.Find(doc, loc)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "/two", dom.GetAttr(node, "href"))
}

func TestFindStructuralFromEnd(t *testing.T) {
	doc := mustParse(t, linksDoc)
	r := newResolver()

	// R1 counts backward from the end of the matching set.
	loc := tagLocator(t, map[string]string{"TYPE": "A", "POS": "R1"})
	node, err := r.Find(doc, loc)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "/three", dom.GetAttr(node, "href"))
}

func TestFindStructuralNotFoundIsNil(t *testing.T) {
	doc := mustParse(t, linksDoc)
	r := newResolver()

	loc := tagLocator(t, map[string]string{"TYPE": "A", "ATTR": "CLASS:missing"})
	node, err := r.Find(doc, loc)
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestFindStructuralWildcardAttr(t *testing.T) {
	doc := mustParse(t, linksDoc)
	r := newResolver()

	loc := tagLocator(t, map[string]string{"TYPE": "A", "ATTR": "HREF:/t*"})
	node, err := r.Find(doc, loc)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "/two", dom.GetAttr(node, "href"))
}

func TestFindStructuralTxtMatcher(t *testing.T) {
	doc := mustParse(t, linksDoc)
	r := newResolver()

	loc := tagLocator(t, map[string]string{"TYPE": "A", "ATTR": "TXT:third"})
	node, err := r.Find(doc, loc)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "/three", dom.GetAttr(node, "href"))
}

func TestFindStructuralHrefSrcFallback(t *testing.T) {
	doc := mustParse(t, `<img src="/logo.png">`)
	r := newResolver()

	loc := tagLocator(t, map[string]string{"TYPE": "IMG", "ATTR": "HREF:/logo.png"})
	node, err := r.Find(doc, loc)
	require.NoError(t, err)
	assert.NotNil(t, node, "href matcher falls back to src when href is absent")
}

func TestFindRelativeRequiresAnchor(t *testing.T) {
	doc := mustParse(t, linksDoc)
	r := newResolver()

	// No prior absolute match: relative lookup fails silently to nil.
	loc := tagLocator(t, map[string]string{"TYPE": "A", "POS": "+1"})
	node, err := r.Find(doc, loc)
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestFindRelativeFollowing(t *testing.T) {
	doc := mustParse(t, linksDoc)
	r := newResolver()

	anchor := tagLocator(t, map[string]string{"TYPE": "A", "ATTR": "HREF:/two"})
	node, err := r.Find(doc, anchor)
	require.NoError(t, err)
	require.NotNil(t, node)

	following := tagLocator(t, map[string]string{"TYPE": "A", "POS": "+1"})
	node, err = r.Find(doc, following)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "/three", dom.GetAttr(node, "href"))

	preceding := tagLocator(t, map[string]string{"TYPE": "A", "POS": "-1"})
	node, err = r.Find(doc, preceding)
	require.NoError(t, err)
	require.NotNil(t, node, "preceding axis anchored on the last absolute match")
	assert.Equal(t, "/one", dom.GetAttr(node, "href"))
}

const formsDoc = `
<body>
  <form name="login"><input type="text" name="user"></form>
  <form name="signup"><input type="text" name="user"></form>
  <input type="text" name="user">
</body>`

func TestFindFormMatchers(t *testing.T) {
	doc := mustParse(t, formsDoc)
	r := newResolver()

	loc := tagLocator(t, map[string]string{"TYPE": "INPUT:TEXT", "ATTR": "NAME:user", "FORM": "NAME:signup"})
	node, err := r.Find(doc, loc)
	require.NoError(t, err)
	require.NotNil(t, node)
	form := dom.AncestorForm(node)
	require.NotNil(t, form)
	assert.Equal(t, "signup", dom.GetAttr(form, "name"))
}

func TestFindNoFormNameDisablesFiltering(t *testing.T) {
	doc := mustParse(t, formsDoc)
	r := newResolver()

	loc := tagLocator(t, map[string]string{"TYPE": "INPUT:TEXT", "ATTR": "NAME:user", "FORM": "NoFormName"})
	node, err := r.Find(doc, loc)
	require.NoError(t, err)
	require.NotNil(t, node)
	form := dom.AncestorForm(node)
	require.NotNil(t, form)
	assert.Equal(t, "login", dom.GetAttr(form, "name"), "first match in document order wins")
}

func TestFindByXPathUnique(t *testing.T) {
	doc := mustParse(t, linksDoc)
	r := newResolver()

	node, err := r.FindByXPath(doc, `//a[@href='/two']`)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "second", dom.InnerText(node))
}

func TestFindByXPathAmbiguous(t *testing.T) {
	doc := mustParse(t, linksDoc)
	r := newResolver()

	_, err := r.FindByXPath(doc, `//a`)
	var re *macro.RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, macro.CodeAmbiguousMatch, re.Code)
}

func TestFindByXPathNotFound(t *testing.T) {
	doc := mustParse(t, linksDoc)
	r := newResolver()

	node, err := r.FindByXPath(doc, `//video`)
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestFindByXPathMalformed(t *testing.T) {
	doc := mustParse(t, linksDoc)
	r := newResolver()

	_, err := r.FindByXPath(doc, `//a[`)
	var re *macro.RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, macro.CodeInvalidLocator, re.Code)
}

const shadowDoc = `
<body>
  <div id="widget">
    <template shadowrootmode="open">
      <button class="go">inside</button>
    </template>
  </div>
  <div id="plain"></div>
</body>`

func TestFindByXPathCrossesShadowRoot(t *testing.T) {
	doc := mustParse(t, shadowDoc)
	r := newResolver()

	node, err := r.FindByXPath(doc, `//div[@id='widget'] >>> .//button`)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "inside", dom.InnerText(node))
}

func TestFindByXPathHostWithoutNestedRoot(t *testing.T) {
	doc := mustParse(t, shadowDoc)
	r := newResolver()

	_, err := r.FindByXPath(doc, `//div[@id='plain'] >>> .//button`)
	var re *macro.RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, macro.CodeInvalidLocator, re.Code)
	assert.Contains(t, re.Message, "nested content root")
}

func TestSplitOnDelimiterRespectsQuotes(t *testing.T) {
	segments := splitOnDelimiter(`//a[@title='x >>> y'] >>> .//b`, ContextDelimiter)
	require.Len(t, segments, 2)
	assert.Equal(t, `//a[@title='x >>> y'] `, segments[0])
}

func TestFindByCSS(t *testing.T) {
	doc := mustParse(t, linksDoc)
	r := newResolver()

	node, err := r.FindByCSS(doc, "a.other")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "/three", dom.GetAttr(node, "href"))

	node, err = r.FindByCSS(doc, "a.missing")
	require.NoError(t, err)
	assert.Nil(t, node, "zero matches returns nil, not an error")

	_, err = r.FindByCSS(doc, "a[")
	var re *macro.RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, macro.CodeInvalidLocator, re.Code)
}

func TestParsePos(t *testing.T) {
	tests := []struct {
		raw     string
		pos     int
		fromEnd bool
		rel     Relation
		wantErr bool
	}{
		{"", 1, false, RelationNone, false},
		{"2", 2, false, RelationNone, false},
		{"R1", 1, true, RelationNone, false},
		{"+3", 3, false, RelationFollowing, false},
		{"-1", 1, false, RelationPreceding, false},
		{"0", 0, false, RelationNone, true},
		{"x", 0, false, RelationNone, true},
	}

	for _, tc := range tests {
		pos, fromEnd, rel, err := ParsePos(tc.raw)
		if tc.wantErr {
			assert.Error(t, err, "POS=%q", tc.raw)
			continue
		}
		require.NoError(t, err, "POS=%q", tc.raw)
		assert.Equal(t, tc.pos, pos)
		assert.Equal(t, tc.fromEnd, fromEnd)
		assert.Equal(t, tc.rel, rel)
	}
}
