package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	doc := mustParse(t, `<p id="x">hello <b>bold</b> world</p>`)
	r := newResolver()
	node, err := r.FindByCSS(doc, "#x")
	require.NoError(t, err)

	out, err := Extract(node, "TXT")
	require.NoError(t, err)
	assert.Equal(t, "hello bold world", out)
}

func TestExtractTableSerializesRows(t *testing.T) {
	doc := mustParse(t, `
<table id="t">
  <tr><th>name</th><th>role</th></tr>
  <tr><td>ada</td><td>eng "lead"</td></tr>
</table>`)
	r := newResolver()
	node, err := r.FindByCSS(doc, "#t")
	require.NoError(t, err)

	out, err := Extract(node, "TXT")
	require.NoError(t, err)
	assert.Equal(t, "\"name\",\"role\"\n\"ada\",\"eng \"\"lead\"\"\"", out)
}

func TestExtractTxtAll(t *testing.T) {
	doc := mustParse(t, `<select><option>a</option><option>b</option></select>`)
	r := newResolver()
	node, err := r.FindByCSS(doc, "select")
	require.NoError(t, err)

	out, err := Extract(node, "TXTALL")
	require.NoError(t, err)
	assert.Equal(t, "a[OPTION]b", out)
}

func TestExtractOuterMarkup(t *testing.T) {
	doc := mustParse(t, `<span class="tag">x</span>`)
	r := newResolver()
	node, err := r.FindByCSS(doc, "span.tag")
	require.NoError(t, err)

	out, err := Extract(node, "HTM")
	require.NoError(t, err)
	assert.Equal(t, `<span class="tag">x</span>`, out)
}

func TestExtractAttribute(t *testing.T) {
	doc := mustParse(t, `<a href="/target">go</a>`)
	r := newResolver()
	node, err := r.FindByCSS(doc, "a")
	require.NoError(t, err)

	out, err := Extract(node, "HREF")
	require.NoError(t, err)
	assert.Equal(t, "/target", out)
}

func TestExtractAbsentAttributeIsSentinel(t *testing.T) {
	doc := mustParse(t, `<a href="/target">go</a>`)
	r := newResolver()
	node, err := r.FindByCSS(doc, "a")
	require.NoError(t, err)

	out, err := Extract(node, "TITLE")
	require.NoError(t, err)
	assert.Equal(t, NotFoundSentinel, out)
}

func TestExtractNilNode(t *testing.T) {
	_, err := Extract(nil, "TXT")
	assert.Error(t, err)
}
