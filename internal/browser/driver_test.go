package browser

import (
	"testing"

	"github.com/chromedp/cdproto/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvbotkin/macrotape/internal/recorder"
)

func TestCDPModifiers(t *testing.T) {
	cases := []struct {
		raw  string
		want input.Modifier
	}{
		{"", 0},
		{"ctrl", input.ModifierCtrl},
		{"ctrl|shift", input.ModifierCtrl | input.ModifierShift},
		{"alt+meta", input.ModifierAlt | input.ModifierCommand},
		{"Control, Shift", input.ModifierCtrl | input.ModifierShift},
		{"unknown", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cdpModifiers(tc.raw), "modifiers %q", tc.raw)
	}
}

func TestMouseButtonMapping(t *testing.T) {
	assert.Equal(t, input.Left, mouseButton(0))
	assert.Equal(t, input.Middle, mouseButton(1))
	assert.Equal(t, input.Right, mouseButton(2))
	assert.Equal(t, input.Left, mouseButton(99))
}

func TestControlKeysCoverRecorderRange(t *testing.T) {
	// The keys the recorder can emit for control KEYPRESS commands must
	// all be replayable.
	for _, code := range []int{8, 9, 13, 27, 37, 38, 39, 40, 46} {
		_, ok := controlKeys[code]
		assert.True(t, ok, "key code %d", code)
	}
}

func TestWireEventMapsToRawEvent(t *testing.T) {
	var wire wireEvent
	payload := `{"type":"mousedown","selector":"#drag","button":2,"modifiers":"shift","x":14,"y":52}`
	require.NoError(t, json.UnmarshalFromString(payload, &wire))

	raw := wire.raw()
	assert.Equal(t, recorder.PackMouseDown, raw.PackType)
	assert.Equal(t, "#drag", raw.Selector)
	assert.Equal(t, 2, raw.Button)
	assert.Equal(t, "shift", raw.Modifiers)
	assert.Equal(t, recorder.Point{X: 14, Y: 52}, raw.Point)
}

func TestDocExprFollowsSelectedFrame(t *testing.T) {
	d := &Driver{}
	assert.Equal(t, "document", d.docExpr())
	d.frame = 2
	assert.Equal(t, "window.frames[1].document", d.docExpr())
}
