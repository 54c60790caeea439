// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/dvbotkin/macrotape/internal/config"
	"github.com/dvbotkin/macrotape/internal/dom"
	"github.com/dvbotkin/macrotape/internal/macro"
	"github.com/dvbotkin/macrotape/internal/player"
)

// Driver carries out player side effects against the live tab. Element
// resolution happens offline on harvested snapshots; this type only receives
// unique XPaths and replays input against them.
type Driver struct {
	browser *Browser
	logger  *zap.Logger

	navTimeout   time.Duration
	postLoadWait time.Duration

	frame int
}

var _ player.Driver = (*Driver)(nil)

// NewDriver wires a Driver over a browser handle.
func NewDriver(b *Browser, cfg config.BrowserConfig, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	navTimeout := cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 60 * time.Second
	}
	return &Driver{
		browser:      b,
		logger:       logger.Named("driver"),
		navTimeout:   navTimeout,
		postLoadWait: cfg.PostLoadWait,
	}
}

// SetNavigationTimeout overrides the configured page-load ceiling. Scripts
// set it through the !TIMEOUT_PAGE variable.
func (d *Driver) SetNavigationTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	d.navTimeout = timeout
}

// bind derives a chromedp-usable context from the working tab that also dies
// when the caller's context does.
func (d *Driver) bind(ctx context.Context) (context.Context, context.CancelFunc, error) {
	tab, err := d.browser.Tab(ctx)
	if err != nil {
		return nil, nil, err
	}
	bound, cancel := context.WithCancel(tab)
	stop := context.AfterFunc(ctx, cancel)
	return bound, func() { stop(); cancel() }, nil
}

// Navigate loads a URL and waits for the document to become ready.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	bound, cancel, err := d.bind(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	navCtx, navCancel := context.WithTimeout(bound, d.navTimeout)
	defer navCancel()

	d.logger.Debug("Navigating", zap.String("url", url))
	err = chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return macro.NewRuntimeError(macro.CodeNavigationTimeout,
				"navigation to %s timed out after %s", url, d.navTimeout)
		}
		return macro.NewRuntimeError(macro.CodeNavigationTimeout, "navigation to %s failed: %v", url, err)
	}

	d.frame = 0
	if d.postLoadWait > 0 {
		if err := chromedp.Run(bound, chromedp.Sleep(d.postLoadWait)); err != nil {
			return err
		}
	}
	return nil
}

// Reload re-fetches the current page.
func (d *Driver) Reload(ctx context.Context) error {
	bound, cancel, err := d.bind(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	d.frame = 0
	return chromedp.Run(bound, chromedp.Reload(), chromedp.WaitReady("body", chromedp.ByQuery))
}

// Back walks one step back in history.
func (d *Driver) Back(ctx context.Context) error {
	bound, cancel, err := d.bind(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	d.frame = 0
	return chromedp.Run(bound, chromedp.NavigateBack(), chromedp.WaitReady("body", chromedp.ByQuery))
}

// SelectFrame targets a frame by index for subsequent Document calls. Index
// 0 is the top document; n addresses window.frames[n-1].
func (d *Driver) SelectFrame(ctx context.Context, index int) error {
	if index == 0 {
		d.frame = 0
		return nil
	}

	bound, cancel, err := d.bind(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	var count int
	if err := chromedp.Run(bound, chromedp.Evaluate("window.frames.length", &count)); err != nil {
		return err
	}
	if index > count {
		return fmt.Errorf("page has %d frame(s), no frame %d", count, index)
	}
	d.frame = index
	return nil
}

// docExpr addresses the selected frame's document. Cross-origin frames make
// this throw, which surfaces as an evaluation error.
func (d *Driver) docExpr() string {
	if d.frame == 0 {
		return "document"
	}
	return fmt.Sprintf("window.frames[%d].document", d.frame-1)
}

// Document harvests the selected frame's DOM as a parsed tree.
func (d *Driver) Document(ctx context.Context) (*html.Node, error) {
	bound, cancel, err := d.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var markup string
	expr := d.docExpr() + ".documentElement.outerHTML"
	if err := chromedp.Run(bound, chromedp.Evaluate(expr, &markup)); err != nil {
		if d.frame != 0 {
			return nil, macro.NewRuntimeError(macro.CodeFrameNotFound,
				"cannot read frame %d: %v", d.frame, err)
		}
		return nil, fmt.Errorf("failed to harvest document: %w", err)
	}
	return dom.Parse(markup)
}

// SetValue assigns a form field's value and fires the input and change
// events pages rely on to notice edits.
func (d *Driver) SetValue(ctx context.Context, xpath, value string) error {
	bound, cancel, err := d.bind(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return chromedp.Run(bound,
		chromedp.SetValue(xpath, value, chromedp.BySearch),
		chromedp.Evaluate(fireEditEventsExpr(xpath), nil),
	)
}

// fireEditEventsExpr dispatches input and change on the node a unique XPath
// addresses.
func fireEditEventsExpr(xpath string) string {
	return fmt.Sprintf(`(() => {
	const node = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (node) {
		node.dispatchEvent(new Event('input', {bubbles: true}));
		node.dispatchEvent(new Event('change', {bubbles: true}));
	}
})()`, xpath)
}

// DispatchEvent synthesizes one input event against the node a unique XPath
// addresses.
func (d *Driver) DispatchEvent(ctx context.Context, spec player.EventSpec) error {
	bound, cancel, err := d.bind(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	switch spec.Kind {
	case "CLICK":
		return chromedp.Run(bound, chromedp.Click(spec.XPath, chromedp.BySearch))
	case "DBLCLICK":
		return chromedp.Run(bound, chromedp.DoubleClick(spec.XPath, chromedp.BySearch))
	case "MOUSEDOWN":
		return d.dispatchMouse(bound, spec, input.MousePressed)
	case "MOUSEUP":
		return d.dispatchMouse(bound, spec, input.MouseReleased)
	case "MOUSEMOVE":
		return d.dispatchMove(bound, spec)
	case "KEYPRESS":
		return d.dispatchKey(bound, spec)
	default:
		return macro.NewRuntimeError(macro.CodeUnsupportedAction, "unsupported synthetic event %s", spec.Kind)
	}
}

// elementOrigin returns the viewport coordinates of the target's top-left
// corner, for anchoring mouse paths.
func (d *Driver) elementOrigin(ctx context.Context, xpath string) (x, y float64, err error) {
	expr := fmt.Sprintf(`(() => {
	const node = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!node) return null;
	const r = node.getBoundingClientRect();
	return {x: r.left, y: r.top, w: r.width, h: r.height};
})()`, xpath)

	var rect struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		W float64 `json:"w"`
		H float64 `json:"h"`
	}
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &rect)); err != nil {
		return 0, 0, err
	}
	return rect.X, rect.Y, nil
}

func (d *Driver) dispatchMouse(ctx context.Context, spec player.EventSpec, kind input.MouseType) error {
	x, y, err := d.elementCenter(ctx, spec.XPath)
	if err != nil {
		return err
	}
	params := input.DispatchMouseEvent(kind, x, y).
		WithButton(mouseButton(spec.Button)).
		WithClickCount(1).
		WithModifiers(cdpModifiers(spec.Modifiers))
	return chromedp.Run(ctx, chromedp.ActionFunc(params.Do))
}

// elementCenter computes the midpoint of the target's bounding box.
func (d *Driver) elementCenter(ctx context.Context, xpath string) (x, y float64, err error) {
	expr := fmt.Sprintf(`(() => {
	const node = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!node) return null;
	const r = node.getBoundingClientRect();
	return {x: r.left + r.width / 2, y: r.top + r.height / 2};
})()`, xpath)

	var pt struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &pt)); err != nil {
		return 0, 0, err
	}
	return pt.X, pt.Y, nil
}

// dispatchMove replays a recorded drag path. Points are relative to the
// anchor element's top-left corner at record time.
func (d *Driver) dispatchMove(ctx context.Context, spec player.EventSpec) error {
	originX, originY, err := d.elementOrigin(ctx, spec.XPath)
	if err != nil {
		return err
	}
	modifiers := cdpModifiers(spec.Modifiers)
	for _, pt := range spec.Points {
		params := input.DispatchMouseEvent(input.MouseMoved,
			originX+float64(pt.X), originY+float64(pt.Y)).
			WithModifiers(modifiers)
		if err := chromedp.Run(ctx, chromedp.ActionFunc(params.Do)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) dispatchKey(ctx context.Context, spec player.EventSpec) error {
	if spec.Chars != "" {
		return chromedp.Run(ctx, chromedp.SendKeys(spec.XPath, spec.Chars, chromedp.BySearch))
	}

	// A bare key code: focus the target, then dispatch raw key events so
	// modifier state is honored.
	key, ok := controlKeys[spec.Key]
	if !ok {
		return macro.NewRuntimeError(macro.CodeUnsupportedAction, "unsupported key code %d", spec.Key)
	}
	modifiers := cdpModifiers(spec.Modifiers)

	return chromedp.Run(ctx,
		chromedp.Focus(spec.XPath, chromedp.BySearch),
		chromedp.ActionFunc(func(ctx context.Context) error {
			down := input.DispatchKeyEvent(input.KeyDown).
				WithModifiers(modifiers).
				WithKey(key).
				WithWindowsVirtualKeyCode(int64(spec.Key))
			if err := down.Do(ctx); err != nil {
				return err
			}
			up := input.DispatchKeyEvent(input.KeyUp).
				WithModifiers(modifiers).
				WithKey(key).
				WithWindowsVirtualKeyCode(int64(spec.Key))
			return up.Do(ctx)
		}),
	)
}

// controlKeys maps the key codes the recorder emits for non-printable keys
// to their DOM key values.
var controlKeys = map[int]string{
	8:  kb.Backspace,
	9:  kb.Tab,
	13: kb.Enter,
	27: kb.Escape,
	33: kb.PageUp,
	34: kb.PageDown,
	35: kb.End,
	36: kb.Home,
	37: kb.ArrowLeft,
	38: kb.ArrowUp,
	39: kb.ArrowRight,
	40: kb.ArrowDown,
	46: kb.Delete,
}

func mouseButton(button int) input.MouseButton {
	switch button {
	case 1:
		return input.Middle
	case 2:
		return input.Right
	default:
		return input.Left
	}
}

// cdpModifiers converts a recorded modifier list ("ctrl|shift") to the CDP
// bitmask.
func cdpModifiers(raw string) input.Modifier {
	var mask input.Modifier
	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == '|' || r == '+' || r == ','
	}) {
		switch strings.ToLower(strings.TrimSpace(tok)) {
		case "alt":
			mask |= input.ModifierAlt
		case "ctrl", "control":
			mask |= input.ModifierCtrl
		case "meta", "cmd", "command":
			mask |= input.ModifierCommand
		case "shift":
			mask |= input.ModifierShift
		}
	}
	return mask
}
