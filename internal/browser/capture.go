// internal/browser/capture.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dvbotkin/macrotape/internal/recorder"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// bindingName is the page-exposed function the capture script calls with
// one serialized event per interaction.
const bindingName = "__macrotapeEmit"

// captureScript observes user interactions in the page and forwards them
// through the CDP binding. Selectors prefer a stable id anchor and fall back
// to a positional tag path.
const captureScript = `(() => {
	if (window.__macrotapeCaptureInstalled) return;
	window.__macrotapeCaptureInstalled = true;

	const selectorFor = (el) => {
		if (!el || el.nodeType !== 1) return "";
		if (el.id) return "#" + CSS.escape(el.id);
		const parts = [];
		while (el && el.nodeType === 1 && el !== document.documentElement) {
			let n = 1, sib = el;
			while ((sib = sib.previousElementSibling)) {
				if (sib.tagName === el.tagName) n++;
			}
			parts.unshift(el.tagName.toLowerCase() + ":nth-of-type(" + n + ")");
			if (el.parentElement && el.parentElement.id) {
				parts.unshift("#" + CSS.escape(el.parentElement.id));
				break;
			}
			el = el.parentElement;
		}
		return parts.join(" > ");
	};

	const modifiersOf = (ev) => {
		const mods = [];
		if (ev.ctrlKey) mods.push("ctrl");
		if (ev.shiftKey) mods.push("shift");
		if (ev.altKey) mods.push("alt");
		if (ev.metaKey) mods.push("meta");
		return mods.join("|");
	};

	const emit = (payload) => {
		try { window.` + bindingName + `(JSON.stringify(payload)); } catch (e) {}
	};

	for (const type of ["click", "dblclick", "mousedown", "mouseup", "mousemove"]) {
		document.addEventListener(type, (ev) => {
			emit({
				type: type,
				selector: selectorFor(ev.target),
				button: ev.button || 0,
				modifiers: modifiersOf(ev),
				x: Math.round(ev.clientX),
				y: Math.round(ev.clientY),
			});
		}, true);
	}

	for (const type of ["keydown", "keypress", "keyup"]) {
		document.addEventListener(type, (ev) => {
			emit({
				type: type,
				selector: selectorFor(ev.target),
				char: ev.key && ev.key.length === 1 ? ev.key : "",
				key: ev.keyCode || 0,
				modifiers: modifiersOf(ev),
			});
		}, true);
	}

	document.addEventListener("change", (ev) => {
		emit({
			type: "change",
			selector: selectorFor(ev.target),
			value: typeof ev.target.value === "string" ? ev.target.value : "",
		});
	}, true);
})()`

// wireEvent is the JSON payload the capture script emits.
type wireEvent struct {
	Type      string `json:"type"`
	Selector  string `json:"selector"`
	Button    int    `json:"button"`
	Char      string `json:"char"`
	Key       int    `json:"key"`
	Modifiers string `json:"modifiers"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Value     string `json:"value"`
}

func (w wireEvent) raw() recorder.RawEvent {
	return recorder.RawEvent{
		PackType:  w.Type,
		Selector:  w.Selector,
		Button:    w.Button,
		Char:      w.Char,
		Key:       w.Key,
		Modifiers: w.Modifiers,
		Point:     recorder.Point{X: w.X, Y: w.Y},
		Value:     w.Value,
	}
}

// Capture streams page interactions into a Recorder. The CDP listener
// callback never blocks; events flow through a buffered channel drained by a
// consumer goroutine.
type Capture struct {
	logger *zap.Logger
	rec    *recorder.Recorder

	events chan recorder.RawEvent
	cancel context.CancelFunc
	group  *errgroup.Group
}

// StartCapture installs the capture script on the tab and begins feeding the
// recorder. It keeps running until Stop or until the tab context dies.
func StartCapture(ctx context.Context, b *Browser, rec *recorder.Recorder, buffer int, logger *zap.Logger) (*Capture, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer < 1 {
		buffer = 256
	}

	tab, err := b.Tab(ctx)
	if err != nil {
		return nil, err
	}

	// Install the binding and make the script survive navigations, then
	// arm the current document too.
	err = chromedp.Run(tab,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := runtime.AddBinding(bindingName).Do(ctx); err != nil {
				return err
			}
			_, err := page.AddScriptToEvaluateOnNewDocument(captureScript).Do(ctx)
			return err
		}),
		chromedp.Evaluate(captureScript, nil),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to install capture script: %w", err)
	}

	listenerCtx, cancel := context.WithCancel(tab)
	c := &Capture{
		logger: logger.Named("capture"),
		rec:    rec,
		events: make(chan recorder.RawEvent, buffer),
		cancel: cancel,
	}

	chromedp.ListenTarget(listenerCtx, func(ev interface{}) {
		call, ok := ev.(*runtime.EventBindingCalled)
		if !ok || call.Name != bindingName {
			return
		}
		var wire wireEvent
		if err := json.UnmarshalFromString(call.Payload, &wire); err != nil {
			c.logger.Debug("Dropping malformed capture payload", zap.Error(err))
			return
		}
		select {
		case c.events <- wire.raw():
		default:
			// Losing a mousemove sample beats blocking the CDP
			// message loop.
			c.logger.Warn("Capture buffer full; dropping event",
				zap.String("type", wire.Type))
		}
	})

	c.group, _ = errgroup.WithContext(listenerCtx)
	c.group.Go(func() error {
		for {
			select {
			case <-listenerCtx.Done():
				return nil
			case ev := <-c.events:
				if err := c.rec.OnEvent(ev); err != nil {
					return fmt.Errorf("recorder rejected event stream: %w", err)
				}
			}
		}
	})

	c.logger.Info("Recording started.")
	return c, nil
}

// Stop detaches the listener and waits for the consumer to drain. The
// recorder itself stays usable; call its Stop to finalize the session.
func (c *Capture) Stop() error {
	c.cancel()
	err := c.group.Wait()
	c.logger.Info("Recording stopped.")
	return err
}
