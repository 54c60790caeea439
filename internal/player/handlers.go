// internal/player/handlers.go
package player

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/dvbotkin/macrotape/internal/dom"
	"github.com/dvbotkin/macrotape/internal/locator"
	"github.com/dvbotkin/macrotape/internal/macro"
	"github.com/dvbotkin/macrotape/internal/recorder"
)

// handlerFunc executes one expanded action. A non-nil signal is a control
// outcome, not a failure: the player fetches external input and calls the
// handler again with it in provided. A nil provided means no input has been
// fetched yet; a non-nil pointer is consumed even when the value is empty.
type handlerFunc func(p *Player, ctx context.Context, act macro.Action, provided *string) (*macro.NeedsExternalInput, error)

// handlerFor maps a command name to its handler. An explicit switch instead
// of a mutable action table: dispatch is pure and identical across player
// instances.
func handlerFor(name string) (handlerFunc, bool) {
	switch name {
	case "URL":
		return handleURL, true
	case "TAG":
		return handleTag, true
	case "SET":
		return handleSet, true
	case "ADD":
		return handleAdd, true
	case "WAIT":
		return handleWait, true
	case "PAUSE":
		return handlePause, true
	case "REFRESH":
		return handleRefresh, true
	case "BACK":
		return handleBack, true
	case "FRAME":
		return handleFrame, true
	case "EVENT":
		return handleEvent, true
	case "EVENTS":
		return handleEvents, true
	default:
		return nil, false
	}
}

func handleURL(p *Player, ctx context.Context, act macro.Action, _ *string) (*macro.NeedsExternalInput, error) {
	target, ok := act.Param("GOTO")
	if !ok {
		return nil, &macro.BadParameterError{Line: act.Line, Detail: "URL requires GOTO"}
	}
	if err := p.driver.Navigate(ctx, target); err != nil {
		return nil, err
	}
	// A new document invalidates the relative-match anchor.
	p.resolver.Reset()
	return nil, nil
}

func handleRefresh(p *Player, ctx context.Context, _ macro.Action, _ *string) (*macro.NeedsExternalInput, error) {
	if err := p.driver.Reload(ctx); err != nil {
		return nil, err
	}
	p.resolver.Reset()
	return nil, nil
}

func handleBack(p *Player, ctx context.Context, _ macro.Action, _ *string) (*macro.NeedsExternalInput, error) {
	if err := p.driver.Back(ctx); err != nil {
		return nil, err
	}
	p.resolver.Reset()
	return nil, nil
}

func handleFrame(p *Player, ctx context.Context, act macro.Action, _ *string) (*macro.NeedsExternalInput, error) {
	raw, ok := act.Param("F")
	if !ok {
		return nil, &macro.BadParameterError{Line: act.Line, Detail: "FRAME requires F"}
	}
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return nil, &macro.BadParameterError{Line: act.Line, Detail: "invalid frame index " + raw}
	}
	if err := p.driver.SelectFrame(ctx, index); err != nil {
		return nil, macro.NewRuntimeError(macro.CodeFrameNotFound, "frame %d: %v", index, err)
	}
	p.resolver.Reset()
	return nil, nil
}

func handleWait(p *Player, ctx context.Context, act macro.Action, _ *string) (*macro.NeedsExternalInput, error) {
	raw, ok := act.Param("SECONDS")
	if !ok {
		return nil, &macro.BadParameterError{Line: act.Line, Detail: "WAIT requires SECONDS"}
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return nil, &macro.BadParameterError{Line: act.Line, Detail: "invalid SECONDS value " + raw}
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, macro.NewRuntimeError(macro.CodeWaitTimeout, "wait interrupted: %v", ctx.Err())
	}
}

func handlePause(p *Player, _ context.Context, _ macro.Action, _ *string) (*macro.NeedsExternalInput, error) {
	p.Pause()
	return nil, nil
}

func handleSet(p *Player, _ context.Context, act macro.Action, _ *string) (*macro.NeedsExternalInput, error) {
	name, value, err := nameValueArgs(act)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(name, "!SUPPRESS_AUTOPLAY") {
		switch strings.ToUpper(value) {
		case "YES":
			p.autoplaySuppressed = true
		case "NO":
			p.autoplaySuppressed = false
		default:
			return nil, &macro.BadParameterError{Line: act.Line, Detail: "!SUPPRESS_AUTOPLAY wants YES or NO, got " + value}
		}
		p.scope.Set(name, strings.ToUpper(value))
		return nil, nil
	}

	if strings.EqualFold(name, "!TIMEOUT_PAGE") {
		seconds, perr := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if perr != nil || seconds <= 0 {
			return nil, &macro.BadParameterError{Line: act.Line, Detail: "invalid !TIMEOUT_PAGE value " + value}
		}
		if d, ok := p.driver.(interface{ SetNavigationTimeout(time.Duration) }); ok {
			d.SetNavigationTimeout(time.Duration(seconds * float64(time.Second)))
		}
		p.scope.Set(name, value)
		return nil, nil
	}

	if strings.EqualFold(name, "!DATASOURCE") {
		data, err := LoadCSV(value)
		if err != nil {
			return nil, macro.NewRuntimeError(macro.CodeDataSource, "%v", err)
		}
		p.data = data
		p.scope.Set(name, value)
		return nil, nil
	}

	p.scope.Set(name, value)
	return nil, nil
}

func handleAdd(p *Player, _ context.Context, act macro.Action, _ *string) (*macro.NeedsExternalInput, error) {
	name, value, err := nameValueArgs(act)
	if err != nil {
		return nil, err
	}

	current, _ := p.scope.Lookup(name)
	a, errA := strconv.ParseFloat(strings.TrimSpace(current), 64)
	b, errB := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if errA == nil && errB == nil {
		p.scope.Set(name, formatNumber(a+b))
	} else {
		// Non-numeric operands append.
		p.scope.Set(name, current+value)
	}
	return nil, nil
}

// nameValueArgs parses the SET/ADD argument pair.
func nameValueArgs(act macro.Action) (string, string, error) {
	if len(act.Args) < 2 {
		return "", "", &macro.BadParameterError{Line: act.Line, Detail: act.Name + " requires a name and a value"}
	}
	name, err := macro.Unquote(act.Args[0])
	if err != nil {
		return "", "", &macro.BadParameterError{Line: act.Line, Detail: err.Error()}
	}
	parts := make([]string, 0, len(act.Args)-1)
	for _, arg := range act.Args[1:] {
		v, err := macro.Unquote(arg)
		if err != nil {
			return "", "", &macro.BadParameterError{Line: act.Line, Detail: err.Error()}
		}
		parts = append(parts, v)
	}
	return name, strings.Join(parts, " "), nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// handleTag resolves a target element and either extracts from it, fills
// it, or clicks it. Extraction of a missing element yields the sentinel
// value; interaction with a missing element is a hard error.
func handleTag(p *Player, ctx context.Context, act macro.Action, provided *string) (*macro.NeedsExternalInput, error) {
	loc, err := locator.FromTagParams(act.Param)
	if err != nil {
		return nil, err
	}

	node, err := p.findWithWait(ctx, loc)
	if err != nil {
		return nil, err
	}

	extractKind, hasExtract := act.Param("EXTRACT")
	if node == nil {
		if hasExtract {
			p.appendExtract(locator.NotFoundSentinel)
			return nil, nil
		}
		return nil, macro.NewRuntimeError(macro.CodeElementNotFound, "element not found: %s", act.String())
	}

	if hasExtract {
		value, err := locator.Extract(node, extractKind)
		if err != nil {
			return nil, err
		}
		p.appendExtract(value)
		return nil, nil
	}

	xpath := dom.GenerateUniqueXPath(node)

	content, hasContent := act.Param("CONTENT")
	if !hasContent {
		return nil, p.driver.DispatchEvent(ctx, EventSpec{Kind: "CLICK", XPath: xpath})
	}

	if provided != nil {
		return nil, p.driver.SetValue(ctx, xpath, *provided)
	}
	if isFileInput(node) {
		// Browsers refuse synthetic writes to file inputs; an external
		// picker must supply the path.
		return &macro.NeedsExternalInput{Kind: macro.InputFile, Payload: xpath}, nil
	}
	if strings.HasPrefix(content, "ENC:") {
		return &macro.NeedsExternalInput{Kind: macro.InputDecrypt, Payload: content[len("ENC:"):]}, nil
	}

	return nil, p.driver.SetValue(ctx, xpath, content)
}

// stepTimeout reads !TIMEOUT_STEP. Zero means a single lookup attempt.
func (p *Player) stepTimeout() time.Duration {
	raw, ok := p.scope.Lookup("!TIMEOUT_STEP")
	if !ok {
		return 0
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// findWithWait re-harvests the document and retries the lookup until the
// element appears or !TIMEOUT_STEP runs out. A nil node with a nil error
// means the element never showed up.
func (p *Player) findWithWait(ctx context.Context, loc locator.Locator) (*html.Node, error) {
	deadline := time.Now().Add(p.stepTimeout())
	for {
		doc, err := p.driver.Document(ctx)
		if err != nil {
			return nil, err
		}
		node, err := p.resolver.Find(doc, loc)
		if err != nil || node != nil {
			return node, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return nil, macro.NewRuntimeError(macro.CodeWaitTimeout, "element wait interrupted: %v", ctx.Err())
		}
	}
}

func isFileInput(node *html.Node) bool {
	return node.Type == html.ElementNode &&
		strings.EqualFold(node.Data, "input") &&
		strings.EqualFold(dom.GetAttr(node, "type"), "file")
}

// handleEvent replays one recorded EVENT command.
func handleEvent(p *Player, ctx context.Context, act macro.Action, provided *string) (*macro.NeedsExternalInput, error) {
	eventType, ok := act.Param("TYPE")
	if !ok {
		return nil, &macro.BadParameterError{Line: act.Line, Detail: "EVENT requires TYPE"}
	}
	eventType = strings.ToUpper(eventType)

	xpath, err := p.resolveEventTarget(ctx, act)
	if err != nil {
		return nil, err
	}

	spec := EventSpec{Kind: eventType, XPath: xpath}
	if raw, ok := act.Param("BUTTON"); ok {
		spec.Button, _ = strconv.Atoi(raw)
	}
	if modifiers, ok := act.Param("MODIFIERS"); ok {
		spec.Modifiers = modifiers
	}

	switch eventType {
	case "CLICK", "DBLCLICK", "MOUSEDOWN", "MOUSEUP":
		return nil, p.driver.DispatchEvent(ctx, spec)

	case "KEYPRESS":
		if chars, ok := act.Param("CHARS"); ok {
			if _, encrypted := act.Param("CRYPT"); encrypted {
				if provided == nil {
					return &macro.NeedsExternalInput{Kind: macro.InputDecrypt, Payload: chars}, nil
				}
				chars = *provided
			}
			spec.Chars = chars
			return nil, p.driver.DispatchEvent(ctx, spec)
		}
		if char, ok := act.Param("CHAR"); ok {
			spec.Chars = char
			return nil, p.driver.DispatchEvent(ctx, spec)
		}
		if raw, ok := act.Param("KEY"); ok {
			spec.Key, _ = strconv.Atoi(raw)
			return nil, p.driver.DispatchEvent(ctx, spec)
		}
		return nil, &macro.BadParameterError{Line: act.Line, Detail: "KEYPRESS requires CHARS, CHAR, or KEY"}

	default:
		return nil, macro.NewRuntimeError(macro.CodeUnsupportedAction, "unsupported event type %s", eventType)
	}
}

// handleEvents replays a merged EVENTS command (drag paths).
func handleEvents(p *Player, ctx context.Context, act macro.Action, _ *string) (*macro.NeedsExternalInput, error) {
	eventType, _ := act.Param("TYPE")
	if !strings.EqualFold(eventType, "MOUSEMOVE") {
		return nil, macro.NewRuntimeError(macro.CodeUnsupportedAction, "unsupported events type %s", eventType)
	}

	xpath, err := p.resolveEventTarget(ctx, act)
	if err != nil {
		return nil, err
	}

	rawPoints, ok := act.Param("POINTS")
	if !ok {
		return nil, &macro.BadParameterError{Line: act.Line, Detail: "EVENTS MOUSEMOVE requires POINTS"}
	}
	points, err := recorder.ParsePoints(rawPoints)
	if err != nil {
		return nil, &macro.BadParameterError{Line: act.Line, Detail: err.Error()}
	}

	modifiers, _ := act.Param("MODIFIERS")
	return nil, p.driver.DispatchEvent(ctx, EventSpec{
		Kind:      "MOUSEMOVE",
		XPath:     xpath,
		Points:    points,
		Modifiers: modifiers,
	})
}

// resolveEventTarget turns an EVENT/EVENTS SELECTOR into a unique XPath on
// the current document.
func (p *Player) resolveEventTarget(ctx context.Context, act macro.Action) (string, error) {
	selector, ok := act.Param("SELECTOR")
	if !ok {
		return "", &macro.BadParameterError{Line: act.Line, Detail: act.Name + " requires SELECTOR"}
	}

	doc, err := p.driver.Document(ctx)
	if err != nil {
		return "", err
	}
	node, err := p.resolver.FindByCSS(doc, selector)
	if err != nil {
		return "", err
	}
	if node == nil {
		return "", macro.NewRuntimeError(macro.CodeElementNotFound, "element not found: %s", selector)
	}
	return dom.GenerateUniqueXPath(node), nil
}
