// internal/player/driver.go
package player

import (
	"context"

	"golang.org/x/net/html"

	"github.com/dvbotkin/macrotape/internal/recorder"
)

// EventSpec is one synthetic input event for the driver to dispatch against
// a live page. XPath addresses the target node; it is generated from the
// node resolved against the harvested document snapshot.
type EventSpec struct {
	Kind      string // CLICK, DBLCLICK, MOUSEDOWN, MOUSEUP, KEYPRESS, MOUSEMOVE
	XPath     string
	Button    int
	Chars     string
	Key       int
	Modifiers string
	Points    []recorder.Point
}

// Driver is the host collaborator that carries out side effects against a
// live page. The browser package implements it over a real browser; tests
// implement it over in-memory documents. Every blocking operation takes a
// context; navigation failures surface as typed timeout errors.
type Driver interface {
	// Navigate loads a URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Reload re-fetches the current page.
	Reload(ctx context.Context) error
	// Back walks one step back in history.
	Back(ctx context.Context) error
	// SelectFrame targets a frame by index for subsequent Document calls;
	// index 0 is the top document.
	SelectFrame(ctx context.Context, index int) error
	// Document harvests the selected frame's DOM as a parsed tree.
	Document(ctx context.Context) (*html.Node, error)
	// SetValue assigns a form field's value.
	SetValue(ctx context.Context, xpath, value string) error
	// DispatchEvent synthesizes one input event.
	DispatchEvent(ctx context.Context, spec EventSpec) error
}
