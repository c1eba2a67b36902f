// Package markpad provides the live Markdown preview controller used by the markpad editor.
//
// A Controller toggles a preview pane and re-renders the editor's source text into a
// preview document on every input event while the preview is enabled. The page it drives
// is reached only through the Surface and EventSource interfaces, so the same controller
// runs behind a websocket session on the server, inside a WASM build in the browser, or
// against fakes in tests.
package markpad

// Renderer converts Markdown text into HTML.
type Renderer interface {
	Render(markdown string) (string, error)
}

// RendererFunc adapts a plain function to the Renderer interface.
type RendererFunc func(markdown string) (string, error)

// Render calls f(markdown).
func (f RendererFunc) Render(markdown string) (string, error) {
	return f(markdown)
}

// Surface is the part of the page the controller reads from and writes to.
type Surface interface {
	// SetPaneVisible shows or hides the preview pane container.
	SetPaneVisible(visible bool)

	// SourceText returns the current content of the editor text field.
	SourceText() string

	// SetPreviewContent replaces the whole body of the preview document and
	// returns the content it replaced.
	SetPreviewContent(html string) string
}

// EventSource delivers the page's UI events to registered handlers.
type EventSource interface {
	// OnToggle registers the handler for preview checkbox changes.
	OnToggle(func(checked bool))

	// OnKeyUp registers the handler for key releases in the editor text field.
	OnKeyUp(func())
}
