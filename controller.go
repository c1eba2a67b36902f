package markpad

import (
	"fmt"
	"log"
)

// Controller holds the preview state of one editor page.
//
// A Controller is owned by a single event loop and is not safe for concurrent use.
type Controller struct {
	surface  Surface
	renderer Renderer
	enabled  bool
	debug    bool
	renders  int
}

// Option configures a Controller.
type Option func(*Controller)

// WithDebug enables per-event debug logging.
func WithDebug(debug bool) Option {
	return func(c *Controller) {
		c.debug = debug
	}
}

// New creates a controller in the disabled state. The pane is not touched until the
// first toggle event arrives.
func New(surface Surface, renderer Renderer, opts ...Option) (*Controller, error) {
	var missing []string
	if surface == nil {
		missing = append(missing, "surface")
	}
	if renderer == nil {
		missing = append(missing, "renderer")
	}
	if len(missing) > 0 {
		return nil, NewElementError(missing...)
	}

	c := &Controller{
		surface:  surface,
		renderer: renderer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Enabled reports whether the preview is currently enabled.
func (c *Controller) Enabled() bool {
	return c.enabled
}

// Renders returns the number of completed render passes.
func (c *Controller) Renders() int {
	return c.renders
}

// TogglePreview applies a change of the preview checkbox.
//
// Enabling shows the pane and renders once right away so the pane is never blank.
// Disabling hides the pane and leaves whatever content it had underneath.
func (c *Controller) TogglePreview(checked bool) error {
	if c.debug {
		log.Printf("[Preview] Toggle checked=%t", checked)
	}

	if !checked {
		c.surface.SetPaneVisible(false)
		c.enabled = false
		return nil
	}

	c.surface.SetPaneVisible(true)
	c.enabled = true
	return c.InputChanged()
}

// InputChanged re-renders the source text into the preview document.
// It does nothing while the preview is disabled.
//
// If rendering fails the preview keeps its previous content and a *RenderError is returned.
func (c *Controller) InputChanged() error {
	if !c.enabled {
		return nil
	}

	source := c.surface.SourceText()
	html, err := c.render(source)
	if err != nil {
		return err
	}

	c.surface.SetPreviewContent(html)
	c.renders++

	if c.debug {
		log.Printf("[Preview] Rendered %d bytes of markdown into %d bytes of HTML", len(source), len(html))
	}
	return nil
}

// render calls the renderer, turning a panic into a *RenderError.
func (c *Controller) render(source string) (html string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewRenderError(len(source), fmt.Errorf("renderer panic: %v", r)).
				WithHint("the preview still shows the last successful render")
		}
	}()

	html, err = c.renderer.Render(source)
	if err != nil {
		return "", NewRenderError(len(source), err)
	}
	return html, nil
}
