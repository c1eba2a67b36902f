package markpad

import "log"

// BindOption configures Bind.
type BindOption func(*binding)

type binding struct {
	onError func(error)
}

// WithErrorHandler sets the function that receives errors returned by the
// controller's handlers. The default logs them.
func WithErrorHandler(fn func(error)) BindOption {
	return func(b *binding) {
		if fn != nil {
			b.onError = fn
		}
	}
}

// Bind registers the controller's handlers with an event source: toggle events go to
// TogglePreview and key releases go to InputChanged.
func Bind(src EventSource, c *Controller, opts ...BindOption) {
	b := &binding{
		onError: func(err error) {
			log.Printf("[Preview] %v", err)
		},
	}
	for _, opt := range opts {
		opt(b)
	}

	src.OnToggle(func(checked bool) {
		if err := c.TogglePreview(checked); err != nil {
			b.onError(err)
		}
	})
	src.OnKeyUp(func() {
		if err := c.InputChanged(); err != nil {
			b.onError(err)
		}
	})
}
