package markpad

import (
	"fmt"
	"strings"
)

// RenderError reports a failed render pass. The preview keeps its previous content.
type RenderError struct {
	SourceLen int   // Length of the markdown that failed to render
	Err       error // Underlying renderer error
	Hint      string
}

// NewRenderError creates a RenderError for source of the given length.
func NewRenderError(sourceLen int, err error) *RenderError {
	return &RenderError{
		SourceLen: sourceLen,
		Err:       err,
	}
}

// WithHint adds a helpful hint to the error.
func (e *RenderError) WithHint(hint string) *RenderError {
	e.Hint = hint
	return e
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("render failed (%d bytes of markdown): %v", e.SourceLen, e.Err))
	if e.Hint != "" {
		b.WriteString(fmt.Sprintf(" (tip: %s)", e.Hint))
	}
	return b.String()
}

// Unwrap returns the renderer error.
func (e *RenderError) Unwrap() error {
	return e.Err
}

// ElementError reports page elements that are missing when wiring a controller.
// It is a configuration error and is not recoverable at runtime.
type ElementError struct {
	Missing []string
}

// NewElementError creates an ElementError for the named elements.
func NewElementError(missing ...string) *ElementError {
	return &ElementError{Missing: missing}
}

// Error implements the error interface.
func (e *ElementError) Error() string {
	if len(e.Missing) == 1 {
		return fmt.Sprintf("missing page element: %s", e.Missing[0])
	}
	return fmt.Sprintf("missing page elements: %s", strings.Join(e.Missing, ", "))
}
