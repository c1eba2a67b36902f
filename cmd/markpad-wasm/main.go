//go:build js && wasm

// Command markpad-wasm runs the preview controller inside the browser. It drives the
// editor page directly through the DOM instead of the server websocket.
package main

import (
	"syscall/js"

	"github.com/livetemplate/markpad"
	"github.com/livetemplate/markpad/internal/markdown"
)

// Element ids on the editor page.
const (
	previewID  = "preview"
	paneID     = "previewpane"
	bodyID     = "body"
	checkboxID = "showpreview"
	hiddenCls  = "d-none"
)

// domSurface is the editor page as seen by the controller.
type domSurface struct {
	preview js.Value // iframe holding the rendered document
	pane    js.Value // container shown and hidden with the preview
	body    js.Value // editor textarea
}

func (s *domSurface) SetPaneVisible(visible bool) {
	classes := s.pane.Get("classList")
	if visible {
		classes.Call("remove", hiddenCls)
	} else {
		classes.Call("add", hiddenCls)
	}
}

func (s *domSurface) SourceText() string {
	return s.body.Get("value").String()
}

func (s *domSurface) SetPreviewContent(html string) string {
	doc := s.preview.Get("contentDocument")
	if doc.IsNull() || doc.IsUndefined() {
		consoleError("markpad: preview document is not available")
		return ""
	}
	body := doc.Get("body")
	prev := body.Get("innerHTML").String()
	body.Set("innerHTML", html)
	return prev
}

// domEvents registers controller handlers as DOM event listeners.
type domEvents struct {
	checkbox js.Value
	body     js.Value
	funcs    []js.Func // listeners live as long as the page
}

func (e *domEvents) OnToggle(fn func(checked bool)) {
	e.listen(e.checkbox, "change", func() {
		fn(e.checkbox.Get("checked").Bool())
	})
}

func (e *domEvents) OnKeyUp(fn func()) {
	e.listen(e.body, "keyup", fn)
}

func (e *domEvents) listen(target js.Value, event string, fn func()) {
	cb := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		fn()
		return nil
	})
	e.funcs = append(e.funcs, cb)
	target.Call("addEventListener", event, cb)
}

func consoleError(args ...interface{}) {
	js.Global().Get("console").Call("error", args...)
}

func consoleLog(args ...interface{}) {
	js.Global().Get("console").Call("log", args...)
}

// lookup returns the elements by id and the ids that are missing.
func lookup(doc js.Value, ids ...string) (map[string]js.Value, []string) {
	found := make(map[string]js.Value, len(ids))
	var missing []string
	for _, id := range ids {
		el := doc.Call("getElementById", id)
		if el.IsNull() || el.IsUndefined() {
			missing = append(missing, id)
			continue
		}
		found[id] = el
	}
	return found, missing
}

// start binds a preview controller to the editor page in doc.
func start(doc js.Value, renderer markpad.Renderer) (*markpad.Controller, *domEvents, error) {
	els, missing := lookup(doc, previewID, paneID, bodyID, checkboxID)
	if len(missing) > 0 {
		return nil, nil, markpad.NewElementError(missing...)
	}

	surface := &domSurface{
		preview: els[previewID],
		pane:    els[paneID],
		body:    els[bodyID],
	}
	ctrl, err := markpad.New(surface, renderer)
	if err != nil {
		return nil, nil, err
	}

	events := &domEvents{checkbox: els[checkboxID], body: els[bodyID]}
	markpad.Bind(events, ctrl, markpad.WithErrorHandler(func(err error) {
		consoleError("markpad:", err.Error())
	}))

	// A checkbox restored by the browser starts the preview right away
	if els[checkboxID].Get("checked").Bool() {
		if err := ctrl.TogglePreview(true); err != nil {
			consoleError("markpad:", err.Error())
		}
	}
	return ctrl, events, nil
}

func main() {
	_, _, err := start(js.Global().Get("document"), markdown.New(markdown.DefaultOptions()))
	if err != nil {
		consoleError(err.Error())
		return
	}

	consoleLog("markpad: preview ready")
	select {}
}
