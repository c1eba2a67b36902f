// Package assets embeds the editor page template, client JavaScript, and CSS
package assets

import (
	"embed"
	"io/fs"
)

//go:embed client/*
var clientFS embed.FS

// ClientFS returns the embedded client files
func ClientFS() fs.FS {
	sub, err := fs.Sub(clientFS, "client")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetIndexTemplate returns the editor page template source
func GetIndexTemplate() ([]byte, error) {
	return clientFS.ReadFile("client/index.html")
}

// GetClientJS returns the browser JavaScript for the preview websocket
func GetClientJS() ([]byte, error) {
	return clientFS.ReadFile("client/markpad.js")
}

// GetWASMLoaderJS returns the script that starts markpad.wasm in the browser
func GetWASMLoaderJS() ([]byte, error) {
	return clientFS.ReadFile("client/markpad-wasm.js")
}

// GetClientCSS returns the editor stylesheet
func GetClientCSS() ([]byte, error) {
	return clientFS.ReadFile("client/markpad.css")
}
