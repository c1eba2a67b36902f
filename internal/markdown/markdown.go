// Package markdown renders editor Markdown into preview HTML.
package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/adrg/frontmatter"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"
)

// Options controls how Markdown is rendered.
type Options struct {
	Extensions []string // goldmark extensions by name; empty means GFM
	HardWraps  bool     // Render soft line breaks as <br>
	XHTML      bool     // Emit XHTML-style void elements
	Unsafe     bool     // Pass raw HTML in the source through to the output
	Sanitize   bool     // Scrub the output with a UGC policy
}

// DefaultOptions returns the options used by the editor page.
func DefaultOptions() Options {
	return Options{
		Sanitize: true,
	}
}

// Renderer converts Markdown to HTML. It is safe for concurrent use.
type Renderer struct {
	engine goldmark.Markdown
	policy *bluemonday.Policy
}

// New creates a renderer for the given options.
func New(opts Options) *Renderer {
	r := &Renderer{
		engine: newEngine(opts),
	}
	if opts.Sanitize {
		r.policy = newPolicy()
	}
	return r
}

// Render converts markdown into an HTML fragment. Front matter at the top of the
// document is not rendered.
func (r *Renderer) Render(markdown string) (string, error) {
	_, body := SplitFrontMatter([]byte(markdown))

	var buf bytes.Buffer
	if err := r.engine.Convert(body, &buf); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}

	if r.policy != nil {
		return r.policy.Sanitize(buf.String()), nil
	}
	return buf.String(), nil
}

// SplitFrontMatter separates a YAML (---) or TOML (+++) front matter header from
// the Markdown body.
//
// Text still being typed often has an unterminated or invalid header; in that case
// the whole input is returned as the body and meta is nil.
func SplitFrontMatter(source []byte) (map[string]interface{}, []byte) {
	meta := map[string]interface{}{}
	body, err := frontmatter.Parse(bytes.NewReader(source), &meta, frontMatterFormats...)
	if err != nil || len(body) == len(source) {
		return nil, source
	}
	return meta, body
}

var frontMatterFormats = []*frontmatter.Format{
	frontmatter.NewFormat("---", "---", yaml.Unmarshal),
	frontmatter.NewFormat("+++", "+++", toml.Unmarshal),
}

func newEngine(opts Options) goldmark.Markdown {
	rendererOptions := []renderer.Option{}
	if opts.HardWraps {
		rendererOptions = append(rendererOptions, html.WithHardWraps())
	}
	if opts.XHTML {
		rendererOptions = append(rendererOptions, html.WithXHTML())
	}
	if opts.Unsafe {
		rendererOptions = append(rendererOptions, html.WithUnsafe())
	}

	engineOptions := []goldmark.Option{
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithExtensions(collectExtensions(opts.Extensions)...),
	}
	if len(rendererOptions) > 0 {
		engineOptions = append(engineOptions, goldmark.WithRendererOptions(rendererOptions...))
	}

	return goldmark.New(engineOptions...)
}

var extensionRegistry = map[string]goldmark.Extender{
	"gfm":           extension.GFM,
	"table":         extension.Table,
	"strikethrough": extension.Strikethrough,
	"linkify":       extension.Linkify,
	"tasklist":      extension.TaskList,
	"definition":    extension.DefinitionList,
	"footnote":      extension.Footnote,
	"typographer":   extension.Typographer,
}

// collectExtensions maps extension names to goldmark extenders. Unknown names are ignored.
func collectExtensions(names []string) []goldmark.Extender {
	if len(names) == 0 {
		return []goldmark.Extender{extension.GFM}
	}

	var extenders []goldmark.Extender
	seen := map[string]bool{}
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		ext, ok := extensionRegistry[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		extenders = append(extenders, ext)
	}
	return extenders
}

// newPolicy allows what goldmark emits for GFM on top of the UGC baseline:
// heading anchors and task list checkboxes.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("id").OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowAttrs("type", "checked", "disabled").OnElements("input")
	return p
}
