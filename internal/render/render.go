// Package render writes a page's block tree as a standalone HTML document,
// used for previews and static export.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"io"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/metadata"
	"github.com/livetemplate/blockstudio/internal/script"
	"github.com/livetemplate/blockstudio/internal/style"
)

// markdownProps names the prop holding markdown text for components whose
// text is rendered as markdown.
var markdownProps = map[string]string{
	"MarkdownEditor": "modelValue",
	"TextBlock":      "text",
}

var htmlTag = regexp.MustCompile(`^[a-z][a-z0-9]*$`)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
{{.CSS}}</style>
</head>
{{.Body}}
</html>
`))

// Options configure a Renderer.
type Options struct {
	// Catalog identifies known components. Without it every block is
	// rendered as-is.
	Catalog *metadata.Catalog
	Logger  *log.Logger
}

// Renderer writes pages. It is safe for concurrent use.
type Renderer struct {
	catalog *metadata.Catalog
	eval    *script.Evaluator
	md      goldmark.Markdown
	log     *log.Logger
}

// New builds a renderer.
func New(opts Options) *Renderer {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Renderer{
		catalog: opts.Catalog,
		eval:    script.NewEvaluator(),
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
		log: logger,
	}
}

// Page describes what to render.
type Page struct {
	Title string
	Root  *block.Block
	// Context is what {{ expressions }} in props see.
	Context script.Context
}

type pass struct {
	r   *Renderer
	ctx script.Context
	css strings.Builder
	// overrides per breakpoint, written after the base rules
	media map[style.Breakpoint]*strings.Builder
	body  strings.Builder
}

// Page writes p as a complete HTML document.
func (r *Renderer) Page(w io.Writer, p Page) error {
	if p.Root == nil {
		return block.ErrNilBlock
	}
	ps := &pass{r: r, ctx: p.Context, media: make(map[style.Breakpoint]*strings.Builder)}
	if err := ps.block(p.Root); err != nil {
		return err
	}
	for _, bp := range style.Breakpoints {
		rules, ok := ps.media[bp]
		if !ok {
			continue
		}
		fmt.Fprintf(&ps.css, "@media (max-width: %dpx) {\n%s}\n", bp.MaxWidth(), rules.String())
	}
	return pageTemplate.Execute(w, struct {
		Title string
		CSS   template.CSS
		Body  template.HTML
	}{
		Title: p.Title,
		CSS:   template.CSS(ps.css.String()),
		Body:  template.HTML(ps.body.String()),
	})
}

// Fragment writes b and its subtree without the document shell or styles.
func (r *Renderer) Fragment(w io.Writer, b *block.Block, ctx script.Context) error {
	ps := &pass{r: r, ctx: ctx, media: make(map[style.Breakpoint]*strings.Builder)}
	if err := ps.block(b); err != nil {
		return err
	}
	_, err := io.WriteString(w, ps.body.String())
	return err
}

func (ps *pass) block(b *block.Block) error {
	if ps.r.isMissing(b) {
		ps.r.log.Debug("rendering missing component", "component", b.ComponentName(), "id", b.ID())
		missing := block.FromTemplate(block.MissingTemplate)
		ps.rules(b.ID(), missing)
		ps.open("div", b, nil)
		ps.body.WriteString(missing.InnerHTML())
		ps.body.WriteString("</div>")
		return nil
	}

	ps.rules(b.ID(), b)
	tag := tagFor(b)

	if b.OriginalElement() == block.RawHTMLElement {
		ps.open("div", b, nil)
		ps.body.WriteString(b.InnerHTML())
		ps.body.WriteString("</div>")
		return nil
	}

	props := ps.r.eval.ResolveProps(b.Props(), ps.ctx)
	ps.open(tag, b, props)

	if key, ok := markdownProps[b.ComponentName()]; ok {
		if text, _ := props[key].(string); text != "" {
			if err := ps.r.md.Convert([]byte(text), &ps.body); err != nil {
				return fmt.Errorf("render %s: %w", b.ID(), err)
			}
		}
	} else if label, ok := props["label"].(string); ok {
		ps.body.WriteString(html.EscapeString(label))
	}

	for _, name := range b.SlotNames() {
		content := b.Slot(name).Content()
		fmt.Fprintf(&ps.body, `<div data-slot="%s">`, html.EscapeString(name))
		if content.Kind() == block.TextContent {
			ps.body.WriteString(html.EscapeString(content.Text()))
		} else {
			for _, child := range content.Blocks() {
				if err := ps.block(child); err != nil {
					return err
				}
			}
		}
		ps.body.WriteString("</div>")
	}
	for _, child := range b.Children() {
		if err := ps.block(child); err != nil {
			return err
		}
	}
	fmt.Fprintf(&ps.body, "</%s>", tag)
	return nil
}

func (ps *pass) open(tag string, b *block.Block, props map[string]any) {
	fmt.Fprintf(&ps.body, `<%s data-component-id="%s"`, tag, html.EscapeString(b.ID()))
	if name := b.ComponentName(); !htmlTag.MatchString(name) {
		fmt.Fprintf(&ps.body, ` data-component-name="%s"`, html.EscapeString(name))
	}
	if classes := b.Classes(); len(classes) > 0 {
		fmt.Fprintf(&ps.body, ` class="%s"`, html.EscapeString(strings.Join(classes, " ")))
	}
	if len(props) > 0 {
		if data, err := json.Marshal(props); err == nil {
			fmt.Fprintf(&ps.body, ` data-props="%s"`, html.EscapeString(string(data)))
		} else {
			ps.r.log.Warn("props not serializable", "id", b.ID(), "err", err)
		}
	}
	ps.body.WriteString(">")
}

// rules writes b's base styles and its breakpoint overrides under id.
func (ps *pass) rules(id string, b *block.Block) {
	selector := fmt.Sprintf(`[data-component-id="%s"]`, cssString(id))
	if decl := declarations(b.RawStyles(style.Desktop)); decl != "" {
		fmt.Fprintf(&ps.css, "%s { %s }\n", selector, decl)
	}
	for _, bp := range style.Breakpoints {
		if !bp.IsOverride() {
			continue
		}
		decl := declarations(b.RawStyles(bp))
		if decl == "" {
			continue
		}
		rules, ok := ps.media[bp]
		if !ok {
			rules = &strings.Builder{}
			ps.media[bp] = rules
		}
		fmt.Fprintf(rules, "  %s { %s }\n", selector, decl)
	}
}

func declarations(m style.Map) string {
	var buf bytes.Buffer
	for _, k := range m.Keys() {
		if k == style.LastDisplayKey || style.IsEmpty(m[k]) {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprintf(&buf, "%s: %s;", style.Hyphenate(k), style.Format(m[k]))
	}
	return buf.String()
}

func cssString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// tagFor picks the element a block renders as: its original element, its
// component name when that is an HTML tag, div otherwise.
func tagFor(b *block.Block) string {
	if el := b.OriginalElement(); el != "" && htmlTag.MatchString(el) {
		return el
	}
	if name := b.ComponentName(); htmlTag.MatchString(name) {
		return name
	}
	return "div"
}

// isMissing reports whether b names a component the catalog does not know.
// Plain HTML elements and raw HTML blocks are never missing.
func (r *Renderer) isMissing(b *block.Block) bool {
	if r.catalog == nil || b.OriginalElement() == block.RawHTMLElement {
		return false
	}
	name := b.ComponentName()
	if htmlTag.MatchString(name) {
		return false
	}
	_, ok := r.catalog.Get(name)
	return !ok
}
