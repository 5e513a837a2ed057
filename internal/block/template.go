package block

import "github.com/livetemplate/blockstudio/internal/style"

// TemplateKind names a built-in block template.
type TemplateKind string

const (
	BodyTemplate         TemplateKind = "body"
	ContainerTemplate    TemplateKind = "container"
	FitContainerTemplate TemplateKind = "fit-container"
	FallbackTemplate     TemplateKind = "fallback-component"
	EmptyTemplate        TemplateKind = "empty-component"
	MissingTemplate      TemplateKind = "missing-component"
)

// RawHTMLElement marks blocks rendered from their InnerHTML.
const RawHTMLElement = "__raw_html__"

const fallbackHTML = `<div style="color: red;background: #f4f4f4;display:flex;flex-direction:column;position:static;top:auto;left:auto;width: 600px;height: 275px;align-items:center;font-size: 30px;justify-content:center"><p>Component missing</p></div>`

const missingHTML = `<div style="color:#E86C13;background:#F8F8F8;display:flex;width:300px;height:150px;align-items:center;font-size:16px;justify-content:center"><p>Component Missing</p></div>`

// TemplateOptions returns the options for a built-in template. Unknown kinds
// yield the missing-component template.
func TemplateOptions(kind TemplateKind) Options {
	switch kind {
	case BodyTemplate:
		return Options{
			ComponentID:     RootID,
			ComponentName:   "div",
			OriginalElement: "body",
			BaseStyles: style.Map{
				"display":       "flex",
				"flexWrap":      "wrap",
				"flexDirection": "column",
				"flexShrink":    0,
				"alignItems":    "center",
				"width":         "inherit",
				"overflowX":     "hidden",
				"height":        "100%",
			},
		}
	case ContainerTemplate:
		return Options{
			ComponentName:   "container",
			OriginalElement: "div",
			BlockName:       "container",
			BaseStyles: style.Map{
				"display":       "flex",
				"flexDirection": "column",
				"flexShrink":    0,
				"overflow":      "hidden",
			},
		}
	case FitContainerTemplate:
		return Options{
			ComponentName:   "container",
			OriginalElement: "div",
			BlockName:       "container",
			BaseStyles: style.Map{
				"display":       "flex",
				"flexDirection": "column",
				"flexShrink":    0,
				"height":        "fit-content",
				"width":         "fit-content",
			},
		}
	case FallbackTemplate:
		return Options{
			ComponentName:   "p",
			OriginalElement: RawHTMLElement,
			InnerHTML:       fallbackHTML,
			BaseStyles:      style.Map{"height": "fit-content", "width": "fit-content"},
		}
	case EmptyTemplate:
		return Options{
			ComponentName:   "container",
			OriginalElement: "div",
			BaseStyles:      style.Map{"height": "200px", "width": "100%"},
		}
	}
	return Options{
		ComponentName:   "HTML",
		OriginalElement: RawHTMLElement,
		InnerHTML:       missingHTML,
		BaseStyles:      style.Map{"height": "fit-content", "width": "fit-content"},
	}
}

// FromTemplate builds a block from a built-in template.
func FromTemplate(kind TemplateKind) *Block {
	return New(TemplateOptions(kind))
}

// NewRoot returns an empty document root.
func NewRoot() *Block {
	return FromTemplate(BodyTemplate)
}
