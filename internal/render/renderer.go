package render

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"path/filepath"
	"strconv"
	"strings"

	chromahtml "github.com/alecthomas/chroma/formatters/html"
	"github.com/alecthomas/chroma/styles"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extensionast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	alertcallouts "github.com/zmtcreative/gm-alert-callouts"
)

const (
	mdLineAttribute = "data-md-line"

	// AssetPrefix is the URL prefix for local files referenced by the document.
	AssetPrefix = "/@mdfs/"

	DefaultTheme = "github"
	DefaultTitle = "markdown preview"
)

// Renderer is a wrapper around the Goldmark mardown parser with pre-configured extensions
type Renderer struct {
	md      goldmark.Markdown
	baseDir string
	theme   string
}

// Fragment is one rendered document.
type Fragment struct {
	HTML string
	// Title is the text of the first level-1 heading, if any.
	Title string
}

type Option func(*Renderer)

// WithBaseDir resolves relative image destinations against dir.
func WithBaseDir(dir string) Option {
	return func(r *Renderer) {
		r.baseDir = dir
	}
}

// WithTheme selects the chroma style used for code block CSS.
func WithTheme(name string) Option {
	return func(r *Renderer) {
		if name != "" {
			r.theme = name
		}
	}
}

//go:embed page.html
var pageTemplate string

func NewRenderer(opts ...Option) *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			alertcallouts.AlertCallouts,
			extension.GFM,
			extension.Table,
			extension.Strikethrough,
			extension.TaskList,
			extension.Linkify,
			highlighting.NewHighlighting(
				highlighting.WithWrapperRenderer(renderHighlightedCodeWrapper),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	r := &Renderer{md: md, theme: DefaultTheme}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render parses markdown source and returns the HTML fragment with
// data-md-line attributes attached to block elements.
func (r *Renderer) Render(source []byte) (Fragment, error) {
	doc := r.md.Parser().Parse(text.NewReader(source))
	title := decorateAST(doc, source, r.baseDir)

	var buf bytes.Buffer
	if err := r.md.Renderer().Render(&buf, source, doc); err != nil {
		return Fragment{}, err
	}

	return Fragment{HTML: buf.String(), Title: title}, nil
}

// ConvertFragment returns only the HTML of Render.
func (r *Renderer) ConvertFragment(source []byte) (string, error) {
	frag, err := r.Render(source)
	if err != nil {
		return "", err
	}
	return frag.HTML, nil
}

// RenderPage returns a complete HTML page with the markdown rendered inside.
func (r *Renderer) RenderPage(source []byte) (string, error) {
	frag, err := r.Render(source)
	if err != nil {
		return "", err
	}
	return r.page(frag), nil
}

// RenderShell returns an empty HTML page shell for the initial WebSocket connection.
// Content will be injected dynamically via WebSocket messages.
func (r *Renderer) RenderShell() string {
	return r.page(Fragment{})
}

func (r *Renderer) page(frag Fragment) string {
	title := frag.Title
	if title == "" {
		title = DefaultTitle
	}
	return strings.NewReplacer(
		"{{THEME_CSS}}", r.ThemeCSS(),
		"{{TITLE}}", htmlEscape(title),
		"{{CONTENT}}", frag.HTML,
	).Replace(pageTemplate)
}

// ThemeCSS returns the stylesheet for highlighted code blocks. Unknown
// themes fall back to chroma's default style.
func (r *Renderer) ThemeCSS() string {
	var buf bytes.Buffer
	formatter := chromahtml.New(chromahtml.WithClasses(true))
	if err := formatter.WriteCSS(&buf, styles.Get(r.theme)); err != nil {
		return ""
	}
	return buf.String()
}

func htmlEscape(s string) string {
	return string(util.EscapeHTML([]byte(s)))
}

// decorateAST walks the AST once and applies render metadata.
// It attaches data-md-line to block-level elements, rewrites local image
// destinations to AssetPrefix and returns the first level-1 heading text.
func decorateAST(doc ast.Node, source []byte, baseDir string) string {
	title := ""

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		if shouldAnnotateNode(n) {
			offset, ok := firstNodeOffset(n)
			if ok {
				n.SetAttributeString(mdLineAttribute, strconv.Itoa(offsetToLine(source, offset)))
			}
		}

		if h, ok := n.(*ast.Heading); ok && h.Level == 1 && title == "" {
			title = strings.TrimSpace(nodeText(h, source))
		}

		img, ok := n.(*ast.Image)
		if !ok {
			return ast.WalkContinue, nil
		}

		if dest, ok := rewriteImageDestination(string(img.Destination), baseDir); ok {
			img.Destination = []byte(dest)
			img.SetAttributeString("loading", "lazy")
			img.SetAttributeString("decoding", "async")
		}

		return ast.WalkContinue, nil
	})

	return title
}

// rewriteImageDestination maps a local image path to an asset URL.
// Remote, inline and fragment destinations are left untouched, as are
// relative paths when no base directory is known.
func rewriteImageDestination(raw string, baseDir string) (string, bool) {
	rawDest := strings.TrimSpace(raw)
	if rawDest == "" {
		return "", false
	}

	lowerDest := strings.ToLower(rawDest)
	for _, prefix := range []string{"http://", "https://", "data:", "blob:", "file://", "//", "#", AssetPrefix} {
		if strings.HasPrefix(lowerDest, prefix) {
			return "", false
		}
	}

	var resolved string
	switch {
	case filepath.IsAbs(rawDest):
		resolved = filepath.Clean(rawDest)
	case baseDir != "":
		resolved = filepath.Clean(filepath.Join(baseDir, rawDest))
	default:
		return "", false
	}

	return AssetPrefix + base64.RawURLEncoding.EncodeToString([]byte(resolved)), true
}

// nodeText concatenates the text segments below n.
func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch typed := child.(type) {
		case *ast.Text:
			b.Write(typed.Segment.Value(source))
			if typed.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(typed.Value)
		default:
			b.WriteString(nodeText(child, source))
		}
	}
	return b.String()
}

// shouldAnnotateNode returns true for block-level element types that should
// receive line metadata. These are the elements that map directly to source lines.
func shouldAnnotateNode(n ast.Node) bool {
	switch n.Kind() {
	case ast.KindHeading,
		ast.KindParagraph,
		ast.KindBlockquote,
		ast.KindFencedCodeBlock,
		ast.KindList,
		ast.KindListItem,
		ast.KindThematicBreak,
		extensionast.KindTable:
		return true
	default:
		return false
	}
}

// firstNodeOffset returns the byte offset of the first line in a node,
// searching children when the node has no lines of its own.
func firstNodeOffset(n ast.Node) (int, bool) {
	if n == nil {
		return 0, false
	}

	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		return lines.At(0).Start, true
	}

	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if offset, ok := firstNodeOffset(child); ok {
			return offset, true
		}
	}

	return 0, false
}

// offsetToLine converts a byte offset to a 1-based line number.
// The offset is clamped to the valid range [0, len(source)].
func offsetToLine(source []byte, offset int) int {
	if offset < 0 {
		offset = 0
	}

	if offset > len(source) {
		offset = len(source)
	}

	return bytes.Count(source[:offset], []byte{'\n'}) + 1
}

// renderHighlightedCodeWrapper wraps syntax-highlighted code blocks in a div
// carrying the data-md-line attribute of the fenced block.
func renderHighlightedCodeWrapper(w util.BufWriter, context highlighting.CodeBlockContext, entering bool) {
	line, ok := highlightedCodeLine(context)
	if !ok {
		return
	}

	if entering {
		_, _ = w.WriteString("<div ")
		_, _ = w.WriteString(mdLineAttribute)
		_, _ = w.WriteString(`="`)
		_, _ = w.WriteString(line)
		_, _ = w.WriteString(`">`)
		return
	}

	_, _ = w.WriteString("</div>")
}

func highlightedCodeLine(context highlighting.CodeBlockContext) (string, bool) {
	if context == nil {
		return "", false
	}

	attrs := context.Attributes()
	if attrs == nil {
		return "", false
	}

	v, ok := attrs.GetString(mdLineAttribute)
	if !ok {
		return "", false
	}

	switch typed := v.(type) {
	case string:
		return typed, typed != ""
	case []byte:
		if len(typed) == 0 {
			return "", false
		}
		return string(typed), true
	default:
		return "", false
	}
}
