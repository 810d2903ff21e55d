// Package inject inserts a tracking snippet into the head of an HTML document.
//
// The document is parsed into a tree with golang.org/x/net/html, which follows
// the HTML5 tree construction rules and therefore accepts missing <html> or
// <head> elements, unclosed tags and stray markup. The snippet is appended to
// the head as a raw node, so it is emitted verbatim and never validated.
package inject

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

const utf8BOM = "\xef\xbb\xbf"

// Config toggles optional rewrites applied alongside the snippet.
type Config struct {
	// BaseHref inserts <base href="source url"> when the page has none, so
	// relative links keep pointing at the origin once republished.
	BaseHref bool
}

// Injector implements artifact.Injector.
type Injector struct {
	cfg Config
}

// New returns an Injector.
func New(cfg Config) *Injector {
	return &Injector{cfg: cfg}
}

// Inject returns raw with snippet appended as the last child of its head
// element. A head is synthesized when the markup has none. The output is
// UTF-8 and depends only on the inputs.
func (i *Injector) Inject(raw artifact.Markup, snippet string) ([]byte, error) {
	text, err := decode(raw.Body, raw.ContentType)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", artifact.ErrParse, err)
	}

	head := ensureHead(doc)
	if i.cfg.BaseHref && raw.URL != "" && findChild(head, atom.Base) == nil {
		head.InsertBefore(&html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Base,
			Data:     "base",
			Attr:     []html.Attribute{{Key: "href", Val: raw.URL}},
		}, head.FirstChild)
	}
	head.AppendChild(&html.Node{Type: html.RawNode, Data: snippet})

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("%w: render: %v", artifact.ErrParse, err)
	}
	return buf.Bytes(), nil
}

// ensureHead returns the head element of doc, creating it as the first child
// of the root element (or of the document itself when there is no root).
func ensureHead(doc *html.Node) *html.Node {
	parent := findChild(doc, atom.Html)
	if parent == nil {
		parent = doc
	}
	if head := findChild(parent, atom.Head); head != nil {
		return head
	}
	head := &html.Node{Type: html.ElementNode, DataAtom: atom.Head, Data: "head"}
	first := parent.FirstChild
	for first != nil && first.Type == html.DoctypeNode {
		first = first.NextSibling
	}
	parent.InsertBefore(head, first)
	return head
}

func findChild(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}

// decode converts body to UTF-8 text. It fails with artifact.ErrParse when the
// bytes are not a character stream at all: binary content, an unknown
// declared charset, or malformed UTF-8.
func decode(body []byte, contentType string) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	if sniffed := http.DetectContentType(body); !strings.HasPrefix(sniffed, "text/") {
		return "", fmt.Errorf("%w: content sniffed as %s", artifact.ErrParse, sniffed)
	}
	if label := declaredCharset(contentType); label != "" {
		if enc, _ := charset.Lookup(label); enc == nil {
			return "", fmt.Errorf("%w: unsupported charset %q", artifact.ErrParse, label)
		}
	}

	enc, name, certain := charset.DetermineEncoding(body, contentType)
	// DetermineEncoding only inspects the first 1024 bytes; an ASCII prefix
	// followed by UTF-8 text must not be read as windows-1252.
	if !certain && name == "windows-1252" && utf8.Valid(body) {
		name = "utf-8"
	}
	if name == "utf-8" {
		if !utf8.Valid(body) {
			return "", fmt.Errorf("%w: invalid utf-8", artifact.ErrParse)
		}
		return strings.TrimPrefix(string(body), utf8BOM), nil
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", artifact.ErrParse, name, err)
	}
	return strings.TrimPrefix(string(out), "\ufeff"), nil
}

func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}
