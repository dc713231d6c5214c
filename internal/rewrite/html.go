package rewrite

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"frameproxy/internal/model"
)

// navigational attributes rewritten whenever they point at the target origin.
var navAttrs = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"formaction": true,
}

// rewriteHTML streams doc through the tokenizer. Tokens that need no change
// are copied byte for byte; changed tags are re-rendered.
func (e *Engine) rewriteHTML(doc []byte, rc *model.RewriteContext) []byte {
	baseTag := []byte(`<base href="` + html.EscapeString(BaseHref(rc)) + `">`)
	insertBase := !bytes.Contains(doc, baseTag)

	var out bytes.Buffer
	out.Grow(len(doc) + len(doc)/8)

	z := html.NewTokenizer(bytes.NewReader(doc))
	var rawText atom.Atom // element whose raw text content follows
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a truncated construct; keep whatever the tokenizer consumed.
			out.Write(z.Raw())
			return out.Bytes()

		case html.TextToken:
			raw := z.Raw()
			switch rawText {
			case atom.Script:
				out.WriteString(e.rewriteScript(string(raw), rc))
			case atom.Style:
				out.WriteString(e.rewriteCSS(string(raw), rc))
			default:
				out.Write(raw)
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			// Token() unescapes in place, so keep a copy of the original bytes.
			raw := append([]byte(nil), z.Raw()...)
			tok := z.Token()
			if e.rewriteAttrs(&tok, rc) {
				out.WriteString(tok.String())
			} else {
				out.Write(raw)
			}
			switch tok.DataAtom {
			case atom.Script, atom.Style:
				// The tokenizer treats the content as raw text even after "<script/>".
				rawText = tok.DataAtom
			case atom.Head:
				if insertBase && tt == html.StartTagToken {
					out.Write(baseTag)
					insertBase = false
				}
			}

		case html.EndTagToken:
			rawText = 0
			out.Write(z.Raw())

		default:
			out.Write(z.Raw())
		}
	}
}

// rewriteAttrs rewrites the attributes of tok in place and reports whether
// anything changed.
func (e *Engine) rewriteAttrs(tok *html.Token, rc *model.RewriteContext) bool {
	changed := false
	for i := range tok.Attr {
		a := &tok.Attr[i]
		if a.Namespace != "" {
			continue
		}
		var next string
		switch {
		case navAttrs[a.Key]:
			abs, ok := resolveReference(a.Val, rc)
			if !ok {
				continue
			}
			next = proxied(rc, abs)
		case a.Key == "style":
			next = e.rewriteCSS(a.Val, rc)
		case strings.HasPrefix(a.Key, "on"):
			// Event handlers are inline script.
			next = e.rewriteScript(a.Val, rc)
		default:
			if !e.isAssetPath(a.Val) {
				continue
			}
			next = proxied(rc, rc.BaseURL+a.Val)
		}
		if next != a.Val {
			a.Val = next
			changed = true
		}
	}
	return changed
}
