// Package rewrite rewrites references inside textual documents and redirect
// locations so that every follow-on request re-enters the proxy.
//
// Each document is scanned once. HTML is tokenized and every attribute,
// inline style and inline script is visited exactly once; CSS url() values
// and script string literals are found by small scanners. A reference is
// rewritten at most once and references already routed through the proxy are
// left alone, so running the engine on its own output changes nothing.
package rewrite

import (
	"path"
	"strings"

	"frameproxy/internal/config"
	"frameproxy/internal/model"
	"frameproxy/internal/siteurl"
)

// Engine holds the static rewrite vocabulary. It keeps no per-request state
// and is safe for concurrent use.
type Engine struct {
	frameworkPrefixes []string
	assetExtensions   map[string]bool
}

// NewEngine creates an Engine from the rewrite configuration.
func NewEngine(cfg *config.Config) *Engine {
	return newEngine(cfg.Rewrite.FrameworkPrefixes, cfg.Rewrite.AssetExtensions)
}

func newEngine(prefixes, extensions []string) *Engine {
	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		exts["."+strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &Engine{
		frameworkPrefixes: prefixes,
		assetExtensions:   exts,
	}
}

// Rewrite returns doc with references rewritten according to kind.
// Opaque documents are returned unchanged.
func (e *Engine) Rewrite(doc []byte, kind model.ContentKind, rc *model.RewriteContext) []byte {
	switch kind {
	case model.KindHTML:
		return e.rewriteHTML(doc, rc)
	case model.KindCSS:
		return []byte(e.rewriteCSS(string(doc), rc))
	case model.KindScript, model.KindJSON:
		return []byte(e.rewriteScript(string(doc), rc))
	default:
		return doc
	}
}

// BaseHref returns the href of the <base> tag inserted into HTML documents.
func BaseHref(rc *model.RewriteContext) string {
	return siteurl.Encode(rc.ProxyBaseURL, rc.BaseURL+"/")
}

// proxied returns the proxied form of an absolute URL.
func proxied(rc *model.RewriteContext, abs string) string {
	return siteurl.Encode(rc.ProxyBaseURL, abs)
}

// resolveReference handles navigational attributes (href, src, action):
// absolute URLs on the target origin and root-relative paths. It reports
// false for anything that should be left as written.
func resolveReference(ref string, rc *model.RewriteContext) (string, bool) {
	v := strings.TrimSpace(ref)
	if v == "" || siteurl.IsProxied(v, rc.ProxyBaseURL) {
		return "", false
	}
	if isRootRelative(v) {
		return rc.BaseURL + v, true
	}
	if strings.HasPrefix(v, "//") {
		scheme, _, _ := strings.Cut(rc.BaseURL, "://")
		if onOrigin(scheme+":"+v, rc.BaseURL) {
			return scheme + ":" + v, true
		}
		return "", false
	}
	if onOrigin(v, rc.BaseURL) {
		return v, true
	}
	return "", false
}

// isRootRelative reports whether ref is "/" or "/path" but not "//host".
func isRootRelative(ref string) bool {
	return strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "//")
}

// onOrigin reports whether abs is base itself or a URL beneath it.
func onOrigin(abs, base string) bool {
	if len(abs) < len(base) || !strings.EqualFold(abs[:len(base)], base) {
		return false
	}
	if len(abs) == len(base) {
		return true
	}
	switch abs[len(base)] {
	case '/', '?', '#':
		return true
	}
	return false
}

// isAssetPath reports whether a root-relative path names a framework-internal
// asset or a file with a static asset extension. A query string is allowed.
func (e *Engine) isAssetPath(p string) bool {
	if !isRootRelative(p) || strings.ContainsAny(p, " \t\r\n") {
		return false
	}
	for _, prefix := range e.frameworkPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	clean, _, _ := strings.Cut(p, "?")
	clean, _, _ = strings.Cut(clean, "#")
	return e.assetExtensions[strings.ToLower(path.Ext(clean))]
}
