package rewrite

import (
	"net/url"
	"strings"

	"frameproxy/internal/model"
	"frameproxy/internal/siteurl"
)

// IsRedirect reports whether status is a 3xx code.
func IsRedirect(status int) bool {
	return status >= 300 && status <= 399
}

// Location returns the proxied form of a redirect Location header.
// Root-relative locations are joined to the target base; other relative and
// protocol-relative locations are resolved against the target document URL.
// Locations already routed through the proxy are returned unchanged.
func Location(loc string, rc *model.RewriteContext) string {
	loc = strings.TrimSpace(loc)
	if loc == "" || siteurl.IsProxied(loc, rc.ProxyBaseURL) {
		return loc
	}

	var abs string
	switch {
	case isRootRelative(loc):
		abs = rc.BaseURL + loc
	default:
		ref, err := url.Parse(loc)
		if err != nil {
			// Not a URL we can resolve; still route it through the proxy
			// relative to the target base rather than leaking the origin.
			abs = rc.BaseURL + "/" + strings.TrimPrefix(loc, "/")
			break
		}
		if ref.IsAbs() {
			abs = loc
			break
		}
		doc := rc.Document
		if doc == nil {
			doc, err = url.Parse(rc.BaseURL + "/")
			if err != nil {
				return loc
			}
		}
		abs = doc.ResolveReference(ref).String()
	}
	return proxied(rc, abs)
}
