// Package target derives the upstream target of an inbound proxy request.
package target

import (
	"net/http"
	"net/url"
	"strings"

	"frameproxy/internal/model"
	"frameproxy/internal/siteurl"
)

// Options tunes target resolution.
type Options struct {
	// RefererFallback resolves targetless requests against the target of a
	// proxied Referer on the same proxy host.
	RefererFallback bool
	// PublicHost is the host:port of the configured public proxy URL. A
	// Referer on this host is accepted even when a front proxy rewrote Host.
	PublicHost string
}

// Resolve returns the Target of r. Sources in priority order: the site query
// parameter, the /proxy/<escaped URL> path form and, when enabled, the Referer.
//
// It fails with model.ErrMissingTarget when no source yields a value and with
// *model.InvalidTargetError when the candidate is not an absolute http(s) URL.
func Resolve(r *http.Request, opts Options) (*model.Target, error) {
	raw, extra, ok := fromQuery(r.URL.RawQuery)
	if !ok {
		raw, ok = fromPath(r.URL)
		extra = r.URL.RawQuery
	}
	if !ok {
		if opts.RefererFallback {
			if t := fromReferer(r, opts.PublicHost); t != nil {
				return t, nil
			}
		}
		return nil, model.ErrMissingTarget
	}
	return parse(raw, extra)
}

// fromQuery extracts the site parameter from a raw query. The remaining
// parameters are returned unmodified so they can be handed to the target.
func fromQuery(rawQuery string) (site, rest string, ok bool) {
	if rawQuery == "" {
		return "", "", false
	}
	var others []string
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, val, _ := strings.Cut(part, "=")
		if !ok {
			if k, err := url.QueryUnescape(key); err == nil && k == siteurl.Param {
				v, err := url.QueryUnescape(val)
				if err != nil {
					v = val
				}
				site, ok = v, v != ""
				continue
			}
		}
		others = append(others, part)
	}
	return site, strings.Join(others, "&"), ok
}

func fromPath(u *url.URL) (string, bool) {
	raw, err := siteurl.FromPath(u.EscapedPath())
	if err != nil || raw == "" {
		return "", false
	}
	return raw, true
}

// fromReferer maps a request for /some/path on the proxy back onto the target
// origin of the proxied page that referenced it.
func fromReferer(r *http.Request, publicHost string) *model.Target {
	ref := r.Header.Get("Referer")
	if ref == "" {
		return nil
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return nil
	}
	if !strings.EqualFold(ru.Host, r.Host) && (publicHost == "" || !strings.EqualFold(ru.Host, publicHost)) {
		return nil
	}
	site, err := siteurl.Decode(ref)
	if err != nil {
		return nil
	}
	origin, err := url.Parse(site)
	if err != nil || !isAbsoluteHTTP(origin) {
		return nil
	}
	u := &url.URL{
		Scheme:   origin.Scheme,
		Host:     origin.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	return model.NewTarget(u)
}

func parse(raw, extra string) (*model.Target, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, &model.InvalidTargetError{Raw: raw, Err: err}
	}
	if !isAbsoluteHTTP(u) {
		return nil, &model.InvalidTargetError{Raw: raw}
	}
	if extra != "" {
		if u.RawQuery == "" {
			u.RawQuery = extra
		} else {
			u.RawQuery += "&" + extra
		}
	}
	u.Fragment = ""
	return model.NewTarget(u), nil
}

func isAbsoluteHTTP(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
}
