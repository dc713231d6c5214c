// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Target describes the upstream resource a single inbound request is aimed at.
// It is derived once per request and never modified afterwards.
type Target struct {
	Scheme    string // scheme as written by the client
	Host      string // hostname without port
	Port      string // defaults to 443
	PathQuery string // escaped path plus optional "?query"; never empty
	explicit  bool   // port was present in the target URL
}

// NewTarget builds a Target from an absolute URL.
func NewTarget(u *url.URL) *Target {
	t := &Target{
		Scheme:    u.Scheme,
		Host:      u.Hostname(),
		Port:      u.Port(),
		PathQuery: u.EscapedPath(),
		explicit:  u.Port() != "",
	}
	if t.Port == "" {
		t.Port = "443"
	}
	if t.PathQuery == "" {
		t.PathQuery = "/"
	}
	if u.RawQuery != "" {
		t.PathQuery += "?" + u.RawQuery
	}
	return t
}

// BaseURL returns the scheme and host of the target, e.g. "https://example.com".
func (t *Target) BaseURL() string {
	return t.Scheme + "://" + t.hostPort()
}

// String returns the absolute target URL as seen by the client.
func (t *Target) String() string {
	return t.BaseURL() + t.PathQuery
}

// URL returns the absolute target URL parsed.
func (t *Target) URL() *url.URL {
	u, err := url.Parse(t.String())
	if err != nil {
		return &url.URL{Scheme: t.Scheme, Host: t.hostPort(), Path: "/"}
	}
	return u
}

// UpstreamURL returns the URL actually dialed. Outbound requests always use HTTPS.
func (t *Target) UpstreamURL() string {
	return "https://" + joinHostPort(t.Host, t.Port) + t.PathQuery
}

func (t *Target) hostPort() string {
	if t.explicit {
		return joinHostPort(t.Host, t.Port)
	}
	return bracketIPv6(t.Host)
}

func joinHostPort(host, port string) string {
	return net.JoinHostPort(host, port)
}

func bracketIPv6(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// RewriteContext carries the two origins every rewrite rule needs.
// Both values are fixed for the lifetime of one response.
type RewriteContext struct {
	BaseURL      string   // scheme+host of the target
	ProxyBaseURL string   // scheme+host of this proxy, no trailing slash
	Document     *url.URL // full target URL, used to resolve non root-relative references
}

// ContentKind is the rewrite-relevant classification of a response body.
type ContentKind int

const (
	KindOpaque ContentKind = iota
	KindHTML
	KindCSS
	KindScript
	KindJSON
)

// String returns the metric label for the kind.
func (k ContentKind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindCSS:
		return "css"
	case KindScript:
		return "script"
	case KindJSON:
		return "json"
	default:
		return "opaque"
	}
}

// Textual reports whether bodies of this kind are rewritten.
func (k ContentKind) Textual() bool {
	return k != KindOpaque
}
