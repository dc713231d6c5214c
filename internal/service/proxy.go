// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"frameproxy/internal/client"
	"frameproxy/internal/model"
	"frameproxy/internal/ruleset"
	"frameproxy/internal/siteurl"
)

// hopByHopHeaders apply to a single connection and are never forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// topologyHeaders would disclose the client or the proxy to the target.
var topologyHeaders = []string{
	"X-Forwarded-For",
	"X-Forwarded-Proto",
	"X-Forwarded-Host",
	"Forwarded",
	"X-Real-Ip",
	"Via",
}

// upstreamAcceptEncoding limits upstream codings to ones the rewrite path decodes.
const upstreamAcceptEncoding = "gzip, deflate"

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client *client.UpstreamClient
	rules  *ruleset.RuleSet
	logger *slog.Logger
}

// NewProxyService creates a ProxyService. rules may be nil.
func NewProxyService(c *client.UpstreamClient, rules *ruleset.RuleSet, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		rules:  rules,
		logger: logger.With("component", "proxy_service"),
	}
}

// Forward sends pr to target and returns once the upstream response headers
// arrive. Method and body are forwarded verbatim. The caller is responsible
// for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest, target *model.Target, rc *model.RewriteContext) (*model.ProxyResponse, error) {
	header := s.buildRequestHeaders(pr.Header, target, rc)

	path, _, _ := strings.Cut(target.PathQuery, "?")
	if rule := s.rules.Match(target.Host, path); rule != nil {
		rule.ApplyHeaders(header)
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"target", target.String(),
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target.UpstreamURL(), header, pr.Body, pr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", target.Host, err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildRequestHeaders copies the client headers minus connection-scoped and
// topology headers, then points Host, Referer and Origin at the target.
func (s *ProxyService) buildRequestHeaders(src http.Header, target *model.Target, rc *model.RewriteContext) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	removeHopByHop(dst)
	for _, key := range topologyHeaders {
		dst.Del(key)
	}

	dst.Set("Host", target.Host)
	dst.Set("Accept-Encoding", upstreamAcceptEncoding)

	if ref := dst.Get("Referer"); ref != "" {
		switch site, err := siteurl.Decode(ref); {
		case siteurl.IsProxied(ref, rc.ProxyBaseURL) && err == nil:
			dst.Set("Referer", site)
		case strings.HasPrefix(ref, rc.ProxyBaseURL+"/"):
			// A proxy URL without a target; the path belongs to the target origin.
			dst.Set("Referer", rc.BaseURL+strings.TrimPrefix(ref, rc.ProxyBaseURL))
		}
	}
	if origin := dst.Get("Origin"); origin != "" && strings.EqualFold(origin, rc.ProxyBaseURL) {
		dst.Set("Origin", rc.BaseURL)
	}
	return dst
}

// filterResponseHeaders drops hop-by-hop headers from the upstream response.
func filterResponseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		return make(http.Header)
	}
	removeHopByHop(dst)
	return dst
}

// removeHopByHop deletes the standard hop-by-hop headers and any header named
// in Connection.
func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, key := range hopByHopHeaders {
		h.Del(key)
	}
}
